package decompose

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pbc1017/hollon-ai-sub009/pkg/models"
)

// Plan validation failures. ErrBadPlan covers parse and structural problems
// and is retried against the brain; ErrPlanCycle and ErrPlanTooLarge are
// terminal for the attempt.
var (
	ErrBadPlan      = errors.New("decomposition plan invalid")
	ErrPlanCycle    = errors.New("decomposition plan has a dependency cycle")
	ErrPlanTooLarge = errors.New("decomposition plan exceeds subtask cap")
)

// EpicPlan is one phase-A entry: a team-scoped epic.
type EpicPlan struct {
	Team        string   `json:"team"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    int      `json:"priority"`
	DependsOn   []string `json:"depends_on,omitempty"`
}

// SubtaskPlan is one phase-B entry: a leaf task for a team member.
type SubtaskPlan struct {
	Assignee             string   `json:"assignee,omitempty"`
	Type                 string   `json:"type"`
	Title                string   `json:"title"`
	Description          string   `json:"description"`
	Priority             int      `json:"priority"`
	Complexity           string   `json:"complexity,omitempty"`
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
	AffectedFiles        []string `json:"affected_files,omitempty"`
	AcceptanceCriteria   []string `json:"acceptance_criteria,omitempty"`
	DependsOn            []string `json:"depends_on,omitempty"`
}

type epicEnvelope struct {
	Epics []EpicPlan `json:"epics"`
}

type subtaskEnvelope struct {
	Subtasks []SubtaskPlan `json:"subtasks"`
}

// stripFences removes a markdown code fence if the brain wrapped its JSON in
// one.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// ParseEpicPlan decodes and structurally validates a phase-A reply.
func ParseEpicPlan(raw string) ([]EpicPlan, error) {
	var env epicEnvelope
	if err := json.Unmarshal([]byte(stripFences(raw)), &env); err != nil {
		return nil, fmt.Errorf("decode epics: %v: %w", err, ErrBadPlan)
	}
	if len(env.Epics) == 0 {
		return nil, fmt.Errorf("no epics: %w", ErrBadPlan)
	}
	if len(env.Epics) > models.MaxSubtasksPerPlan {
		return nil, fmt.Errorf("%d epics: %w", len(env.Epics), ErrPlanTooLarge)
	}
	titles := make(map[string]struct{}, len(env.Epics))
	deps := make(map[string][]string, len(env.Epics))
	for i, e := range env.Epics {
		if e.Team == "" || e.Title == "" {
			return nil, fmt.Errorf("epic %d missing team or title: %w", i, ErrBadPlan)
		}
		if _, dup := titles[e.Title]; dup {
			return nil, fmt.Errorf("duplicate epic title %q: %w", e.Title, ErrBadPlan)
		}
		titles[e.Title] = struct{}{}
		deps[e.Title] = e.DependsOn
	}
	if err := validateDAG(titles, deps); err != nil {
		return nil, err
	}
	return env.Epics, nil
}

// ParseSubtaskPlan decodes and structurally validates a phase-B reply.
func ParseSubtaskPlan(raw string) ([]SubtaskPlan, error) {
	var env subtaskEnvelope
	if err := json.Unmarshal([]byte(stripFences(raw)), &env); err != nil {
		return nil, fmt.Errorf("decode subtasks: %v: %w", err, ErrBadPlan)
	}
	if len(env.Subtasks) == 0 {
		return nil, fmt.Errorf("no subtasks: %w", ErrBadPlan)
	}
	if len(env.Subtasks) > models.MaxSubtasksPerPlan {
		return nil, fmt.Errorf("%d subtasks: %w", len(env.Subtasks), ErrPlanTooLarge)
	}
	titles := make(map[string]struct{}, len(env.Subtasks))
	deps := make(map[string][]string, len(env.Subtasks))
	for i, st := range env.Subtasks {
		if st.Title == "" {
			return nil, fmt.Errorf("subtask %d missing title: %w", i, ErrBadPlan)
		}
		tt := models.TaskType(st.Type)
		if !tt.IsValid() || tt == models.TaskTypeTeamEpic {
			return nil, fmt.Errorf("subtask %q type %q: %w", st.Title, st.Type, ErrBadPlan)
		}
		if !models.Complexity(st.Complexity).IsValid() {
			return nil, fmt.Errorf("subtask %q complexity %q: %w", st.Title, st.Complexity, ErrBadPlan)
		}
		if _, dup := titles[st.Title]; dup {
			return nil, fmt.Errorf("duplicate subtask title %q: %w", st.Title, ErrBadPlan)
		}
		titles[st.Title] = struct{}{}
		deps[st.Title] = st.DependsOn
	}
	if err := validateDAG(titles, deps); err != nil {
		return nil, err
	}
	return env.Subtasks, nil
}

// validateDAG rejects unknown dependency titles and cycles. Three-color DFS:
// a gray-to-gray edge is a back edge.
func validateDAG(titles map[string]struct{}, deps map[string][]string) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(titles))

	var visit func(title string) error
	visit = func(title string) error {
		color[title] = gray
		for _, d := range deps[title] {
			if _, ok := titles[d]; !ok {
				return fmt.Errorf("%q depends on unknown %q: %w", title, d, ErrBadPlan)
			}
			switch color[d] {
			case gray:
				return fmt.Errorf("%q and %q: %w", title, d, ErrPlanCycle)
			case white:
				if err := visit(d); err != nil {
					return err
				}
			}
		}
		color[title] = black
		return nil
	}
	for t := range titles {
		if color[t] == white {
			if err := visit(t); err != nil {
				return err
			}
		}
	}
	return nil
}

// normalizePriority clamps a plan priority into the valid range, defaulting
// to P3.
func normalizePriority(p int) models.Priority {
	if models.Priority(p).IsValid() {
		return models.Priority(p)
	}
	return models.PriorityP3
}
