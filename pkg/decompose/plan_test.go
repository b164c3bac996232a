package decompose

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbc1017/hollon-ai-sub009/pkg/models"
)

func TestParseEpicPlan(t *testing.T) {
	raw := `{"epics": [
		{"team": "backend", "title": "API", "description": "endpoints", "priority": 1},
		{"team": "frontend", "title": "UI", "priority": 2, "depends_on": ["API"]}
	]}`
	epics, err := ParseEpicPlan(raw)
	require.NoError(t, err)
	require.Len(t, epics, 2)
	assert.Equal(t, "backend", epics[0].Team)
	assert.Equal(t, []string{"API"}, epics[1].DependsOn)
}

func TestParseEpicPlanFenced(t *testing.T) {
	fenced := "```json\n{\"epics\": [{\"team\": \"backend\", \"title\": \"API\"}]}\n```"
	epics, err := ParseEpicPlan(fenced)
	require.NoError(t, err)
	assert.Len(t, epics, 1)
}

func TestParseEpicPlanRejections(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"broken json", `{"epics": [`, ErrBadPlan},
		{"empty plan", `{"epics": []}`, ErrBadPlan},
		{"missing team", `{"epics": [{"title": "API"}]}`, ErrBadPlan},
		{"missing title", `{"epics": [{"team": "backend"}]}`, ErrBadPlan},
		{"duplicate titles", `{"epics": [{"team": "a", "title": "API"}, {"team": "b", "title": "API"}]}`, ErrBadPlan},
		{"unknown dependency", `{"epics": [{"team": "a", "title": "API", "depends_on": ["ghost"]}]}`, ErrBadPlan},
		{"cycle", `{"epics": [
			{"team": "a", "title": "API", "depends_on": ["UI"]},
			{"team": "b", "title": "UI", "depends_on": ["API"]}
		]}`, ErrPlanCycle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEpicPlan(tt.raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseEpicPlanSizeCap(t *testing.T) {
	epics := make([]EpicPlan, models.MaxSubtasksPerPlan+1)
	for i := range epics {
		epics[i] = EpicPlan{Team: "backend", Title: fmt.Sprintf("epic %d", i)}
	}
	raw, err := json.Marshal(map[string]any{"epics": epics})
	require.NoError(t, err)

	_, err = ParseEpicPlan(string(raw))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPlanTooLarge)
}

func TestParseSubtaskPlan(t *testing.T) {
	raw := `{"subtasks": [
		{"assignee": "dev-1", "type": "implementation", "title": "claim endpoint",
		 "priority": 2, "complexity": "medium",
		 "required_capabilities": ["go"], "affected_files": ["pkg/api/handlers.go"],
		 "acceptance_criteria": ["returns 409 on conflict"]},
		{"type": "test", "title": "claim tests", "complexity": "low",
		 "depends_on": ["claim endpoint"]}
	]}`
	subtasks, err := ParseSubtaskPlan(raw)
	require.NoError(t, err)
	require.Len(t, subtasks, 2)
	assert.Equal(t, "dev-1", subtasks[0].Assignee)
	assert.Empty(t, subtasks[1].Assignee, "empty assignee routes to the team pool")
}

func TestParseSubtaskPlanRejections(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"team epic type", `{"subtasks": [{"type": "team_epic", "title": "x"}]}`, ErrBadPlan},
		{"unknown type", `{"subtasks": [{"type": "sorcery", "title": "x"}]}`, ErrBadPlan},
		{"bad complexity", `{"subtasks": [{"type": "test", "title": "x", "complexity": "extreme"}]}`, ErrBadPlan},
		{"missing title", `{"subtasks": [{"type": "test"}]}`, ErrBadPlan},
		{"self dependency", `{"subtasks": [{"type": "test", "title": "x", "depends_on": ["x"]}]}`, ErrPlanCycle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSubtaskPlan(tt.raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateAssignees(t *testing.T) {
	members := map[string]*models.Agent{
		"dev-1": {ID: "a1", Name: "dev-1"},
	}

	ok := []SubtaskPlan{
		{Title: "direct", Assignee: "DEV-1"}, // roster match is case-insensitive
		{Title: "pooled"},
	}
	require.NoError(t, validateAssignees(ok, members))

	bad := []SubtaskPlan{{Title: "lost", Assignee: "nobody"}}
	err := validateAssignees(bad, members)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadPlan)
}

func TestNormalizePriority(t *testing.T) {
	assert.Equal(t, models.PriorityP1, normalizePriority(1))
	assert.Equal(t, models.PriorityP4, normalizePriority(4))
	assert.Equal(t, models.PriorityP3, normalizePriority(0))
	assert.Equal(t, models.PriorityP3, normalizePriority(9))
}
