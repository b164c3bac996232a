// Package prompt assembles the layered prompt an agent executes with.
//
// Six layers, outermost context first: organization, team chain (root first),
// role, agent custom prompt, retrieved prior knowledge, and the task itself.
// Identity layers are mandatory; composition fails rather than silently
// producing a prompt with a hole in it.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pbc1017/hollon-ai-sub009/pkg/models"
)

// ErrMissingDependency is returned when a mandatory layer's source entity is
// absent. The execution cycle treats it as a non-retryable failure.
var ErrMissingDependency = errors.New("prompt layer source missing")

// Retriever supplies layer 5: prior knowledge relevant to the task text.
type Retriever interface {
	Retrieve(ctx context.Context, orgID, text string) ([]*models.KnowledgeMatch, error)
}

// Input carries the resolved sources of all six layers. DependencyTitles are
// the titles of the tasks this one depends on; titles rather than ids, since
// the brain has no way to dereference an id.
type Input struct {
	Org              *models.Organization
	TeamChain        []*models.Team // root first; empty for teamless agents
	Role             *models.Role
	Agent            *models.Agent
	Knowledge        []*models.KnowledgeMatch
	Task             *models.Task
	DependencyTitles []string
}

// Build renders the prompt. Org, Role, Agent, and Task are mandatory.
func Build(in Input) (string, error) {
	switch {
	case in.Org == nil:
		return "", fmt.Errorf("organization: %w", ErrMissingDependency)
	case in.Role == nil:
		return "", fmt.Errorf("role: %w", ErrMissingDependency)
	case in.Agent == nil:
		return "", fmt.Errorf("agent: %w", ErrMissingDependency)
	case in.Task == nil:
		return "", fmt.Errorf("task: %w", ErrMissingDependency)
	}

	var b strings.Builder

	if in.Org.ContextPrompt != "" {
		section(&b, "Organization", in.Org.ContextPrompt)
	}
	for _, t := range in.TeamChain {
		if t.DescriptionPrompt != "" {
			section(&b, "Team: "+t.Name, t.DescriptionPrompt)
		}
	}
	if in.Role.SystemPrompt != "" {
		section(&b, "Role: "+in.Role.Name, in.Role.SystemPrompt)
	}
	if in.Agent.CustomPrompt != "" {
		section(&b, "Agent notes", in.Agent.CustomPrompt)
	}
	if len(in.Knowledge) > 0 {
		var k strings.Builder
		for _, m := range in.Knowledge {
			fmt.Fprintf(&k, "- %s (relevance %.2f)\n%s\n", m.Artifact.Title, m.Score, m.Artifact.Content)
		}
		section(&b, "Prior knowledge", k.String())
	}

	section(&b, "Task", taskBlock(in.Task, in.DependencyTitles))
	return strings.TrimSpace(b.String()) + "\n", nil
}

func section(b *strings.Builder, title, body string) {
	fmt.Fprintf(b, "## %s\n\n%s\n\n", title, strings.TrimSpace(body))
}

// taskBlock renders layer 6. CI feedback, when present, is passed through
// verbatim so the brain sees exactly what the pipeline saw.
func taskBlock(t *models.Task, depTitles []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", t.Title)
	fmt.Fprintf(&b, "Type: %s\nPriority: P%d\n", t.Type, t.Priority)
	if t.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", t.Description)
	}
	if len(t.AcceptanceCriteria) > 0 {
		b.WriteString("\nAcceptance criteria:\n")
		for _, c := range t.AcceptanceCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if len(depTitles) > 0 {
		b.WriteString("\nDepends on (already completed):\n")
		for _, d := range depTitles {
			fmt.Fprintf(&b, "- %s\n", d)
		}
	}
	if len(t.AffectedFiles) > 0 {
		b.WriteString("\nFiles in scope:\n")
		for _, f := range t.AffectedFiles {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	if t.LastCIFeedback != nil && *t.LastCIFeedback != "" {
		fmt.Fprintf(&b, "\nThe previous attempt failed CI. Raw CI output:\n%s\n", *t.LastCIFeedback)
	}
	return b.String()
}
