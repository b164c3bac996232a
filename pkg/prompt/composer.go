package prompt

import (
	"context"
	"errors"
	"fmt"

	"github.com/pbc1017/hollon-ai-sub009/pkg/models"
	"github.com/pbc1017/hollon-ai-sub009/pkg/store"
)

// Composer resolves the layer sources from the store and builds the prompt.
type Composer struct {
	store     *store.Store
	retriever Retriever
}

// NewComposer creates a Composer. retriever may be nil, which disables
// layer 5.
func NewComposer(st *store.Store, retriever Retriever) *Composer {
	return &Composer{store: st, retriever: retriever}
}

// Compose builds the full prompt for an agent executing a task.
func (c *Composer) Compose(ctx context.Context, agent *models.Agent, task *models.Task) (string, error) {
	in := Input{Agent: agent, Task: task}

	org, err := c.store.GetOrganization(ctx, agent.OrganizationID)
	if err != nil {
		return "", missingOr(err, "organization "+agent.OrganizationID)
	}
	in.Org = org

	if agent.TeamID != nil {
		chain, err := c.store.TeamChain(ctx, *agent.TeamID)
		if err != nil {
			return "", missingOr(err, "team chain of "+*agent.TeamID)
		}
		in.TeamChain = chain
	}

	role, err := c.store.GetRole(ctx, agent.RoleID)
	if err != nil {
		return "", missingOr(err, "role "+agent.RoleID)
	}
	in.Role = role

	depIDs, err := c.store.Dependencies(ctx, task.ID)
	if err != nil {
		return "", err
	}
	for _, id := range depIDs {
		dep, err := c.store.GetTask(ctx, id)
		if err != nil {
			return "", missingOr(err, "dependency "+id)
		}
		in.DependencyTitles = append(in.DependencyTitles, dep.Title)
	}

	if c.retriever != nil {
		matches, err := c.retriever.Retrieve(ctx, agent.OrganizationID, task.Title+"\n"+task.Description)
		if err != nil {
			// Retrieval is best-effort: a down embedder must not stop work.
			matches = nil
		}
		in.Knowledge = matches
	}

	return Build(in)
}

// missingOr converts a store not-found into ErrMissingDependency so the
// cycle's error handling sees one failure class for broken layer sources.
func missingOr(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w", what, ErrMissingDependency)
	}
	return err
}
