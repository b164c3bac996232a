package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pbc1017/hollon-ai-sub009/pkg/models"
)

// StopRequest is the body of POST /organizations/:id/stop. The reason is
// optional: an emergency stop must never be rejected for a missing field.
type StopRequest struct {
	Reason string `json:"reason"`
}

// StopOrganization flips the emergency stop. Idempotent: stopping a stopped
// organization succeeds, and an empty body stops with a default reason.
func (s *Server) StopOrganization(c *gin.Context) {
	var req StopRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Reason == "" {
		req.Reason = "manual stop via API"
	}
	orgID := c.Param("id")
	if err := s.store.SetAutonomousExecution(c.Request.Context(), orgID, false, req.Reason); err != nil {
		respondError(c, err)
		return
	}
	s.logger.Warn("organization stopped via API", "org_id", orgID, "reason", req.Reason)
	c.JSON(http.StatusOK, gin.H{"organization_id": orgID, "autonomous_enabled": false})
}

// ResumeOrganization re-enables autonomous execution. Idempotent.
func (s *Server) ResumeOrganization(c *gin.Context) {
	orgID := c.Param("id")
	if err := s.store.SetAutonomousExecution(c.Request.Context(), orgID, true, ""); err != nil {
		respondError(c, err)
		return
	}
	s.logger.Info("organization resumed via API", "org_id", orgID)
	c.JSON(http.StatusOK, gin.H{"organization_id": orgID, "autonomous_enabled": true})
}

// GetOrganization returns one organization.
func (s *Server) GetOrganization(c *gin.Context) {
	org, err := s.store.GetOrganization(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, org)
}

// CreateGoalRequest is the body of POST /goals.
type CreateGoalRequest struct {
	OrganizationID  string   `json:"organization_id" binding:"required"`
	ProjectID       string   `json:"project_id" binding:"required"`
	OwnerAgentID    string   `json:"owner_agent_id" binding:"required"`
	Title           string   `json:"title" binding:"required"`
	Description     string   `json:"description"`
	SuccessCriteria []string `json:"success_criteria"`
}

// CreateGoal submits a goal for decomposition.
func (s *Server) CreateGoal(c *gin.Context) {
	var req CreateGoalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	goal := &models.Goal{
		OrganizationID:  req.OrganizationID,
		ProjectID:       req.ProjectID,
		OwnerAgentID:    req.OwnerAgentID,
		Title:           req.Title,
		Description:     req.Description,
		SuccessCriteria: req.SuccessCriteria,
	}
	if err := s.store.CreateGoal(c.Request.Context(), goal); err != nil {
		respondError(c, err)
		return
	}
	s.logger.Info("goal created", "goal_id", goal.ID, "org_id", goal.OrganizationID)
	c.JSON(http.StatusCreated, goal)
}

// GetGoal returns a goal plus its per-status task breakdown.
func (s *Server) GetGoal(c *gin.Context) {
	ctx := c.Request.Context()
	goal, err := s.store.GetGoal(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	breakdown, err := s.store.GoalTaskBreakdown(ctx, goal.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"goal": goal, "tasks": breakdown})
}

// GetTask returns one task.
func (s *Server) GetTask(c *gin.Context) {
	task, err := s.store.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// ListTaskExecutions returns a task's execution ledger.
func (s *Server) ListTaskExecutions(c *gin.Context) {
	recs, err := s.store.ListTaskExecutions(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": recs})
}

// AssignTaskRequest is the body of PATCH /tasks/:id/assign. Exactly one of
// the two targets must be set.
type AssignTaskRequest struct {
	TeamID  *string `json:"team_id"`
	AgentID *string `json:"agent_id"`
}

// AssignTask routes a task to a team pool or a specific agent.
func (s *Server) AssignTask(c *gin.Context) {
	var req AssignTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if (req.TeamID == nil) == (req.AgentID == nil) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "exactly one of team_id or agent_id is required"})
		return
	}
	taskID := c.Param("id")
	if err := s.store.AssignTask(c.Request.Context(), taskID, req.TeamID, req.AgentID); err != nil {
		respondError(c, err)
		return
	}
	task, err := s.store.GetTask(c.Request.Context(), taskID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// ListProjectTasks returns a project's tasks filtered by status.
func (s *Server) ListProjectTasks(c *gin.Context) {
	status := models.TaskStatus(c.Query("status"))
	if !status.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown or missing status"})
		return
	}
	tasks, err := s.store.ListTasksByStatus(c.Request.Context(), c.Param("id"), status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// ResolveEscalationRequest is the body of POST /escalations/:id/resolve.
type ResolveEscalationRequest struct {
	Decision      string `json:"decision" binding:"required"`
	ResolverHuman string `json:"resolver_human" binding:"required"`
}

// ResolveEscalation applies a human decision to a pending escalation, which
// retries or terminates the underlying task.
func (s *Server) ResolveEscalation(c *gin.Context) {
	var req ResolveEscalationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := c.Param("id")
	if err := s.ladder.Resolve(c.Request.Context(), id, req.Decision, &req.ResolverHuman); err != nil {
		respondError(c, err)
		return
	}
	s.logger.Info("escalation resolved", "escalation_id", id, "decision", req.Decision)
	c.JSON(http.StatusOK, gin.H{"escalation_id": id, "decision": req.Decision})
}
