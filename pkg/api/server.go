// Package api exposes the control plane's HTTP surface: health, the
// emergency stop, goal intake, task views, and escalation decisions.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pbc1017/hollon-ai-sub009/pkg/database"
	"github.com/pbc1017/hollon-ai-sub009/pkg/escalation"
	"github.com/pbc1017/hollon-ai-sub009/pkg/store"
	"github.com/pbc1017/hollon-ai-sub009/pkg/version"
)

// Server holds the HTTP handlers' dependencies.
type Server struct {
	store  *store.Store
	ladder *escalation.Ladder
	logger *slog.Logger
}

// NewServer creates an API server over the store and escalation ladder.
func NewServer(st *store.Store, ladder *escalation.Ladder, logger *slog.Logger) *Server {
	return &Server{store: st, ladder: ladder, logger: logger.With("component", "api")}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	v1 := r.Group("/api/v1")
	v1.GET("/health", s.Health)

	v1.POST("/organizations/:id/stop", s.StopOrganization)
	v1.POST("/organizations/:id/resume", s.ResumeOrganization)
	v1.GET("/organizations/:id", s.GetOrganization)

	v1.POST("/goals", s.CreateGoal)
	v1.GET("/goals/:id", s.GetGoal)

	v1.GET("/tasks/:id", s.GetTask)
	v1.GET("/tasks/:id/executions", s.ListTaskExecutions)
	v1.PATCH("/tasks/:id/assign", s.AssignTask)
	v1.GET("/projects/:id/tasks", s.ListProjectTasks)

	v1.POST("/escalations/:id/resolve", s.ResolveEscalation)

	return r
}

// Health reports process and database health.
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(ctx, s.store.Pool())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"version":  version.Full(),
			"database": dbHealth,
			"error":    err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"version":  version.Full(),
		"database": dbHealth,
	})
}
