package publish

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/roach88/ormso/internal/syncer"
)

type syncRoutes struct {
	s *Server
}

func newSyncRoutes(s *Server) *syncRoutes {
	return &syncRoutes{s: s}
}

func (r *syncRoutes) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/sync")
	group.Use(r.requireEngine)
	{
		group.GET("/status", r.status)
		group.GET("/active", r.active)
		group.POST("", r.start)
	}
}

func (r *syncRoutes) requireEngine(c *gin.Context) {
	if r.s.engine == nil {
		fail(c, http.StatusNotFound, CodeSyncDisabled, errors.New("sync is not configured"))
		return
	}
	c.Next()
}

// StatusResponse is the body of GET /sync/status.
type StatusResponse struct {
	Summary string          `json:"summary"`
	Active  bool            `json:"active"`
	Tables  []syncer.Status `json:"tables"`
}

func (r *syncRoutes) status(c *gin.Context) {
	e := r.s.engine
	c.JSON(http.StatusOK, StatusResponse{
		Summary: e.GetSyncStatus(),
		Active:  e.IsSyncActive(),
		Tables:  e.Statuses(),
	})
}

func (r *syncRoutes) active(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"active": r.s.engine.IsSyncActive()})
}

// start runs SyncAll detached from the request.
func (r *syncRoutes) start(c *gin.Context) {
	e := r.s.engine
	if e.IsSyncActive() {
		r.s.failFor(c, syncer.ErrSyncAllActive)
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	r.s.wg.Add(1)
	go func() {
		defer r.s.wg.Done()
		if err := e.SyncAll(ctx); err != nil && !errors.Is(err, syncer.ErrSyncAllActive) {
			r.s.logger.ErrorContext(ctx, "background sync failed", "error", err)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"started": true})
}
