package monitor

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for the risk monitor.
type Handler struct {
	monitor *Monitor
}

// NewHandler creates a new monitor handler.
func NewHandler(m *Monitor) *Handler {
	return &Handler{monitor: m}
}

// RegisterRoutes sets up monitoring endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/monitor/watches", h.ListWatches)
	r.POST("/monitor/:identityId/watch", h.Watch)
	r.DELETE("/monitor/:identityId/watch", h.Unwatch)
}

// ListWatches returns the identities with an active poll loop.
func (h *Handler) ListWatches(c *gin.Context) {
	watched := h.monitor.Watched()
	c.JSON(http.StatusOK, gin.H{"identities": watched, "count": len(watched)})
}

// Watch starts risk polling for an identity. Idempotent: watching an already
// watched identity reports started=false.
func (h *Handler) Watch(c *gin.Context) {
	// The poll loop outlives the request; it stops via Unwatch or Shutdown.
	started := h.monitor.Watch(context.Background(), c.Param("identityId"))
	status := http.StatusCreated
	if !started {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"identityId": c.Param("identityId"), "started": started})
}

// Unwatch stops risk polling for an identity.
func (h *Handler) Unwatch(c *gin.Context) {
	stopped := h.monitor.Unwatch(c.Param("identityId"))
	if !stopped {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_watched",
			"message": "Identity is not being monitored",
		})
		return
	}
	c.Status(http.StatusNoContent)
}
