package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cartsync/backend/internal/domain"
	"github.com/cartsync/backend/internal/usecase"
)

// Version is reported by the health endpoint.
var Version = "1.0.0"

// StatusSource publishes scheduler snapshots.
type StatusSource interface {
	Snapshot() usecase.Snapshot
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	status    StatusSource
	staging   domain.StagingStore
	startedAt time.Time
}

// NewHandler creates a new HTTP handler. Either dependency may be nil; the
// matching endpoint then answers 503.
func NewHandler(status StatusSource, staging domain.StagingStore) *Handler {
	return &Handler{
		status:    status,
		staging:   staging,
		startedAt: time.Now(),
	}
}

// HealthCheck returns the health status of the process
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "cartsync",
		"version": Version,
		"uptime":  time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// GetStatus returns the scheduler state, the last cycle report and the
// escalated items.
func (h *Handler) GetStatus(c *gin.Context) {
	if h.status == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "monitor not configured"})
		return
	}
	c.JSON(http.StatusOK, h.status.Snapshot())
}

// GetStaging returns the staging record, if any.
func (h *Handler) GetStaging(c *gin.Context) {
	if h.staging == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "staging not configured"})
		return
	}

	record, err := h.staging.Load(c.Request.Context())
	switch {
	case errors.Is(err, domain.ErrStagingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "no staging record"})
		return
	case errors.Is(err, domain.ErrStagingCorrupt):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "staging record is corrupt"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read staging record"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"record":        record,
		"pending":       len(record.Pending()),
		"awaitingClear": len(record.AwaitingClear()),
	})
}
