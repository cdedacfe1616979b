package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// StatusHandler serves the dispatcher's operational status
type StatusHandler struct {
	logger *slog.Logger
	pool   Pool
	deps   *Dependencies
}

// NewStatusHandler creates a new StatusHandler instance
func NewStatusHandler(deps *Dependencies) *StatusHandler {
	return &StatusHandler{
		logger: deps.Logger,
		pool:   deps.Pool,
		deps:   deps,
	}
}

// GetStatus handles GET /api/v1/status
// Reports pool size and a per-worker snapshot
func (h *StatusHandler) GetStatus(c *gin.Context) {
	stats := h.pool.Stats()

	busy := 0
	for _, s := range stats {
		if s.Busy {
			busy++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"pool_size":    h.pool.Len(),
		"busy_workers": busy,
		"workers":      stats,
	})
}

// GetHealth handles GET /health
// Checks downstream connections in addition to process liveness
func (h *StatusHandler) GetHealth(c *gin.Context) {
	healthy := true

	dbOK := true
	if h.deps.DBClient != nil {
		if err := h.deps.DBClient.HealthCheck(c.Request.Context()); err != nil {
			h.logger.Error("Database health check failed", slog.Any("error", err))
			dbOK = false
			healthy = false
		}
	}

	rabbitOK := true
	if h.deps.Rabbit != nil && !h.deps.Rabbit.IsConnected() {
		rabbitOK = false
		healthy = false
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"healthy":  healthy,
		"database": dbOK,
		"rabbitmq": rabbitOK,
		"service":  "dispatcherd",
	})
}
