package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
)

// HealthHandler reports service liveness and database reachability
type HealthHandler struct {
	pool    *pgxpool.Pool
	version string
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(pool *pgxpool.Pool, version string) *HealthHandler {
	return &HealthHandler{
		pool:    pool,
		version: version,
	}
}

// GetHealth handles GET /health
func (h *HealthHandler) GetHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	overall, dbStatus := "ok", "ok"
	if err := h.pool.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		overall, dbStatus = "degraded", "unreachable"
	}

	c.JSON(status, gin.H{
		"status":   overall,
		"version":  h.version,
		"time":     time.Now().UTC(),
		"database": dbStatus,
	})
}
