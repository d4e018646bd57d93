package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vitalsync/vitalsync/pkg/model"
	"go.uber.org/zap"
)

// MetricsHandler exposes the persisted canonical metric history
type MetricsHandler struct {
	metrics MetricReader
	logger  *zap.Logger
}

// NewMetricsHandler creates a new MetricsHandler
func NewMetricsHandler(metrics MetricReader, logger *zap.Logger) *MetricsHandler {
	return &MetricsHandler{
		metrics: metrics,
		logger:  logger,
	}
}

// GetMetrics handles GET /api/v1/metrics
func (h *MetricsHandler) GetMetrics(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		respondValidationError(c, "user_id is required", nil)
		return
	}

	start, end, err := timeRange(c, 24*time.Hour)
	if err != nil {
		respondValidationError(c, "Invalid time range", err)
		return
	}

	var metrics []model.HealthMetric
	if raw := c.Query("type"); raw != "" {
		metrics, err = h.metrics.Query(c.Request.Context(), userID, model.MetricType(raw), start, end)
	} else {
		metrics, err = h.metrics.QueryAll(c.Request.Context(), userID, start, end)
	}
	if err != nil {
		h.logger.Error("failed to query metrics",
			zap.Error(err),
			zap.String("user_id", userID),
		)
		respondInternalError(c, "Failed to query metrics", err)
		return
	}

	if metrics == nil {
		metrics = []model.HealthMetric{}
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"count":   len(metrics),
		"metrics": metrics,
	})
}
