package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vitalsync/vitalsync/pkg/model"
	"go.uber.org/zap"
)

// MetricReader supplies the metric history for analysis
type MetricReader interface {
	Query(ctx context.Context, userID string, metricType model.MetricType, start, end time.Time) ([]model.HealthMetric, error)
	QueryAll(ctx context.Context, userID string, start, end time.Time) ([]model.HealthMetric, error)
}

// Analyzer is the analysis engine contract
type Analyzer interface {
	Analyze(ctx context.Context, userID string, metrics []model.HealthMetric, profile *model.UserProfile) (*model.AnalysisReport, error)
	PerformEmergencyAnalysis(userID string, metrics []model.HealthMetric) []model.HealthAlert
}

// ProfileProvider fetches the optional user profile
type ProfileProvider interface {
	Profile(ctx context.Context, userID string) (*model.UserProfile, error)
}

// AnalysisHandler exposes the full analysis pass and the emergency
// fast path
type AnalysisHandler struct {
	metrics  MetricReader
	engine   Analyzer
	profiles ProfileProvider
	logger   *zap.Logger
}

// NewAnalysisHandler creates a new AnalysisHandler. profiles may be nil
// when no profile service is configured.
func NewAnalysisHandler(metrics MetricReader, engine Analyzer, profiles ProfileProvider, logger *zap.Logger) *AnalysisHandler {
	return &AnalysisHandler{
		metrics:  metrics,
		engine:   engine,
		profiles: profiles,
		logger:   logger,
	}
}

// GetAnalysis handles GET /api/v1/analysis
func (h *AnalysisHandler) GetAnalysis(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		respondValidationError(c, "user_id is required", nil)
		return
	}

	start, end, err := timeRange(c, 7*24*time.Hour)
	if err != nil {
		respondValidationError(c, "Invalid time range", err)
		return
	}

	metrics, err := h.metrics.QueryAll(c.Request.Context(), userID, start, end)
	if err != nil {
		h.logger.Error("failed to load metrics",
			zap.Error(err),
			zap.String("user_id", userID),
		)
		respondInternalError(c, "Failed to load metric history", err)
		return
	}

	// A missing profile degrades the analysis, it never blocks it.
	var userProfile *model.UserProfile
	if h.profiles != nil {
		userProfile, err = h.profiles.Profile(c.Request.Context(), userID)
		if err != nil {
			h.logger.Warn("profile unavailable, analyzing without it",
				zap.Error(err),
				zap.String("user_id", userID),
			)
			userProfile = nil
		}
	}

	report, err := h.engine.Analyze(c.Request.Context(), userID, metrics, userProfile)
	if err != nil {
		h.logger.Error("analysis failed",
			zap.Error(err),
			zap.String("user_id", userID),
		)
		respondInternalError(c, "Analysis failed", err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// GetEmergencyAnalysis handles GET /api/v1/analysis/emergency
func (h *AnalysisHandler) GetEmergencyAnalysis(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		respondValidationError(c, "user_id is required", nil)
		return
	}

	end := time.Now()
	start := end.Add(-time.Hour)

	var recent []model.HealthMetric
	for _, metricType := range []model.MetricType{model.MetricHeartRate, model.MetricBloodOxygen} {
		samples, err := h.metrics.Query(c.Request.Context(), userID, metricType, start, end)
		if err != nil {
			h.logger.Error("failed to load metrics",
				zap.Error(err),
				zap.String("user_id", userID),
				zap.String("metric_type", string(metricType)),
			)
			respondInternalError(c, "Failed to load recent vitals", err)
			return
		}
		recent = append(recent, samples...)
	}

	alerts := h.engine.PerformEmergencyAnalysis(userID, recent)

	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"alerts":  alerts,
	})
}
