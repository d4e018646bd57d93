package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vitalsync/vitalsync/pkg/model"
	"go.uber.org/zap"
)

// Syncer is the orchestrator contract the handler needs
type Syncer interface {
	SyncAll(ctx context.Context, userID string, sources []model.Source, start, end time.Time) (map[model.Source]model.SyncResult, error)
}

// SyncHandler exposes on-demand device synchronization
type SyncHandler struct {
	syncer   Syncer
	lookback time.Duration
	logger   *zap.Logger
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(syncer Syncer, lookback time.Duration, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{
		syncer:   syncer,
		lookback: lookback,
		logger:   logger,
	}
}

// SyncRequest triggers a sync for one user. Sources and the time range
// are optional; omitted sources mean every connected device, an omitted
// range means the configured lookback window ending now.
type SyncRequest struct {
	UserID  string   `json:"user_id" binding:"required"`
	Sources []string `json:"sources,omitempty"`
	Start   *string  `json:"start,omitempty"`
	End     *string  `json:"end,omitempty"`
}

// SyncResponse reports per-source outcomes. Partial failure is a normal
// response, not an error status: the caller sees what succeeded.
type SyncResponse struct {
	UserID  string                            `json:"user_id"`
	Results map[model.Source]model.SyncResult `json:"results"`
}

// PostSync handles POST /api/v1/sync
func (h *SyncHandler) PostSync(c *gin.Context) {
	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("invalid request body", zap.Error(err))
		respondValidationError(c, "Invalid request body", err)
		return
	}

	var sources []model.Source
	for _, raw := range req.Sources {
		source := model.Source(raw)
		if !source.Valid() {
			respondValidationError(c, "Unknown source: "+raw, nil)
			return
		}
		sources = append(sources, source)
	}

	end := time.Now()
	start := end.Add(-h.lookback)
	var err error
	if req.Start != nil {
		if start, err = time.Parse(time.RFC3339, *req.Start); err != nil {
			respondValidationError(c, "Invalid start time", err)
			return
		}
	}
	if req.End != nil {
		if end, err = time.Parse(time.RFC3339, *req.End); err != nil {
			respondValidationError(c, "Invalid end time", err)
			return
		}
	}

	results, err := h.syncer.SyncAll(c.Request.Context(), req.UserID, sources, start, end)
	if err != nil {
		h.logger.Error("sync failed",
			zap.Error(err),
			zap.String("user_id", req.UserID),
		)
		respondInternalError(c, "Failed to run sync", err)
		return
	}

	h.logger.Info("sync requested",
		zap.String("user_id", req.UserID),
		zap.Int("sources", len(results)),
	)

	c.JSON(http.StatusOK, SyncResponse{
		UserID:  req.UserID,
		Results: results,
	})
}
