package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vitalsync/vitalsync/pkg/model"
	"go.uber.org/zap"
)

// CredentialStore is the credential lifecycle contract for the API
type CredentialStore interface {
	Put(ctx context.Context, cred *model.DeviceCredential) error
	Invalidate(ctx context.Context, userID string, source model.Source) error
	ConnectedSources(ctx context.Context, userID string) ([]model.Source, error)
}

// CredentialHandler manages device connections. Tokens come in from the
// OAuth flow owned by the presentation layer; they never leave this API
// again once stored.
type CredentialHandler struct {
	store  CredentialStore
	logger *zap.Logger
}

// NewCredentialHandler creates a new CredentialHandler
func NewCredentialHandler(store CredentialStore, logger *zap.Logger) *CredentialHandler {
	return &CredentialHandler{
		store:  store,
		logger: logger,
	}
}

// ConnectRequest stores a device credential obtained externally
type ConnectRequest struct {
	UserID       string     `json:"user_id" binding:"required"`
	Source       string     `json:"source" binding:"required"`
	AccessToken  string     `json:"access_token" binding:"required"`
	RefreshToken string     `json:"refresh_token"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Scopes       []string   `json:"scopes,omitempty"`
}

// PostCredential handles POST /api/v1/credentials
func (h *CredentialHandler) PostCredential(c *gin.Context) {
	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("invalid request body", zap.Error(err))
		respondValidationError(c, "Invalid request body", err)
		return
	}

	source := model.Source(req.Source)
	if !source.Valid() {
		respondValidationError(c, "Unknown source: "+req.Source, nil)
		return
	}

	cred := &model.DeviceCredential{
		UserID:       req.UserID,
		Source:       source,
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		ExpiresAt:    req.ExpiresAt,
		Scope:        req.Scopes,
	}

	if err := h.store.Put(c.Request.Context(), cred); err != nil {
		h.logger.Error("failed to store credential",
			zap.Error(err),
			zap.String("user_id", req.UserID),
			zap.String("source", req.Source),
		)
		respondInternalError(c, "Failed to store credential", err)
		return
	}

	h.logger.Info("device connected",
		zap.String("user_id", req.UserID),
		zap.String("source", req.Source),
	)

	c.JSON(http.StatusOK, gin.H{
		"user_id": req.UserID,
		"source":  source,
		"status":  "connected",
	})
}

// DeleteCredential handles DELETE /api/v1/credentials/:source
func (h *CredentialHandler) DeleteCredential(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		respondValidationError(c, "user_id is required", nil)
		return
	}
	source := model.Source(c.Param("source"))
	if !source.Valid() {
		respondValidationError(c, "Unknown source: "+c.Param("source"), nil)
		return
	}

	if err := h.store.Invalidate(c.Request.Context(), userID, source); err != nil {
		h.logger.Error("failed to invalidate credential",
			zap.Error(err),
			zap.String("user_id", userID),
			zap.String("source", string(source)),
		)
		respondInternalError(c, "Failed to disconnect device", err)
		return
	}

	h.logger.Info("device disconnected",
		zap.String("user_id", userID),
		zap.String("source", string(source)),
	)

	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"source":  source,
		"status":  "disconnected",
	})
}

// GetCredentials handles GET /api/v1/credentials
func (h *CredentialHandler) GetCredentials(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		respondValidationError(c, "user_id is required", nil)
		return
	}

	sources, err := h.store.ConnectedSources(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list connected sources",
			zap.Error(err),
			zap.String("user_id", userID),
		)
		respondInternalError(c, "Failed to list connected devices", err)
		return
	}

	if sources == nil {
		sources = []model.Source{}
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"sources": sources,
	})
}
