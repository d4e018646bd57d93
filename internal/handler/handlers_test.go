package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitalsync/vitalsync/pkg/model"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubSyncer struct {
	results map[model.Source]model.SyncResult
	err     error

	userID  string
	sources []model.Source
}

func (s *stubSyncer) SyncAll(_ context.Context, userID string, sources []model.Source, _, _ time.Time) (map[model.Source]model.SyncResult, error) {
	s.userID = userID
	s.sources = sources
	return s.results, s.err
}

type stubMetrics struct {
	metrics []model.HealthMetric
	err     error
}

func (s *stubMetrics) Query(context.Context, string, model.MetricType, time.Time, time.Time) ([]model.HealthMetric, error) {
	return s.metrics, s.err
}

func (s *stubMetrics) QueryAll(context.Context, string, time.Time, time.Time) ([]model.HealthMetric, error) {
	return s.metrics, s.err
}

type stubEngine struct {
	report *model.AnalysisReport
	alerts []model.HealthAlert
}

func (s *stubEngine) Analyze(_ context.Context, userID string, _ []model.HealthMetric, _ *model.UserProfile) (*model.AnalysisReport, error) {
	if s.report == nil {
		return &model.AnalysisReport{UserID: userID, HealthScore: 50}, nil
	}
	return s.report, nil
}

func (s *stubEngine) PerformEmergencyAnalysis(string, []model.HealthMetric) []model.HealthAlert {
	return s.alerts
}

type stubProfiles struct {
	profile *model.UserProfile
	err     error
}

func (s *stubProfiles) Profile(context.Context, string) (*model.UserProfile, error) {
	return s.profile, s.err
}

type stubCredStore struct {
	put        *model.DeviceCredential
	invalidate bool
	sources    []model.Source
}

func (s *stubCredStore) Put(_ context.Context, cred *model.DeviceCredential) error {
	s.put = cred
	return nil
}

func (s *stubCredStore) Invalidate(context.Context, string, model.Source) error {
	s.invalidate = true
	return nil
}

func (s *stubCredStore) ConnectedSources(context.Context, string) ([]model.Source, error) {
	return s.sources, nil
}

func perform(router *gin.Engine, method, target, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestPostSync_PartialFailureIsStillOK(t *testing.T) {
	syncer := &stubSyncer{results: map[model.Source]model.SyncResult{
		model.SourceFitbit: {Source: model.SourceFitbit, Success: true, RecordsProcessed: 12},
		model.SourceOura:   {Source: model.SourceOura, Success: false, Errors: []string{"rate limit exceeded for source oura"}},
	}}
	router := gin.New()
	router.POST("/api/v1/sync", NewSyncHandler(syncer, 24*time.Hour, zap.NewNop()).PostSync)

	w := perform(router, http.MethodPost, "/api/v1/sync", `{"user_id":"user-1"}`)

	require.Equal(t, http.StatusOK, w.Code)
	var resp SyncResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "user-1", resp.UserID)
	assert.Len(t, resp.Results, 2)
	assert.False(t, resp.Results[model.SourceOura].Success)
}

func TestPostSync_RejectsUnknownSource(t *testing.T) {
	router := gin.New()
	router.POST("/api/v1/sync", NewSyncHandler(&stubSyncer{}, 24*time.Hour, zap.NewNop()).PostSync)

	w := perform(router, http.MethodPost, "/api/v1/sync", `{"user_id":"user-1","sources":["pebble"]}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "pebble")
}

func TestPostSync_RequiresUserID(t *testing.T) {
	router := gin.New()
	router.POST("/api/v1/sync", NewSyncHandler(&stubSyncer{}, 24*time.Hour, zap.NewNop()).PostSync)

	w := perform(router, http.MethodPost, "/api/v1/sync", `{}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetAnalysis_ProfileFailureDegradesGracefully(t *testing.T) {
	handler := NewAnalysisHandler(
		&stubMetrics{},
		&stubEngine{},
		&stubProfiles{err: errors.New("profile service down")},
		zap.NewNop(),
	)
	router := gin.New()
	router.GET("/api/v1/analysis", handler.GetAnalysis)

	w := perform(router, http.MethodGet, "/api/v1/analysis?user_id=user-1", "")

	require.Equal(t, http.StatusOK, w.Code)
	var report model.AnalysisReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 50.0, report.HealthScore)
}

func TestGetAnalysis_RequiresUserID(t *testing.T) {
	handler := NewAnalysisHandler(&stubMetrics{}, &stubEngine{}, nil, zap.NewNop())
	router := gin.New()
	router.GET("/api/v1/analysis", handler.GetAnalysis)

	w := perform(router, http.MethodGet, "/api/v1/analysis", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetEmergencyAnalysis_ReturnsAlerts(t *testing.T) {
	engine := &stubEngine{alerts: []model.HealthAlert{{
		ID:       "a1",
		Type:     model.AlertMedicalEmergency,
		Severity: model.SeverityCritical,
	}}}
	handler := NewAnalysisHandler(&stubMetrics{}, engine, nil, zap.NewNop())
	router := gin.New()
	router.GET("/api/v1/analysis/emergency", handler.GetEmergencyAnalysis)

	w := perform(router, http.MethodGet, "/api/v1/analysis/emergency?user_id=user-1", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "critical")
}

func TestGetMetrics_EmptyHistoryIsEmptyArray(t *testing.T) {
	handler := NewMetricsHandler(&stubMetrics{}, zap.NewNop())
	router := gin.New()
	router.GET("/api/v1/metrics", handler.GetMetrics)

	w := perform(router, http.MethodGet, "/api/v1/metrics?user_id=user-1", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"metrics":[]`)
}

func TestGetMetrics_InvalidStartRejected(t *testing.T) {
	handler := NewMetricsHandler(&stubMetrics{}, zap.NewNop())
	router := gin.New()
	router.GET("/api/v1/metrics", handler.GetMetrics)

	w := perform(router, http.MethodGet, "/api/v1/metrics?user_id=user-1&start=yesterday", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPostCredential_StoresAndConfirms(t *testing.T) {
	store := &stubCredStore{}
	router := gin.New()
	router.POST("/api/v1/credentials", NewCredentialHandler(store, zap.NewNop()).PostCredential)

	w := perform(router, http.MethodPost, "/api/v1/credentials",
		`{"user_id":"user-1","source":"fitbit","access_token":"secret-access-token","refresh_token":"rt"}`)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, store.put)
	assert.Equal(t, model.SourceFitbit, store.put.Source)
	assert.Equal(t, "secret-access-token", store.put.AccessToken)
	assert.NotContains(t, w.Body.String(), "secret-access-token", "tokens never echo back")
}

func TestDeleteCredential_Disconnects(t *testing.T) {
	store := &stubCredStore{}
	router := gin.New()
	router.DELETE("/api/v1/credentials/:source", NewCredentialHandler(store, zap.NewNop()).DeleteCredential)

	w := perform(router, http.MethodDelete, "/api/v1/credentials/oura?user_id=user-1", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, store.invalidate)
}

func TestGetCredentials_ListsConnectedSources(t *testing.T) {
	store := &stubCredStore{sources: []model.Source{model.SourceFitbit, model.SourceWhoop}}
	router := gin.New()
	router.GET("/api/v1/credentials", NewCredentialHandler(store, zap.NewNop()).GetCredentials)

	w := perform(router, http.MethodGet, "/api/v1/credentials?user_id=user-1", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "fitbit")
	assert.Contains(t, w.Body.String(), "whoop")
}
