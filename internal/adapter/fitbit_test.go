package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitalsync/vitalsync/internal/config"
	"github.com/vitalsync/vitalsync/pkg/model"
	"go.uber.org/zap"
)

func newFitbit(baseURL string) *FitbitAdapter {
	return NewFitbitAdapter(
		config.ProviderConfig{BaseURL: baseURL},
		&http.Client{Timeout: 5 * time.Second},
		zap.NewNop(),
	)
}

func TestFitbit_Capabilities(t *testing.T) {
	a := newFitbit("")

	assert.Equal(t, model.SourceFitbit, a.Source())
	assert.True(t, a.Supports(model.CategoryHeartRate))
	assert.True(t, a.Supports(model.CategorySleep))
	assert.True(t, a.Supports(model.CategoryActivity))
	assert.True(t, a.Supports(model.CategoryBloodOxygen))
	assert.False(t, a.Supports(model.CategoryStress))
}

func TestFitbit_TransformHeartRate(t *testing.T) {
	raw := []byte(`{
		"activities-heart": [
			{"dateTime": "2026-08-27", "value": {"restingHeartRate": 62}},
			{"dateTime": "2026-08-28", "value": {}},
			{"dateTime": "not-a-date", "value": {"restingHeartRate": 60}}
		]
	}`)

	metrics, dropped, err := newFitbit("").Transform(raw, model.CategoryHeartRate, "user-1")
	require.NoError(t, err)

	// One valid reading, one omitted (no resting HR is not a zero), one
	// dropped for an unparseable date.
	require.Len(t, metrics, 1)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, model.MetricHeartRate, metrics[0].Type)
	assert.Equal(t, 62.0, metrics[0].Value)
	assert.Equal(t, model.SourceFitbit, metrics[0].Source)
}

func TestFitbit_TransformSleepStages(t *testing.T) {
	raw := []byte(`{
		"sleep": [{
			"dateOfSleep": "2026-08-27",
			"duration": 27000000,
			"efficiency": 92,
			"levels": {"summary": {
				"deep": {"minutes": 80},
				"rem": {"minutes": 95},
				"light": {"minutes": 260}
			}}
		}]
	}`)

	metrics, dropped, err := newFitbit("").Transform(raw, model.CategorySleep, "user-1")
	require.NoError(t, err)
	assert.Zero(t, dropped)

	byType := map[model.MetricType]float64{}
	for _, m := range metrics {
		byType[m.Type] = m.Value
	}
	assert.Equal(t, 450.0, byType[model.MetricSleepDuration]) // 27,000,000 ms
	assert.Equal(t, 92.0, byType[model.MetricSleepScore])
	assert.Equal(t, 80.0, byType[model.MetricSleepDeep])
	assert.Equal(t, 95.0, byType[model.MetricSleepREM])
	assert.Equal(t, 260.0, byType[model.MetricSleepLight])
}

func TestFitbit_TransformSleepWithoutStageBreakdown(t *testing.T) {
	raw := []byte(`{"sleep": [{"dateOfSleep": "2026-08-27", "duration": 28800000}]}`)

	metrics, dropped, err := newFitbit("").Transform(raw, model.CategorySleep, "user-1")
	require.NoError(t, err)
	assert.Zero(t, dropped)

	// No stage metrics fabricated from the missing breakdown.
	require.Len(t, metrics, 1)
	assert.Equal(t, model.MetricSleepDuration, metrics[0].Type)
}

func TestFitbit_TransformActivityDropsMalformedSteps(t *testing.T) {
	raw := []byte(`{
		"activities-steps": [
			{"dateTime": "2026-08-27", "value": "8421"},
			{"dateTime": "2026-08-28", "value": "not-a-number"},
			{"dateTime": "2026-08-26", "value": "-5"}
		]
	}`)

	metrics, dropped, err := newFitbit("").Transform(raw, model.CategoryActivity, "user-1")
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	assert.Equal(t, 2, dropped)
	assert.Equal(t, 8421.0, metrics[0].Value)
}

func TestFitbit_TransformDropsFutureTimestamps(t *testing.T) {
	future := time.Now().AddDate(0, 0, 7).Format("2006-01-02")
	raw := []byte(`{"activities-steps": [{"dateTime": "` + future + `", "value": "1000"}]}`)

	metrics, dropped, err := newFitbit("").Transform(raw, model.CategoryActivity, "user-1")
	require.NoError(t, err)
	assert.Empty(t, metrics)
	assert.Equal(t, 1, dropped)
}

func TestFitbit_TransformRejectsUnsupportedCategory(t *testing.T) {
	_, _, err := newFitbit("").Transform([]byte(`{}`), model.CategoryStress, "user-1")
	assert.Error(t, err)
}

func TestFitbit_MetricInvariants(t *testing.T) {
	raw := []byte(`{
		"activities-heart": [
			{"dateTime": "2026-08-25", "value": {"restingHeartRate": 58}},
			{"dateTime": "2026-08-26", "value": {"restingHeartRate": 61}}
		]
	}`)

	metrics, _, err := newFitbit("").Transform(raw, model.CategoryHeartRate, "user-1")
	require.NoError(t, err)

	for _, m := range metrics {
		assert.GreaterOrEqual(t, m.Confidence, 0.0)
		assert.LessOrEqual(t, m.Confidence, 1.0)
		assert.False(t, m.Timestamp.After(time.Now()))
		assert.Equal(t, model.SourceFitbit, m.Source)
		assert.Equal(t, "user-1", m.UserID)
		assert.NotEmpty(t, m.ID)
	}
}

func TestFitbit_FetchRawCredentialExpired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer stale-token", r.Header.Get("Authorization"))
		http.Error(w, `{"errors":[{"errorType":"expired_token"}]}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	a := newFitbit(server.URL)
	cred := &model.DeviceCredential{AccessToken: "stale-token"}

	_, err := a.FetchRaw(context.Background(), cred, model.CategoryHeartRate,
		time.Now().AddDate(0, 0, -1), time.Now())
	assert.ErrorIs(t, err, ErrCredentialExpired)
}

func TestFitbit_FetchRawServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream busy", http.StatusBadGateway)
	}))
	defer server.Close()

	a := newFitbit(server.URL)
	cred := &model.DeviceCredential{AccessToken: "token"}

	_, err := a.FetchRaw(context.Background(), cred, model.CategorySleep,
		time.Now().AddDate(0, 0, -1), time.Now())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCredentialExpired)
}
