package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitalsync/vitalsync/internal/insight"
	"github.com/vitalsync/vitalsync/pkg/model"
	"go.uber.org/zap"
)

// seriesOf builds one sample per value, hourly, oldest first
func seriesOf(metricType model.MetricType, values ...float64) []model.HealthMetric {
	base := time.Now().Add(-time.Duration(len(values)) * time.Hour)
	metrics := make([]model.HealthMetric, 0, len(values))
	for i, v := range values {
		metrics = append(metrics, model.HealthMetric{
			ID:         "m",
			UserID:     "user-1",
			Type:       metricType,
			Value:      v,
			Timestamp:  base.Add(time.Duration(i) * time.Hour),
			Source:     model.SourceFitbit,
			Confidence: 0.9,
		})
	}
	return metrics
}

func repeated(metricType model.MetricType, value float64, n int) []model.HealthMetric {
	values := make([]float64, n)
	for i := range values {
		values[i] = value
	}
	return seriesOf(metricType, values...)
}

func TestAnalyze_NoDataYieldsNeutralScore(t *testing.T) {
	engine := NewEngine(nil, zap.NewNop())

	report, err := engine.Analyze(context.Background(), "user-1", nil, &model.UserProfile{})
	require.NoError(t, err)

	assert.Equal(t, 50.0, report.HealthScore)
	assert.Empty(t, report.Alerts)
	assert.Empty(t, report.Trends)
	assert.Equal(t, 0.5, report.Confidence)
}

func TestAnalyze_AllSignalsAtMaximumScoresHundred(t *testing.T) {
	engine := NewEngine(nil, zap.NewNop())

	var metrics []model.HealthMetric
	metrics = append(metrics, repeated(model.MetricSleepScore, 100, 7)...)
	metrics = append(metrics, repeated(model.MetricSteps, 10000, 7)...)
	metrics = append(metrics, repeated(model.MetricHeartRate, 60, 24)...)
	profile := &model.UserProfile{
		HealthGoals: []model.HealthGoal{{Type: "steps", Progress: 100}},
	}

	report, err := engine.Analyze(context.Background(), "user-1", metrics, profile)
	require.NoError(t, err)

	assert.Equal(t, 100.0, report.HealthScore)
	assert.Equal(t, 1.0, report.Confidence)
}

func TestAnalyze_AllSignalsAtMinimumScoresZero(t *testing.T) {
	engine := NewEngine(nil, zap.NewNop())

	var metrics []model.HealthMetric
	metrics = append(metrics, repeated(model.MetricSleepScore, 0, 7)...)
	metrics = append(metrics, repeated(model.MetricSteps, 0, 7)...)
	metrics = append(metrics, repeated(model.MetricHeartRate, 160, 24)...)
	profile := &model.UserProfile{
		HealthGoals:       []model.HealthGoal{{Type: "steps", Progress: 0}},
		MedicalConditions: []string{"a", "b", "c", "d"},
	}

	report, err := engine.Analyze(context.Background(), "user-1", metrics, profile)
	require.NoError(t, err)

	assert.Equal(t, 0.0, report.HealthScore)
}

func TestAnalyze_MissingSignalsDropFromDenominator(t *testing.T) {
	engine := NewEngine(nil, zap.NewNop())

	// Only sleep data, and it is perfect: the score must be 100, not
	// dragged down by the absent activity/heart-rate/goal signals.
	metrics := repeated(model.MetricSleepScore, 100, 7)

	report, err := engine.Analyze(context.Background(), "user-1", metrics, &model.UserProfile{})
	require.NoError(t, err)

	assert.Equal(t, 100.0, report.HealthScore)
	assert.Equal(t, 0.625, report.Confidence)
}

func TestAnalyze_CriticalHeartRateRaisesEmergencyAlert(t *testing.T) {
	engine := NewEngine(nil, zap.NewNop())

	values := make([]float64, 24)
	for i := range values {
		values[i] = 70
	}
	values[12] = 225

	report, err := engine.Analyze(context.Background(), "user-1", seriesOf(model.MetricHeartRate, values...), nil)
	require.NoError(t, err)

	var found bool
	for _, alert := range report.Alerts {
		if alert.Type == model.AlertMedicalEmergency && alert.Severity == model.SeverityCritical {
			found = true
			assert.True(t, alert.ActionRequired)
		}
	}
	assert.True(t, found, "expected a critical medical_emergency alert, got %+v", report.Alerts)
}

func TestAnalyze_SustainedLowHeartRateWarns(t *testing.T) {
	engine := NewEngine(nil, zap.NewNop())

	report, err := engine.Analyze(context.Background(), "user-1", seriesOf(model.MetricHeartRate, 48, 45, 38, 52, 44), nil)
	require.NoError(t, err)

	require.NotEmpty(t, report.Alerts)
	assert.Equal(t, model.AlertAnomalyDetected, report.Alerts[0].Type)
	assert.Equal(t, model.SeverityWarning, report.Alerts[0].Severity)
}

func TestAnalyze_ShortSleepEscalatesToDanger(t *testing.T) {
	engine := NewEngine(nil, zap.NewNop())

	tests := []struct {
		name     string
		minutes  float64
		severity model.AlertSeverity
	}{
		{name: "under six hours warns", minutes: 340, severity: model.SeverityWarning},
		{name: "under five hours is danger", minutes: 280, severity: model.SeverityDanger},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := engine.Analyze(context.Background(), "user-1", repeated(model.MetricSleepDuration, tt.minutes, 7), nil)
			require.NoError(t, err)
			require.Len(t, report.Alerts, 1)
			assert.Equal(t, tt.severity, report.Alerts[0].Severity)
		})
	}
}

func TestAnalyze_TwoSleepNightsIsTooFewToAlert(t *testing.T) {
	engine := NewEngine(nil, zap.NewNop())

	report, err := engine.Analyze(context.Background(), "user-1", repeated(model.MetricSleepDuration, 200, 2), nil)
	require.NoError(t, err)

	assert.Empty(t, report.Alerts)
}

func TestAnalyze_SedentaryStepsWarn(t *testing.T) {
	engine := NewEngine(nil, zap.NewNop())

	report, err := engine.Analyze(context.Background(), "user-1", repeated(model.MetricSteps, 1200, 7), nil)
	require.NoError(t, err)

	require.Len(t, report.Alerts, 1)
	assert.Equal(t, model.AlertAnomalyDetected, report.Alerts[0].Type)
	assert.Contains(t, report.Alerts[0].Message, "150 minutes")
}

func TestAnalyze_SleepQualityImprovingTrend(t *testing.T) {
	engine := NewEngine(nil, zap.NewNop())

	// First 7 nights average 60, last 7 average 75.
	var values []float64
	for i := 0; i < 7; i++ {
		values = append(values, 60)
	}
	for i := 0; i < 7; i++ {
		values = append(values, 75)
	}

	report, err := engine.Analyze(context.Background(), "user-1", seriesOf(model.MetricSleepScore, values...), nil)
	require.NoError(t, err)

	var trend *model.TrendAnalysis
	for i := range report.Trends {
		if report.Trends[i].Metric == "Sleep Quality" {
			trend = &report.Trends[i]
		}
	}
	require.NotNil(t, trend, "expected a Sleep Quality trend")
	assert.Equal(t, model.TrendImproving, trend.Direction)
	assert.Equal(t, model.SignificanceHigh, trend.Significance)
	assert.InDelta(t, 25.0, trend.Rate, 0.001)
}

func TestAnalyze_FallingHeartRateIsImproving(t *testing.T) {
	engine := NewEngine(nil, zap.NewNop())

	var values []float64
	for i := 0; i < 24; i++ {
		values = append(values, 80)
	}
	for i := 0; i < 24; i++ {
		values = append(values, 70)
	}

	report, err := engine.Analyze(context.Background(), "user-1", seriesOf(model.MetricHeartRate, values...), nil)
	require.NoError(t, err)

	var trend *model.TrendAnalysis
	for i := range report.Trends {
		if report.Trends[i].Metric == "Heart Rate" {
			trend = &report.Trends[i]
		}
	}
	require.NotNil(t, trend)
	assert.Equal(t, model.TrendImproving, trend.Direction, "a falling heart rate trends better, not worse")
}

func TestAnalyze_SingleWindowSkipsTrend(t *testing.T) {
	engine := NewEngine(nil, zap.NewNop())

	report, err := engine.Analyze(context.Background(), "user-1", repeated(model.MetricSleepScore, 70, 8), nil)
	require.NoError(t, err)

	assert.Empty(t, report.Trends, "13 or fewer nights cannot fill both comparison windows")
}

func TestAnalyze_GoalGapProducesRecommendation(t *testing.T) {
	engine := NewEngine(nil, zap.NewNop())

	profile := &model.UserProfile{
		HealthGoals: []model.HealthGoal{
			{Type: "weight_loss", Progress: 20},
			{Type: "steps", Progress: 90},
		},
	}

	report, err := engine.Analyze(context.Background(), "user-1", nil, profile)
	require.NoError(t, err)

	var recommendations int
	for _, ins := range report.Insights {
		if ins.Type == model.InsightRecommendation {
			recommendations++
			assert.Contains(t, ins.Title, "weight_loss")
		}
	}
	assert.Equal(t, 1, recommendations, "only the lagging goal gets a recommendation")
}

func TestAnalyze_EmptyUserIDRejected(t *testing.T) {
	engine := NewEngine(nil, zap.NewNop())

	_, err := engine.Analyze(context.Background(), "", nil, nil)
	assert.Error(t, err)
}

// fakeNarrator scripts the narrative collaborator
type fakeNarrator struct {
	insights []model.HealthInsight
	err      error
	called   bool
	types    []model.InsightType
}

func (f *fakeNarrator) Generate(_ context.Context, _ *model.UserProfile, _ insight.MetricSummary, existingTypes []model.InsightType) ([]model.HealthInsight, error) {
	f.called = true
	f.types = existingTypes
	return f.insights, f.err
}

func TestAnalyze_NarratorFailureKeepsDeterministicInsights(t *testing.T) {
	narrator := &fakeNarrator{err: errors.New("model timed out")}
	engine := NewEngine(narrator, zap.NewNop())

	report, err := engine.Analyze(context.Background(), "user-1", repeated(model.MetricSteps, 1200, 7), nil)
	require.NoError(t, err, "narrator unavailability is never an analysis error")

	assert.True(t, narrator.called)
	require.NotEmpty(t, report.Insights)
	for _, ins := range report.Insights {
		assert.NotEmpty(t, ins.ID, "surviving insights are the deterministic ones")
	}
}

func TestAnalyze_NarratorInsightsMergedAndDeduplicated(t *testing.T) {
	narrator := &fakeNarrator{insights: []model.HealthInsight{
		{ID: "n-rec", Type: model.InsightRecommendation, Priority: 5, Title: "Take a walk after lunch"},
		{ID: "n-dup", Type: model.InsightAnomaly, Priority: 9, Title: "Duplicate anomaly take"},
	}}
	engine := NewEngine(narrator, zap.NewNop())

	report, err := engine.Analyze(context.Background(), "user-1", repeated(model.MetricSteps, 1200, 7), nil)
	require.NoError(t, err)

	var ids []string
	for _, ins := range report.Insights {
		ids = append(ids, ins.ID)
	}
	assert.Contains(t, ids, "n-rec")
	assert.NotContains(t, ids, "n-dup", "deterministic anomaly insight already covers the type")
	assert.NotEmpty(t, narrator.types, "existing insight types are passed to the narrator")
}

func TestPerformEmergencyAnalysis_ThreeDangerousReadingsAlert(t *testing.T) {
	engine := NewEngine(nil, zap.NewNop())

	metrics := seriesOf(model.MetricHeartRate, 80, 82, 210, 79, 215, 81, 30, 78, 77, 76)

	alerts := engine.PerformEmergencyAnalysis("user-1", metrics)

	require.Len(t, alerts, 1)
	assert.Equal(t, model.AlertMedicalEmergency, alerts[0].Type)
	assert.Equal(t, model.SeverityCritical, alerts[0].Severity)
	assert.True(t, alerts[0].ActionRequired)
}

func TestPerformEmergencyAnalysis_TwoDangerousReadingsStaySilent(t *testing.T) {
	engine := NewEngine(nil, zap.NewNop())

	metrics := seriesOf(model.MetricHeartRate, 80, 82, 210, 79, 215, 81, 78, 77, 76, 75)

	assert.Empty(t, engine.PerformEmergencyAnalysis("user-1", metrics))
}

func TestPerformEmergencyAnalysis_OnlyRecentWindowCounts(t *testing.T) {
	engine := NewEngine(nil, zap.NewNop())

	// Three dangerous readings, but 11+ samples ago.
	values := []float64{210, 215, 220}
	for i := 0; i < 10; i++ {
		values = append(values, 75)
	}

	assert.Empty(t, engine.PerformEmergencyAnalysis("user-1", seriesOf(model.MetricHeartRate, values...)))
}

func TestPerformEmergencyAnalysis_LowBloodOxygen(t *testing.T) {
	engine := NewEngine(nil, zap.NewNop())

	metrics := seriesOf(model.MetricBloodOxygen, 97, 85, 84, 86, 96, 95, 97, 98, 96, 95)

	alerts := engine.PerformEmergencyAnalysis("user-1", metrics)

	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].Message, "blood oxygen")
}
