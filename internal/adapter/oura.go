package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/vitalsync/vitalsync/internal/config"
	"github.com/vitalsync/vitalsync/pkg/model"
	"go.uber.org/zap"
)

const (
	ouraConfidenceHeartRate = 0.90
	ouraConfidenceSleep     = 0.95
	ouraConfidenceActivity  = 0.85
	ouraConfidenceSpO2      = 0.85
	ouraConfidenceStress    = 0.80
)

var ouraCategories = []model.MetricCategory{
	model.CategoryHeartRate,
	model.CategorySleep,
	model.CategoryActivity,
	model.CategoryBloodOxygen,
	model.CategoryStress,
}

// OuraAdapter integrates the Oura API v2
type OuraAdapter struct {
	cfg    config.ProviderConfig
	client *http.Client
	logger *zap.Logger
}

// NewOuraAdapter creates a new Oura adapter
func NewOuraAdapter(cfg config.ProviderConfig, client *http.Client, logger *zap.Logger) *OuraAdapter {
	return &OuraAdapter{cfg: cfg, client: client, logger: logger}
}

func (a *OuraAdapter) Source() model.Source { return model.SourceOura }

func (a *OuraAdapter) Supports(category model.MetricCategory) bool {
	return supportsIn(ouraCategories, category)
}

func (a *OuraAdapter) Categories() []model.MetricCategory { return ouraCategories }

func (a *OuraAdapter) FetchRaw(ctx context.Context, cred *model.DeviceCredential, category model.MetricCategory, start, end time.Time) ([]byte, error) {
	endpoints := map[model.MetricCategory]string{
		model.CategoryHeartRate:   "/usercollection/heartrate",
		model.CategorySleep:       "/usercollection/sleep",
		model.CategoryActivity:    "/usercollection/daily_activity",
		model.CategoryBloodOxygen: "/usercollection/daily_spo2",
		model.CategoryStress:      "/usercollection/daily_stress",
	}
	endpoint, ok := endpoints[category]
	if !ok {
		return nil, fmt.Errorf("oura does not support category %s", category)
	}

	query := url.Values{}
	if category == model.CategoryHeartRate {
		query.Set("start_datetime", start.Format(time.RFC3339))
		query.Set("end_datetime", end.Format(time.RFC3339))
	} else {
		query.Set("start_date", start.Format("2006-01-02"))
		query.Set("end_date", end.Format("2006-01-02"))
	}

	return fetchJSON(ctx, a.client, a.cfg.BaseURL+endpoint+"?"+query.Encode(), cred.AccessToken)
}

type ouraHeartRatePayload struct {
	Data []struct {
		BPM       float64 `json:"bpm"`
		Timestamp string  `json:"timestamp"`
		Source    string  `json:"source"`
	} `json:"data"`
}

type ouraSleepPayload struct {
	Data []struct {
		Day               string   `json:"day"`
		TotalSleepSeconds *float64 `json:"total_sleep_duration"`
		DeepSleepSeconds  *float64 `json:"deep_sleep_duration"`
		REMSleepSeconds   *float64 `json:"rem_sleep_duration"`
		LightSleepSeconds *float64 `json:"light_sleep_duration"`
		SleepEfficiency   *float64 `json:"efficiency"`
	} `json:"data"`
}

type ouraActivityPayload struct {
	Data []struct {
		Day            string   `json:"day"`
		Steps          *float64 `json:"steps"`
		ActiveCalories *float64 `json:"active_calories"`
		WalkingMeters  *float64 `json:"equivalent_walking_distance"`
		HighActivity   *float64 `json:"high_activity_time"`
	} `json:"data"`
}

type ouraSpO2Payload struct {
	Data []struct {
		Day            string `json:"day"`
		SpO2Percentage *struct {
			Average float64 `json:"average"`
		} `json:"spo2_percentage"`
	} `json:"data"`
}

type ouraStressPayload struct {
	Data []struct {
		Day        string   `json:"day"`
		StressHigh *float64 `json:"stress_high"` // seconds in high stress
	} `json:"data"`
}

func (a *OuraAdapter) Transform(raw []byte, category model.MetricCategory, userID string) ([]model.HealthMetric, int, error) {
	switch category {
	case model.CategoryHeartRate:
		return a.transformHeartRate(raw, userID)
	case model.CategorySleep:
		return a.transformSleep(raw, userID)
	case model.CategoryActivity:
		return a.transformActivity(raw, userID)
	case model.CategoryBloodOxygen:
		return a.transformSpO2(raw, userID)
	case model.CategoryStress:
		return a.transformStress(raw, userID)
	default:
		return nil, 0, fmt.Errorf("oura does not support category %s", category)
	}
}

func (a *OuraAdapter) transformHeartRate(raw []byte, userID string) ([]model.HealthMetric, int, error) {
	var payload ouraHeartRatePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, 0, fmt.Errorf("failed to decode oura heartrate payload: %w", err)
	}

	var metrics []model.HealthMetric
	dropped := 0
	for _, entry := range payload.Data {
		ts, err := time.Parse(time.RFC3339, entry.Timestamp)
		if err != nil || !usableTimestamp(ts) || entry.BPM <= 0 {
			dropped++
			continue
		}
		var metadata map[string]string
		if entry.Source != "" {
			metadata = map[string]string{"measurement_source": entry.Source}
		}
		metrics = append(metrics, newMetric(userID, model.SourceOura, model.MetricHeartRate,
			entry.BPM, "bpm", ts, ouraConfidenceHeartRate, metadata))
	}

	return metrics, dropped, nil
}

func (a *OuraAdapter) transformSleep(raw []byte, userID string) ([]model.HealthMetric, int, error) {
	var payload ouraSleepPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, 0, fmt.Errorf("failed to decode oura sleep payload: %w", err)
	}

	var metrics []model.HealthMetric
	dropped := 0
	for _, entry := range payload.Data {
		ts, err := time.Parse("2006-01-02", entry.Day)
		if err != nil || !usableTimestamp(ts) {
			dropped++
			continue
		}

		stage := func(metricType model.MetricType, seconds *float64) {
			if seconds == nil {
				return
			}
			metrics = append(metrics, newMetric(userID, model.SourceOura, metricType,
				*seconds/60, "minutes", ts, ouraConfidenceSleep, nil))
		}
		stage(model.MetricSleepDuration, entry.TotalSleepSeconds)
		stage(model.MetricSleepDeep, entry.DeepSleepSeconds)
		stage(model.MetricSleepREM, entry.REMSleepSeconds)
		stage(model.MetricSleepLight, entry.LightSleepSeconds)

		if entry.SleepEfficiency != nil {
			metrics = append(metrics, newMetric(userID, model.SourceOura, model.MetricSleepScore,
				*entry.SleepEfficiency, "score", ts, ouraConfidenceSleep, nil))
		}
	}

	return metrics, dropped, nil
}

func (a *OuraAdapter) transformActivity(raw []byte, userID string) ([]model.HealthMetric, int, error) {
	var payload ouraActivityPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, 0, fmt.Errorf("failed to decode oura activity payload: %w", err)
	}

	var metrics []model.HealthMetric
	dropped := 0
	for _, entry := range payload.Data {
		ts, err := time.Parse("2006-01-02", entry.Day)
		if err != nil || !usableTimestamp(ts) {
			dropped++
			continue
		}
		if entry.Steps != nil {
			metrics = append(metrics, newMetric(userID, model.SourceOura, model.MetricSteps,
				*entry.Steps, "count", ts, ouraConfidenceActivity, nil))
		}
		if entry.ActiveCalories != nil {
			metrics = append(metrics, newMetric(userID, model.SourceOura, model.MetricCalories,
				*entry.ActiveCalories, "kcal", ts, ouraConfidenceActivity, nil))
		}
		if entry.WalkingMeters != nil {
			metrics = append(metrics, newMetric(userID, model.SourceOura, model.MetricDistance,
				*entry.WalkingMeters, "meters", ts, ouraConfidenceActivity, nil))
		}
		if entry.HighActivity != nil {
			metrics = append(metrics, newMetric(userID, model.SourceOura, model.MetricActiveMinutes,
				*entry.HighActivity/60, "minutes", ts, ouraConfidenceActivity, nil))
		}
	}

	return metrics, dropped, nil
}

func (a *OuraAdapter) transformSpO2(raw []byte, userID string) ([]model.HealthMetric, int, error) {
	var payload ouraSpO2Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, 0, fmt.Errorf("failed to decode oura spo2 payload: %w", err)
	}

	var metrics []model.HealthMetric
	dropped := 0
	for _, entry := range payload.Data {
		ts, err := time.Parse("2006-01-02", entry.Day)
		if err != nil || !usableTimestamp(ts) {
			dropped++
			continue
		}
		if entry.SpO2Percentage == nil {
			continue
		}
		metrics = append(metrics, newMetric(userID, model.SourceOura, model.MetricBloodOxygen,
			entry.SpO2Percentage.Average, "percent", ts, ouraConfidenceSpO2, nil))
	}

	return metrics, dropped, nil
}

func (a *OuraAdapter) transformStress(raw []byte, userID string) ([]model.HealthMetric, int, error) {
	var payload ouraStressPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, 0, fmt.Errorf("failed to decode oura stress payload: %w", err)
	}

	var metrics []model.HealthMetric
	dropped := 0
	for _, entry := range payload.Data {
		ts, err := time.Parse("2006-01-02", entry.Day)
		if err != nil || !usableTimestamp(ts) {
			dropped++
			continue
		}
		if entry.StressHigh == nil {
			continue
		}
		metrics = append(metrics, newMetric(userID, model.SourceOura, model.MetricStress,
			*entry.StressHigh/60, "minutes", ts, ouraConfidenceStress, nil))
	}

	return metrics, dropped, nil
}
