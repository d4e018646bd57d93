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
	whoopConfidenceHeartRate = 0.95
	whoopConfidenceSleep     = 0.95
	whoopConfidenceActivity  = 0.85
	whoopConfidenceSpO2      = 0.85

	whoopKilojoulesPerKcal = 4.184
)

var whoopCategories = []model.MetricCategory{
	model.CategoryHeartRate,
	model.CategorySleep,
	model.CategoryActivity,
	model.CategoryBloodOxygen,
}

// WhoopAdapter integrates the WHOOP developer API. Resting heart rate and
// SpO2 both come from recovery records; activity comes from workouts.
type WhoopAdapter struct {
	cfg    config.ProviderConfig
	client *http.Client
	logger *zap.Logger
}

// NewWhoopAdapter creates a new WHOOP adapter
func NewWhoopAdapter(cfg config.ProviderConfig, client *http.Client, logger *zap.Logger) *WhoopAdapter {
	return &WhoopAdapter{cfg: cfg, client: client, logger: logger}
}

func (a *WhoopAdapter) Source() model.Source { return model.SourceWhoop }

func (a *WhoopAdapter) Supports(category model.MetricCategory) bool {
	return supportsIn(whoopCategories, category)
}

func (a *WhoopAdapter) Categories() []model.MetricCategory { return whoopCategories }

func (a *WhoopAdapter) FetchRaw(ctx context.Context, cred *model.DeviceCredential, category model.MetricCategory, start, end time.Time) ([]byte, error) {
	endpoints := map[model.MetricCategory]string{
		model.CategoryHeartRate:   "/recovery",
		model.CategoryBloodOxygen: "/recovery",
		model.CategorySleep:       "/activity/sleep",
		model.CategoryActivity:    "/activity/workout",
	}
	endpoint, ok := endpoints[category]
	if !ok {
		return nil, fmt.Errorf("whoop does not support category %s", category)
	}

	query := url.Values{}
	query.Set("start", start.Format(time.RFC3339))
	query.Set("end", end.Format(time.RFC3339))
	query.Set("limit", "25")

	return fetchJSON(ctx, a.client, a.cfg.BaseURL+endpoint+"?"+query.Encode(), cred.AccessToken)
}

type whoopRecoveryPayload struct {
	Records []struct {
		CreatedAt string `json:"created_at"`
		Score     *struct {
			RestingHeartRate *float64 `json:"resting_heart_rate"`
			SpO2Percentage   *float64 `json:"spo2_percentage"`
			RecoveryScore    *float64 `json:"recovery_score"`
		} `json:"score"`
	} `json:"records"`
}

type whoopSleepPayload struct {
	Records []struct {
		End   string `json:"end"`
		Score *struct {
			StageSummary *struct {
				TotalInBedMilli    *float64 `json:"total_in_bed_time_milli"`
				TotalSlowWaveMilli *float64 `json:"total_slow_wave_sleep_time_milli"`
				TotalREMMilli      *float64 `json:"total_rem_sleep_time_milli"`
				TotalLightMilli    *float64 `json:"total_light_sleep_time_milli"`
			} `json:"stage_summary"`
			SleepPerformance *float64 `json:"sleep_performance_percentage"`
		} `json:"score"`
	} `json:"records"`
}

type whoopWorkoutPayload struct {
	Records []struct {
		Start string `json:"start"`
		End   string `json:"end"`
		Score *struct {
			Kilojoules    *float64 `json:"kilojoule"`
			DistanceMeter *float64 `json:"distance_meter"`
		} `json:"score"`
	} `json:"records"`
}

func (a *WhoopAdapter) Transform(raw []byte, category model.MetricCategory, userID string) ([]model.HealthMetric, int, error) {
	switch category {
	case model.CategoryHeartRate, model.CategoryBloodOxygen:
		return a.transformRecovery(raw, category, userID)
	case model.CategorySleep:
		return a.transformSleep(raw, userID)
	case model.CategoryActivity:
		return a.transformWorkouts(raw, userID)
	default:
		return nil, 0, fmt.Errorf("whoop does not support category %s", category)
	}
}

func (a *WhoopAdapter) transformRecovery(raw []byte, category model.MetricCategory, userID string) ([]model.HealthMetric, int, error) {
	var payload whoopRecoveryPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, 0, fmt.Errorf("failed to decode whoop recovery payload: %w", err)
	}

	var metrics []model.HealthMetric
	dropped := 0
	for _, record := range payload.Records {
		ts, err := time.Parse(time.RFC3339, record.CreatedAt)
		if err != nil || !usableTimestamp(ts) || record.Score == nil {
			dropped++
			continue
		}

		switch category {
		case model.CategoryHeartRate:
			if record.Score.RestingHeartRate == nil {
				continue
			}
			metrics = append(metrics, newMetric(userID, model.SourceWhoop, model.MetricHeartRate,
				*record.Score.RestingHeartRate, "bpm", ts, whoopConfidenceHeartRate,
				map[string]string{"kind": "resting"}))
		case model.CategoryBloodOxygen:
			if record.Score.SpO2Percentage == nil {
				continue
			}
			metrics = append(metrics, newMetric(userID, model.SourceWhoop, model.MetricBloodOxygen,
				*record.Score.SpO2Percentage, "percent", ts, whoopConfidenceSpO2, nil))
		}
	}

	return metrics, dropped, nil
}

func (a *WhoopAdapter) transformSleep(raw []byte, userID string) ([]model.HealthMetric, int, error) {
	var payload whoopSleepPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, 0, fmt.Errorf("failed to decode whoop sleep payload: %w", err)
	}

	var metrics []model.HealthMetric
	dropped := 0
	for _, record := range payload.Records {
		ts, err := time.Parse(time.RFC3339, record.End)
		if err != nil || !usableTimestamp(ts) || record.Score == nil {
			dropped++
			continue
		}

		if summary := record.Score.StageSummary; summary != nil {
			stage := func(metricType model.MetricType, milli *float64) {
				if milli == nil {
					return
				}
				metrics = append(metrics, newMetric(userID, model.SourceWhoop, metricType,
					*milli/1000/60, "minutes", ts, whoopConfidenceSleep, nil))
			}
			stage(model.MetricSleepDuration, summary.TotalInBedMilli)
			stage(model.MetricSleepDeep, summary.TotalSlowWaveMilli)
			stage(model.MetricSleepREM, summary.TotalREMMilli)
			stage(model.MetricSleepLight, summary.TotalLightMilli)
		}

		if record.Score.SleepPerformance != nil {
			metrics = append(metrics, newMetric(userID, model.SourceWhoop, model.MetricSleepScore,
				*record.Score.SleepPerformance, "score", ts, whoopConfidenceSleep, nil))
		}
	}

	return metrics, dropped, nil
}

func (a *WhoopAdapter) transformWorkouts(raw []byte, userID string) ([]model.HealthMetric, int, error) {
	var payload whoopWorkoutPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, 0, fmt.Errorf("failed to decode whoop workout payload: %w", err)
	}

	var metrics []model.HealthMetric
	dropped := 0
	for _, record := range payload.Records {
		endTS, err := time.Parse(time.RFC3339, record.End)
		if err != nil || !usableTimestamp(endTS) || record.Score == nil {
			dropped++
			continue
		}

		if record.Score.Kilojoules != nil {
			metrics = append(metrics, newMetric(userID, model.SourceWhoop, model.MetricCalories,
				*record.Score.Kilojoules/whoopKilojoulesPerKcal, "kcal", endTS, whoopConfidenceActivity, nil))
		}
		if record.Score.DistanceMeter != nil {
			metrics = append(metrics, newMetric(userID, model.SourceWhoop, model.MetricDistance,
				*record.Score.DistanceMeter, "meters", endTS, whoopConfidenceActivity, nil))
		}

		if startTS, err := time.Parse(time.RFC3339, record.Start); err == nil && startTS.Before(endTS) {
			metrics = append(metrics, newMetric(userID, model.SourceWhoop, model.MetricActiveMinutes,
				endTS.Sub(startTS).Minutes(), "minutes", endTS, whoopConfidenceActivity, nil))
		}
	}

	return metrics, dropped, nil
}
