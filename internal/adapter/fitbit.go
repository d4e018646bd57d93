package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/vitalsync/vitalsync/internal/config"
	"github.com/vitalsync/vitalsync/pkg/model"
	"go.uber.org/zap"
)

const (
	fitbitConfidenceHeartRate = 0.95
	fitbitConfidenceSleep     = 0.90
	fitbitConfidenceActivity  = 0.90
	fitbitConfidenceSpO2      = 0.85
)

var fitbitCategories = []model.MetricCategory{
	model.CategoryHeartRate,
	model.CategorySleep,
	model.CategoryActivity,
	model.CategoryBloodOxygen,
}

// FitbitAdapter integrates the Fitbit Web API
type FitbitAdapter struct {
	cfg    config.ProviderConfig
	client *http.Client
	logger *zap.Logger
}

// NewFitbitAdapter creates a new Fitbit adapter
func NewFitbitAdapter(cfg config.ProviderConfig, client *http.Client, logger *zap.Logger) *FitbitAdapter {
	return &FitbitAdapter{cfg: cfg, client: client, logger: logger}
}

func (a *FitbitAdapter) Source() model.Source { return model.SourceFitbit }

func (a *FitbitAdapter) Supports(category model.MetricCategory) bool {
	return supportsIn(fitbitCategories, category)
}

func (a *FitbitAdapter) Categories() []model.MetricCategory { return fitbitCategories }

func (a *FitbitAdapter) FetchRaw(ctx context.Context, cred *model.DeviceCredential, category model.MetricCategory, start, end time.Time) ([]byte, error) {
	from := start.Format("2006-01-02")
	to := end.Format("2006-01-02")

	var url string
	switch category {
	case model.CategoryHeartRate:
		url = fmt.Sprintf("%s/1/user/-/activities/heart/date/%s/%s.json", a.cfg.BaseURL, from, to)
	case model.CategorySleep:
		url = fmt.Sprintf("%s/1.2/user/-/sleep/date/%s/%s.json", a.cfg.BaseURL, from, to)
	case model.CategoryActivity:
		url = fmt.Sprintf("%s/1/user/-/activities/steps/date/%s/%s.json", a.cfg.BaseURL, from, to)
	case model.CategoryBloodOxygen:
		url = fmt.Sprintf("%s/1/user/-/spo2/date/%s/%s.json", a.cfg.BaseURL, from, to)
	default:
		return nil, fmt.Errorf("fitbit does not support category %s", category)
	}

	return fetchJSON(ctx, a.client, url, cred.AccessToken)
}

type fitbitHeartPayload struct {
	ActivitiesHeart []struct {
		DateTime string `json:"dateTime"`
		Value    struct {
			RestingHeartRate *float64 `json:"restingHeartRate"`
		} `json:"value"`
	} `json:"activities-heart"`
}

type fitbitSleepPayload struct {
	Sleep []struct {
		DateOfSleep string `json:"dateOfSleep"`
		StartTime   string `json:"startTime"`
		Duration    int64  `json:"duration"` // milliseconds
		Efficiency  *int   `json:"efficiency"`
		Levels      *struct {
			Summary map[string]struct {
				Minutes int `json:"minutes"`
			} `json:"summary"`
		} `json:"levels"`
	} `json:"sleep"`
}

type fitbitStepsPayload struct {
	ActivitiesSteps []struct {
		DateTime string `json:"dateTime"`
		Value    string `json:"value"`
	} `json:"activities-steps"`
}

type fitbitSpO2Payload []struct {
	DateTime string `json:"dateTime"`
	Value    struct {
		Avg *float64 `json:"avg"`
	} `json:"value"`
}

func (a *FitbitAdapter) Transform(raw []byte, category model.MetricCategory, userID string) ([]model.HealthMetric, int, error) {
	switch category {
	case model.CategoryHeartRate:
		return a.transformHeartRate(raw, userID)
	case model.CategorySleep:
		return a.transformSleep(raw, userID)
	case model.CategoryActivity:
		return a.transformActivity(raw, userID)
	case model.CategoryBloodOxygen:
		return a.transformSpO2(raw, userID)
	default:
		return nil, 0, fmt.Errorf("fitbit does not support category %s", category)
	}
}

func (a *FitbitAdapter) transformHeartRate(raw []byte, userID string) ([]model.HealthMetric, int, error) {
	var payload fitbitHeartPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, 0, fmt.Errorf("failed to decode fitbit heart payload: %w", err)
	}

	var metrics []model.HealthMetric
	dropped := 0
	for _, entry := range payload.ActivitiesHeart {
		ts, err := time.Parse("2006-01-02", entry.DateTime)
		if err != nil || !usableTimestamp(ts) {
			dropped++
			continue
		}
		// A day without a resting heart rate is not a zero-bpm day;
		// omit the metric entirely.
		if entry.Value.RestingHeartRate == nil {
			continue
		}
		metrics = append(metrics, newMetric(userID, model.SourceFitbit, model.MetricHeartRate,
			*entry.Value.RestingHeartRate, "bpm", ts, fitbitConfidenceHeartRate,
			map[string]string{"kind": "resting"}))
	}

	return metrics, dropped, nil
}

func (a *FitbitAdapter) transformSleep(raw []byte, userID string) ([]model.HealthMetric, int, error) {
	var payload fitbitSleepPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, 0, fmt.Errorf("failed to decode fitbit sleep payload: %w", err)
	}

	stageTypes := map[string]model.MetricType{
		"deep":  model.MetricSleepDeep,
		"rem":   model.MetricSleepREM,
		"light": model.MetricSleepLight,
	}

	var metrics []model.HealthMetric
	dropped := 0
	for _, entry := range payload.Sleep {
		ts, err := time.Parse("2006-01-02", entry.DateOfSleep)
		if err != nil || !usableTimestamp(ts) || entry.Duration <= 0 {
			dropped++
			continue
		}

		durationMinutes := float64(entry.Duration) / 1000 / 60
		metrics = append(metrics, newMetric(userID, model.SourceFitbit, model.MetricSleepDuration,
			durationMinutes, "minutes", ts, fitbitConfidenceSleep, nil))

		if entry.Efficiency != nil {
			metrics = append(metrics, newMetric(userID, model.SourceFitbit, model.MetricSleepScore,
				float64(*entry.Efficiency), "score", ts, fitbitConfidenceSleep, nil))
		}

		if entry.Levels != nil {
			for stage, metricType := range stageTypes {
				summary, ok := entry.Levels.Summary[stage]
				if !ok {
					continue
				}
				metrics = append(metrics, newMetric(userID, model.SourceFitbit, metricType,
					float64(summary.Minutes), "minutes", ts, fitbitConfidenceSleep, nil))
			}
		}
	}

	return metrics, dropped, nil
}

func (a *FitbitAdapter) transformActivity(raw []byte, userID string) ([]model.HealthMetric, int, error) {
	var payload fitbitStepsPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, 0, fmt.Errorf("failed to decode fitbit steps payload: %w", err)
	}

	var metrics []model.HealthMetric
	dropped := 0
	for _, entry := range payload.ActivitiesSteps {
		ts, err := time.Parse("2006-01-02", entry.DateTime)
		if err != nil || !usableTimestamp(ts) {
			dropped++
			continue
		}
		// Fitbit serialises step counts as strings.
		steps, err := strconv.ParseFloat(entry.Value, 64)
		if err != nil || steps < 0 {
			a.logger.Debug("dropping malformed fitbit steps record",
				zap.String("date", entry.DateTime),
				zap.String("value", entry.Value),
			)
			dropped++
			continue
		}
		metrics = append(metrics, newMetric(userID, model.SourceFitbit, model.MetricSteps,
			steps, "count", ts, fitbitConfidenceActivity, nil))
	}

	return metrics, dropped, nil
}

func (a *FitbitAdapter) transformSpO2(raw []byte, userID string) ([]model.HealthMetric, int, error) {
	var payload fitbitSpO2Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, 0, fmt.Errorf("failed to decode fitbit spo2 payload: %w", err)
	}

	var metrics []model.HealthMetric
	dropped := 0
	for _, entry := range payload {
		ts, err := time.Parse("2006-01-02", entry.DateTime)
		if err != nil || !usableTimestamp(ts) {
			dropped++
			continue
		}
		if entry.Value.Avg == nil {
			continue
		}
		metrics = append(metrics, newMetric(userID, model.SourceFitbit, model.MetricBloodOxygen,
			*entry.Value.Avg, "percent", ts, fitbitConfidenceSpO2, nil))
	}

	return metrics, dropped, nil
}
