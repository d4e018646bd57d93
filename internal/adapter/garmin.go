package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vitalsync/vitalsync/internal/config"
	"github.com/vitalsync/vitalsync/pkg/model"
	"go.uber.org/zap"
)

const (
	garminConfidenceHeartRate = 0.90
	garminConfidenceSleep     = 0.90
	garminConfidenceActivity  = 0.95
	garminConfidenceStress    = 0.75
)

var garminCategories = []model.MetricCategory{
	model.CategoryHeartRate,
	model.CategorySleep,
	model.CategoryActivity,
	model.CategoryStress,
}

// GarminAdapter integrates the Garmin Health (wellness) API. Heart rate,
// activity and stress all come from the dailies endpoint; sleep has its
// own endpoint.
type GarminAdapter struct {
	cfg    config.ProviderConfig
	client *http.Client
	logger *zap.Logger
}

// NewGarminAdapter creates a new Garmin adapter
func NewGarminAdapter(cfg config.ProviderConfig, client *http.Client, logger *zap.Logger) *GarminAdapter {
	return &GarminAdapter{cfg: cfg, client: client, logger: logger}
}

func (a *GarminAdapter) Source() model.Source { return model.SourceGarmin }

func (a *GarminAdapter) Supports(category model.MetricCategory) bool {
	return supportsIn(garminCategories, category)
}

func (a *GarminAdapter) Categories() []model.MetricCategory { return garminCategories }

func (a *GarminAdapter) FetchRaw(ctx context.Context, cred *model.DeviceCredential, category model.MetricCategory, start, end time.Time) ([]byte, error) {
	var endpoint string
	switch category {
	case model.CategoryHeartRate, model.CategoryActivity, model.CategoryStress:
		endpoint = "/dailies"
	case model.CategorySleep:
		endpoint = "/sleeps"
	default:
		return nil, fmt.Errorf("garmin does not support category %s", category)
	}

	query := url.Values{}
	query.Set("uploadStartTimeInSeconds", strconv.FormatInt(start.Unix(), 10))
	query.Set("uploadEndTimeInSeconds", strconv.FormatInt(end.Unix(), 10))

	return fetchJSON(ctx, a.client, a.cfg.BaseURL+endpoint+"?"+query.Encode(), cred.AccessToken)
}

type garminDaily struct {
	CalendarDate       string   `json:"calendarDate"`
	Steps              *float64 `json:"steps"`
	DistanceInMeters   *float64 `json:"distanceInMeters"`
	ActiveKilocalories *float64 `json:"activeKilocalories"`
	ActiveTimeSeconds  *float64 `json:"activeTimeInSeconds"`
	RestingHeartRate   *float64 `json:"restingHeartRateInBeatsPerMinute"`
	AverageStressLevel *float64 `json:"averageStressLevel"`
}

type garminSleep struct {
	CalendarDate      string   `json:"calendarDate"`
	DurationSeconds   *float64 `json:"durationInSeconds"`
	DeepSleepSeconds  *float64 `json:"deepSleepDurationInSeconds"`
	REMSleepSeconds   *float64 `json:"remSleepInSeconds"`
	LightSleepSeconds *float64 `json:"lightSleepDurationInSeconds"`
}

func (a *GarminAdapter) Transform(raw []byte, category model.MetricCategory, userID string) ([]model.HealthMetric, int, error) {
	switch category {
	case model.CategoryHeartRate, model.CategoryActivity, model.CategoryStress:
		return a.transformDailies(raw, category, userID)
	case model.CategorySleep:
		return a.transformSleep(raw, userID)
	default:
		return nil, 0, fmt.Errorf("garmin does not support category %s", category)
	}
}

func (a *GarminAdapter) transformDailies(raw []byte, category model.MetricCategory, userID string) ([]model.HealthMetric, int, error) {
	var dailies []garminDaily
	if err := json.Unmarshal(raw, &dailies); err != nil {
		return nil, 0, fmt.Errorf("failed to decode garmin dailies payload: %w", err)
	}

	var metrics []model.HealthMetric
	dropped := 0
	for _, daily := range dailies {
		ts, err := time.Parse("2006-01-02", daily.CalendarDate)
		if err != nil || !usableTimestamp(ts) {
			dropped++
			continue
		}

		switch category {
		case model.CategoryHeartRate:
			if daily.RestingHeartRate == nil {
				continue
			}
			metrics = append(metrics, newMetric(userID, model.SourceGarmin, model.MetricHeartRate,
				*daily.RestingHeartRate, "bpm", ts, garminConfidenceHeartRate,
				map[string]string{"kind": "resting"}))
		case model.CategoryActivity:
			if daily.Steps != nil {
				metrics = append(metrics, newMetric(userID, model.SourceGarmin, model.MetricSteps,
					*daily.Steps, "count", ts, garminConfidenceActivity, nil))
			}
			if daily.DistanceInMeters != nil {
				metrics = append(metrics, newMetric(userID, model.SourceGarmin, model.MetricDistance,
					*daily.DistanceInMeters, "meters", ts, garminConfidenceActivity, nil))
			}
			if daily.ActiveKilocalories != nil {
				metrics = append(metrics, newMetric(userID, model.SourceGarmin, model.MetricCalories,
					*daily.ActiveKilocalories, "kcal", ts, garminConfidenceActivity, nil))
			}
			if daily.ActiveTimeSeconds != nil {
				metrics = append(metrics, newMetric(userID, model.SourceGarmin, model.MetricActiveMinutes,
					*daily.ActiveTimeSeconds/60, "minutes", ts, garminConfidenceActivity, nil))
			}
		case model.CategoryStress:
			// Garmin reports -1 or -2 when there was not enough data to
			// compute a stress level for the day.
			if daily.AverageStressLevel == nil || *daily.AverageStressLevel < 0 {
				continue
			}
			metrics = append(metrics, newMetric(userID, model.SourceGarmin, model.MetricStress,
				*daily.AverageStressLevel, "score", ts, garminConfidenceStress, nil))
		}
	}

	return metrics, dropped, nil
}

func (a *GarminAdapter) transformSleep(raw []byte, userID string) ([]model.HealthMetric, int, error) {
	var sleeps []garminSleep
	if err := json.Unmarshal(raw, &sleeps); err != nil {
		return nil, 0, fmt.Errorf("failed to decode garmin sleep payload: %w", err)
	}

	var metrics []model.HealthMetric
	dropped := 0
	for _, sleep := range sleeps {
		ts, err := time.Parse("2006-01-02", sleep.CalendarDate)
		if err != nil || !usableTimestamp(ts) {
			dropped++
			continue
		}

		stage := func(metricType model.MetricType, seconds *float64) {
			if seconds == nil {
				return
			}
			metrics = append(metrics, newMetric(userID, model.SourceGarmin, metricType,
				*seconds/60, "minutes", ts, garminConfidenceSleep, nil))
		}
		stage(model.MetricSleepDuration, sleep.DurationSeconds)
		stage(model.MetricSleepDeep, sleep.DeepSleepSeconds)
		stage(model.MetricSleepREM, sleep.REMSleepSeconds)
		stage(model.MetricSleepLight, sleep.LightSleepSeconds)
	}

	return metrics, dropped, nil
}
