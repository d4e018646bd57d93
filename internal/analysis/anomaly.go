package analysis

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vitalsync/vitalsync/pkg/model"
)

// detectAnomalies evaluates the fixed threshold rules over recent
// windows. Sparse data skips a rule rather than firing it; a rule that
// cannot see enough samples says nothing.
func detectAnomalies(series map[model.MetricType][]model.HealthMetric) []model.HealthAlert {
	var alerts []model.HealthAlert

	alerts = append(alerts, heartRateAnomalies(series)...)
	alerts = append(alerts, sleepAnomalies(series)...)
	alerts = append(alerts, activityAnomalies(series)...)

	return alerts
}

func heartRateAnomalies(series map[model.MetricType][]model.HealthMetric) []model.HealthAlert {
	samples := tail(series[model.MetricHeartRate], heartRateWindow)
	vals := values(samples)
	if len(vals) == 0 {
		return nil
	}

	var alerts []model.HealthAlert
	min, max := minMax(vals)

	if max > heartRateCriticalHigh {
		alerts = append(alerts, model.HealthAlert{
			ID:             uuid.NewString(),
			Type:           model.AlertMedicalEmergency,
			Severity:       model.SeverityCritical,
			Message:        fmt.Sprintf("Heart rate reading of %.0f bpm exceeds the critical threshold of %.0f bpm. Seek medical attention.", max, heartRateCriticalHigh),
			ActionRequired: true,
			Metadata: map[string]string{
				"max_heart_rate": fmt.Sprintf("%.0f", max),
				"window_samples": fmt.Sprintf("%d", len(vals)),
			},
			CreatedAt: time.Now(),
		})
	}

	if avg, _ := mean(vals); len(vals) >= 3 && avg < heartRateLowAverage && min < heartRateLowMinimum {
		alerts = append(alerts, model.HealthAlert{
			ID:          uuid.NewString(),
			Type:        model.AlertAnomalyDetected,
			Severity:    model.SeverityWarning,
			Message:     fmt.Sprintf("Sustained low heart rate detected: average %.0f bpm with readings as low as %.0f bpm.", avg, min),
			AutoResolve: true,
			CreatedAt:   time.Now(),
		})
	}

	return alerts
}

func sleepAnomalies(series map[model.MetricType][]model.HealthMetric) []model.HealthAlert {
	var alerts []model.HealthAlert

	scores := values(tail(series[model.MetricSleepScore], sleepWindowNights))
	if avg, ok := mean(scores); ok && len(scores) >= sleepMinSamples && avg < sleepScoreLowBound {
		alerts = append(alerts, model.HealthAlert{
			ID:          uuid.NewString(),
			Type:        model.AlertAnomalyDetected,
			Severity:    model.SeverityWarning,
			Message:     fmt.Sprintf("Sleep quality has averaged %.0f over the last %d nights, below the %.0f target.", avg, len(scores), sleepScoreLowBound),
			AutoResolve: true,
			CreatedAt:   time.Now(),
		})
	}

	durations := values(tail(series[model.MetricSleepDuration], sleepWindowNights))
	if avg, ok := mean(durations); ok && len(durations) >= sleepMinSamples && avg < sleepShortWarning {
		severity := model.SeverityWarning
		if avg < sleepShortDanger {
			severity = model.SeverityDanger
		}
		alerts = append(alerts, model.HealthAlert{
			ID:          uuid.NewString(),
			Type:        model.AlertAnomalyDetected,
			Severity:    severity,
			Message:     fmt.Sprintf("Average sleep duration is %.1f hours per night over the last %d nights; 7-9 hours is recommended for adults.", avg/60, len(durations)),
			AutoResolve: true,
			CreatedAt:   time.Now(),
		})
	}

	return alerts
}

func activityAnomalies(series map[model.MetricType][]model.HealthMetric) []model.HealthAlert {
	steps := values(tail(series[model.MetricSteps], stepsWindowDays))
	avg, ok := mean(steps)
	if !ok || len(steps) < stepsMinSamples || avg >= sedentaryStepsAvg {
		return nil
	}

	return []model.HealthAlert{{
		ID:          uuid.NewString(),
		Type:        model.AlertAnomalyDetected,
		Severity:    model.SeverityWarning,
		Message:     fmt.Sprintf("Daily steps averaged %.0f over the last %d days, well below the WHO guideline of 150 minutes of moderate activity per week.", avg, len(steps)),
		AutoResolve: true,
		CreatedAt:   time.Now(),
	}}
}
