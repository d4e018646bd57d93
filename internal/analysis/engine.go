package analysis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/vitalsync/vitalsync/internal/insight"
	"github.com/vitalsync/vitalsync/pkg/model"
	"go.uber.org/zap"
)

// Threshold constants. These are deliberately named rather than buried
// inline so the rules stay auditable; none of them encode clinical
// intent beyond the bounds listed here.
const (
	neutralScore = 50.0

	stepsDailyReference = 10000.0
	restingHRReference  = 60.0
	restingHRBand       = 10.0
	conditionPenalty    = 25.0

	heartRateWindow       = 24
	heartRateCriticalHigh = 220.0
	heartRateLowAverage   = 50.0
	heartRateLowMinimum   = 40.0

	sleepWindowNights  = 7
	sleepMinSamples    = 3
	sleepScoreLowBound = 60.0
	// minutes per night
	sleepShortWarning = 360.0
	sleepShortDanger  = 300.0

	stepsWindowDays   = 7
	stepsMinSamples   = 3
	sedentaryStepsAvg = 2000.0

	emergencyWindow      = 10
	emergencyMinReadings = 3
	emergencyHighHR      = 200.0
	emergencyLowHR       = 35.0
	emergencyLowSpO2     = 88.0
)

// Sub-score weights. Absent signals drop out of both numerator and
// denominator, so the score is always an average of what is actually
// known about the user.
const (
	weightSleepQuality = 0.30
	weightActivity     = 0.25
	weightRestingHR    = 0.20
	weightGoals        = 0.15
	weightConditions   = 0.10
)

// Engine computes health scores, alerts, trends and insights from a
// user's canonical metric history. All rules are deterministic; the
// optional narrator only ever adds insights on top.
type Engine struct {
	narrator insight.Narrator
	logger   *zap.Logger
}

// NewEngine creates an analysis engine. narrator may be nil, in which
// case only deterministic insights are produced.
func NewEngine(narrator insight.Narrator, logger *zap.Logger) *Engine {
	return &Engine{
		narrator: narrator,
		logger:   logger,
	}
}

// Analyze runs the full analysis pass over the given metric history.
// Missing data is never an error: unavailable sub-scores and trends are
// skipped, and the result reports a lower confidence instead.
func (e *Engine) Analyze(ctx context.Context, userID string, metrics []model.HealthMetric, profile *model.UserProfile) (*model.AnalysisReport, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID is required")
	}

	series := groupByType(metrics)

	score, available := computeHealthScore(series, profile)
	alerts := detectAnomalies(series)
	trends := analyzeTrends(series)
	deterministic := e.buildInsights(alerts, trends, profile)

	insights := deterministic
	if e.narrator != nil {
		insights = e.enrich(ctx, profile, series, score, alerts, trends, deterministic)
	}

	report := &model.AnalysisReport{
		UserID:      userID,
		HealthScore: score,
		Alerts:      alerts,
		Trends:      trends,
		Insights:    insights,
		Confidence:  confidenceFor(available),
		GeneratedAt: time.Now(),
	}

	e.logger.Info("analysis completed",
		zap.String("user_id", userID),
		zap.Float64("health_score", report.HealthScore),
		zap.Int("alerts", len(report.Alerts)),
		zap.Int("trends", len(report.Trends)),
		zap.Int("insights", len(report.Insights)),
		zap.Float64("confidence", report.Confidence),
	)

	return report, nil
}

// PerformEmergencyAnalysis is the lightweight fast path meant for a
// tighter polling cadence than Analyze. It only inspects the most
// recent heart-rate and blood-oxygen samples and emits critical alerts
// when several consecutive readings sit in a dangerous range.
func (e *Engine) PerformEmergencyAnalysis(userID string, metrics []model.HealthMetric) []model.HealthAlert {
	series := groupByType(metrics)
	var alerts []model.HealthAlert

	hr := tail(series[model.MetricHeartRate], emergencyWindow)
	dangerous := 0
	for _, v := range hr {
		if v.Value > emergencyHighHR || v.Value < emergencyLowHR {
			dangerous++
		}
	}
	if dangerous >= emergencyMinReadings {
		alerts = append(alerts, model.HealthAlert{
			ID:             uuid.NewString(),
			Type:           model.AlertMedicalEmergency,
			Severity:       model.SeverityCritical,
			Message:        fmt.Sprintf("%d of the last %d heart rate readings are outside the safe range (<%.0f or >%.0f bpm). Seek medical attention.", dangerous, len(hr), emergencyLowHR, emergencyHighHR),
			ActionRequired: true,
			Metadata: map[string]string{
				"dangerous_readings": fmt.Sprintf("%d", dangerous),
				"window":             fmt.Sprintf("%d", len(hr)),
			},
			CreatedAt: time.Now(),
		})
	}

	spo2 := tail(series[model.MetricBloodOxygen], emergencyWindow)
	low := 0
	for _, v := range spo2 {
		if v.Value < emergencyLowSpO2 {
			low++
		}
	}
	if low >= emergencyMinReadings {
		alerts = append(alerts, model.HealthAlert{
			ID:             uuid.NewString(),
			Type:           model.AlertMedicalEmergency,
			Severity:       model.SeverityCritical,
			Message:        fmt.Sprintf("%d of the last %d blood oxygen readings are below %.0f%%. Seek medical attention.", low, len(spo2), emergencyLowSpO2),
			ActionRequired: true,
			CreatedAt:      time.Now(),
		})
	}

	if len(alerts) > 0 {
		e.logger.Warn("emergency analysis raised alerts",
			zap.String("user_id", userID),
			zap.Int("alerts", len(alerts)),
		)
	}

	return alerts
}

// enrich calls the narrator and merges its output with the
// deterministic insights. Any narrator failure is logged and swallowed;
// the deterministic set is always returned at minimum.
func (e *Engine) enrich(ctx context.Context, profile *model.UserProfile, series map[model.MetricType][]model.HealthMetric, score float64, alerts []model.HealthAlert, trends []model.TrendAnalysis, deterministic []model.HealthInsight) []model.HealthInsight {
	summary := insight.MetricSummary{
		HealthScore:     score,
		AverageByMetric: make(map[string]float64, len(series)),
	}
	for metricType, samples := range series {
		if avg, ok := mean(values(samples)); ok {
			summary.AverageByMetric[string(metricType)] = avg
		}
	}
	for _, alert := range alerts {
		summary.AlertMessages = append(summary.AlertMessages, alert.Message)
	}
	for _, trend := range trends {
		summary.TrendSummaries = append(summary.TrendSummaries, fmt.Sprintf("%s is %s (%.1f%%)", trend.Metric, trend.Direction, trend.Rate))
	}

	existing := make([]model.InsightType, 0, len(deterministic))
	for _, ins := range deterministic {
		existing = append(existing, ins.Type)
	}

	narrative, err := e.narrator.Generate(ctx, profile, summary, existing)
	if err != nil {
		e.logger.Warn("narrative enrichment unavailable, returning deterministic insights only",
			zap.Error(err),
		)
		return deterministic
	}

	return insight.Merge(deterministic, narrative)
}

// buildInsights derives rule-based insights from alerts, trends and
// goal gaps. These are always produced, narrator or not.
func (e *Engine) buildInsights(alerts []model.HealthAlert, trends []model.TrendAnalysis, profile *model.UserProfile) []model.HealthInsight {
	var insights []model.HealthInsight

	for _, alert := range alerts {
		ins := model.HealthInsight{
			ID:          uuid.NewString(),
			Title:       "Health alert",
			Description: alert.Message,
			Confidence:  0.9,
		}
		switch alert.Type {
		case model.AlertMedicalEmergency:
			ins.Type = model.InsightAlert
			ins.Priority = 10
			ins.Title = "Urgent health alert"
			ins.Recommendations = []string{"Contact a medical professional as soon as possible."}
		default:
			ins.Type = model.InsightAnomaly
			ins.Priority = 7
			if alert.Severity == model.SeverityDanger {
				ins.Priority = 8
			}
		}
		insights = append(insights, ins)
	}

	for _, trend := range trends {
		if trend.Direction == model.TrendStable {
			continue
		}
		priority := 4
		if trend.Significance == model.SignificanceHigh {
			priority = 6
		} else if trend.Significance == model.SignificanceMedium {
			priority = 5
		}
		insights = append(insights, model.HealthInsight{
			ID:          uuid.NewString(),
			Type:        model.InsightTrend,
			Priority:    priority,
			Title:       fmt.Sprintf("%s is %s", trend.Metric, trend.Direction),
			Description: fmt.Sprintf("%s changed by %.1f%% over the %s compared to the previous period.", trend.Metric, trend.Rate, trend.Timeframe),
			Confidence:  0.8,
			Evidence:    []string{fmt.Sprintf("window comparison over %s", trend.Timeframe)},
		})
	}

	if profile != nil {
		for _, goal := range profile.HealthGoals {
			if goal.Progress >= 50 {
				continue
			}
			insights = append(insights, model.HealthInsight{
				ID:          uuid.NewString(),
				Type:        model.InsightRecommendation,
				Priority:    3,
				Title:       fmt.Sprintf("Goal progress is behind: %s", goal.Type),
				Description: fmt.Sprintf("Your %s goal is at %.0f%% progress. Small consistent steps close the gap faster than occasional pushes.", goal.Type, goal.Progress),
				Recommendations: []string{
					fmt.Sprintf("Review your %s goal and break it into a daily target.", goal.Type),
				},
				Confidence: 0.7,
			})
		}
	}

	return insights
}

// confidenceFor maps the number of available data signals (sleep,
// activity, resting heart rate, goals) to report confidence.
func confidenceFor(available int) float64 {
	confidence := 0.5 + 0.125*float64(available)
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}

// groupByType buckets metrics per type, ordered by ascending timestamp
// so window logic can rely on position.
func groupByType(metrics []model.HealthMetric) map[model.MetricType][]model.HealthMetric {
	series := make(map[model.MetricType][]model.HealthMetric)
	for _, m := range metrics {
		series[m.Type] = append(series[m.Type], m)
	}
	for _, samples := range series {
		sort.Slice(samples, func(i, j int) bool {
			return samples[i].Timestamp.Before(samples[j].Timestamp)
		})
	}
	return series
}

// tail returns up to n most recent samples, preserving ascending order
func tail(samples []model.HealthMetric, n int) []model.HealthMetric {
	if len(samples) <= n {
		return samples
	}
	return samples[len(samples)-n:]
}

func values(samples []model.HealthMetric) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Value
	}
	return out
}

func mean(vals []float64) (float64, bool) {
	if len(vals) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals)), true
}

func minMax(vals []float64) (min, max float64) {
	min, max = vals[0], vals[0]
	for _, v := range vals[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
