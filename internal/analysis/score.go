package analysis

import (
	"math"

	"github.com/vitalsync/vitalsync/pkg/model"
)

// computeHealthScore produces the composite score plus the number of
// data-driven signals that contributed (used for report confidence).
// Each sub-score is normalized to [0,100] independently; a sub-score
// whose input is absent is excluded from both numerator and weight
// denominator. With no signals at all the neutral default applies.
func computeHealthScore(series map[model.MetricType][]model.HealthMetric, profile *model.UserProfile) (score float64, available int) {
	var weightedSum, totalWeight float64

	if s, ok := sleepQualityScore(series); ok {
		weightedSum += s * weightSleepQuality
		totalWeight += weightSleepQuality
		available++
	}
	if s, ok := activityScore(series); ok {
		weightedSum += s * weightActivity
		totalWeight += weightActivity
		available++
	}
	if s, ok := restingHeartRateScore(series); ok {
		weightedSum += s * weightRestingHR
		totalWeight += weightRestingHR
		available++
	}
	if s, ok := goalProgressScore(profile); ok {
		weightedSum += s * weightGoals
		totalWeight += weightGoals
		available++
	}
	// Conditions only ever lower the score; users without any are not
	// rewarded for it, the sub-score simply does not apply.
	if s, ok := conditionScore(profile); ok {
		weightedSum += s * weightConditions
		totalWeight += weightConditions
	}

	if totalWeight == 0 {
		return neutralScore, 0
	}
	return clamp(weightedSum/totalWeight, 0, 100), available
}

// sleepQualityScore averages the recent sleep score samples, which are
// already on a 0-100 scale at the source.
func sleepQualityScore(series map[model.MetricType][]model.HealthMetric) (float64, bool) {
	samples := tail(series[model.MetricSleepScore], sleepWindowNights)
	avg, ok := mean(values(samples))
	if !ok {
		return 0, false
	}
	return clamp(avg, 0, 100), true
}

// activityScore normalizes average daily steps against the common
// 10,000 step reference, capped at full credit.
func activityScore(series map[model.MetricType][]model.HealthMetric) (float64, bool) {
	samples := tail(series[model.MetricSteps], stepsWindowDays)
	avg, ok := mean(values(samples))
	if !ok {
		return 0, false
	}
	return clamp(avg/stepsDailyReference*100, 0, 100), true
}

// restingHeartRateScore rewards proximity to the 60 bpm reference.
// Inside the 50-70 band credit degrades gently; outside it falls off
// steeply toward zero.
func restingHeartRateScore(series map[model.MetricType][]model.HealthMetric) (float64, bool) {
	samples := tail(series[model.MetricHeartRate], heartRateWindow)
	avg, ok := mean(values(samples))
	if !ok {
		return 0, false
	}

	deviation := math.Abs(avg - restingHRReference)
	if deviation <= restingHRBand {
		return 100 - deviation*2, true
	}
	return clamp(80-(deviation-restingHRBand)*4, 0, 100), true
}

func goalProgressScore(profile *model.UserProfile) (float64, bool) {
	if profile == nil || len(profile.HealthGoals) == 0 {
		return 0, false
	}
	var sum float64
	for _, goal := range profile.HealthGoals {
		sum += clamp(goal.Progress, 0, 100)
	}
	return sum / float64(len(profile.HealthGoals)), true
}

func conditionScore(profile *model.UserProfile) (float64, bool) {
	if profile == nil || len(profile.MedicalConditions) == 0 {
		return 0, false
	}
	return clamp(100-conditionPenalty*float64(len(profile.MedicalConditions)), 0, 100), true
}
