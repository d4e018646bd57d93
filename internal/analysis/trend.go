package analysis

import (
	"math"

	"github.com/vitalsync/vitalsync/pkg/model"
)

// Trend delta breakpoints, in percent change between windows
const (
	trendMinDeltaPct    = 2.0
	trendMediumDeltaPct = 5.0
	trendHighDeltaPct   = 15.0
)

type trendSpec struct {
	metricType    model.MetricType
	name          string
	window        int
	timeframe     string
	lowerIsBetter bool
}

var trendSpecs = []trendSpec{
	{metricType: model.MetricHeartRate, name: "Heart Rate", window: heartRateWindow, timeframe: "last 24 samples", lowerIsBetter: true},
	{metricType: model.MetricSleepScore, name: "Sleep Quality", window: sleepWindowNights, timeframe: "last 7 days"},
	{metricType: model.MetricSteps, name: "Daily Steps", window: stepsWindowDays, timeframe: "last 7 days"},
}

// analyzeTrends compares the most recent window of each tracked series
// against the immediately preceding window of equal size. A series
// without enough history for both windows is skipped, never estimated.
func analyzeTrends(series map[model.MetricType][]model.HealthMetric) []model.TrendAnalysis {
	var trends []model.TrendAnalysis
	for _, spec := range trendSpecs {
		if trend, ok := compareWindows(series[spec.metricType], spec); ok {
			trends = append(trends, trend)
		}
	}
	return trends
}

func compareWindows(samples []model.HealthMetric, spec trendSpec) (model.TrendAnalysis, bool) {
	if len(samples) < 2*spec.window {
		return model.TrendAnalysis{}, false
	}

	recent := samples[len(samples)-spec.window:]
	previous := samples[len(samples)-2*spec.window : len(samples)-spec.window]

	recentAvg, _ := mean(values(recent))
	previousAvg, _ := mean(values(previous))
	if previousAvg == 0 {
		return model.TrendAnalysis{}, false
	}

	rate := (recentAvg - previousAvg) / previousAvg * 100

	direction := model.TrendStable
	if math.Abs(rate) >= trendMinDeltaPct {
		rising := rate > 0
		if rising != spec.lowerIsBetter {
			direction = model.TrendImproving
		} else {
			direction = model.TrendDeclining
		}
	}

	significance := model.SignificanceLow
	switch {
	case math.Abs(rate) >= trendHighDeltaPct:
		significance = model.SignificanceHigh
	case math.Abs(rate) >= trendMediumDeltaPct:
		significance = model.SignificanceMedium
	}

	return model.TrendAnalysis{
		Metric:       spec.name,
		Direction:    direction,
		Rate:         rate,
		Significance: significance,
		Timeframe:    spec.timeframe,
	}, true
}
