package model

import (
	"fmt"
	"time"
)

// Source identifies the wearable vendor a metric was ingested from
type Source string

const (
	SourceFitbit Source = "fitbit"
	SourceGarmin Source = "garmin"
	SourceOura   Source = "oura"
	SourceWhoop  Source = "whoop"
)

// AllSources lists every vendor the system can sync from
var AllSources = []Source{SourceFitbit, SourceGarmin, SourceOura, SourceWhoop}

// Valid reports whether s names a known vendor
func (s Source) Valid() bool {
	for _, known := range AllSources {
		if s == known {
			return true
		}
	}
	return false
}

// MetricCategory groups metric types into vendor API surfaces. Adapters
// declare which categories they support; the orchestrator fans out one
// fetch per supported category.
type MetricCategory string

const (
	CategoryHeartRate   MetricCategory = "heart_rate"
	CategorySleep       MetricCategory = "sleep"
	CategoryActivity    MetricCategory = "activity"
	CategoryBloodOxygen MetricCategory = "blood_oxygen"
	CategoryStress      MetricCategory = "stress"
)

// MetricType identifies a canonical physiological measurement
type MetricType string

const (
	MetricHeartRate     MetricType = "heart_rate"
	MetricSleepDuration MetricType = "sleep_duration"
	MetricSleepDeep     MetricType = "sleep_deep"
	MetricSleepREM      MetricType = "sleep_rem"
	MetricSleepLight    MetricType = "sleep_light"
	MetricSleepScore    MetricType = "sleep_score"
	MetricSteps         MetricType = "steps"
	MetricCalories      MetricType = "calories_burned"
	MetricDistance      MetricType = "distance"
	MetricActiveMinutes MetricType = "active_minutes"
	MetricBloodOxygen   MetricType = "blood_oxygen"
	MetricStress        MetricType = "stress"
)

// HealthMetric is the canonical, vendor-agnostic physiological reading.
// Immutable once written; later readings for the same dedupe key supersede
// earlier ones rather than mutating them.
type HealthMetric struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	Type       MetricType        `json:"type"`
	Value      float64           `json:"value"`
	Unit       string            `json:"unit"`
	Timestamp  time.Time         `json:"timestamp"`
	Source     Source            `json:"source"`
	Confidence float64           `json:"confidence"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// DedupeKey identifies the observation independent of the row ID, so a
// re-sync of the same window upserts instead of duplicating.
func (m *HealthMetric) DedupeKey() string {
	return fmt.Sprintf("%s|%s|%s|%d", m.UserID, m.Source, m.Type, m.Timestamp.Unix())
}

// DeviceCredential holds OAuth token material for one (user, source) pair.
// Token fields are encrypted at rest by the credential store; a rejected
// credential is invalidated, never deleted.
type DeviceCredential struct {
	UserID       string     `json:"user_id"`
	Source       Source     `json:"source"`
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Scope        []string   `json:"scope,omitempty"`
	Invalid      bool       `json:"invalid"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// SyncResult is the per-(user, source) outcome of one sync invocation
type SyncResult struct {
	Source            Source    `json:"source"`
	Success           bool      `json:"success"`
	RecordsProcessed  int       `json:"records_processed"`
	RecordsDropped    int       `json:"records_dropped"`
	Errors            []string  `json:"errors,omitempty"`
	LastSyncTimestamp time.Time `json:"last_sync_timestamp"`
}

// HealthGoal is one target in a user profile with progress in [0,100]
type HealthGoal struct {
	Type     string  `json:"type"`
	Progress float64 `json:"progress"`
}

// UserProfile is read-only input to the analysis engine, owned by an
// external profile service.
type UserProfile struct {
	Age               int          `json:"age"`
	Gender            string       `json:"gender"`
	HeightCM          float64      `json:"height_cm"`
	WeightKG          float64      `json:"weight_kg"`
	ActivityLevel     string       `json:"activity_level"`
	HealthGoals       []HealthGoal `json:"health_goals,omitempty"`
	MedicalConditions []string     `json:"medical_conditions,omitempty"`
}

// TrendDirection classifies the movement of a metric between windows
type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendDeclining TrendDirection = "declining"
	TrendStable    TrendDirection = "stable"
)

// Significance buckets the magnitude of a trend delta
type Significance string

const (
	SignificanceLow    Significance = "low"
	SignificanceMedium Significance = "medium"
	SignificanceHigh   Significance = "high"
)

// TrendAnalysis compares the most recent window of a metric against the
// preceding window of equal size. Recomputed per analysis call, never stored.
type TrendAnalysis struct {
	Metric       string         `json:"metric"`
	Direction    TrendDirection `json:"direction"`
	Rate         float64        `json:"rate"`
	Significance Significance   `json:"significance"`
	Timeframe    string         `json:"timeframe"`
}

// AlertType distinguishes routine anomalies from emergencies
type AlertType string

const (
	AlertAnomalyDetected  AlertType = "anomaly_detected"
	AlertMedicalEmergency AlertType = "medical_emergency"
)

// AlertSeverity orders alerts by urgency
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityDanger   AlertSeverity = "danger"
	SeverityCritical AlertSeverity = "critical"
)

// HealthAlert is emitted by the analysis engine. Append-only from this
// subsystem's perspective; acknowledgment is an external concern.
type HealthAlert struct {
	ID             string            `json:"id"`
	Type           AlertType         `json:"type"`
	Severity       AlertSeverity     `json:"severity"`
	Message        string            `json:"message"`
	ActionRequired bool              `json:"action_required"`
	AutoResolve    bool              `json:"auto_resolve"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// InsightType classifies an insight for deduplication during merging
type InsightType string

const (
	InsightRecommendation InsightType = "recommendation"
	InsightAlert          InsightType = "alert"
	InsightTrend          InsightType = "trend"
	InsightAnomaly        InsightType = "anomaly"
)

// HealthInsight is an advisory finding, either deterministic or narrative
type HealthInsight struct {
	ID              string      `json:"id"`
	Type            InsightType `json:"type"`
	Priority        int         `json:"priority"`
	Title           string      `json:"title"`
	Description     string      `json:"description"`
	Recommendations []string    `json:"recommendations,omitempty"`
	Confidence      float64     `json:"confidence"`
	Evidence        []string    `json:"evidence,omitempty"`
}

// AnalysisReport is the full output of one analysis pass
type AnalysisReport struct {
	UserID      string          `json:"user_id"`
	HealthScore float64         `json:"health_score"`
	Alerts      []HealthAlert   `json:"alerts"`
	Trends      []TrendAnalysis `json:"trends"`
	Insights    []HealthInsight `json:"insights"`
	Confidence  float64         `json:"confidence"`
	GeneratedAt time.Time       `json:"generated_at"`
}
