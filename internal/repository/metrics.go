package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vitalsync/vitalsync/pkg/model"
	"go.uber.org/zap"
)

// MetricRepository persists canonical health metrics
type MetricRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewMetricRepository creates a new MetricRepository
func NewMetricRepository(db *pgxpool.Pool, logger *zap.Logger) *MetricRepository {
	return &MetricRepository{
		db:     db,
		logger: logger,
	}
}

// Store persists one metric. Re-syncing the same window upserts on the
// dedupe key so the newer reading supersedes the older row.
func (r *MetricRepository) Store(ctx context.Context, metric *model.HealthMetric) error {
	metadata, err := json.Marshal(metric.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metric metadata: %w", err)
	}

	query := `
		INSERT INTO health_metrics (
			id, user_id, metric_type, value, unit,
			ts, source, confidence, metadata, dedupe_key, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (dedupe_key) DO UPDATE SET
			value = EXCLUDED.value,
			unit = EXCLUDED.unit,
			confidence = EXCLUDED.confidence,
			metadata = EXCLUDED.metadata
	`

	_, err = r.db.Exec(ctx, query,
		metric.ID,
		metric.UserID,
		metric.Type,
		metric.Value,
		metric.Unit,
		metric.Timestamp,
		metric.Source,
		metric.Confidence,
		metadata,
		metric.DedupeKey(),
	)

	if err != nil {
		r.logger.Error("failed to store health metric",
			zap.Error(err),
			zap.String("user_id", metric.UserID),
			zap.String("metric_type", string(metric.Type)),
		)
		return fmt.Errorf("failed to store health metric: %w", err)
	}

	return nil
}

// Query retrieves metrics of one type for a user within a time range,
// ordered by timestamp descending
func (r *MetricRepository) Query(ctx context.Context, userID string, metricType model.MetricType, start, end time.Time) ([]model.HealthMetric, error) {
	query := `
		SELECT
			id, user_id, metric_type, value, unit,
			ts, source, confidence, metadata, created_at
		FROM health_metrics
		WHERE user_id = $1 AND metric_type = $2 AND ts >= $3 AND ts <= $4
		ORDER BY ts DESC
	`

	rows, err := r.db.Query(ctx, query, userID, metricType, start, end)
	if err != nil {
		r.logger.Error("failed to query health metrics",
			zap.Error(err),
			zap.String("user_id", userID),
			zap.String("metric_type", string(metricType)),
		)
		return nil, fmt.Errorf("failed to query health metrics: %w", err)
	}
	defer rows.Close()

	return r.scanMetrics(rows)
}

// QueryAll retrieves every metric for a user within a time range, ordered
// by timestamp descending
func (r *MetricRepository) QueryAll(ctx context.Context, userID string, start, end time.Time) ([]model.HealthMetric, error) {
	query := `
		SELECT
			id, user_id, metric_type, value, unit,
			ts, source, confidence, metadata, created_at
		FROM health_metrics
		WHERE user_id = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts DESC
	`

	rows, err := r.db.Query(ctx, query, userID, start, end)
	if err != nil {
		r.logger.Error("failed to query health metrics",
			zap.Error(err),
			zap.String("user_id", userID),
		)
		return nil, fmt.Errorf("failed to query health metrics: %w", err)
	}
	defer rows.Close()

	return r.scanMetrics(rows)
}

type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func (r *MetricRepository) scanMetrics(rows pgxRows) ([]model.HealthMetric, error) {
	var metrics []model.HealthMetric
	for rows.Next() {
		var metric model.HealthMetric
		var metadata []byte
		err := rows.Scan(
			&metric.ID,
			&metric.UserID,
			&metric.Type,
			&metric.Value,
			&metric.Unit,
			&metric.Timestamp,
			&metric.Source,
			&metric.Confidence,
			&metadata,
			&metric.CreatedAt,
		)
		if err != nil {
			r.logger.Error("failed to scan health metric", zap.Error(err))
			continue
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &metric.Metadata); err != nil {
				r.logger.Warn("failed to unmarshal metric metadata", zap.Error(err), zap.String("metric_id", metric.ID))
			}
		}
		metrics = append(metrics, metric)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("error iterating health metrics", zap.Error(err))
		return nil, fmt.Errorf("error iterating health metrics: %w", err)
	}

	return metrics, nil
}
