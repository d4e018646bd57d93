package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vitalsync/vitalsync/pkg/model"
	"go.uber.org/zap"
)

// Entry is one row of the sync audit trail: the durable record of a
// single (user, source) sync invocation.
type Entry struct {
	ID               string
	UserID           string
	Source           model.Source
	Success          bool
	RecordsProcessed int
	RecordsDropped   int
	Errors           []string
	Duration         time.Duration
	SyncedAt         time.Time
}

// Trail records sync outcomes in the database and the structured log
type Trail struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewTrail creates a new audit trail
func NewTrail(db *pgxpool.Pool, logger *zap.Logger) *Trail {
	return &Trail{
		db:     db,
		logger: logger,
	}
}

// Record writes one audit entry. Audit failures are logged but never fail
// the sync that produced them.
func (t *Trail) Record(ctx context.Context, userID string, source model.Source, result model.SyncResult, duration time.Duration) {
	entry := Entry{
		ID:               uuid.New().String(),
		UserID:           userID,
		Source:           source,
		Success:          result.Success,
		RecordsProcessed: result.RecordsProcessed,
		RecordsDropped:   result.RecordsDropped,
		Errors:           result.Errors,
		Duration:         duration,
		SyncedAt:         result.LastSyncTimestamp,
	}

	t.logger.Info("sync audit entry",
		zap.String("user_id", entry.UserID),
		zap.String("source", string(entry.Source)),
		zap.Bool("success", entry.Success),
		zap.Int("records_processed", entry.RecordsProcessed),
		zap.Int("records_dropped", entry.RecordsDropped),
		zap.Strings("errors", entry.Errors),
		zap.Duration("duration", entry.Duration),
	)

	query := `
		INSERT INTO sync_audit (
			id, user_id, source, success, records_processed,
			records_dropped, errors, duration_ms, synced_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := t.db.Exec(ctx, query,
		entry.ID,
		entry.UserID,
		entry.Source,
		entry.Success,
		entry.RecordsProcessed,
		entry.RecordsDropped,
		entry.Errors,
		entry.Duration.Milliseconds(),
		entry.SyncedAt,
	)
	if err != nil {
		t.logger.Error("failed to store sync audit entry",
			zap.Error(err),
			zap.String("user_id", entry.UserID),
			zap.String("source", string(entry.Source)),
		)
	}
}

// RecentForUser returns the latest audit entries for a user
func (t *Trail) RecentForUser(ctx context.Context, userID string, limit int) ([]Entry, error) {
	query := `
		SELECT id, user_id, source, success, records_processed,
			records_dropped, errors, duration_ms, synced_at
		FROM sync_audit
		WHERE user_id = $1
		ORDER BY synced_at DESC
		LIMIT $2
	`

	rows, err := t.db.Query(ctx, query, userID, limit)
	if err != nil {
		t.logger.Error("failed to query sync audit", zap.Error(err), zap.String("user_id", userID))
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var durationMS int64
		err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.Source,
			&entry.Success,
			&entry.RecordsProcessed,
			&entry.RecordsDropped,
			&entry.Errors,
			&durationMS,
			&entry.SyncedAt,
		)
		if err != nil {
			t.logger.Error("failed to scan sync audit entry", zap.Error(err))
			continue
		}
		entry.Duration = time.Duration(durationMS) * time.Millisecond
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		t.logger.Error("error iterating sync audit entries", zap.Error(err))
		return nil, err
	}

	return entries, nil
}
