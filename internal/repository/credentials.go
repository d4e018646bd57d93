package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vitalsync/vitalsync/pkg/model"
	"go.uber.org/zap"
)

// ErrCredentialNotFound is returned when no credential exists for a
// (user, source) pair
var ErrCredentialNotFound = errors.New("credential not found")

// CredentialRepository persists device credentials. Token columns hold
// ciphertext; encryption happens in the credential store above this layer.
type CredentialRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewCredentialRepository creates a new CredentialRepository
func NewCredentialRepository(db *pgxpool.Pool, logger *zap.Logger) *CredentialRepository {
	return &CredentialRepository{
		db:     db,
		logger: logger,
	}
}

// Get retrieves the credential for a (user, source) pair
func (r *CredentialRepository) Get(ctx context.Context, userID string, source model.Source) (*model.DeviceCredential, error) {
	query := `
		SELECT user_id, source, access_token, refresh_token, expires_at, scope, invalid, updated_at
		FROM device_credentials
		WHERE user_id = $1 AND source = $2
	`

	var cred model.DeviceCredential
	var refreshToken *string
	err := r.db.QueryRow(ctx, query, userID, source).Scan(
		&cred.UserID,
		&cred.Source,
		&cred.AccessToken,
		&refreshToken,
		&cred.ExpiresAt,
		&cred.Scope,
		&cred.Invalid,
		&cred.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		r.logger.Error("failed to get credential",
			zap.Error(err),
			zap.String("user_id", userID),
			zap.String("source", string(source)),
		)
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	if refreshToken != nil {
		cred.RefreshToken = *refreshToken
	}

	return &cred, nil
}

// Put upserts the credential for a (user, source) pair. A successful
// refresh overwrites the stored credential here before any retry is made,
// so concurrent syncs observe the new token.
func (r *CredentialRepository) Put(ctx context.Context, cred *model.DeviceCredential) error {
	query := `
		INSERT INTO device_credentials (
			user_id, source, access_token, refresh_token,
			expires_at, scope, invalid, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (user_id, source) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			scope = EXCLUDED.scope,
			invalid = EXCLUDED.invalid,
			updated_at = NOW()
	`

	_, err := r.db.Exec(ctx, query,
		cred.UserID,
		cred.Source,
		cred.AccessToken,
		cred.RefreshToken,
		cred.ExpiresAt,
		cred.Scope,
		cred.Invalid,
	)

	if err != nil {
		r.logger.Error("failed to put credential",
			zap.Error(err),
			zap.String("user_id", cred.UserID),
			zap.String("source", string(cred.Source)),
		)
		return fmt.Errorf("failed to put credential: %w", err)
	}

	return nil
}

// Invalidate flags a credential as rejected by the provider. The row is
// kept so the connection shows up as needing re-authorization.
func (r *CredentialRepository) Invalidate(ctx context.Context, userID string, source model.Source) error {
	query := `
		UPDATE device_credentials
		SET invalid = TRUE, updated_at = NOW()
		WHERE user_id = $1 AND source = $2
	`

	result, err := r.db.Exec(ctx, query, userID, source)
	if err != nil {
		r.logger.Error("failed to invalidate credential",
			zap.Error(err),
			zap.String("user_id", userID),
			zap.String("source", string(source)),
		)
		return fmt.Errorf("failed to invalidate credential: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrCredentialNotFound
	}

	return nil
}

// ConnectedSources lists the sources a user holds valid credentials for
func (r *CredentialRepository) ConnectedSources(ctx context.Context, userID string) ([]model.Source, error) {
	query := `
		SELECT source FROM device_credentials
		WHERE user_id = $1 AND invalid = FALSE
		ORDER BY source
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		r.logger.Error("failed to list connected sources", zap.Error(err), zap.String("user_id", userID))
		return nil, fmt.Errorf("failed to list connected sources: %w", err)
	}
	defer rows.Close()

	var sources []model.Source
	for rows.Next() {
		var source model.Source
		if err := rows.Scan(&source); err != nil {
			r.logger.Error("failed to scan source", zap.Error(err))
			continue
		}
		sources = append(sources, source)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("error iterating connected sources", zap.Error(err))
		return nil, fmt.Errorf("error iterating connected sources: %w", err)
	}

	return sources, nil
}

// ConnectedUsers lists every user with at least one valid credential; the
// background scheduler iterates this set.
func (r *CredentialRepository) ConnectedUsers(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT user_id FROM device_credentials
		WHERE invalid = FALSE
		ORDER BY user_id
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		r.logger.Error("failed to list connected users", zap.Error(err))
		return nil, fmt.Errorf("failed to list connected users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			r.logger.Error("failed to scan user id", zap.Error(err))
			continue
		}
		users = append(users, userID)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("error iterating connected users", zap.Error(err))
		return nil, fmt.Errorf("error iterating connected users: %w", err)
	}

	return users, nil
}
