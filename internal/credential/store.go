package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vitalsync/vitalsync/internal/config"
	"github.com/vitalsync/vitalsync/internal/repository"
	"github.com/vitalsync/vitalsync/internal/security"
	"github.com/vitalsync/vitalsync/pkg/model"
	"go.uber.org/zap"
)

var (
	// ErrNotFound means no credential exists for the (user, source) pair
	ErrNotFound = errors.New("credential not found")

	// ErrRefreshFailed means the provider rejected the refresh token; the
	// credential is invalidated and re-authorization must happen
	// out-of-band.
	ErrRefreshFailed = errors.New("credential refresh failed")
)

// Repository is the persistence contract the store needs
type Repository interface {
	Get(ctx context.Context, userID string, source model.Source) (*model.DeviceCredential, error)
	Put(ctx context.Context, cred *model.DeviceCredential) error
	Invalidate(ctx context.Context, userID string, source model.Source) error
	ConnectedSources(ctx context.Context, userID string) ([]model.Source, error)
}

// Store manages OAuth credentials for wearable vendors. Token material is
// encrypted before it reaches the repository and decrypted only
// transiently for the duration of a request.
type Store struct {
	repo      Repository
	encryptor *security.Encryptor
	providers *config.ProvidersConfig
	client    *http.Client
	logger    *zap.Logger
}

// NewStore creates a new credential store
func NewStore(repo Repository, encryptor *security.Encryptor, providers *config.ProvidersConfig, client *http.Client, logger *zap.Logger) *Store {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Store{
		repo:      repo,
		encryptor: encryptor,
		providers: providers,
		client:    client,
		logger:    logger,
	}
}

// Get returns the decrypted credential for a (user, source) pair
func (s *Store) Get(ctx context.Context, userID string, source model.Source) (*model.DeviceCredential, error) {
	cred, err := s.repo.Get(ctx, userID, source)
	if err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	accessToken, err := s.encryptor.Decrypt(cred.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	refreshToken, err := s.encryptor.Decrypt(cred.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	cred.AccessToken = accessToken
	cred.RefreshToken = refreshToken

	return cred, nil
}

// Put encrypts token material and persists the credential
func (s *Store) Put(ctx context.Context, cred *model.DeviceCredential) error {
	encrypted := *cred

	accessToken, err := s.encryptor.Encrypt(cred.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refreshToken, err := s.encryptor.Encrypt(cred.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	encrypted.AccessToken = accessToken
	encrypted.RefreshToken = refreshToken

	return s.repo.Put(ctx, &encrypted)
}

// Invalidate flags the credential as rejected by the provider
func (s *Store) Invalidate(ctx context.Context, userID string, source model.Source) error {
	s.logger.Warn("invalidating credential, re-authorization required",
		zap.String("user_id", userID),
		zap.String("source", string(source)),
	)
	return s.repo.Invalidate(ctx, userID, source)
}

// ConnectedSources lists the sources a user holds valid credentials for
func (s *Store) ConnectedSources(ctx context.Context, userID string) ([]model.Source, error) {
	return s.repo.ConnectedSources(ctx, userID)
}

// tokenResponse is the OAuth token endpoint response shape shared by all
// supported vendors
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

// Refresh exchanges the refresh token at the vendor's token endpoint. A
// successful refresh overwrites the stored credential before returning,
// so a retry issued by the caller and any concurrent sync both observe
// the new token. Failure returns ErrRefreshFailed.
func (s *Store) Refresh(ctx context.Context, cred *model.DeviceCredential) (*model.DeviceCredential, error) {
	if cred.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token stored for %s", ErrRefreshFailed, cred.Source)
	}

	provider, err := s.providers.For(cred.Source)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", cred.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(provider.ClientID, provider.ClientSecret)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrRefreshFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		s.logger.Warn("token refresh rejected",
			zap.String("user_id", cred.UserID),
			zap.String("source", string(cred.Source)),
			zap.Int("status", resp.StatusCode),
		)
		return nil, fmt.Errorf("%w: token endpoint returned status %d", ErrRefreshFailed, resp.StatusCode)
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrRefreshFailed, err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token in response", ErrRefreshFailed)
	}

	refreshed := &model.DeviceCredential{
		UserID:       cred.UserID,
		Source:       cred.Source,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Scope:        cred.Scope,
	}
	// Some vendors rotate the refresh token, some return it unchanged and
	// some omit it. Keep the old one when omitted.
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = cred.RefreshToken
	}
	if token.Scope != "" {
		refreshed.Scope = strings.Fields(token.Scope)
	}
	if token.ExpiresIn > 0 {
		expiresAt := time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
		refreshed.ExpiresAt = &expiresAt
	}

	if err := s.Put(ctx, refreshed); err != nil {
		return nil, fmt.Errorf("failed to persist refreshed credential: %w", err)
	}

	s.logger.Info("credential refreshed",
		zap.String("user_id", cred.UserID),
		zap.String("source", string(cred.Source)),
	)

	return refreshed, nil
}
