package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/vitalsync/vitalsync/pkg/model"
	"go.uber.org/zap"
)

// Provider fetches user profiles for the analysis engine. Profiles are
// owned by an external service; this subsystem only reads them.
type Provider interface {
	Profile(ctx context.Context, userID string) (*model.UserProfile, error)
}

// HTTPProvider reads profiles from the external profile service over
// HTTP. A missing or failing profile service degrades analysis (goal
// and condition sub-scores drop out) but never blocks it, so callers
// treat errors here as "no profile".
type HTTPProvider struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPProvider creates a profile provider for the given base URL
func NewHTTPProvider(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Profile fetches one user's profile
func (p *HTTPProvider) Profile(ctx context.Context, userID string) (*model.UserProfile, error) {
	endpoint := fmt.Sprintf("%s/api/v1/profiles/%s", p.baseURL, url.PathEscape(userID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("no profile for user %s", userID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read profile response: %w", err)
	}

	var profile model.UserProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse profile response: %w", err)
	}

	p.logger.Debug("profile fetched",
		zap.String("user_id", userID),
		zap.Int("goals", len(profile.HealthGoals)),
	)

	return &profile, nil
}
