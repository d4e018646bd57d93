package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/vitalsync/vitalsync/pkg/model"
)

// ErrCredentialExpired is returned by FetchRaw when the vendor rejects
// the access token. The orchestrator reacts with exactly one refresh and
// retry; every other fetch error is surfaced as-is.
var ErrCredentialExpired = errors.New("credential expired")

// Adapter integrates one wearable vendor. Each implementation owns its
// vendor's wire shape: FetchRaw speaks the vendor API, Transform turns
// the payload into canonical metrics. Transform never fails on a single
// malformed record; it drops it, counts it, and returns the rest.
type Adapter interface {
	Source() model.Source
	Supports(category model.MetricCategory) bool
	Categories() []model.MetricCategory
	FetchRaw(ctx context.Context, cred *model.DeviceCredential, category model.MetricCategory, start, end time.Time) ([]byte, error)
	Transform(raw []byte, category model.MetricCategory, userID string) ([]model.HealthMetric, int, error)
}

// Registry is the vendor lookup table. Adding a vendor is registering an
// adapter here; the orchestrator never branches on source names.
type Registry struct {
	adapters map[model.Source]Adapter
}

// NewRegistry builds a registry from the given adapters
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[model.Source]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Source()] = a
	}
	return r
}

// Get returns the adapter for a source
func (r *Registry) Get(source model.Source) (Adapter, bool) {
	a, ok := r.adapters[source]
	return a, ok
}

// Sources lists every registered vendor
func (r *Registry) Sources() []model.Source {
	sources := make([]model.Source, 0, len(r.adapters))
	for source := range r.adapters {
		sources = append(sources, source)
	}
	return sources
}

const maxPayloadBytes = 8 << 20

// fetchJSON issues an authenticated GET against a vendor endpoint. A 401
// or 403 maps to ErrCredentialExpired so the orchestrator can distinguish
// it from transient failures.
func fetchJSON(ctx context.Context, client *http.Client, url, accessToken string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: vendor returned status %d", ErrCredentialExpired, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("vendor returned status %d", resp.StatusCode)
	}

	return body, nil
}

// newMetric assembles a canonical metric with a fresh ID
func newMetric(userID string, source model.Source, metricType model.MetricType, value float64, unit string, ts time.Time, confidence float64, metadata map[string]string) model.HealthMetric {
	return model.HealthMetric{
		ID:         uuid.New().String(),
		UserID:     userID,
		Type:       metricType,
		Value:      value,
		Unit:       unit,
		Timestamp:  ts,
		Source:     source,
		Confidence: confidence,
		Metadata:   metadata,
	}
}

// usableTimestamp rejects zero and future timestamps. A reading dated in
// the future is a malformed record, not a clock to trust.
func usableTimestamp(ts time.Time) bool {
	return !ts.IsZero() && !ts.After(time.Now())
}

// supportsIn is the shared Supports implementation
func supportsIn(categories []model.MetricCategory, category model.MetricCategory) bool {
	for _, c := range categories {
		if c == category {
			return true
		}
	}
	return false
}
