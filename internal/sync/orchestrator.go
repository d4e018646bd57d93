package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vitalsync/vitalsync/internal/adapter"
	"github.com/vitalsync/vitalsync/internal/credential"
	"github.com/vitalsync/vitalsync/pkg/model"
	"go.uber.org/zap"
)

// ErrSyncInProgress is reported when a sync for the same (user, source)
// pair is already running. The colliding call fails immediately and is
// never queued; the next scheduled invocation retries.
var ErrSyncInProgress = errors.New("sync already in progress")

// CredentialSource is the credential contract the orchestrator needs
type CredentialSource interface {
	Get(ctx context.Context, userID string, source model.Source) (*model.DeviceCredential, error)
	Refresh(ctx context.Context, cred *model.DeviceCredential) (*model.DeviceCredential, error)
	Invalidate(ctx context.Context, userID string, source model.Source) error
	ConnectedSources(ctx context.Context, userID string) ([]model.Source, error)
}

// MetricStore persists accepted metrics
type MetricStore interface {
	Store(ctx context.Context, metric *model.HealthMetric) error
}

// Gate is the rate-limit contract
type Gate interface {
	Allow(source model.Source) bool
	MarkUsed(source model.Source)
}

// AuditSink records sync outcomes. May be nil.
type AuditSink interface {
	Record(ctx context.Context, userID string, source model.Source, result model.SyncResult, duration time.Duration)
}

// Orchestrator coordinates concurrent syncs across sources and metric
// categories. The only shared mutable state is the in-flight guard map
// and the rate limiter; everything else is per-invocation.
type Orchestrator struct {
	registry *adapter.Registry
	creds    CredentialSource
	limiter  Gate
	store    MetricStore
	audit    AuditSink
	logger   *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewOrchestrator creates a new sync orchestrator
func NewOrchestrator(registry *adapter.Registry, creds CredentialSource, limiter Gate, store MetricStore, audit AuditSink, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		creds:    creds,
		limiter:  limiter,
		store:    store,
		audit:    audit,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// SyncAll runs one sync invocation for a user across the given sources
// (nil means every source the user has connected). Sources run
// concurrently; the per-source result map is complete even when every
// source fails. Errors never propagate out of this call except a failure
// to resolve the source list itself.
func (o *Orchestrator) SyncAll(ctx context.Context, userID string, sources []model.Source, start, end time.Time) (map[model.Source]model.SyncResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID is required")
	}
	if start.After(end) {
		return nil, fmt.Errorf("start time must be before end time")
	}

	if len(sources) == 0 {
		connected, err := o.creds.ConnectedSources(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve connected sources: %w", err)
		}
		sources = connected
	}

	results := make(map[model.Source]model.SyncResult, len(sources))
	var resultsMu sync.Mutex
	var wg sync.WaitGroup

	for _, source := range sources {
		wg.Add(1)
		go func(source model.Source) {
			defer wg.Done()
			result := o.syncSource(ctx, userID, source, start, end)
			resultsMu.Lock()
			results[source] = result
			resultsMu.Unlock()
		}(source)
	}
	wg.Wait()

	o.logger.Info("sync invocation finished",
		zap.String("user_id", userID),
		zap.Int("sources", len(sources)),
	)

	return results, nil
}

// syncSource runs one (user, source) sync under the in-flight guard
func (o *Orchestrator) syncSource(ctx context.Context, userID string, source model.Source, start, end time.Time) model.SyncResult {
	started := time.Now()
	result := model.SyncResult{Source: source, LastSyncTimestamp: started}

	if !o.acquire(userID, source) {
		result.Errors = append(result.Errors, ErrSyncInProgress.Error())
		return result
	}
	// The guard must release on every exit path, including panics caused
	// by a broken adapter and callers abandoning us via context deadline.
	defer o.release(userID, source)

	ad, ok := o.registry.Get(source)
	if !ok {
		result.Errors = append(result.Errors, fmt.Sprintf("no adapter registered for source %s", source))
		o.finish(ctx, userID, source, &result, started)
		return result
	}

	if !o.limiter.Allow(source) {
		result.Errors = append(result.Errors, fmt.Sprintf("rate limit exceeded for source %s", source))
		o.finish(ctx, userID, source, &result, started)
		return result
	}
	o.limiter.MarkUsed(source)

	cred, err := o.creds.Get(ctx, userID, source)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			result.Errors = append(result.Errors, fmt.Sprintf("no credential for source %s, authorization required", source))
		} else {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to load credential: %v", err))
		}
		o.finish(ctx, userID, source, &result, started)
		return result
	}
	if cred.Invalid {
		result.Errors = append(result.Errors, fmt.Sprintf("credential for source %s was revoked, re-authorization required", source))
		o.finish(ctx, userID, source, &result, started)
		return result
	}

	// One refresh per sync, shared across the category goroutines: the
	// first 401 triggers it, the rest reuse its outcome.
	ref := &refresher{creds: o.creds, cred: cred}

	type categoryOutcome struct {
		processed int
		dropped   int
		err       error
	}

	categories := ad.Categories()
	outcomes := make([]categoryOutcome, len(categories))
	var wg sync.WaitGroup

	for i, category := range categories {
		wg.Add(1)
		go func(i int, category model.MetricCategory) {
			defer wg.Done()
			processed, dropped, err := o.syncCategory(ctx, ad, ref, userID, category, start, end)
			outcomes[i] = categoryOutcome{processed: processed, dropped: dropped, err: err}
		}(i, category)
	}
	wg.Wait()

	for i, outcome := range outcomes {
		result.RecordsProcessed += outcome.processed
		result.RecordsDropped += outcome.dropped
		if outcome.err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", categories[i], outcome.err))
		}
	}
	sort.Strings(result.Errors)

	o.finish(ctx, userID, source, &result, started)
	return result
}

// syncCategory runs one category's fetch-transform-persist sequence.
// Failures here are isolated: they surface as a single error string and
// never abort sibling categories.
func (o *Orchestrator) syncCategory(ctx context.Context, ad adapter.Adapter, ref *refresher, userID string, category model.MetricCategory, start, end time.Time) (processed, dropped int, err error) {
	raw, err := o.fetchWithRefresh(ctx, ad, ref, userID, category, start, end)
	if err != nil {
		return 0, 0, err
	}

	metrics, dropped, err := ad.Transform(raw, category, userID)
	if err != nil {
		return 0, dropped, fmt.Errorf("transform failed: %w", err)
	}

	var persistErrs int
	for i := range metrics {
		if storeErr := o.store.Store(ctx, &metrics[i]); storeErr != nil {
			persistErrs++
			continue
		}
		processed++
	}
	if persistErrs > 0 {
		return processed, dropped, fmt.Errorf("failed to persist %d of %d metrics", persistErrs, len(metrics))
	}

	return processed, dropped, nil
}

// fetchWithRefresh issues the vendor fetch, allowing exactly one
// refresh-and-retry when the credential is rejected. A second rejection
// invalidates the credential and is terminal for this source.
func (o *Orchestrator) fetchWithRefresh(ctx context.Context, ad adapter.Adapter, ref *refresher, userID string, category model.MetricCategory, start, end time.Time) ([]byte, error) {
	raw, err := ad.FetchRaw(ctx, ref.current(), category, start, end)
	if err == nil {
		return raw, nil
	}
	if !errors.Is(err, adapter.ErrCredentialExpired) {
		return nil, err
	}

	refreshed, refreshErr := ref.refresh(ctx)
	if refreshErr != nil {
		if invErr := o.creds.Invalidate(ctx, userID, ad.Source()); invErr != nil {
			o.logger.Error("failed to invalidate credential",
				zap.Error(invErr),
				zap.String("user_id", userID),
				zap.String("source", string(ad.Source())),
			)
		}
		return nil, fmt.Errorf("credential refresh failed, re-authorization required: %w", refreshErr)
	}

	raw, err = ad.FetchRaw(ctx, refreshed, category, start, end)
	if err == nil {
		return raw, nil
	}
	if errors.Is(err, adapter.ErrCredentialExpired) {
		if invErr := o.creds.Invalidate(ctx, userID, ad.Source()); invErr != nil {
			o.logger.Error("failed to invalidate credential",
				zap.Error(invErr),
				zap.String("user_id", userID),
				zap.String("source", string(ad.Source())),
			)
		}
		return nil, fmt.Errorf("credential rejected after refresh, re-authorization required")
	}
	return nil, err
}

func (o *Orchestrator) finish(ctx context.Context, userID string, source model.Source, result *model.SyncResult, started time.Time) {
	result.Success = len(result.Errors) == 0

	o.logger.Info("source sync finished",
		zap.String("user_id", userID),
		zap.String("source", string(source)),
		zap.Bool("success", result.Success),
		zap.Int("records_processed", result.RecordsProcessed),
		zap.Int("records_dropped", result.RecordsDropped),
		zap.Int("errors", len(result.Errors)),
	)

	if o.audit != nil {
		o.audit.Record(ctx, userID, source, *result, time.Since(started))
	}
}

func guardKey(userID string, source model.Source) string {
	return userID + "|" + string(source)
}

func (o *Orchestrator) acquire(userID string, source model.Source) bool {
	key := guardKey(userID, source)
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, running := o.inflight[key]; running {
		return false
	}
	o.inflight[key] = struct{}{}
	return true
}

func (o *Orchestrator) release(userID string, source model.Source) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, guardKey(userID, source))
}

// refresher serialises credential refreshes within one source sync so
// concurrent category fetches that all hit a 401 trigger a single token
// exchange.
type refresher struct {
	creds CredentialSource

	mu   sync.Mutex
	cred *model.DeviceCredential
	done bool
	err  error
}

func (r *refresher) current() *model.DeviceCredential {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cred
}

func (r *refresher) refresh(ctx context.Context) (*model.DeviceCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done {
		return r.cred, r.err
	}
	r.done = true

	refreshed, err := r.creds.Refresh(ctx, r.cred)
	if err != nil {
		r.err = err
		return nil, err
	}
	r.cred = refreshed
	return refreshed, nil
}
