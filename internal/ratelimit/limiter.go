package ratelimit

import (
	"sync"
	"time"

	"github.com/vitalsync/vitalsync/pkg/model"
	"go.uber.org/zap"
)

// Limiter is a cooperative per-source gate: one last-used timestamp per
// vendor compared against that vendor's minimum interval. It is shared
// across all users because vendor quotas are enforced per API client, not
// per end user. Denied callers must fail the current sync and let the next
// scheduled run retry; the limiter never blocks or queues.
type Limiter struct {
	mu        sync.Mutex
	intervals map[model.Source]time.Duration
	lastUsed  map[model.Source]time.Time
	now       func() time.Time
	logger    *zap.Logger
}

// NewLimiter creates a limiter with per-vendor minimum intervals
func NewLimiter(intervals map[model.Source]time.Duration, logger *zap.Logger) *Limiter {
	return &Limiter{
		intervals: intervals,
		lastUsed:  make(map[model.Source]time.Time),
		now:       time.Now,
		logger:    logger,
	}
}

// Allow reports whether a sync for the source may proceed now. Sources
// without a configured interval are never limited.
func (l *Limiter) Allow(source model.Source) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	interval, ok := l.intervals[source]
	if !ok {
		return true
	}

	last, ok := l.lastUsed[source]
	if !ok {
		return true
	}

	allowed := l.now().Sub(last) >= interval
	if !allowed {
		l.logger.Debug("rate limit denied sync",
			zap.String("source", string(source)),
			zap.Duration("interval", interval),
			zap.Time("last_used", last),
		)
	}

	return allowed
}

// MarkUsed records that a sync attempt for the source was started
func (l *Limiter) MarkUsed(source model.Source) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lastUsed[source] = l.now()
}
