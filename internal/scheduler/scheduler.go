package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/vitalsync/vitalsync/pkg/model"
	"go.uber.org/zap"
)

// Syncer runs one sync invocation for a user
type Syncer interface {
	SyncAll(ctx context.Context, userID string, sources []model.Source, start, end time.Time) (map[model.Source]model.SyncResult, error)
}

// UserLister resolves the users with at least one connected device
type UserLister interface {
	ConnectedUsers(ctx context.Context) ([]string, error)
}

// MetricReader supplies recent metrics for the emergency check
type MetricReader interface {
	Query(ctx context.Context, userID string, metricType model.MetricType, start, end time.Time) ([]model.HealthMetric, error)
}

// EmergencyChecker is the fast-path analysis over recent vital signs
type EmergencyChecker interface {
	PerformEmergencyAnalysis(userID string, metrics []model.HealthMetric) []model.HealthAlert
}

// Scheduler drives the periodic full sync and the tighter emergency
// polling loop. Failed runs are logged and retried on the next tick;
// the scheduler itself never aborts.
type Scheduler struct {
	cron     *cron.Cron
	syncer   Syncer
	users    UserLister
	metrics  MetricReader
	checker  EmergencyChecker
	lookback time.Duration
	logger   *zap.Logger
}

// New creates a scheduler. metrics and checker may be nil to disable
// the emergency loop.
func New(syncer Syncer, users UserLister, metrics MetricReader, checker EmergencyChecker, lookback time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		syncer:   syncer,
		users:    users,
		metrics:  metrics,
		checker:  checker,
		lookback: lookback,
		logger:   logger,
	}
}

// Start registers the jobs and starts the cron loop
func (s *Scheduler) Start(syncSchedule, emergencySchedule string) error {
	if _, err := s.cron.AddFunc(syncSchedule, s.runSyncPass); err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", syncSchedule, err)
	}

	if s.metrics != nil && s.checker != nil && emergencySchedule != "" {
		if _, err := s.cron.AddFunc(emergencySchedule, s.runEmergencyPass); err != nil {
			return fmt.Errorf("invalid emergency schedule %q: %w", emergencySchedule, err)
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started",
		zap.String("sync_schedule", syncSchedule),
		zap.String("emergency_schedule", emergencySchedule),
		zap.Duration("lookback", s.lookback),
	)
	return nil
}

// Stop halts the cron loop and waits for running jobs to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

// runSyncPass syncs every connected user over the lookback window.
// Each pass is bounded so a hung vendor cannot pile passes on top of
// each other indefinitely.
func (s *Scheduler) runSyncPass() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	users, err := s.users.ConnectedUsers(ctx)
	if err != nil {
		s.logger.Error("failed to list connected users", zap.Error(err))
		return
	}

	end := time.Now()
	start := end.Add(-s.lookback)

	var failures int
	for _, userID := range users {
		results, err := s.syncer.SyncAll(ctx, userID, nil, start, end)
		if err != nil {
			failures++
			s.logger.Error("scheduled sync failed",
				zap.Error(err),
				zap.String("user_id", userID),
			)
			continue
		}
		for source, result := range results {
			if !result.Success {
				s.logger.Warn("scheduled sync finished with errors",
					zap.String("user_id", userID),
					zap.String("source", string(source)),
					zap.Strings("errors", result.Errors),
				)
			}
		}
	}

	s.logger.Info("scheduled sync pass finished",
		zap.Int("users", len(users)),
		zap.Int("failures", failures),
	)
}

// runEmergencyPass checks recent heart-rate and blood-oxygen samples
// for every connected user. Alerts are logged at error level; alert
// delivery beyond the API surface is an external concern.
func (s *Scheduler) runEmergencyPass() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	users, err := s.users.ConnectedUsers(ctx)
	if err != nil {
		s.logger.Error("failed to list connected users", zap.Error(err))
		return
	}

	end := time.Now()
	start := end.Add(-time.Hour)

	for _, userID := range users {
		var recent []model.HealthMetric
		for _, metricType := range []model.MetricType{model.MetricHeartRate, model.MetricBloodOxygen} {
			samples, err := s.metrics.Query(ctx, userID, metricType, start, end)
			if err != nil {
				s.logger.Error("failed to load metrics for emergency check",
					zap.Error(err),
					zap.String("user_id", userID),
					zap.String("metric_type", string(metricType)),
				)
				continue
			}
			recent = append(recent, samples...)
		}

		for _, alert := range s.checker.PerformEmergencyAnalysis(userID, recent) {
			s.logger.Error("emergency alert raised",
				zap.String("user_id", userID),
				zap.String("alert_id", alert.ID),
				zap.String("message", alert.Message),
			)
		}
	}
}
