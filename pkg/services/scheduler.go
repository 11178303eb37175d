package services

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-pulse/pkg/models"
)

// DefaultRefreshInterval is used when SchedulerConfig.Interval is not positive.
const DefaultRefreshInterval = 3 * time.Hour

// SchedulerConfig controls the periodic refresh.
type SchedulerConfig struct {
	Interval    time.Duration
	Concurrency int
	RunOnStart  bool
}

// triggerRequest is a manual refresh request.
type triggerRequest struct {
	concurrency int
	force       bool
	done        chan triggerResult
}

type triggerResult struct {
	report *models.RefreshReport
	err    error
}

// RefreshScheduler runs batch refreshes on a fixed interval and on demand.
// Scheduled and manual runs never overlap.
type RefreshScheduler struct {
	refresher BatchRefresher
	cfg       SchedulerConfig
	clock     clock.Clock
	requests  chan triggerRequest
	logger    *zap.Logger
}

// NewRefreshScheduler creates a scheduler. A nil clock uses the wall clock.
func NewRefreshScheduler(refresher BatchRefresher, cfg SchedulerConfig, clk clock.Clock, logger *zap.Logger) *RefreshScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultRefreshInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultRefreshConcurrency
	}
	if clk == nil {
		clk = clock.New()
	}
	return &RefreshScheduler{
		refresher: refresher,
		cfg:       cfg,
		clock:     clk,
		requests:  make(chan triggerRequest),
		logger:    logger.Named("refresh-scheduler"),
	}
}

// Start runs the refresh loop. Each tick force-refreshes every connection.
// Start blocks until the context is canceled.
func (s *RefreshScheduler) Start(ctx context.Context) {
	s.logger.Info("Refresh scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("concurrency", s.cfg.Concurrency))

	if s.cfg.RunOnStart {
		s.run(ctx, "startup", s.cfg.Concurrency, true)
	}

	ticker := s.clock.Ticker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Refresh scheduler stopped")
			return
		case <-ticker.C:
			s.run(ctx, "scheduled", s.cfg.Concurrency, true)
		case req := <-s.requests:
			concurrency := req.concurrency
			if concurrency <= 0 {
				concurrency = s.cfg.Concurrency
			}
			report, err := s.run(ctx, "manual", concurrency, req.force)
			req.done <- triggerResult{report: report, err: err}
		}
	}
}

// Trigger requests an immediate refresh and waits for its report. A
// non-positive concurrency uses the scheduler's. It blocks until the run
// completes or ctx is canceled.
func (s *RefreshScheduler) Trigger(ctx context.Context, concurrency int, force bool) (*models.RefreshReport, error) {
	done := make(chan triggerResult, 1)
	req := triggerRequest{concurrency: concurrency, force: force, done: done}

	select {
	case s.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-done:
		return res.report, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *RefreshScheduler) run(ctx context.Context, trigger string, concurrency int, force bool) (*models.RefreshReport, error) {
	report, err := s.refresher.RefreshAll(ctx, concurrency, force)
	if err != nil {
		s.logger.Error("Batch refresh failed",
			zap.String("trigger", trigger),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("Batch refresh finished",
		zap.String("trigger", trigger),
		zap.Int("total", report.Total),
		zap.Int("successful", report.Successful),
		zap.Int("failed", report.Failed))
	return report, nil
}
