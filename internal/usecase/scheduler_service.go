package usecase

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kbinsights/kickbase-insights/internal/platform/logging"
)

// Refresher is the slice of RefreshService the scheduler needs.
type Refresher interface {
	Run(ctx context.Context) (RunResult, error)
}

// SchedulerService runs the refresh on a cron schedule. Ticks that fire while
// a run is still in flight are skipped, never queued.
type SchedulerService struct {
	refresher  Refresher
	onComplete func(ctx context.Context, result RunResult)
	schedule   string
	timeout    time.Duration
	logger     *logging.Logger

	cron    *cron.Cron
	running atomic.Bool
}

const defaultRunTimeout = 10 * time.Minute

// NewSchedulerService builds a scheduler for the given cron expression
// (standard five-field syntax). onComplete may be nil.
func NewSchedulerService(
	refresher Refresher,
	schedule string,
	timeout time.Duration,
	onComplete func(ctx context.Context, result RunResult),
	logger *logging.Logger,
) *SchedulerService {
	if logger == nil {
		logger = logging.Default()
	}
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}
	return &SchedulerService{
		refresher:  refresher,
		onComplete: onComplete,
		schedule:   schedule,
		timeout:    timeout,
		logger:     logger,
	}
}

// Start registers the schedule and begins ticking. The returned error is
// non-nil only for an invalid cron expression.
func (s *SchedulerService) Start(ctx context.Context) error {
	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc(s.schedule, func() {
		s.tick(ctx)
	})
	if err != nil {
		return fmt.Errorf("register refresh schedule %q: %w", s.schedule, err)
	}
	s.cron = c
	c.Start()
	s.logger.InfoContext(ctx, "refresh scheduler started", "schedule", s.schedule)
	return nil
}

// Stop halts the ticker and waits for an in-flight run to finish, bounded by
// the passed context.
func (s *SchedulerService) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.WarnContext(ctx, "refresh scheduler stopped before in-flight run finished")
	}
}

// TriggerNow runs a refresh immediately, outside the schedule. It returns
// false without running when a run is already in flight.
func (s *SchedulerService) TriggerNow(ctx context.Context) (RunResult, bool, error) {
	if !s.running.CompareAndSwap(false, true) {
		return RunResult{}, false, nil
	}
	defer s.running.Store(false)

	result, err := s.run(ctx)
	return result, true, err
}

func (s *SchedulerService) tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.WarnContext(ctx, "refresh tick skipped, previous run still in flight")
		return
	}
	defer s.running.Store(false)

	if _, err := s.run(ctx); err != nil {
		s.logger.ErrorContext(ctx, "scheduled refresh failed", "error", err)
	}
}

func (s *SchedulerService) run(ctx context.Context) (RunResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.refresher.Run(ctx)
	if err != nil {
		return result, err
	}
	if s.onComplete != nil {
		s.onComplete(ctx, result)
	}
	return result, nil
}
