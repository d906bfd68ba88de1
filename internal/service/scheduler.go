package service

import (
	"clash-tracker/internal/config"
	"clash-tracker/internal/constants"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

// Scheduler evaluates the auto-refresh rule on a ticker, off the request path.
type Scheduler struct {
	tracker *TrackerService
	tick    time.Duration
	logger  zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(tracker *TrackerService, cfg *config.Config, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		tracker: tracker,
		tick:    cfg.SchedulerTick,
		logger:  logger.With().Str("component", "scheduler").Logger(),
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)

	s.logger.Info().Dur("tick", s.tick).Msg("scheduler started")
}

// Stop cancels any running cycle and waits for the loop to exit or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		s.logger.Info().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single evaluation and, when due, a refresh cycle.
func (s *Scheduler) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, constants.RefreshCycleTimeout)
	defer cancel()

	start := time.Now()
	result, ran, err := s.tracker.AutoRefreshIfDue(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("auto refresh failed")
		return
	}
	if !ran {
		return
	}
	s.logger.Info().
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Dur("duration", time.Since(start)).
		Msg("auto refresh completed")
}

// RegisterScheduler ties the scheduler to the application lifecycle.
func RegisterScheduler(lc fx.Lifecycle, s *Scheduler, cfg *config.Config, logger zerolog.Logger) {
	if !cfg.AutoRefreshEnabled {
		logger.Info().Msg("auto refresh disabled")
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.Start()
			return nil
		},
		OnStop: s.Stop,
	})
}
