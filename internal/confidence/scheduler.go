package confidence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DecayScheduler runs the passive decay pass on a fixed interval.
//
// The scheduler owns the maintenance schedule so decay never runs on the
// live request path. Start and Stop are idempotent and thread-safe.
type DecayScheduler struct {
	interval  time.Duration
	cutoffAge time.Duration
	manager   *Manager

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}

	logger *zap.Logger
}

// SchedulerOption configures a DecayScheduler.
type SchedulerOption func(*DecayScheduler)

// WithInterval sets the sweep interval. Defaults to 24 hours.
func WithInterval(interval time.Duration) SchedulerOption {
	return func(s *DecayScheduler) { s.interval = interval }
}

// WithCutoffAge sets the staleness cutoff. Defaults to DefaultDecayCutoff.
func WithCutoffAge(age time.Duration) SchedulerOption {
	return func(s *DecayScheduler) { s.cutoffAge = age }
}

// NewDecayScheduler creates a scheduler. It does not start automatically.
func NewDecayScheduler(manager *Manager, logger *zap.Logger, opts ...SchedulerOption) (*DecayScheduler, error) {
	if manager == nil {
		return nil, fmt.Errorf("manager cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &DecayScheduler{
		interval:  24 * time.Hour,
		cutoffAge: DefaultDecayCutoff,
		manager:   manager,
		stopCh:    make(chan struct{}),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start begins the background sweep loop. Returns an error if already
// running.
func (s *DecayScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.stopCh = make(chan struct{})
	s.running = true

	s.logger.Info("decay scheduler started",
		zap.Duration("interval", s.interval),
		zap.Duration("cutoff_age", s.cutoffAge))

	go s.run()
	return nil
}

// Stop signals the sweep loop to exit. Idempotent.
func (s *DecayScheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.logger.Info("decay scheduler stopped")
	return nil
}

func (s *DecayScheduler) run() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("decay scheduler panicked, recovering",
				zap.Any("panic", r),
				zap.Stack("stack"))
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.safeSweep()
		case <-s.stopCh:
			return
		}
	}
}

// safeSweep wraps a single pass in panic recovery so one bad sweep cannot
// kill the schedule.
func (s *DecayScheduler) safeSweep() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("decay sweep panicked, continuing scheduler",
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if _, err := s.manager.PassiveDecayPass(ctx, s.cutoffAge); err != nil {
		s.logger.Error("scheduled decay pass failed", zap.Error(err))
	}
}
