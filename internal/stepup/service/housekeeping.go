package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/authsome/stepup/internal/stepup/store"
	"github.com/authsome/stepup/pkg/clockx"
)

// HousekeepingService sweeps rows that lazy expiry has already rendered
// inert: expired challenges, requirements, trusted devices and lockout
// counters. Correctness never depends on the sweep; it only keeps the
// tables small.
type HousekeepingService struct {
	store    store.Store
	lockouts store.Lockouts
	clock    clockx.Clock
	logger   *slog.Logger
	interval time.Duration

	stop chan struct{}
	done chan struct{}
}

func NewHousekeepingService(st store.Store, lockouts store.Lockouts, clock clockx.Clock, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	return &HousekeepingService{
		store:    st,
		lockouts: lockouts,
		clock:    clock,
		logger:   logger,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop. Call Stop to terminate it.
func (s *HousekeepingService) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Stop terminates the loop and waits for the in-flight sweep to finish.
func (s *HousekeepingService) Stop() {
	close(s.stop)
	<-s.done
}

// Sweep runs one cleanup pass. Failures are logged and skipped; the next
// tick retries.
func (s *HousekeepingService) Sweep(ctx context.Context) {
	now := s.clock.Now().UTC()

	if err := s.store.Challenges().DeleteExpiredChallenges(ctx, now); err != nil {
		s.logger.ErrorContext(ctx, "failed to sweep expired challenges", "error", err)
	}
	if err := s.store.Requirements().DeleteExpiredRequirements(ctx, now); err != nil {
		s.logger.ErrorContext(ctx, "failed to sweep expired requirements", "error", err)
	}
	if err := s.store.TrustedDevices().DeleteExpiredTrustedDevices(ctx, now); err != nil {
		s.logger.ErrorContext(ctx, "failed to sweep expired trusted devices", "error", err)
	}
	if err := s.lockouts.DeleteExpiredLockouts(ctx, now); err != nil {
		s.logger.ErrorContext(ctx, "failed to sweep expired lockouts", "error", err)
	}
}
