// Package worker runs background maintenance for the storefront.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultBatchSize bounds how many expired reservations one transaction releases
const DefaultBatchSize = 100

// ReservationReleaser returns the stock of pending reservations that expired before now
type ReservationReleaser interface {
	ReleaseExpiredReservations(ctx context.Context, now time.Time, limit int) (int, error)
}

// SweeperConfig holds the sweeper schedule
type SweeperConfig struct {
	Interval  time.Duration
	BatchSize int
}

// Sweeper periodically cancels payment reservations whose hold has lapsed
type Sweeper struct {
	releaser ReservationReleaser
	config   SweeperConfig
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSweeper creates a new Sweeper
func NewSweeper(releaser ReservationReleaser, cfg SweeperConfig, logger *zap.Logger) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Sweeper{
		releaser: releaser,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Start launches the sweep loop. It returns an error if the sweeper is already running.
func (s *Sweeper) Start(ctx context.Context) error {
	if s.config.Interval <= 0 {
		return errors.New("sweep interval must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("sweeper is already running")
	}
	s.running = true

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(loopCtx)
	}()

	s.logger.Info("Reservation sweeper started", zap.Duration("interval", s.config.Interval))
	return nil
}

func (s *Sweeper) run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("Reservation sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep releases expired reservations in batches until a batch comes back short
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	total := 0
	for {
		released, err := s.releaser.ReleaseExpiredReservations(ctx, s.now(), s.config.BatchSize)
		total += released
		if err != nil {
			return total, err
		}
		if released < s.config.BatchSize {
			break
		}
	}

	if total > 0 {
		s.logger.Info("Released expired reservations", zap.Int("count", total))
	}
	return total, nil
}

// Stop cancels the loop and waits for an in-flight sweep, bounded by ctx
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Reservation sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
