package seatlock

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/cinema-booking-engine/internal/clock"
	"github.com/iliyamo/cinema-booking-engine/internal/errs"
)

// BookingExpirer moves Held bookings whose holds ran out to Cancelled.
type BookingExpirer interface {
	ExpireOverdue(ctx context.Context, now time.Time, limit int) (int, error)
}

type SweeperConfig struct {
	// Interval between sweeps.
	Interval time.Duration
	// BatchSize caps the holds and bookings handled per sweep.
	BatchSize int
}

func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{Interval: time.Minute, BatchSize: 500}
}

// Sweeper periodically expires seat holds and the bookings built on them.
type Sweeper struct {
	manager  *Manager
	bookings BookingExpirer
	clock    clock.Clock
	cfg      SweeperConfig
	log      *zap.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	totalHolds    int64
	totalBookings int64
	lastSweep     time.Time
	lastExpired   int
}

// NewSweeper builds a sweeper. bookings may be nil, in which case only
// holds are expired.
func NewSweeper(m *Manager, bookings BookingExpirer, clk clock.Clock, cfg SweeperConfig, log *zap.Logger) *Sweeper {
	def := DefaultSweeperConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{manager: m, bookings: bookings, clock: clk, cfg: cfg, log: log}
}

// Start runs one sweep immediately and then one per interval until ctx is
// done or Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errs.New("expiry sweeper already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.log.Info("starting expiry sweeper", zap.Duration("interval", s.cfg.Interval))
	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.log.Info("expiry sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep at the clock's current time. Failures
// are logged; the next sweep retries whatever was left behind.
func (s *Sweeper) RunOnce(ctx context.Context) SweepResult {
	now := s.clock.Now()

	res, err := s.manager.SweepExpired(ctx, now, s.cfg.BatchSize)
	if err != nil {
		s.log.Error("sweep expired holds", zap.Error(err))
	}
	var bookings int
	if s.bookings != nil {
		bookings, err = s.bookings.ExpireOverdue(ctx, now, s.cfg.BatchSize)
		if err != nil {
			s.log.Error("expire overdue bookings", zap.Error(err))
		}
	}
	if res.Expired > 0 || bookings > 0 {
		s.log.Info("expired seat holds",
			zap.Int("holds", res.Expired), zap.Int("showtimes", res.Showtimes),
			zap.Int("bookings", bookings), zap.Int("failed_groups", res.Failed))
	}

	s.mu.Lock()
	s.lastSweep = now
	s.lastExpired = res.Expired
	s.totalHolds += int64(res.Expired)
	s.totalBookings += int64(bookings)
	s.mu.Unlock()
	return res
}

type SweeperStats struct {
	IsRunning     bool      `json:"is_running"`
	TotalHolds    int64     `json:"total_holds_expired"`
	TotalBookings int64     `json:"total_bookings_expired"`
	LastSweep     time.Time `json:"last_sweep"`
	LastExpired   int       `json:"last_expired_count"`
}

func (s *Sweeper) GetStats() SweeperStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SweeperStats{
		IsRunning:     s.running,
		TotalHolds:    s.totalHolds,
		TotalBookings: s.totalBookings,
		LastSweep:     s.lastSweep,
		LastExpired:   s.lastExpired,
	}
}
