// Package sweep runs prepared-transaction maintenance on a schedule.
//
// Each run lists orphaned snapshots (reported, never resolved) and purges
// snapshots past their expiry.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/roach88/tview/internal/engine"
)

// ErrRunning is returned by Start on a sweeper that is already running.
var ErrRunning = errors.New("sweeper already running")

// Maintainer is the part of the engine a sweep drives.
type Maintainer interface {
	RecoverPrepared(ctx context.Context) ([]engine.Orphan, error)
	PurgeExpired(ctx context.Context) ([]string, error)
}

// Report is the outcome of one sweep.
type Report struct {
	At      time.Time       `json:"at"`
	Orphans []engine.Orphan `json:"orphans"`
	Purged  []string        `json:"purged"`
	Err     string          `json:"error,omitempty"`
}

// Sweeper schedules sweeps with a cron expression ("@every 5m",
// "0 */1 * * *").
type Sweeper struct {
	m        Maintainer
	schedule string
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	last    Report
	runs    int
	running bool
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sweeper) { s.logger = l }
}

// WithNow sets the clock stamped on reports.
func WithNow(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// New creates a sweeper. The schedule is parsed here so a bad expression
// fails before anything starts.
func New(m Maintainer, schedule string, opts ...Option) (*Sweeper, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	s := &Sweeper{
		m:        m,
		schedule: schedule,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RunOnce sweeps immediately.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	r := Report{At: s.now().UTC()}
	orphans, err := s.m.RecoverPrepared(ctx)
	if err == nil {
		r.Orphans = orphans
		r.Purged, err = s.m.PurgeExpired(ctx)
	}
	if err != nil {
		r.Err = err.Error()
	}

	s.mu.Lock()
	s.last = r
	s.runs++
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("sweep failed", "error", err)
		return r, err
	}
	if len(r.Orphans) > 0 || len(r.Purged) > 0 {
		s.logger.Warn("sweep found prepared snapshots to attend to",
			"orphans", len(r.Orphans),
			"purged", len(r.Purged))
	} else {
		s.logger.Debug("sweep clean")
	}
	return r, nil
}

// Start schedules sweeps until ctx is done or Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrRunning
	}

	c := cron.New()
	id, err := c.AddFunc(s.schedule, func() {
		s.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	c.Start()
	s.cron = c
	s.running = true
	s.logger.Info("sweeper started", "schedule", s.schedule, "next", c.Entry(id).Next)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish. Stopping
// a stopped sweeper is a no-op.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	c := s.cron
	s.running = false
	s.cron = nil
	s.mu.Unlock()

	<-c.Stop().Done()
	s.logger.Info("sweeper stopped")
}

// Running reports whether sweeps are scheduled.
func (s *Sweeper) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Last returns the most recent report and the number of sweeps run.
func (s *Sweeper) Last() (Report, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.runs
}
