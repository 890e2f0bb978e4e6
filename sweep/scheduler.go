// Package sweep periodically revokes timed capabilities whose deadline has
// passed and retires the purchases behind them.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/xraph/warrant/capability"
	"github.com/xraph/warrant/clock"
	"github.com/xraph/warrant/id"
	"github.com/xraph/warrant/purchase"
)

// DefaultInterval is the sweep period when none is configured.
const DefaultInterval = 30 * time.Second

var (
	// ErrBusy is returned by Sweep when another sweep is still running.
	ErrBusy = errors.New("sweep: already running")
	// ErrStarted is returned by Start on a running Scheduler.
	ErrStarted = errors.New("sweep: already started")
)

// Report summarizes one sweep.
type Report struct {
	RunID     id.ID
	StartedAt time.Time
	Scanned   int
	Expired   int
	Failed    int
	Errors    []error
	Elapsed   time.Duration
}

// Err joins the per-entry errors.
func (r Report) Err() error { return errors.Join(r.Errors...) }

// Scheduler runs Sweep on a cron schedule.
type Scheduler struct {
	coord       *capability.Coordinator
	deactivator purchase.Deactivator

	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger
	hooks    []Hook
	executor Executor
	observer Observer

	running sync.Mutex

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the sweep period.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithHook adds a side-effect hook.
func WithHook(h Hook) Option {
	return func(s *Scheduler) { s.hooks = append(s.hooks, h) }
}

// WithExecutor sets where hook side effects run. Defaults to Inline.
func WithExecutor(e Executor) Option {
	return func(s *Scheduler) { s.executor = e }
}

// WithObserver sets the observer notified of expiries and reports.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observer = o }
}

// New returns a stopped Scheduler.
func New(coord *capability.Coordinator, deactivator purchase.Deactivator, opts ...Option) *Scheduler {
	s := &Scheduler{
		coord:       coord,
		deactivator: deactivator,
		interval:    DefaultInterval,
		clock:       clock.Real(),
		logger:      slog.Default(),
		executor:    Inline,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Interval returns the configured sweep period.
func (s *Scheduler) Interval() time.Duration { return s.interval }

// Start schedules a sweep every interval. Runs that would overlap a
// still-running sweep are skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return ErrStarted
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	logger := cronLogger{s.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), func() { s.tick(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("sweep: schedule: %w", err)
	}
	c.Start()

	s.cron, s.cancel = c, cancel
	s.logger.Info("sweep scheduler started", "interval", s.interval)
	return nil
}

// Stop halts the schedule, cancels an in-flight sweep and waits for it
// to return or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}

	cancel()
	select {
	case <-c.Stop().Done():
		s.logger.Info("sweep scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	report, err := s.Sweep(ctx)
	switch {
	case errors.Is(err, ErrBusy):
		s.logger.Debug("sweep skipped, previous run still active")
	case err != nil:
		s.logger.Warn("sweep finished with errors",
			"run_id", report.RunID.String(),
			"expired", report.Expired,
			"failed", report.Failed,
			"error", err,
		)
	case report.Expired > 0:
		s.logger.Info("sweep expired capabilities",
			"run_id", report.RunID.String(),
			"expired", report.Expired,
			"elapsed", report.Elapsed,
		)
	}
}

// Sweep revokes every tracked capability that has expired. At most one
// Sweep runs at a time. A failure on one entry is recorded in the Report
// and the sweep moves on; cancellation of ctx stops it between entries.
func (s *Scheduler) Sweep(ctx context.Context) (Report, error) {
	if !s.running.TryLock() {
		return Report{}, ErrBusy
	}
	defer s.running.Unlock()

	now := s.clock.Now()
	report := Report{
		RunID:     id.NewSweepRunID(),
		StartedAt: now,
		Scanned:   s.coord.Count(),
	}

	for _, tc := range s.coord.Expired(now) {
		if err := ctx.Err(); err != nil {
			report.Errors = append(report.Errors, err)
			break
		}

		expired, err := s.expire(ctx, tc, now)
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, err)
		}
		if !expired {
			continue
		}

		report.Expired++
		s.fireHooks(ctx, tc)
		if s.observer != nil {
			s.observer.OnExpired(ctx, tc)
		}
	}

	report.Elapsed = s.clock.Now().Sub(now)
	if s.observer != nil {
		s.observer.OnSweepCompleted(ctx, report)
	}
	return report, report.Err()
}

// expire retires tc if it is still the tracked, expired entry. expired is
// true once the capability has been revoked and untracked, even when the
// purchase could not be deactivated.
func (s *Scheduler) expire(ctx context.Context, tc capability.TimedCapability, now time.Time) (expired bool, err error) {
	err = s.coord.WithSubject(tc.SubjectID, func(sc *capability.Scope) error {
		cur, ok := sc.Entry(tc.Capability)
		if !ok || cur.PurchaseID != tc.PurchaseID || !cur.ExpiresAt.Equal(tc.ExpiresAt) || !cur.Expired(now) {
			return nil
		}

		if err := sc.Revoke(ctx, tc.Capability); err != nil {
			return fmt.Errorf("sweep: revoke %s from %s: %w", tc.Capability, tc.SubjectID, err)
		}
		sc.Untrack(tc.Capability)
		expired = true

		if s.deactivator == nil || tc.PurchaseID <= 0 {
			return nil
		}
		if _, err := s.deactivator.Deactivate(ctx, tc.PurchaseID); err != nil {
			return fmt.Errorf("sweep: deactivate purchase %d: %w", tc.PurchaseID, err)
		}
		return nil
	})
	return expired, err
}

func (s *Scheduler) fireHooks(ctx context.Context, tc capability.TimedCapability) {
	for _, h := range s.hooks {
		if h.Match == nil || h.Run == nil || !h.Match(tc.Capability) {
			continue
		}
		h := h
		s.executor.Submit(func() {
			if err := h.Run(ctx, tc); err != nil {
				s.logger.Warn("sweep hook failed",
					"hook", h.Name,
					"capability", tc.Capability,
					"subject", tc.SubjectID,
					"error", err,
				)
			}
		})
	}
}

// cronLogger routes robfig/cron logging to slog.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
