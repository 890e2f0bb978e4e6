package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/warrant/clock"
	"github.com/xraph/warrant/purchase"
)

// Coordinator is the single entry point for capability mutations. All
// grants and revocations of one subject are serialized, so concurrent
// callers observe them in program order and never lose an update.
type Coordinator struct {
	backend     Backend
	clock       clock.Clock
	logger      *slog.Logger
	deactivator purchase.Deactivator

	locksMu sync.Mutex
	locks   map[uuid.UUID]*subjectLock

	indexMu sync.RWMutex
	index   timedIndex
}

type subjectLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the time source used for expiry decisions.
func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(co *Coordinator) { co.logger = l }
}

// WithDeactivator sets the store used to retire purchases whose timed
// capability is found expired on connect.
func WithDeactivator(d purchase.Deactivator) Option {
	return func(co *Coordinator) { co.deactivator = d }
}

// New returns a Coordinator over backend.
func New(backend Backend, opts ...Option) *Coordinator {
	c := &Coordinator{
		backend: backend,
		clock:   clock.Real(),
		logger:  slog.Default(),
		locks:   make(map[uuid.UUID]*subjectLock),
		index:   make(timedIndex),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Backend returns the backend chosen at construction.
func (c *Coordinator) Backend() Backend { return c.backend }

// Rich reports whether the backend is a RichBackend.
func (c *Coordinator) Rich() bool {
	_, ok := c.backend.(RichBackend)
	return ok
}

// ──────────────────────────────────────────────────
// Locked operations
// ──────────────────────────────────────────────────

// WithSubject runs fn while holding subject's lock. Operations on the Scope
// must not be called after fn returns.
func (c *Coordinator) WithSubject(subject uuid.UUID, fn func(*Scope) error) error {
	unlock := c.lock(subject)
	defer unlock()
	return fn(&Scope{c: c, subject: subject})
}

// Grant attaches capability to subject until expiresAt (zero: permanent).
func (c *Coordinator) Grant(ctx context.Context, subject uuid.UUID, capability string, expiresAt time.Time) error {
	return c.WithSubject(subject, func(s *Scope) error {
		return s.Grant(ctx, capability, expiresAt)
	})
}

// Revoke detaches capability from subject.
func (c *Coordinator) Revoke(ctx context.Context, subject uuid.UUID, capability string) error {
	return c.WithSubject(subject, func(s *Scope) error {
		return s.Revoke(ctx, capability)
	})
}

// Has reports whether subject currently holds capability.
func (c *Coordinator) Has(ctx context.Context, subject uuid.UUID, capability string) (bool, error) {
	ok, err := c.backend.Check(ctx, subject, capability)
	if err != nil {
		return false, fmt.Errorf("%w: check %s: %w", ErrBackend, capability, err)
	}
	return ok, nil
}

// Disconnect discards session-scoped backend state for subject. The timed
// index is kept so expiry still happens while the subject is away.
func (c *Coordinator) Disconnect(subject uuid.UUID) {
	if sb, ok := c.backend.(SessionBackend); ok {
		unlock := c.lock(subject)
		sb.Drop(subject)
		unlock()
	}
}

// ReconcileOnConnect restores every tracked capability of subject that is
// still live and retires every one that expired while it was away. Errors
// are collected; the remaining entries are still processed.
func (c *Coordinator) ReconcileOnConnect(ctx context.Context, subject uuid.UUID) (restored, expired int, err error) {
	var errs []error

	_ = c.WithSubject(subject, func(s *Scope) error {
		now := c.clock.Now()
		for _, tc := range c.Timed(subject) {
			if !tc.Expired(now) {
				if gerr := s.Grant(ctx, tc.Capability, tc.ExpiresAt); gerr != nil {
					errs = append(errs, gerr)
					continue
				}
				restored++
				continue
			}

			if rerr := s.Revoke(ctx, tc.Capability); rerr != nil {
				errs = append(errs, rerr)
				continue
			}
			s.Untrack(tc.Capability)
			expired++

			if c.deactivator == nil || tc.PurchaseID <= 0 {
				continue
			}
			if _, derr := c.deactivator.Deactivate(ctx, tc.PurchaseID); derr != nil {
				errs = append(errs, fmt.Errorf("deactivate purchase %d: %w", tc.PurchaseID, derr))
			}
		}
		return nil
	})

	if len(errs) > 0 {
		c.logger.Warn("capability reconcile incomplete",
			"subject", subject,
			"restored", restored,
			"expired", expired,
			"errors", len(errs),
		)
	}
	return restored, expired, errors.Join(errs...)
}

// ──────────────────────────────────────────────────
// Timed index
// ──────────────────────────────────────────────────

// Track records tc, replacing any entry for the same (subject, capability).
func (c *Coordinator) Track(tc TimedCapability) {
	c.indexMu.Lock()
	c.index.put(tc)
	c.indexMu.Unlock()
}

// Untrack removes the entry for (subject, capability), if any.
func (c *Coordinator) Untrack(subject uuid.UUID, capability string) {
	c.indexMu.Lock()
	c.index.remove(subject, capability)
	c.indexMu.Unlock()
}

// Timed returns subject's tracked entries sorted by capability.
func (c *Coordinator) Timed(subject uuid.UUID) []TimedCapability {
	c.indexMu.RLock()
	defer c.indexMu.RUnlock()
	return c.index.list(subject)
}

// Entry returns the tracked entry for (subject, capability).
func (c *Coordinator) Entry(subject uuid.UUID, capability string) (TimedCapability, bool) {
	c.indexMu.RLock()
	defer c.indexMu.RUnlock()
	return c.index.get(subject, capability)
}

// Subjects returns the subjects with at least one tracked entry.
func (c *Coordinator) Subjects() []uuid.UUID {
	c.indexMu.RLock()
	out := make([]uuid.UUID, 0, len(c.index))
	for subject := range c.index {
		out = append(out, subject)
	}
	c.indexMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Count returns the number of tracked entries across all subjects.
func (c *Coordinator) Count() int {
	c.indexMu.RLock()
	defer c.indexMu.RUnlock()

	n := 0
	for _, caps := range c.index {
		n += len(caps)
	}
	return n
}

// Expired returns every tracked entry whose deadline has passed at now.
func (c *Coordinator) Expired(now time.Time) []TimedCapability {
	c.indexMu.RLock()
	defer c.indexMu.RUnlock()

	var out []TimedCapability
	for subject := range c.index {
		for _, tc := range c.index.list(subject) {
			if tc.Expired(now) {
				out = append(out, tc)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ExpiresAt.Before(out[j].ExpiresAt)
		}
		return out[i].PurchaseID < out[j].PurchaseID
	})
	return out
}

func (c *Coordinator) lock(subject uuid.UUID) func() {
	c.locksMu.Lock()
	l, ok := c.locks[subject]
	if !ok {
		l = &subjectLock{}
		c.locks[subject] = l
	}
	l.refs++
	c.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		c.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, subject)
		}
		c.locksMu.Unlock()
	}
}
