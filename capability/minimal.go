package capability

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/warrant/clock"
)

var (
	_ Backend        = (*Minimal)(nil)
	_ SessionBackend = (*Minimal)(nil)
	_ ExpiryReader   = (*Minimal)(nil)
)

// Minimal is the in-process fallback Backend. Grants are attached to the
// live subject session: Drop discards them and nothing survives a restart.
// Check honours expiry on its own so a capability never outlives its
// deadline even when the sweep has not run yet.
type Minimal struct {
	mu    sync.RWMutex
	nodes map[uuid.UUID]map[string]time.Time
	clock clock.Clock
}

// NewMinimal returns an empty Minimal backend reading time from clk.
func NewMinimal(clk clock.Clock) *Minimal {
	if clk == nil {
		clk = clock.Real()
	}
	return &Minimal{
		nodes: make(map[uuid.UUID]map[string]time.Time),
		clock: clk,
	}
}

// Grant implements Backend.
func (m *Minimal) Grant(_ context.Context, subject uuid.UUID, capability string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	caps, ok := m.nodes[subject]
	if !ok {
		caps = make(map[string]time.Time)
		m.nodes[subject] = caps
	}
	caps[capability] = expiresAt
	return nil
}

// Revoke implements Backend. Revoking a capability that is not held is a
// no-op.
func (m *Minimal) Revoke(_ context.Context, subject uuid.UUID, capability string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	caps, ok := m.nodes[subject]
	if !ok {
		return nil
	}
	delete(caps, capability)
	if len(caps) == 0 {
		delete(m.nodes, subject)
	}
	return nil
}

// Check implements Backend.
func (m *Minimal) Check(_ context.Context, subject uuid.UUID, capability string) (bool, error) {
	m.mu.RLock()
	expiresAt, ok := m.nodes[subject][capability]
	m.mu.RUnlock()

	return ok && live(expiresAt, m.clock.Now()), nil
}

// Expiry implements ExpiryReader.
func (m *Minimal) Expiry(_ context.Context, subject uuid.UUID, capability string) (time.Time, bool, error) {
	m.mu.RLock()
	expiresAt, ok := m.nodes[subject][capability]
	m.mu.RUnlock()

	if !ok || !live(expiresAt, m.clock.Now()) {
		return time.Time{}, false, nil
	}
	return expiresAt, true, nil
}

// Drop implements SessionBackend.
func (m *Minimal) Drop(subject uuid.UUID) {
	m.mu.Lock()
	delete(m.nodes, subject)
	m.mu.Unlock()
}

// Capabilities returns the live capabilities of subject, sorted.
func (m *Minimal) Capabilities(subject uuid.UUID) []string {
	now := m.clock.Now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.nodes[subject]))
	for name, expiresAt := range m.nodes[subject] {
		if live(expiresAt, now) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func live(expiresAt, now time.Time) bool {
	return expiresAt.IsZero() || expiresAt.After(now)
}
