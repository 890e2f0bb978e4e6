package capability

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Scope performs operations on one subject while the Coordinator holds its
// lock. Obtain one through Coordinator.WithSubject.
type Scope struct {
	c       *Coordinator
	subject uuid.UUID
}

// Snapshot is the state of one capability captured before a mutation, used
// to undo it.
type Snapshot struct {
	Capability string
	// Held is true when the backend reported the capability.
	Held bool
	// ExpiresAt is the backend expiry when Held; zero for permanent.
	ExpiresAt time.Time
	// Entry is the tracked timed entry, valid when Tracked.
	Entry   TimedCapability
	Tracked bool
}

// Subject returns the locked subject.
func (s *Scope) Subject() uuid.UUID { return s.subject }

// Grant attaches capability until expiresAt (zero: permanent).
func (s *Scope) Grant(ctx context.Context, capability string, expiresAt time.Time) error {
	if err := s.c.backend.Grant(ctx, s.subject, capability, expiresAt); err != nil {
		return fmt.Errorf("%w: grant %s: %w", ErrBackend, capability, err)
	}
	return nil
}

// Revoke detaches capability.
func (s *Scope) Revoke(ctx context.Context, capability string) error {
	if err := s.c.backend.Revoke(ctx, s.subject, capability); err != nil {
		return fmt.Errorf("%w: revoke %s: %w", ErrBackend, capability, err)
	}
	return nil
}

// Has reports whether the subject holds capability.
func (s *Scope) Has(ctx context.Context, capability string) (bool, error) {
	return s.c.Has(ctx, s.subject, capability)
}

// Track records a timed entry for the locked subject.
func (s *Scope) Track(capability string, expiresAt time.Time, purchaseID int64) {
	s.c.Track(TimedCapability{
		SubjectID:  s.subject,
		Capability: capability,
		ExpiresAt:  expiresAt,
		PurchaseID: purchaseID,
	})
}

// Untrack removes the timed entry for capability.
func (s *Scope) Untrack(capability string) {
	s.c.Untrack(s.subject, capability)
}

// Entry returns the tracked timed entry for capability.
func (s *Scope) Entry(capability string) (TimedCapability, bool) {
	return s.c.Entry(s.subject, capability)
}

// Snapshot captures the current state of capability.
func (s *Scope) Snapshot(ctx context.Context, capability string) (Snapshot, error) {
	snap := Snapshot{Capability: capability}
	snap.Entry, snap.Tracked = s.Entry(capability)

	if er, ok := s.c.backend.(ExpiryReader); ok {
		expiresAt, held, err := er.Expiry(ctx, s.subject, capability)
		if err != nil {
			return snap, fmt.Errorf("%w: snapshot %s: %w", ErrBackend, capability, err)
		}
		snap.Held, snap.ExpiresAt = held, expiresAt
		return snap, nil
	}

	held, err := s.Has(ctx, capability)
	if err != nil {
		return snap, err
	}
	snap.Held = held
	if held && snap.Tracked {
		snap.ExpiresAt = snap.Entry.ExpiresAt
	}
	return snap, nil
}

// Restore puts capability back into the state captured by snap: the prior
// grant and timed entry when there were any, otherwise nothing held.
func (s *Scope) Restore(ctx context.Context, snap Snapshot) error {
	if snap.Tracked {
		s.c.Track(snap.Entry)
	} else {
		s.Untrack(snap.Capability)
	}

	if snap.Held {
		return s.Grant(ctx, snap.Capability, snap.ExpiresAt)
	}
	return s.Revoke(ctx, snap.Capability)
}
