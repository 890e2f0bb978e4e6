// Package capability grants and revokes named capabilities on subjects and
// tracks the ones that expire.
//
// A Backend stores the grants. The Coordinator serializes every mutation of
// one subject, keeps the timed index that the expiry sweep walks, and
// reconciles a subject's live state when it connects.
package capability

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrBackend wraps every failure reported by a Backend.
var ErrBackend = errors.New("capability: backend failure")

// Backend attaches capabilities to subjects. A zero expiresAt grants a
// permanent capability.
type Backend interface {
	Grant(ctx context.Context, subject uuid.UUID, capability string, expiresAt time.Time) error
	Revoke(ctx context.Context, subject uuid.UUID, capability string) error
	Check(ctx context.Context, subject uuid.UUID, capability string) (bool, error)
}

// RichBackend is a durable, externally administered Backend.
type RichBackend interface {
	Backend
	Ping(ctx context.Context) error
}

// SessionBackend is implemented by backends whose state only lives while
// the subject is connected.
type SessionBackend interface {
	Drop(subject uuid.UUID)
}

// ExpiryReader is implemented by backends that can report the expiry a
// capability was granted with. ok is false when the capability is not held.
type ExpiryReader interface {
	Expiry(ctx context.Context, subject uuid.UUID, capability string) (expiresAt time.Time, ok bool, err error)
}
