package capability

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// TimedCapability is the in-memory record of a capability that expires.
// There is at most one per (subject, capability).
type TimedCapability struct {
	SubjectID  uuid.UUID `json:"subject_id"`
	Capability string    `json:"capability"`
	ExpiresAt  time.Time `json:"expires_at"`
	PurchaseID int64     `json:"purchase_id"`
}

// Expired reports whether the entry's deadline has passed at now.
func (t TimedCapability) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// Remaining returns the time left before expiry, never negative.
func (t TimedCapability) Remaining(now time.Time) time.Duration {
	if d := t.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// timedIndex is keyed by subject then capability. Callers hold the
// Coordinator's index lock.
type timedIndex map[uuid.UUID]map[string]TimedCapability

func (ix timedIndex) put(tc TimedCapability) {
	caps, ok := ix[tc.SubjectID]
	if !ok {
		caps = make(map[string]TimedCapability)
		ix[tc.SubjectID] = caps
	}
	caps[tc.Capability] = tc
}

func (ix timedIndex) get(subject uuid.UUID, capability string) (TimedCapability, bool) {
	tc, ok := ix[subject][capability]
	return tc, ok
}

func (ix timedIndex) remove(subject uuid.UUID, capability string) {
	caps, ok := ix[subject]
	if !ok {
		return
	}
	delete(caps, capability)
	if len(caps) == 0 {
		delete(ix, subject)
	}
}

func (ix timedIndex) list(subject uuid.UUID) []TimedCapability {
	out := make([]TimedCapability, 0, len(ix[subject]))
	for _, tc := range ix[subject] {
		out = append(out, tc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Capability < out[j].Capability })
	return out
}
