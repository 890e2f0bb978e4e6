package purchase

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestPurchasePredicates(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s := uuid.New()

	timed := New(s, "vip", now, now.Add(time.Hour), Unlimited, true)
	if timed.Saved() {
		t.Error("new purchase reported saved")
	}
	if timed.Permanent() || timed.Expired(now) || !timed.Expired(now.Add(time.Hour)) {
		t.Error("timed expiry predicates wrong")
	}
	if !timed.HasUsesRemaining() {
		t.Error("unlimited purchase should have uses")
	}

	perm := New(s, "fly", now, time.Time{}, Unlimited, true)
	if !perm.Permanent() || perm.Expired(now.Add(1000*time.Hour)) {
		t.Error("permanent purchase should never expire")
	}

	limited := New(s, "heal", now, time.Time{}, 0, true)
	if limited.HasUsesRemaining() {
		t.Error("exhausted purchase reported uses")
	}

	limited.ID = 7
	c := limited.Clone()
	c.RemainingUses = 3
	if limited.RemainingUses != 0 || !c.Saved() {
		t.Error("Clone shares state or lost ID")
	}
}

func TestNewTruncatesToStorePrecision(t *testing.T) {
	at := time.Date(2026, 5, 1, 10, 0, 0, 123456789, time.UTC)
	p := New(uuid.New(), "vip", at, at.Add(time.Hour), Unlimited, true)

	if want := time.Date(2026, 5, 1, 10, 0, 0, 123000000, time.UTC); !p.PurchasedAt.Equal(want) {
		t.Errorf("PurchasedAt = %v, want %v", p.PurchasedAt, want)
	}
	if want := time.Date(2026, 5, 1, 11, 0, 0, 123000000, time.UTC); !p.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", p.ExpiresAt, want)
	}

	perm := New(uuid.New(), "fly", at, time.Time{}, Unlimited, true)
	if !perm.Permanent() {
		t.Error("zero expiry lost by truncation")
	}
}
