// Package storetest is a contract suite every store.Store implementation
// must pass.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/warrant"
	"github.com/xraph/warrant/purchase"
	"github.com/xraph/warrant/store"
)

// Factory returns a migrated, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run executes the contract suite.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"SaveAssignsIncreasingIDs", testSaveAssignsIncreasingIDs},
		{"RoundTrip", testRoundTrip},
		{"FindBySubjectIsolation", testFindBySubjectIsolation},
		{"FindByIDMissing", testFindByIDMissing},
		{"Deactivate", testDeactivate},
		{"UpdateRemainingUses", testUpdateRemainingUses},
		{"ConcurrentSave", testConcurrentSave},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

var base = time.UnixMilli(1767225600000)

func testSaveAssignsIncreasingIDs(t *testing.T, s store.Store) {
	ctx := context.Background()
	subject := uuid.New()

	var last int64
	for i := 0; i < 5; i++ {
		p := purchase.New(subject, "item", base, time.Time{}, purchase.Unlimited, true)
		id, err := s.Save(ctx, p)
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
		if id <= last {
			t.Fatalf("id %d not greater than previous %d", id, last)
		}
		if p.ID != id {
			t.Errorf("Save did not write id back: p.ID=%d id=%d", p.ID, id)
		}
		last = id
	}
}

func testRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	subject := uuid.New()

	cases := []*purchase.Purchase{
		purchase.New(subject, "vip_day", base, base.Add(24*time.Hour), purchase.Unlimited, true),
		purchase.New(subject, "heal5", base.Add(time.Second), time.Time{}, 5, true),
		purchase.New(subject, "crate", base.Add(2*time.Second), base.Add(2*time.Second), 0, false),
		// Sub-millisecond input is truncated before it reaches the store.
		purchase.New(subject, "vip_hour", base.Add(3*time.Second+456789), base.Add(time.Hour+999999), purchase.Unlimited, true),
	}
	for _, p := range cases {
		if _, err := s.Save(ctx, p); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	got, err := s.FindBySubject(ctx, subject)
	if err != nil {
		t.Fatalf("FindBySubject: %v", err)
	}
	if len(got) != len(cases) {
		t.Fatalf("got %d purchases, want %d", len(got), len(cases))
	}
	for i, want := range cases {
		assertEqual(t, got[i], want)

		byID, err := s.FindByID(ctx, want.ID)
		if err != nil {
			t.Fatalf("FindByID(%d): %v", want.ID, err)
		}
		assertEqual(t, byID, want)
	}
}

func testFindBySubjectIsolation(t *testing.T, s store.Store) {
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	for _, subj := range []uuid.UUID{alice, bob, alice} {
		if _, err := s.Save(ctx, purchase.New(subj, "x", base, time.Time{}, 1, true)); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.FindBySubject(ctx, alice)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("alice has %d purchases, want 2", len(got))
	}
	if got[0].ID >= got[1].ID {
		t.Error("purchases not ordered by id")
	}

	none, err := s.FindBySubject(ctx, uuid.New())
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("unknown subject has %d purchases", len(none))
	}
}

func testFindByIDMissing(t *testing.T, s store.Store) {
	_, err := s.FindByID(context.Background(), 987654)
	if !errors.Is(err, warrant.ErrPurchaseNotFound) {
		t.Errorf("FindByID(missing) error = %v, want ErrPurchaseNotFound", err)
	}
}

func testDeactivate(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := purchase.New(uuid.New(), "vip", base, base.Add(time.Hour), purchase.Unlimited, true)
	if _, err := s.Save(ctx, p); err != nil {
		t.Fatal(err)
	}

	ok, err := s.Deactivate(ctx, p.ID)
	if err != nil || !ok {
		t.Fatalf("Deactivate = %v, %v", ok, err)
	}
	got, err := s.FindByID(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Active {
		t.Error("purchase still active")
	}

	ok, err = s.Deactivate(ctx, p.ID+1000)
	if err != nil || ok {
		t.Errorf("Deactivate(missing) = %v, %v; want false, nil", ok, err)
	}
}

func testUpdateRemainingUses(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := purchase.New(uuid.New(), "heal", base, time.Time{}, 3, true)
	if _, err := s.Save(ctx, p); err != nil {
		t.Fatal(err)
	}

	ok, err := s.UpdateRemainingUses(ctx, p.ID, 2)
	if err != nil || !ok {
		t.Fatalf("UpdateRemainingUses = %v, %v", ok, err)
	}
	got, err := s.FindByID(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.RemainingUses != 2 || !got.Active {
		t.Errorf("got uses=%d active=%v", got.RemainingUses, got.Active)
	}

	ok, err = s.UpdateRemainingUses(ctx, p.ID+1000, 1)
	if err != nil || ok {
		t.Errorf("UpdateRemainingUses(missing) = %v, %v; want false, nil", ok, err)
	}
}

func testConcurrentSave(t *testing.T, s store.Store) {
	ctx := context.Background()
	subject := uuid.New()

	const n = 20
	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := s.Save(ctx, purchase.New(subject, "x", base, time.Time{}, 1, true))
			if err != nil {
				t.Errorf("Save: %v", err)
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		if seen[id] {
			t.Errorf("duplicate id %d", id)
		}
		seen[id] = true
	}

	got, err := s.FindBySubject(ctx, subject)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != n {
		t.Errorf("stored %d purchases, want %d", len(got), n)
	}
}

func assertEqual(t *testing.T, got, want *purchase.Purchase) {
	t.Helper()
	if got.ID != want.ID ||
		got.SubjectID != want.SubjectID ||
		got.ItemID != want.ItemID ||
		!got.PurchasedAt.Equal(want.PurchasedAt) ||
		!got.ExpiresAt.Equal(want.ExpiresAt) ||
		got.ExpiresAt.IsZero() != want.ExpiresAt.IsZero() ||
		got.RemainingUses != want.RemainingUses ||
		got.Active != want.Active {
		t.Errorf("purchase mismatch:\n got  %+v\n want %+v", got, want)
	}
}
