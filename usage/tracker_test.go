package usage_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/warrant/catalog"
	"github.com/xraph/warrant/purchase"
	"github.com/xraph/warrant/store/memory"
	"github.com/xraph/warrant/usage"
)

var items = catalog.MustStatic(
	catalog.Item{ID: "heal3", Name: "Heal x3", Kind: catalog.KindLimited, Uses: 3, Capability: "essentials.heal", Action: "heal"},
	catalog.Item{ID: "feed5", Name: "Feed x5", Kind: catalog.KindLimited, Uses: 5, Capability: "essentials.feed", Action: "feed"},
)

// failingStore fails UpdateRemainingUses while fail is set.
type failingStore struct {
	*memory.Store
	mu   sync.Mutex
	fail bool
}

func (f *failingStore) UpdateRemainingUses(ctx context.Context, id int64, n int) (bool, error) {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return false, errors.New("disk full")
	}
	return f.Store.UpdateRemainingUses(ctx, id, n)
}

func saved(t *testing.T, s purchase.Store, subject uuid.UUID, itemID string, uses int) *purchase.Purchase {
	t.Helper()
	p := purchase.New(subject, itemID, time.Now(), time.Time{}, uses, true)
	if _, err := s.Save(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestConsumeExhausts(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	tr := usage.New(st, items)
	subject := uuid.New()

	p := saved(t, st, subject, "heal3", 3)
	tr.Add(p)

	for want := 2; want >= 0; want-- {
		got, ok, err := tr.Consume(ctx, subject, "heal")
		if err != nil || !ok {
			t.Fatalf("Consume = %v, %v", ok, err)
		}
		if got.RemainingUses != want {
			t.Errorf("remaining = %d, want %d", got.RemainingUses, want)
		}
	}

	if _, ok, _ := tr.Consume(ctx, subject, "heal"); ok {
		t.Error("fourth use consumed")
	}
	if tr.Has(subject, "heal3") {
		t.Error("exhausted grant still tracked")
	}
	row, _ := st.FindByID(ctx, p.ID)
	if row.Active || row.RemainingUses != 0 {
		t.Errorf("stored row = %+v", row)
	}
}

func TestMatching(t *testing.T) {
	st := memory.New()
	tr := usage.New(st, items)
	subject := uuid.New()
	tr.Add(saved(t, st, subject, "heal3", 3))

	tests := []struct {
		action string
		want   bool
	}{
		{"heal", true},
		{"heal Steve", true},
		{"HEAL", true},
		{"feed", false},
		{"he", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			if got := tr.CanConsume(subject, tt.action); got != tt.want {
				t.Errorf("CanConsume(%q) = %v, want %v", tt.action, got, tt.want)
			}
		})
	}
}

func TestConsumeOrder(t *testing.T) {
	ctx := context.Background()
	overlap := catalog.MustStatic(
		catalog.Item{ID: "b_spawn", Kind: catalog.KindLimited, Uses: 1, Capability: "x", Action: "spawn"},
		catalog.Item{ID: "a_spawn", Kind: catalog.KindLimited, Uses: 1, Capability: "y", Action: "spawn"},
	)
	st := memory.New()
	tr := usage.New(st, overlap)
	subject := uuid.New()
	tr.Add(saved(t, st, subject, "b_spawn", 1))
	tr.Add(saved(t, st, subject, "a_spawn", 1))

	p, ok, err := tr.Consume(ctx, subject, "spawn")
	if err != nil || !ok {
		t.Fatal(ok, err)
	}
	if p.ItemID != "a_spawn" {
		t.Errorf("consumed %s first, want a_spawn", p.ItemID)
	}
}

func TestPersistFailureRestoresCount(t *testing.T) {
	ctx := context.Background()
	st := &failingStore{Store: memory.New()}
	tr := usage.New(st, items)
	subject := uuid.New()
	tr.Add(saved(t, st, subject, "heal3", 3))

	st.fail = true
	if _, ok, err := tr.Consume(ctx, subject, "heal"); err == nil || ok {
		t.Fatalf("Consume = %v, %v; want failure", ok, err)
	}
	if g := tr.Grants(subject); len(g) != 1 || g[0].Purchase.RemainingUses != 3 {
		t.Errorf("count not restored: %+v", g)
	}

	st.mu.Lock()
	st.fail = false
	st.mu.Unlock()
	p, ok, err := tr.Consume(ctx, subject, "heal")
	if err != nil || !ok || p.RemainingUses != 2 {
		t.Errorf("Consume after recovery = %+v, %v, %v", p, ok, err)
	}
}

func TestConcurrentConsumeNeverOverspends(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	tr := usage.New(st, items)
	subject := uuid.New()
	p := saved(t, st, subject, "feed5", 5)
	tr.Add(p)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		consumed int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, err := tr.Consume(ctx, subject, "feed"); ok && err == nil {
				mu.Lock()
				consumed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if consumed != 5 {
		t.Errorf("consumed %d uses, want 5", consumed)
	}
	row, _ := st.FindByID(ctx, p.ID)
	if row.RemainingUses != 0 || row.Active {
		t.Errorf("stored row = %+v", row)
	}
}

func TestRemovedGrantNotConsumed(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	tr := usage.New(st, items)
	subject := uuid.New()
	tr.Add(saved(t, st, subject, "heal3", 3))

	tr.Remove(subject, "heal3")
	if _, ok, _ := tr.Consume(ctx, subject, "heal"); ok {
		t.Error("removed grant consumed")
	}

	tr.Add(saved(t, st, subject, "heal3", 3))
	tr.DropSubject(subject)
	if tr.CanConsume(subject, "heal") {
		t.Error("grant survived DropSubject")
	}
}

func TestSupersede(t *testing.T) {
	ctx := context.Background()
	saveTo := func(st purchase.Store) func(*purchase.Purchase) error {
		return func(p *purchase.Purchase) error {
			_, err := st.Save(ctx, p)
			return err
		}
	}

	tests := []struct {
		name     string
		live     bool
		saveErr  error
		wantUses int
	}{
		{"live grant", true, nil, 5},
		{"stored grant only", false, nil, 5},
		{"save fails", true, errors.New("disk full"), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := memory.New()
			tr := usage.New(st, items)
			subject := uuid.New()

			prior := saved(t, st, subject, "heal3", 3)
			if tt.live {
				tr.Add(prior)
				if _, ok, _ := tr.Consume(ctx, subject, "heal"); !ok {
					t.Fatal("consume refused")
				}
			} else if _, err := st.UpdateRemainingUses(ctx, prior.ID, 2); err != nil {
				t.Fatal(err)
			}

			save := saveTo(st)
			if tt.saveErr != nil {
				save = func(*purchase.Purchase) error { return tt.saveErr }
			}
			p := purchase.New(subject, "heal3", time.Now(), time.Time{}, 3, true)
			replaced, err := tr.Supersede(ctx, p, save)

			if tt.saveErr != nil {
				if !errors.Is(err, tt.saveErr) || replaced != nil {
					t.Fatalf("Supersede = %v, %v", replaced, err)
				}
				if p.RemainingUses != 3 {
					t.Errorf("uses not restored after failed save: %d", p.RemainingUses)
				}
				grants := tr.Grants(subject)
				if len(grants) != 1 || grants[0].Purchase.ID != prior.ID || grants[0].Purchase.RemainingUses != tt.wantUses {
					t.Errorf("grants = %+v", grants)
				}
				return
			}

			if err != nil {
				t.Fatalf("Supersede: %v", err)
			}
			if replaced == nil || replaced.ID != prior.ID {
				t.Errorf("replaced = %+v", replaced)
			}
			grants := tr.Grants(subject)
			if len(grants) != 1 || grants[0].Purchase.ID != p.ID || grants[0].Purchase.RemainingUses != tt.wantUses {
				t.Errorf("grants = %+v", grants)
			}
			row, _ := st.FindByID(ctx, prior.ID)
			if row.Active {
				t.Error("replaced row still active")
			}
			row, _ = st.FindByID(ctx, p.ID)
			if !row.Active || row.RemainingUses != tt.wantUses {
				t.Errorf("new row = %+v", row)
			}
		})
	}
}
