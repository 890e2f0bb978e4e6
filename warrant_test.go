package warrant_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/warrant"
	"github.com/xraph/warrant/action"
	audithook "github.com/xraph/warrant/audit_hook"
	"github.com/xraph/warrant/capability"
	"github.com/xraph/warrant/catalog"
	"github.com/xraph/warrant/clock"
	"github.com/xraph/warrant/economy"
	"github.com/xraph/warrant/plugin"
	"github.com/xraph/warrant/purchase"
	"github.com/xraph/warrant/store/memory"
	"github.com/xraph/warrant/types"
)

var epoch = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func testCatalog() *catalog.Static {
	return catalog.MustStatic(
		catalog.Item{ID: "fly_hour", Name: "Flight (1h)", Price: types.Units(10), Kind: catalog.KindTimed, Duration: time.Hour, Capability: "essentials.fly"},
		catalog.Item{ID: "fly_forever", Name: "Flight", Price: types.Units(500), Kind: catalog.KindPermanent, Capability: "essentials.fly"},
		catalog.Item{ID: "heal3", Name: "Heal x3", Price: types.Units(5), Kind: catalog.KindLimited, Uses: 3, Capability: "essentials.heal", Action: "heal"},
		catalog.Item{ID: "diamonds", Name: "Diamonds", Price: types.FromFloat(2.5), Kind: catalog.KindOneShot, Action: "give {player} diamond 5"},
		catalog.Item{ID: "home_slot", Name: "Extra home", Price: types.Units(20), Kind: catalog.KindResourceLimit, Uses: 1},
		catalog.Item{ID: "broken_timed", Name: "Broken", Price: types.Units(1), Kind: catalog.KindTimed, Capability: "x.broken"},
		catalog.Item{ID: "broken_limited", Name: "Broken", Price: types.Units(1), Kind: catalog.KindLimited, Capability: "x.broken", Action: "broken"},
	)
}

// faultyStore wraps the memory store and fails Save while failSave is set.
type faultyStore struct {
	*memory.Store
	mu       sync.Mutex
	failSave bool
}

func (f *faultyStore) setFailSave(v bool) {
	f.mu.Lock()
	f.failSave = v
	f.mu.Unlock()
}

func (f *faultyStore) Save(ctx context.Context, p *purchase.Purchase) (int64, error) {
	f.mu.Lock()
	fail := f.failSave
	f.mu.Unlock()
	if fail {
		return purchase.Unsaved, errors.New("disk I/O error")
	}
	return f.Store.Save(ctx, p)
}

// brokenDebit is a wallet whose Debit always fails.
type brokenDebit struct{ *economy.Wallet }

func (brokenDebit) Debit(context.Context, uuid.UUID, types.Amount) error {
	return errors.New("ledger offline")
}

type quota struct {
	mu     sync.Mutex
	raised map[uuid.UUID]int
}

func (q *quota) Name() string { return "homes" }

func (q *quota) RaiseLimit(_ context.Context, subject uuid.UUID, n int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.raised == nil {
		q.raised = make(map[uuid.UUID]int)
	}
	q.raised[subject] += n
	return nil
}

type harness struct {
	w       *warrant.Warrant
	store   *faultyStore
	wallet  *economy.Wallet
	clock   *clock.FakeClock
	actions []string
}

func newHarness(t *testing.T, opts ...warrant.Option) *harness {
	t.Helper()

	h := &harness{
		store:  &faultyStore{Store: memory.New()},
		wallet: economy.NewWallet("$"),
		clock:  clock.Fake(epoch),
	}
	dispatcher := action.DispatcherFunc(func(_ context.Context, tmpl string, subject uuid.UUID) error {
		h.actions = append(h.actions, action.Expand(tmpl, subject, map[string]string{"player": "Steve"}))
		return nil
	})

	base := []warrant.Option{
		warrant.WithClock(h.clock),
		warrant.WithCapabilityBackend(capability.NewMinimal(h.clock)),
		warrant.WithDispatcher(dispatcher),
		warrant.WithoutSweep(),
	}
	h.w = warrant.New(h.store, testCatalog(), h.wallet, append(base, opts...)...)

	ctx := context.Background()
	if err := h.w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = h.w.Stop(ctx) })
	return h
}

func (h *harness) funded(amount types.Amount) uuid.UUID {
	subject := uuid.New()
	h.wallet.Deposit(subject, amount)
	return subject
}

func (h *harness) rows(t *testing.T, subject uuid.UUID) []*purchase.Purchase {
	t.Helper()
	rows, err := h.store.FindBySubject(context.Background(), subject)
	if err != nil {
		t.Fatal(err)
	}
	return rows
}

func TestNotStarted(t *testing.T) {
	w := warrant.New(memory.New(), testCatalog(), economy.NewWallet("$"))
	_, err := w.Purchase(context.Background(), uuid.New(), "fly_hour")
	if !errors.Is(err, warrant.ErrNotStarted) {
		t.Errorf("Purchase before Start = %v, want ErrNotStarted", err)
	}
}

func TestTimedPurchase(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	subject := h.funded(types.Units(25))

	ent, err := h.w.Purchase(ctx, subject, "fly_hour")
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}

	if ok, _ := h.w.Has(ctx, subject, "essentials.fly"); !ok {
		t.Error("capability not granted")
	}
	timed := h.w.Coordinator().Timed(subject)
	if len(timed) != 1 || timed[0].PurchaseID != ent.Purchase.ID || !timed[0].ExpiresAt.Equal(epoch.Add(time.Hour)) {
		t.Errorf("timed index = %+v", timed)
	}
	if ent.Summary.DurationText != "1 hour" || ent.Summary.Duration != time.Hour {
		t.Errorf("summary = %+v", ent.Summary)
	}
	if ent.ReceiptID.Prefix() != "rcpt" {
		t.Errorf("receipt prefix = %q", ent.ReceiptID.Prefix())
	}
	if bal, _ := h.wallet.Balance(ctx, subject); bal != types.Units(15) {
		t.Errorf("balance = %s, want 15.00", bal)
	}

	// Renewing replaces the entry and retires the older purchase.
	h.clock.Advance(10 * time.Minute)
	again, err := h.w.Purchase(ctx, subject, "fly_hour")
	if err != nil {
		t.Fatal(err)
	}
	timed = h.w.Coordinator().Timed(subject)
	if len(timed) != 1 || timed[0].PurchaseID != again.Purchase.ID {
		t.Errorf("renewal did not replace entry: %+v", timed)
	}
	old, _ := h.store.FindByID(ctx, ent.Purchase.ID)
	if old.Active {
		t.Error("superseded purchase still active")
	}
}

func TestInsufficientFundsLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	subject := uuid.New()

	_, err := h.w.Purchase(ctx, subject, "fly_hour")

	var ife *warrant.InsufficientFundsError
	if !errors.As(err, &ife) {
		t.Fatalf("err = %v, want InsufficientFundsError", err)
	}
	if ife.Price != types.Units(10) || ife.Balance != 0 {
		t.Errorf("error carries price=%s balance=%s", ife.Price, ife.Balance)
	}
	if warrant.Classify(err) != warrant.KindInsufficientFunds {
		t.Errorf("Classify = %s", warrant.Classify(err))
	}
	if len(h.rows(t, subject)) != 0 {
		t.Error("row persisted")
	}
	if ok, _ := h.w.Has(ctx, subject, "essentials.fly"); ok {
		t.Error("capability granted")
	}
	if len(h.w.Coordinator().Timed(subject)) != 0 {
		t.Error("timed entry tracked")
	}
}

func TestCompensatingRollback(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	subject := h.funded(types.Units(100))

	h.store.setFailSave(true)
	_, err := h.w.Purchase(ctx, subject, "fly_hour")
	h.store.setFailSave(false)

	if !errors.Is(err, warrant.ErrStorage) {
		t.Fatalf("err = %v, want ErrStorage", err)
	}
	if warrant.Classify(err) != warrant.KindStorage {
		t.Errorf("Classify = %s", warrant.Classify(err))
	}
	if ok, _ := h.w.Has(ctx, subject, "essentials.fly"); ok {
		t.Error("capability left granted after failed save")
	}
	if len(h.rows(t, subject)) != 0 {
		t.Error("row persisted")
	}
	if len(h.w.Coordinator().Timed(subject)) != 0 {
		t.Error("timed entry left tracked")
	}
	if bal, _ := h.wallet.Balance(ctx, subject); bal != types.Units(100) {
		t.Errorf("debited on failure: balance %s", bal)
	}
}

func TestRollbackRestoresPriorGrant(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	subject := h.funded(types.Units(100))

	first, err := h.w.Purchase(ctx, subject, "fly_hour")
	if err != nil {
		t.Fatal(err)
	}

	h.store.setFailSave(true)
	if _, err := h.w.Purchase(ctx, subject, "fly_hour"); !errors.Is(err, warrant.ErrStorage) {
		t.Fatalf("err = %v", err)
	}
	h.store.setFailSave(false)

	if ok, _ := h.w.Has(ctx, subject, "essentials.fly"); !ok {
		t.Error("prior grant lost by rollback")
	}
	timed := h.w.Coordinator().Timed(subject)
	if len(timed) != 1 || timed[0].PurchaseID != first.Purchase.ID {
		t.Errorf("prior entry not restored: %+v", timed)
	}
}

func TestSweepExpiresPurchase(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	short := h.funded(types.Units(100))
	long := h.funded(types.Units(100))

	a, _ := h.w.Purchase(ctx, short, "fly_hour")
	h.clock.Advance(30 * time.Minute)
	b, _ := h.w.Purchase(ctx, long, "fly_hour")

	h.clock.Advance(30*time.Minute + time.Second)
	report, err := h.w.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Expired != 1 {
		t.Errorf("expired %d, want 1", report.Expired)
	}

	row, _ := h.store.FindByID(ctx, a.Purchase.ID)
	if row.Active {
		t.Error("expired row still active")
	}
	if ok, _ := h.w.Has(ctx, short, "essentials.fly"); ok {
		t.Error("expired capability still held")
	}
	row, _ = h.store.FindByID(ctx, b.Purchase.ID)
	if !row.Active {
		t.Error("live row deactivated")
	}

	before := h.w.Coordinator().Count()
	again, err := h.w.Sweep(ctx)
	if err != nil || again.Expired != 0 || h.w.Coordinator().Count() != before {
		t.Errorf("second sweep changed state: %+v %v", again, err)
	}
}

func TestLimitedExhaustion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	subject := h.funded(types.Units(5))

	ent, err := h.w.Purchase(ctx, subject, "heal3")
	if err != nil {
		t.Fatal(err)
	}
	if ent.Summary.Uses != 3 {
		t.Errorf("summary uses = %d", ent.Summary.Uses)
	}

	for i := 0; i < 3; i++ {
		if _, ok, err := h.w.Consume(ctx, subject, "heal"); !ok || err != nil {
			t.Fatalf("use %d: %v %v", i+1, ok, err)
		}
	}
	if _, ok, _ := h.w.Consume(ctx, subject, "heal"); ok {
		t.Error("fourth use consumed")
	}

	row, _ := h.store.FindByID(ctx, ent.Purchase.ID)
	if row.Active || row.RemainingUses != 0 {
		t.Errorf("row = %+v", row)
	}
	if h.w.Usage().Has(subject, "heal3") {
		t.Error("live grant not removed")
	}
}

func TestValidationErrors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	tests := []struct {
		item string
		want error
		kind warrant.ErrorKind
	}{
		{"nope", warrant.ErrItemNotFound, warrant.KindItemNotFound},
		{"broken_timed", warrant.ErrInvalidDuration, warrant.KindInvalidDuration},
		{"broken_limited", warrant.ErrInvalidUses, warrant.KindInvalidUses},
		{"home_slot", warrant.ErrNoQuotaProvider, warrant.KindNoQuotaProvider},
	}
	for _, tt := range tests {
		t.Run(tt.item, func(t *testing.T) {
			subject := h.funded(types.Units(100))
			_, err := h.w.Purchase(ctx, subject, tt.item)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if warrant.Classify(err) != tt.kind {
				t.Errorf("Classify = %s, want %s", warrant.Classify(err), tt.kind)
			}
			if len(h.rows(t, subject)) != 0 {
				t.Error("row persisted for rejected purchase")
			}
			if bal, _ := h.wallet.Balance(ctx, subject); bal != types.Units(100) {
				t.Errorf("debited: %s", bal)
			}
		})
	}
}

func TestActionKinds(t *testing.T) {
	ctx := context.Background()
	q := &quota{}
	h := newHarness(t, warrant.WithQuotaProvider(q))
	subject := h.funded(types.Units(50))

	if _, err := h.w.Purchase(ctx, subject, "diamonds"); err != nil {
		t.Fatal(err)
	}
	if len(h.actions) != 1 || h.actions[0] != "give Steve diamond 5" {
		t.Errorf("actions = %v", h.actions)
	}

	if _, err := h.w.Purchase(ctx, subject, "home_slot"); err != nil {
		t.Fatal(err)
	}
	if q.raised[subject] != 1 {
		t.Errorf("quota raised by %d", q.raised[subject])
	}

	rows := h.rows(t, subject)
	if len(rows) != 2 {
		t.Fatalf("%d rows, want 2 audit rows", len(rows))
	}
	for _, r := range rows {
		if r.Active || r.RemainingUses != 0 || !r.ExpiresAt.Equal(r.PurchasedAt) {
			t.Errorf("audit row = %+v", r)
		}
	}
	if bal, _ := h.wallet.Balance(ctx, subject); bal != types.FromFloat(27.5) {
		t.Errorf("balance = %s, want 27.50", bal)
	}
}

func TestActionFailurePersistsNothing(t *testing.T) {
	ctx := context.Background()
	failing := action.DispatcherFunc(func(context.Context, string, uuid.UUID) error {
		return action.ErrRejected
	})
	h := newHarness(t, warrant.WithDispatcher(failing))
	subject := h.funded(types.Units(50))

	_, err := h.w.Purchase(ctx, subject, "diamonds")
	if !errors.Is(err, warrant.ErrActionFailed) || !errors.Is(err, action.ErrRejected) {
		t.Fatalf("err = %v", err)
	}
	if len(h.rows(t, subject)) != 0 {
		t.Error("row persisted for failed action")
	}
}

func TestDebitFailureKeepsEntitlement(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	w := warrant.New(h.store, testCatalog(), brokenDebit{h.wallet},
		warrant.WithClock(h.clock),
		warrant.WithCapabilityBackend(capability.NewMinimal(h.clock)),
		warrant.WithoutSweep(),
	)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	subject := h.funded(types.Units(10))

	if _, err := w.Purchase(ctx, subject, "fly_hour"); err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	if ok, _ := w.Has(ctx, subject, "essentials.fly"); !ok {
		t.Error("grant unwound after debit failure")
	}
}

func TestGiveSkipsEconomy(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	subject := uuid.New()

	ent, err := h.w.Give(ctx, subject, "fly_forever")
	if err != nil {
		t.Fatalf("Give: %v", err)
	}
	if !ent.Summary.Permanent {
		t.Error("summary not permanent")
	}
	if ok, _ := h.w.Has(ctx, subject, "essentials.fly"); !ok {
		t.Error("capability not granted")
	}
	if bal, _ := h.wallet.Balance(ctx, subject); bal != 0 {
		t.Errorf("balance = %s", bal)
	}
}

func TestRevokeItem(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	subject := uuid.New()

	if _, err := h.w.RevokeItem(ctx, subject, "fly_hour"); !errors.Is(err, warrant.ErrNotHeld) {
		t.Errorf("revoke of unheld item = %v, want ErrNotHeld", err)
	}

	ent, _ := h.w.Give(ctx, subject, "fly_hour")
	p, err := h.w.RevokeItem(ctx, subject, "fly_hour")
	if err != nil {
		t.Fatalf("RevokeItem: %v", err)
	}
	if p.ID != ent.Purchase.ID || p.Active {
		t.Errorf("revoked %+v", p)
	}
	if ok, _ := h.w.Has(ctx, subject, "essentials.fly"); ok {
		t.Error("capability still held")
	}
	if len(h.w.Coordinator().Timed(subject)) != 0 {
		t.Error("entry still tracked")
	}

	_, _ = h.w.Give(ctx, subject, "heal3")
	if _, err := h.w.RevokeItem(ctx, subject, "heal3"); err != nil {
		t.Fatal(err)
	}
	if h.w.Usage().Has(subject, "heal3") {
		t.Error("limited grant still tracked")
	}
}

func TestConnectReloads(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	subject := uuid.New()

	timed, _ := h.w.Give(ctx, subject, "fly_hour")
	limited, _ := h.w.Give(ctx, subject, "heal3")
	_, _, _ = h.w.Consume(ctx, subject, "heal")

	// A restart loses all live state.
	w2 := warrant.New(h.store, testCatalog(), h.wallet,
		warrant.WithClock(h.clock),
		warrant.WithCapabilityBackend(capability.NewMinimal(h.clock)),
		warrant.WithoutSweep(),
		warrant.WithoutMigrate(),
	)
	if err := w2.Start(ctx); err != nil {
		t.Fatal(err)
	}

	report, err := w2.Connect(ctx, subject)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if report.Timed != 1 || report.Limited != 1 || report.Restored != 1 {
		t.Errorf("report = %+v", report)
	}
	if ok, _ := w2.Has(ctx, subject, "essentials.fly"); !ok {
		t.Error("timed capability not restored")
	}
	grants := w2.Usage().Grants(subject)
	if len(grants) != 1 || grants[0].Purchase.ID != limited.Purchase.ID || grants[0].Purchase.RemainingUses != 2 {
		t.Errorf("grants = %+v", grants)
	}

	// Offline past the deadline: the next connect retires the row.
	if err := w2.Disconnect(ctx, subject); err != nil {
		t.Fatal(err)
	}
	if w2.Usage().Has(subject, "heal3") {
		t.Error("grant survived disconnect")
	}
	h.clock.Advance(2 * time.Hour)

	report, err = w2.Connect(ctx, subject)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if report.Expired != 1 {
		t.Errorf("report = %+v, want 1 expired", report)
	}
	row, _ := h.store.FindByID(ctx, timed.Purchase.ID)
	if row.Active {
		t.Error("expired row not deactivated on connect")
	}
}

func TestAuthorize(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	subject := uuid.New()

	d, err := h.w.Authorize(ctx, subject, "/spawn")
	if err != nil || !d.Allowed || d.Verdict != warrant.VerdictUngated {
		t.Errorf("ungated = %+v, %v", d, err)
	}

	d, _ = h.w.Authorize(ctx, subject, "/heal")
	if d.Allowed || d.Verdict != warrant.VerdictDenied {
		t.Errorf("without grant = %+v", d)
	}

	_, _ = h.w.Give(ctx, subject, "heal3")
	d, _ = h.w.Authorize(ctx, subject, "/HEAL Steve")
	if !d.Allowed || d.Verdict != warrant.VerdictConsumed || d.Purchase.RemainingUses != 2 {
		t.Errorf("with uses = %+v", d)
	}

	_ = h.w.Coordinator().Grant(ctx, subject, "essentials.heal", time.Time{})
	d, _ = h.w.Authorize(ctx, subject, "/heal")
	if !d.Allowed || d.Verdict != warrant.VerdictCapability {
		t.Errorf("with capability = %+v", d)
	}
	if g := h.w.Usage().Grants(subject); g[0].Purchase.RemainingUses != 2 {
		t.Error("use spent although capability held")
	}
}

func TestTimedGrantUnderPermanent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	subject := uuid.New()

	perm, err := h.w.Give(ctx, subject, "fly_forever")
	if err != nil {
		t.Fatal(err)
	}
	timed, err := h.w.Give(ctx, subject, "fly_hour")
	if err != nil {
		t.Fatalf("Give fly_hour: %v", err)
	}
	if !timed.Recorded || !timed.Purchase.Active {
		t.Errorf("timed row not recorded: %+v", timed.Purchase)
	}
	if n := len(h.w.Coordinator().Timed(subject)); n != 0 {
		t.Errorf("timed entries = %d, want 0", n)
	}

	h.clock.Advance(2 * time.Hour)
	if _, err := h.w.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if ok, _ := h.w.Has(ctx, subject, "essentials.fly"); !ok {
		t.Error("permanent capability lost to timed expiry")
	}
	row, _ := h.store.FindByID(ctx, perm.Purchase.ID)
	if !row.Active {
		t.Error("permanent row deactivated")
	}
}

func TestRevokeFallsBackToRemainingGrant(t *testing.T) {
	ctx := context.Background()

	t.Run("timed revoked under permanent", func(t *testing.T) {
		h := newHarness(t)
		subject := uuid.New()
		_, _ = h.w.Give(ctx, subject, "fly_forever")
		timed, _ := h.w.Give(ctx, subject, "fly_hour")

		p, err := h.w.RevokeItem(ctx, subject, "fly_hour")
		if err != nil {
			t.Fatalf("RevokeItem: %v", err)
		}
		if p.ID != timed.Purchase.ID {
			t.Errorf("revoked purchase %d, want %d", p.ID, timed.Purchase.ID)
		}
		if ok, _ := h.w.Has(ctx, subject, "essentials.fly"); !ok {
			t.Error("permanent capability revoked with timed item")
		}
	})

	t.Run("permanent revoked over live timed", func(t *testing.T) {
		h := newHarness(t)
		subject := uuid.New()
		_, _ = h.w.Give(ctx, subject, "fly_forever")
		timed, _ := h.w.Give(ctx, subject, "fly_hour")

		if _, err := h.w.RevokeItem(ctx, subject, "fly_forever"); err != nil {
			t.Fatalf("RevokeItem: %v", err)
		}
		if ok, _ := h.w.Has(ctx, subject, "essentials.fly"); !ok {
			t.Error("live timed purchase not honoured")
		}
		entries := h.w.Coordinator().Timed(subject)
		if len(entries) != 1 || entries[0].PurchaseID != timed.Purchase.ID {
			t.Errorf("timed entries = %+v", entries)
		}

		h.clock.Advance(time.Hour + time.Second)
		if _, err := h.w.Sweep(ctx); err != nil {
			t.Fatal(err)
		}
		if ok, _ := h.w.Has(ctx, subject, "essentials.fly"); ok {
			t.Error("capability outlived the timed purchase")
		}
	})
}

func TestLimitedGrantsStack(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	subject := uuid.New()

	first, err := h.w.Give(ctx, subject, "heal3")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := h.w.Consume(ctx, subject, "heal"); !ok {
		t.Fatal("first use refused")
	}
	second, err := h.w.Give(ctx, subject, "heal3")
	if err != nil {
		t.Fatal(err)
	}
	if second.Purchase.RemainingUses != 5 {
		t.Errorf("stacked uses = %d, want 5", second.Purchase.RemainingUses)
	}

	row, _ := h.store.FindByID(ctx, first.Purchase.ID)
	if row.Active {
		t.Error("replaced row still active")
	}

	spent := 0
	for {
		_, ok, err := h.w.Consume(ctx, subject, "heal")
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		spent++
	}
	if spent != 5 {
		t.Errorf("spent %d uses after stacking, want 5", spent)
	}
	row, _ = h.store.FindByID(ctx, second.Purchase.ID)
	if row.Active || row.RemainingUses != 0 {
		t.Errorf("row = %+v", row)
	}
}

func TestLimitedGrantsStackFromStore(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	subject := uuid.New()

	first, _ := h.w.Give(ctx, subject, "heal3")
	if err := h.w.Disconnect(ctx, subject); err != nil {
		t.Fatal(err)
	}
	second, err := h.w.Give(ctx, subject, "heal3")
	if err != nil {
		t.Fatal(err)
	}
	if second.Purchase.RemainingUses != 6 {
		t.Errorf("stacked uses = %d, want 6", second.Purchase.RemainingUses)
	}
	row, _ := h.store.FindByID(ctx, first.Purchase.ID)
	if row.Active {
		t.Error("replaced row still active")
	}
}

// usageEvents records the usage hooks it receives.
type usageEvents struct {
	consumed  []*purchase.Purchase
	exhausted []*purchase.Purchase
}

func (u *usageEvents) Name() string { return "usage-events" }

func (u *usageEvents) OnConsumed(_ context.Context, p *purchase.Purchase, _ string) error {
	u.consumed = append(u.consumed, p)
	return nil
}

func (u *usageEvents) OnConsumableExhausted(_ context.Context, p *purchase.Purchase) error {
	u.exhausted = append(u.exhausted, p)
	return nil
}

var _ plugin.OnConsumed = (*usageEvents)(nil)

func TestUsageHooksFire(t *testing.T) {
	ctx := context.Background()
	events := &usageEvents{}
	var audited []string
	audit := audithook.New(audithook.RecorderFunc(func(_ context.Context, e *audithook.AuditEvent) error {
		audited = append(audited, e.Action)
		return nil
	}), audithook.WithEnabledActions(audithook.ActionUsageConsumed, audithook.ActionUsageExhausted))

	h := newHarness(t, warrant.WithPlugin(events), warrant.WithPlugin(audit))
	subject := uuid.New()
	ent, err := h.w.Give(ctx, subject, "heal3")
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if _, ok, err := h.w.Consume(ctx, subject, "heal Steve"); !ok || err != nil {
			t.Fatalf("use %d: %v %v", i+1, ok, err)
		}
	}

	if len(events.consumed) != 3 {
		t.Fatalf("consumed events = %d, want 3", len(events.consumed))
	}
	for i, p := range events.consumed {
		if p.ID != ent.Purchase.ID || p.RemainingUses != 2-i {
			t.Errorf("consumed[%d] = %+v", i, p)
		}
	}
	if len(events.exhausted) != 1 {
		t.Fatalf("exhausted events = %d, want 1", len(events.exhausted))
	}
	if p := events.exhausted[0]; p.ID != ent.Purchase.ID || p.RemainingUses != 0 || p.Active {
		t.Errorf("exhausted = %+v", p)
	}

	want := []string{
		audithook.ActionUsageConsumed,
		audithook.ActionUsageConsumed,
		audithook.ActionUsageConsumed,
		audithook.ActionUsageExhausted,
	}
	if len(audited) != len(want) {
		t.Fatalf("audited = %v, want %v", audited, want)
	}
	for i := range want {
		if audited[i] != want[i] {
			t.Errorf("audited[%d] = %s, want %s", i, audited[i], want[i])
		}
	}
}

func TestUnsavedAuditRowIsReported(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	subject := h.funded(types.Units(10))

	h.store.setFailSave(true)
	ent, err := h.w.Purchase(ctx, subject, "diamonds")
	h.store.setFailSave(false)
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	if ent.Recorded || ent.Purchase.Saved() {
		t.Errorf("unsaved audit row reported as recorded: %+v", ent.Purchase)
	}
	if len(h.actions) != 1 {
		t.Errorf("actions = %v", h.actions)
	}

	ent, err = h.w.Purchase(ctx, subject, "diamonds")
	if err != nil {
		t.Fatal(err)
	}
	if !ent.Recorded {
		t.Error("saved audit row not reported as recorded")
	}
}
