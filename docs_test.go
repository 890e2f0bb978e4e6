package warrant_test

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/warrant"
	"github.com/xraph/warrant/catalog"
	"github.com/xraph/warrant/economy"
	"github.com/xraph/warrant/store/memory"
	"github.com/xraph/warrant/types"
)

// TestDocumentationExamples verifies that the examples in the package
// documentation compile and behave as described.
func TestDocumentationExamples(t *testing.T) {
	t.Run("QuickStartExample", func(t *testing.T) {
		items, err := catalog.Load(strings.NewReader(`
items:
  fly_hour:
    price: 10
    kind: timed_permission
    duration: 3600
    capability: essentials.fly
  heal3:
    price: 5
    kind: limited_command
    uses: 3
    action: heal
`))
		if err != nil {
			t.Fatal(err)
		}

		wallet := economy.NewWallet("$")
		w := warrant.New(memory.New(), items, wallet,
			warrant.WithLogger(slog.Default()),
			warrant.WithoutSweep(),
		)

		ctx := context.Background()
		if err := w.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer w.Stop(ctx)

		subject := uuid.New()
		wallet.Deposit(subject, types.Units(20))

		if _, err := w.Connect(ctx, subject); err != nil {
			t.Fatal(err)
		}

		ent, err := w.Purchase(ctx, subject, "fly_hour")
		if err != nil {
			t.Fatal(err)
		}
		if ent.Summary.DurationText != "1 hour" {
			t.Errorf("DurationText = %q, want %q", ent.Summary.DurationText, "1 hour")
		}

		d, err := w.Authorize(ctx, subject, "heal me")
		if err != nil {
			t.Fatal(err)
		}
		if d.Allowed || d.ItemID != "heal3" {
			t.Errorf("decision = %+v, want denied by heal3", d)
		}
	})

	t.Run("AmountExamples", func(t *testing.T) {
		price, err := warrant.ParseAmount("10.5")
		if err != nil {
			t.Fatal(err)
		}
		if price.String() != "10.50" {
			t.Errorf("String = %q, want 10.50", price.String())
		}
		if got := price.Add(warrant.Units(2)); got.String() != "12.50" {
			t.Errorf("Add = %s, want 12.50", got)
		}
	})

	t.Run("DurationExamples", func(t *testing.T) {
		d, err := types.ParseDuration("1d 2h")
		if err != nil {
			t.Fatal(err)
		}
		if d != 26*time.Hour {
			t.Errorf("ParseDuration = %v, want 26h", d)
		}
	})
}
