package economy

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/xraph/warrant/types"
)

func TestWallet(t *testing.T) {
	ctx := context.Background()
	w := NewWallet("$")
	alice := uuid.New()

	if ok, _ := w.HasFunds(ctx, alice, types.Units(1)); ok {
		t.Error("empty wallet reported funds")
	}

	w.Deposit(alice, types.Units(10))
	if ok, _ := w.HasFunds(ctx, alice, types.Units(10)); !ok {
		t.Error("exact balance should be sufficient")
	}

	if err := w.Debit(ctx, alice, types.Units(4)); err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if bal, _ := w.Balance(ctx, alice); bal != types.Units(6) {
		t.Errorf("balance = %s, want 6.00", bal)
	}

	if err := w.Debit(ctx, alice, types.Units(7)); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("overdraft error = %v", err)
	}
	if got := w.Format(types.Amount(1250)); got != "$12.50" {
		t.Errorf("Format = %q", got)
	}
}

func TestWalletConcurrentDebit(t *testing.T) {
	ctx := context.Background()
	w := NewWallet("")
	s := uuid.New()
	w.Deposit(s, types.Units(50))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.Debit(ctx, s, types.Units(1))
		}()
	}
	wg.Wait()

	if bal, _ := w.Balance(ctx, s); bal != 0 {
		t.Errorf("balance = %s, want 0.00", bal)
	}
}
