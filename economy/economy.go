// Package economy defines the ledger provider purchases are financed
// through, plus an in-memory Wallet implementation.
package economy

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/xraph/warrant/types"
)

// Provider is the external ledger.
type Provider interface {
	HasFunds(ctx context.Context, subject uuid.UUID, amount types.Amount) (bool, error)
	Balance(ctx context.Context, subject uuid.UUID) (types.Amount, error)
	Debit(ctx context.Context, subject uuid.UUID, amount types.Amount) error
	Format(amount types.Amount) string
}

// ErrInsufficientBalance is returned by Wallet.Debit when the balance
// cannot cover the amount.
var ErrInsufficientBalance = errors.New("economy: insufficient balance")

// Wallet is an in-memory Provider keyed by subject.
type Wallet struct {
	mu       sync.Mutex
	balances map[uuid.UUID]types.Amount
	symbol   string
}

var _ Provider = (*Wallet)(nil)

// NewWallet returns an empty Wallet that formats amounts with symbol.
func NewWallet(symbol string) *Wallet {
	return &Wallet{balances: make(map[uuid.UUID]types.Amount), symbol: symbol}
}

// Deposit credits amount to subject.
func (w *Wallet) Deposit(subject uuid.UUID, amount types.Amount) {
	w.mu.Lock()
	w.balances[subject] += amount
	w.mu.Unlock()
}

// HasFunds implements Provider.
func (w *Wallet) HasFunds(_ context.Context, subject uuid.UUID, amount types.Amount) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[subject] >= amount, nil
}

// Balance implements Provider.
func (w *Wallet) Balance(_ context.Context, subject uuid.UUID) (types.Amount, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[subject], nil
}

// Debit implements Provider.
func (w *Wallet) Debit(_ context.Context, subject uuid.UUID, amount types.Amount) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.balances[subject] < amount {
		return ErrInsufficientBalance
	}
	w.balances[subject] -= amount
	return nil
}

// Format implements Provider.
func (w *Wallet) Format(amount types.Amount) string {
	return w.symbol + amount.String()
}
