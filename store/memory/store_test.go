package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/warrant"
	"github.com/xraph/warrant/purchase"
	"github.com/xraph/warrant/store"
	"github.com/xraph/warrant/store/memory"
	"github.com/xraph/warrant/store/storetest"
)

func TestContract(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return memory.New() })
}

func TestSaveIsolatesCallerCopy(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	p := purchase.New(uuid.New(), "heal", time.Now(), time.Time{}, 3, true)
	if _, err := s.Save(ctx, p); err != nil {
		t.Fatal(err)
	}

	p.RemainingUses = 0
	got, err := s.FindByID(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.RemainingUses != 3 {
		t.Errorf("caller mutation leaked into store: uses=%d", got.RemainingUses)
	}
}

func TestClosed(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	_ = s.Close()

	if _, err := s.Save(ctx, purchase.New(uuid.New(), "x", time.Now(), time.Time{}, 1, true)); !errors.Is(err, warrant.ErrStoreClosed) {
		t.Errorf("Save after Close = %v", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, warrant.ErrStoreClosed) {
		t.Errorf("Ping after Close = %v", err)
	}
}
