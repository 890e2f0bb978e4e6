package audithook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/warrant/capability"
	"github.com/xraph/warrant/catalog"
	"github.com/xraph/warrant/id"
	"github.com/xraph/warrant/plugin"
	"github.com/xraph/warrant/purchase"
	"github.com/xraph/warrant/sweep"
	"github.com/xraph/warrant/types"
)

type captured struct {
	events []*AuditEvent
	err    error
}

func (c *captured) Record(_ context.Context, e *AuditEvent) error {
	c.events = append(c.events, e)
	return c.err
}

func TestPurchaseEvents(t *testing.T) {
	subject := uuid.New()
	item := catalog.Item{ID: "vip", Kind: catalog.KindTimed, Price: types.Units(250)}
	p := &purchase.Purchase{ID: 7, SubjectID: subject, ItemID: "vip"}

	tests := []struct {
		name     string
		given    bool
		action   string
		resource string
	}{
		{"bought", false, ActionPurchaseCompleted, ResourcePurchase},
		{"given", true, ActionPurchaseGiven, ResourcePurchase},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &captured{}
			ext := New(rec)
			receipt := id.NewReceiptID()

			err := ext.OnPurchased(context.Background(), plugin.PurchaseEvent{
				ReceiptID: receipt, SubjectID: subject, Item: item, Purchase: p, Given: tt.given,
			})
			if err != nil {
				t.Fatalf("OnPurchased: %v", err)
			}
			if len(rec.events) != 1 {
				t.Fatalf("events = %d, want 1", len(rec.events))
			}
			got := rec.events[0]
			if got.Action != tt.action || got.Resource != tt.resource {
				t.Errorf("event = %s/%s, want %s/%s", got.Action, got.Resource, tt.action, tt.resource)
			}
			if got.ResourceID != receipt.String() {
				t.Errorf("resource id = %q, want %q", got.ResourceID, receipt.String())
			}
			if got.ID.Prefix() != id.PrefixEvent {
				t.Errorf("event id = %q, want evt_ prefix", got.ID)
			}
			if got.Metadata["price"] != "250.00" || got.Metadata["purchase_id"] != int64(7) {
				t.Errorf("metadata = %v", got.Metadata)
			}
		})
	}
}

func TestFailureCarriesReason(t *testing.T) {
	rec := &captured{}
	ext := New(rec)

	cause := errors.New("bank offline")
	_ = ext.OnDebitFailed(context.Background(), uuid.New(), types.Units(5), cause)

	got := rec.events[0]
	if got.Severity != SeverityCritical || got.Outcome != OutcomePartial {
		t.Errorf("severity/outcome = %s/%s", got.Severity, got.Outcome)
	}
	if got.Reason != "bank offline" || got.Metadata["error"] != "bank offline" {
		t.Errorf("reason = %q, metadata = %v", got.Reason, got.Metadata)
	}
}

func TestActionFilters(t *testing.T) {
	subject := uuid.New()
	ctx := context.Background()

	tests := []struct {
		name string
		opts []Option
		want []string
	}{
		{
			name: "all",
			want: []string{ActionSubjectConnected, ActionSubjectDisconnected},
		},
		{
			name: "enabled",
			opts: []Option{WithEnabledActions(ActionSubjectDisconnected)},
			want: []string{ActionSubjectDisconnected},
		},
		{
			name: "disabled",
			opts: []Option{WithDisabledActions(ActionSubjectDisconnected)},
			want: []string{ActionSubjectConnected},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &captured{}
			ext := New(rec, tt.opts...)

			_ = ext.OnSubjectConnected(ctx, subject, 2, 1)
			_ = ext.OnSubjectDisconnected(ctx, subject)

			if len(rec.events) != len(tt.want) {
				t.Fatalf("events = %d, want %d", len(rec.events), len(tt.want))
			}
			for i, action := range tt.want {
				if rec.events[i].Action != action {
					t.Errorf("event[%d] = %s, want %s", i, rec.events[i].Action, action)
				}
			}
		})
	}
}

func TestQuietSweeps(t *testing.T) {
	rec := &captured{}
	ext := New(rec, WithQuietSweeps())
	ctx := context.Background()

	_ = ext.OnSweepCompleted(ctx, sweep.Report{RunID: id.NewSweepRunID(), Scanned: 4})
	if len(rec.events) != 0 {
		t.Fatalf("idle sweep recorded %d events", len(rec.events))
	}

	_ = ext.OnSweepCompleted(ctx, sweep.Report{
		RunID:   id.NewSweepRunID(),
		Scanned: 4,
		Expired: 1,
		Failed:  1,
		Errors:  []error{errors.New("backend down")},
		Elapsed: 3 * time.Millisecond,
	})
	if len(rec.events) != 1 {
		t.Fatalf("events = %d, want 1", len(rec.events))
	}
	if got := rec.events[0]; got.Outcome != OutcomePartial || got.Reason != "backend down" {
		t.Errorf("event = %+v", got)
	}
}

func TestRecorderErrorIsSwallowed(t *testing.T) {
	rec := &captured{err: errors.New("disk full")}
	ext := New(rec)

	err := ext.OnCapabilityExpired(context.Background(), capability.TimedCapability{
		SubjectID:  uuid.New(),
		Capability: "essentials.fly",
		ExpiresAt:  time.Now(),
		PurchaseID: 3,
	})
	if err != nil {
		t.Errorf("hook returned %v, want nil", err)
	}
	if len(rec.events) != 1 || rec.events[0].ResourceID != "essentials.fly" {
		t.Errorf("events = %+v", rec.events)
	}
}
