// Package redisperm is a capability.RichBackend storing one JSON record per
// subject in Redis.
package redisperm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/xraph/warrant/capability"
	"github.com/xraph/warrant/clock"
)

const (
	defaultPrefix = "warrant:perm"
	maxRetries    = 16
)

var (
	_ capability.RichBackend  = (*Backend)(nil)
	_ capability.ExpiryReader = (*Backend)(nil)
)

// ErrConflict is returned when an update lost the optimistic-lock race
// more than the retry limit allows.
var ErrConflict = errors.New("redisperm: too many concurrent updates")

// record is the stored shape of a subject: capability name to expiry in
// unix milliseconds, 0 for permanent.
type record struct {
	Nodes map[string]int64 `json:"nodes"`
}

// Backend keeps grants in Redis so they survive restarts and are visible
// to other processes sharing the keyspace.
type Backend struct {
	rdb    redis.UniversalClient
	prefix string
	clock  clock.Clock
}

// Option configures a Backend.
type Option func(*Backend)

// WithPrefix sets the key namespace.
func WithPrefix(prefix string) Option {
	return func(b *Backend) {
		if prefix != "" {
			b.prefix = prefix
		}
	}
}

// WithClock sets the time source used to judge expiry.
func WithClock(c clock.Clock) Option {
	return func(b *Backend) { b.clock = c }
}

// New returns a Backend over rdb.
func New(rdb redis.UniversalClient, opts ...Option) *Backend {
	b := &Backend{rdb: rdb, prefix: defaultPrefix, clock: clock.Real()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) key(subject uuid.UUID) string {
	return b.prefix + ":subject:" + subject.String()
}

// Ping implements capability.RichBackend.
func (b *Backend) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// Grant implements capability.Backend.
func (b *Backend) Grant(ctx context.Context, subject uuid.UUID, name string, expiresAt time.Time) error {
	return b.update(ctx, subject, func(r *record) {
		r.Nodes[name] = toMillis(expiresAt)
	})
}

// Revoke implements capability.Backend.
func (b *Backend) Revoke(ctx context.Context, subject uuid.UUID, name string) error {
	return b.update(ctx, subject, func(r *record) {
		delete(r.Nodes, name)
	})
}

// Check implements capability.Backend. Expired nodes read as absent.
func (b *Backend) Check(ctx context.Context, subject uuid.UUID, name string) (bool, error) {
	_, ok, err := b.Expiry(ctx, subject, name)
	return ok, err
}

// Expiry implements capability.ExpiryReader.
func (b *Backend) Expiry(ctx context.Context, subject uuid.UUID, name string) (time.Time, bool, error) {
	r, err := load(ctx, b.rdb, b.key(subject))
	if err != nil {
		return time.Time{}, false, err
	}
	ms, ok := r.Nodes[name]
	if !ok || !b.live(ms) {
		return time.Time{}, false, nil
	}
	return fromMillis(ms), true, nil
}

// Nodes returns the live capabilities of subject with their expiry.
func (b *Backend) Nodes(ctx context.Context, subject uuid.UUID) (map[string]time.Time, error) {
	r, err := load(ctx, b.rdb, b.key(subject))
	if err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(r.Nodes))
	for name, ms := range r.Nodes {
		if b.live(ms) {
			out[name] = fromMillis(ms)
		}
	}
	return out, nil
}

// update runs a load-modify-save of subject's record under WATCH so a
// concurrent writer forces a retry instead of a lost update. Expired nodes
// are pruned on every write.
func (b *Backend) update(ctx context.Context, subject uuid.UUID, fn func(*record)) error {
	key := b.key(subject)

	txf := func(tx *redis.Tx) error {
		r, err := load(ctx, tx, key)
		if err != nil {
			return err
		}
		fn(r)
		for name, ms := range r.Nodes {
			if !b.live(ms) {
				delete(r.Nodes, name)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(r.Nodes) == 0 {
				pipe.Del(ctx, key)
				return nil
			}
			data, err := json.Marshal(r)
			if err != nil {
				return err
			}
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxRetries; i++ {
		err := b.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: %s", ErrConflict, key)
}

func (b *Backend) live(ms int64) bool {
	return ms == 0 || ms > b.clock.Now().UnixMilli()
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func load(ctx context.Context, c getter, key string) (*record, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return &record{Nodes: make(map[string]int64)}, nil
	}
	if err != nil {
		return nil, err
	}
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("redisperm: decode %s: %w", key, err)
	}
	if r.Nodes == nil {
		r.Nodes = make(map[string]int64)
	}
	return &r, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
