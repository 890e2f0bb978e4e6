package catalog

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xraph/warrant/types"
)

// Static is an in-memory Provider. It is safe for concurrent use.
type Static struct {
	mu    sync.RWMutex
	items map[string]Item
}

var _ Provider = (*Static)(nil)

// NewStatic builds a Static catalog from items. Duplicate or invalid items
// are rejected.
func NewStatic(items ...Item) (*Static, error) {
	s := &Static{items: make(map[string]Item, len(items))}
	for _, it := range items {
		if err := it.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.items[it.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate item id %q", it.ID)
		}
		s.items[it.ID] = it
	}
	return s, nil
}

// MustStatic is like NewStatic but panics on error.
func MustStatic(items ...Item) *Static {
	s, err := NewStatic(items...)
	if err != nil {
		panic(err)
	}
	return s
}

// Lookup implements Provider.
func (s *Static) Lookup(itemID string) (Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[itemID]
	return it, ok
}

// Items implements Provider. Items are returned sorted by id.
func (s *Static) Items() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Replace swaps the catalog contents atomically, e.g. on reload.
func (s *Static) Replace(other *Static) {
	other.mu.RLock()
	items := make(map[string]Item, len(other.items))
	for k, v := range other.items {
		items[k] = v
	}
	other.mu.RUnlock()

	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
}

// ──────────────────────────────────────────────────
// YAML loading
// ──────────────────────────────────────────────────

// file is the on-disk layout:
//
//	items:
//	  vip_day:
//	    name: VIP (1 day)
//	    price: 250
//	    kind: timed_permission
//	    duration: 86400
//	    capability: shop.vip
type file struct {
	Items map[string]fileItem `yaml:"items"`
}

type fileItem struct {
	Name       string       `yaml:"name"`
	Price      types.Amount `yaml:"price"`
	Kind       string       `yaml:"kind"`
	Duration   int64        `yaml:"duration"`
	Uses       int          `yaml:"uses"`
	Capability string       `yaml:"capability"`
	Action     string       `yaml:"action"`
}

// Load parses a YAML catalog.
func Load(r io.Reader) (*Static, error) {
	var f file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}

	items := make([]Item, 0, len(f.Items))
	for key, fi := range f.Items {
		kind, err := ParseKind(fi.Kind)
		if err != nil {
			return nil, fmt.Errorf("catalog: item %s: %w", key, err)
		}
		it := Item{
			ID:         key,
			Name:       fi.Name,
			Price:      fi.Price,
			Kind:       kind,
			Duration:   time.Duration(fi.Duration) * time.Second,
			Uses:       fi.Uses,
			Capability: fi.Capability,
			Action:     fi.Action,
		}
		if it.Name == "" {
			it.Name = key
		}
		items = append(items, it)
	}
	return NewStatic(items...)
}

// LoadFile parses the YAML catalog at path.
func LoadFile(path string) (*Static, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}
