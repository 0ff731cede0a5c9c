package taxonomy

import (
	"context"
	"maps"
	"slices"
	"sync"

	"bookkeep/internal/core"
	"bookkeep/internal/remote"
)

// Defaults returns the values offered before the server has contributed any.
func Defaults() map[Key][]string {
	return map[Key][]string{
		remote.NewTaxonomyKey(core.DimensionCategory, core.Expense): {
			"Food", "Transport", "Housing", "Shopping", "Entertainment", "Health", "Other",
		},
		remote.NewTaxonomyKey(core.DimensionCategory, core.Income): {
			"Salary", "Bonus", "Investment", "Gift", "Other",
		},
		remote.NewTaxonomyKey(core.DimensionCategory, core.Unaccounted): {
			"Transfer", "Adjustment",
		},
		remote.NewTaxonomyKey(core.DimensionPaymentMethod, ""): {
			"Cash", "Debit Card", "Credit Card", "Bank Transfer", "Mobile Payment",
		},
		remote.NewTaxonomyKey(core.DimensionAttribution, ""): {
			"Personal", "Family", "Shared",
		},
	}
}

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	values map[Key][]string
	saves  int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[Key][]string)}
}

func (s *MemoryStore) LoadTaxonomy(context.Context) (map[Key][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Key][]string, len(s.values))
	for k, v := range s.values {
		out[k] = slices.Clone(v)
	}
	return out, nil
}

func (s *MemoryStore) SaveTaxonomy(_ context.Context, key Key, values []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = slices.Clone(values)
	s.saves++
	return nil
}

// Saves returns how many times SaveTaxonomy was called.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Keys returns the persisted keys.
func (s *MemoryStore) Keys() []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Collect(maps.Keys(s.values))
}
