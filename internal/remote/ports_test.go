package remote

import (
	"testing"

	"bookkeep/internal/core"
)

func TestNewTaxonomyKeyDropsScopeForUnscoped(t *testing.T) {
	k := NewTaxonomyKey(core.DimensionPaymentMethod, core.Expense)
	if k.Scope != "" {
		t.Fatalf("payment method must be unscoped, got %q", k.Scope)
	}
	k = NewTaxonomyKey(core.DimensionCategory, core.Income)
	if k.Scope != core.Income || k.String() != "category/income" {
		t.Fatalf("unexpected key %v", k)
	}
}

func TestTaxonomyKeys(t *testing.T) {
	keys := TaxonomyKeys()
	if len(keys) != 5 {
		t.Fatalf("expected 3 category scopes + 2 unscoped, got %d", len(keys))
	}
	seen := map[TaxonomyKey]bool{}
	for _, k := range keys {
		if seen[k] {
			t.Fatalf("duplicate key %v", k)
		}
		seen[k] = true
	}
}

func TestStatusErrorMessage(t *testing.T) {
	err := &StatusError{Op: "create record", StatusCode: 500, Body: "boom"}
	if err.Error() != "create record: server returned 500: boom" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
