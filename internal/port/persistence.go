package port

import (
	"context"

	"github.com/mallkit/cart/internal/core/domain"
)

// Persistence is the storage port behind the cart. The remote API client,
// the local JSON file store, Redis and MySQL all implement it, selected
// at session construction.
type Persistence interface {
	// Load fetches the full cart once, in insertion order. Only the
	// initial load may replace the collection wholesale.
	Load(ctx context.Context) ([]domain.LineItem, error)

	// Upsert writes the current state of one key. Idempotent: writing
	// the same (product, size, quantity) twice leaves the same end state.
	Upsert(ctx context.Context, item domain.LineItem) error

	// Delete removes one key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key domain.ItemKey) error

	// Clear removes every key in a single call.
	Clear(ctx context.Context) error
}
