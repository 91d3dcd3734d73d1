package service

import "github.com/mallkit/cart/internal/core/domain"

type EventType string

const (
	// EventChanged fires on every applied local mutation, so a badge
	// counter and a full cart view stay consistent without polling.
	EventChanged EventType = "changed"

	// EventReverted fires when a persist failed and the affected key was
	// rolled back to its pre-mutation snapshot. Err carries the cause.
	EventReverted EventType = "reverted"

	// EventLoaded fires once the initial load replaced the collection.
	EventLoaded EventType = "loaded"
)

// Event is the cart-changed notification consumers subscribe to.
type Event struct {
	Type EventType
	Key  domain.ItemKey
	Seq  uint64
	Err  error
}
