package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mallkit/cart/internal/core/domain"
	"github.com/mallkit/cart/internal/port"
)

var (
	ErrInvalidProduct   = errors.New("invalid product")
	ErrInvalidQuantity  = errors.New("invalid quantity")
	ErrInvalidSize      = errors.New("invalid size")
	ErrItemNotFound     = errors.New("item not in cart")
	ErrQuantityCapacity = errors.New("quantity capacity exceeded")
	ErrStoreClosed      = errors.New("cart store closed")
)

const subscriberBuffer = 16

// CartStore owns the authoritative in-memory cart for one session.
// Mutations apply optimistically and return synchronously; the sync
// engine confirms them against the persistence collaborator in the
// background and rolls the affected key back if confirmation fails.
//
// The items slice is the single shared mutable resource. Only CartStore
// methods touch it; the engine reaches it exclusively through the revert
// callbacks below.
type CartStore struct {
	mu       sync.Mutex
	items    []domain.LineItem
	loaded   bool
	closed   bool
	clearSeq uint64 // seq of the most recent Clear, 0 when none

	engine *SyncEngine

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// NewCartStore builds a store around one persistence collaborator. The
// same contract serves the guest/offline file store and the
// server-synchronized client; pick at session construction.
func NewCartStore(persist port.Persistence) *CartStore {
	s := &CartStore{subs: make(map[int]chan Event)}
	s.engine = newSyncEngine(persist, s)
	return s
}

// Load fetches the full remote cart once and replaces the collection
// wholesale. It is the only full replace; everything after goes through
// incremental mutations. Call it before the first mutation.
func (s *CartStore) Load(ctx context.Context) error {
	items, err := s.engine.loadInitial(ctx)
	if err != nil {
		return fmt.Errorf("initial cart load: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	s.items = domain.CloneItems(items)
	s.loaded = true
	s.publish(Event{Type: EventLoaded})
	s.mu.Unlock()
	return nil
}

// Initialized reports whether the initial load has completed, so
// dependent views can defer rendering until the cart is real.
func (s *CartStore) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// AddItem puts quantity units of (product, size) in the cart. If the key
// already exists its quantity grows by quantity; growing past
// MaxQuantity reports ErrQuantityCapacity and changes nothing.
func (s *CartStore) AddItem(product domain.Product, quantity int, size domain.Size) error {
	if product.ID == "" || product.Price < 0 {
		return ErrInvalidProduct
	}
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	if !size.Valid() {
		return ErrInvalidSize
	}

	key := domain.ItemKey{ProductID: product.ID, Size: size}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	idx := s.find(key)
	var prior itemSnapshot
	var updated domain.LineItem

	if idx >= 0 {
		next := s.items[idx].Quantity + quantity
		if next > domain.MaxQuantity {
			return ErrQuantityCapacity
		}
		prior = itemSnapshot{key: key, existed: true, index: idx, item: s.items[idx].Clone()}
		s.items[idx].Quantity = next
		updated = s.items[idx].Clone()
	} else {
		prior = itemSnapshot{key: key, existed: false, index: len(s.items)}
		updated = domain.LineItem{
			ProductID: product.ID,
			Name:      product.Name,
			UnitPrice: product.Price,
			Quantity:  quantity,
			Size:      size,
			Images:    append([]string(nil), product.Images...),
		}
		s.items = append(s.items, updated.Clone())
	}

	seq := s.engine.enqueueUpsert(updated, prior)
	s.publish(Event{Type: EventChanged, Key: key, Seq: seq})
	return nil
}

// RemoveItem removes the matching line item. Removing an absent key is a
// no-op, not an error.
func (s *CartStore) RemoveItem(productID string, size domain.Size) error {
	key := domain.ItemKey{ProductID: productID, Size: size}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	idx := s.find(key)
	if idx < 0 {
		return nil
	}

	prior := itemSnapshot{key: key, existed: true, index: idx, item: s.items[idx].Clone()}
	s.items = append(s.items[:idx], s.items[idx+1:]...)

	seq := s.engine.enqueueDelete(key, prior)
	s.publish(Event{Type: EventChanged, Key: key, Seq: seq})
	return nil
}

// SetQuantity sets the exact quantity for a key, clamped to
// [1, MaxQuantity]. A quantity of zero or less removes the item. Reports
// ErrItemNotFound when the key is absent.
func (s *CartStore) SetQuantity(productID string, size domain.Size, quantity int) error {
	if quantity <= 0 {
		return s.RemoveItem(productID, size)
	}
	if quantity > domain.MaxQuantity {
		quantity = domain.MaxQuantity
	}

	key := domain.ItemKey{ProductID: productID, Size: size}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	idx := s.find(key)
	if idx < 0 {
		return ErrItemNotFound
	}

	prior := itemSnapshot{key: key, existed: true, index: idx, item: s.items[idx].Clone()}
	s.items[idx].Quantity = quantity

	seq := s.engine.enqueueUpsert(s.items[idx].Clone(), prior)
	s.publish(Event{Type: EventChanged, Key: key, Seq: seq})
	return nil
}

// Clear empties the collection atomically and issues a single bulk
// delete instead of one request per item.
func (s *CartStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	prior := s.items
	s.items = nil

	seq := s.engine.enqueueClear(prior)
	s.clearSeq = seq
	s.publish(Event{Type: EventChanged, Seq: seq})
	return nil
}

// Items returns a deep copy of the current line items in insertion order.
func (s *CartStore) Items() []domain.LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.CloneItems(s.items)
}

// Total is recomputed from the current items on every call; no cached
// value can diverge from the collection.
func (s *CartStore) Total() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Total(s.items)
}

// Len returns the number of distinct line items.
func (s *CartStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Subscribe registers a cart-changed listener. The returned cancel
// function unregisters it; events are dropped rather than blocking when
// a listener stops draining, so an abandoned view cannot wedge the cart.
func (s *CartStore) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
	return ch, cancel
}

// Close drains in-flight persists and rejects further mutations.
func (s *CartStore) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.engine.close()
}

func (s *CartStore) publish(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// find returns the index of key in items, or -1. Callers hold s.mu.
func (s *CartStore) find(key domain.ItemKey) int {
	for i := range s.items {
		if s.items[i].Key() == key {
			return i
		}
	}
	return -1
}

// revertKeyLocked restores the pre-mutation snapshot for exactly one key
// after a failed persist. It deliberately avoids a full reload so
// concurrent optimistic changes on other keys survive. The caller holds
// s.mu.
func (s *CartStore) revertKeyLocked(prior itemSnapshot, seq uint64, cause error) {
	if seq < s.clearSeq {
		// A later clear already wiped this key locally and its bulk
		// delete wipes it remotely; restoring the snapshot would
		// resurrect a line the user removed. The failure stays visible.
		s.publish(Event{Type: EventReverted, Key: prior.key, Seq: seq, Err: cause})
		return
	}

	idx := s.find(prior.key)
	switch {
	case prior.existed && idx >= 0:
		s.items[idx] = prior.item.Clone()
	case prior.existed && idx < 0:
		at := prior.index
		if at > len(s.items) {
			at = len(s.items)
		}
		s.items = append(s.items[:at], append([]domain.LineItem{prior.item.Clone()}, s.items[at:]...)...)
	case !prior.existed && idx >= 0:
		s.items = append(s.items[:idx], s.items[idx+1:]...)
	}

	s.publish(Event{Type: EventReverted, Key: prior.key, Seq: seq, Err: cause})
}

// revertAll restores the whole collection after a failed bulk clear.
func (s *CartStore) revertAll(prior []domain.LineItem, seq uint64, cause error) {
	s.mu.Lock()
	s.items = domain.CloneItems(prior)
	s.publish(Event{Type: EventReverted, Seq: seq, Err: cause})
	s.mu.Unlock()
}
