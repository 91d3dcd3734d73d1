package service

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/mallkit/cart/internal/core/domain"
	"github.com/mallkit/cart/internal/port"
)

// defaultPersistTimeout bounds one confirmation round trip. A timeout is
// handled like any other persist failure: the key is rolled back.
const defaultPersistTimeout = 10 * time.Second

type mutationOp int

const (
	opUpsert mutationOp = iota
	opDelete
	opClear
)

// itemSnapshot is the pre-mutation state of one key, including its slice
// position so a revert lands the item back where it was.
type itemSnapshot struct {
	key     domain.ItemKey
	existed bool
	index   int
	item    domain.LineItem
}

// pendingMutation is one in-flight optimistic change. The engine owns it
// exclusively from enqueue until the persist call resolves or reverts.
type pendingMutation struct {
	seq      uint64
	op       mutationOp
	key      domain.ItemKey
	item     domain.LineItem   // opUpsert payload
	prior    itemSnapshot      // key-scoped ops
	priorAll []domain.LineItem // opClear

	// A clear splits time into epochs: key mutations issued before it
	// must resolve before the bulk delete goes out, and key mutations
	// issued after it must wait for the bulk delete to resolve.
	epoch   *sync.WaitGroup // key-scoped: unresolved count of its epoch
	gate    <-chan struct{} // key-scoped: preceding clear's release, nil when none
	barrier *sync.WaitGroup // opClear: epoch it must wait out
	release chan struct{}   // opClear: closed once the clear resolves
}

// SyncEngine bridges the store's optimistic state to the persistence
// collaborator. Mutations on one key are confirmed strictly in the order
// they were issued locally; different keys proceed concurrently, each on
// its own lane. A clear is a mutation on every key at once, so it acts
// as a barrier: it waits for every earlier persist and holds back every
// later one. A failed confirmation triggers the store's revert path for
// exactly the affected key(s); there is no automatic retry.
type SyncEngine struct {
	persist port.Persistence
	store   *CartStore
	timeout time.Duration

	mu     sync.Mutex
	seq    uint64
	lanes  map[domain.ItemKey]*syncLane
	epoch  *sync.WaitGroup
	gate   chan struct{}
	closed bool
	wg     sync.WaitGroup
}

func newSyncEngine(persist port.Persistence, store *CartStore) *SyncEngine {
	return &SyncEngine{
		persist: persist,
		store:   store,
		timeout: defaultPersistTimeout,
		lanes:   make(map[domain.ItemKey]*syncLane),
		epoch:   &sync.WaitGroup{},
	}
}

func (e *SyncEngine) loadInitial(ctx context.Context) ([]domain.LineItem, error) {
	return e.persist.Load(ctx)
}

// enqueueUpsert and friends are called with the store lock held, which
// is what makes the local issue order and the lane order identical.
// Lanes queue without blocking, so holding the lock here is safe.

func (e *SyncEngine) enqueueUpsert(item domain.LineItem, prior itemSnapshot) uint64 {
	return e.enqueue(pendingMutation{op: opUpsert, key: item.Key(), item: item, prior: prior})
}

func (e *SyncEngine) enqueueDelete(key domain.ItemKey, prior itemSnapshot) uint64 {
	return e.enqueue(pendingMutation{op: opDelete, key: key, prior: prior})
}

// enqueueClear rides a dedicated lane (the zero key is never a valid
// product) so bulk clears serialize among themselves. Ordering against
// the per-key lanes comes from the epoch barrier set up in enqueue.
func (e *SyncEngine) enqueueClear(priorAll []domain.LineItem) uint64 {
	return e.enqueue(pendingMutation{op: opClear, priorAll: priorAll})
}

func (e *SyncEngine) enqueue(pm pendingMutation) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return e.seq
	}

	e.seq++
	pm.seq = e.seq

	// A clear touches every key, so it may not overtake any persist
	// issued before it, and nothing issued after it may overtake the
	// bulk delete.
	if pm.op == opClear {
		pm.barrier = e.epoch
		pm.release = make(chan struct{})
		e.gate = pm.release
		e.epoch = &sync.WaitGroup{}
	} else {
		pm.epoch = e.epoch
		pm.epoch.Add(1)
		pm.gate = e.gate
	}

	lane, ok := e.lanes[pm.key]
	if !ok {
		lane = newSyncLane()
		e.lanes[pm.key] = lane
		e.wg.Add(1)
		go e.drain(lane)
	}
	lane.push(pm)
	return pm.seq
}

func (e *SyncEngine) drain(lane *syncLane) {
	defer e.wg.Done()
	for {
		pm, ok := lane.pop()
		if !ok {
			return
		}
		e.apply(lane, pm)
	}
}

// apply performs one confirmation round trip. On failure the pending
// mutation resolves into a revert; on success it is simply dropped,
// since the in-memory state already matches reality.
func (e *SyncEngine) apply(lane *syncLane, pm pendingMutation) {
	if pm.op == opClear {
		pm.barrier.Wait()
	} else if pm.gate != nil {
		<-pm.gate
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	var err error
	switch pm.op {
	case opUpsert:
		err = e.persist.Upsert(ctx, pm.item)
	case opDelete:
		err = e.persist.Delete(ctx, pm.key)
	case opClear:
		err = e.persist.Clear(ctx)
	}

	if pm.op == opClear {
		if err != nil {
			log.Printf("cart sync: bulk clear failed (seq=%d): %v", pm.seq, err)
			e.store.revertAll(pm.priorAll, pm.seq, err)
		}
		close(pm.release)
		return
	}

	if err == nil {
		pm.epoch.Done()
		return
	}

	log.Printf("cart sync: persist failed (seq=%d): %v", pm.seq, err)
	e.failKeyed(lane, pm, err)
}

// failKeyed rolls the key back to the failed mutation's snapshot. Queued
// mutations on the key from the same epoch were issued against optimistic
// state that the revert is about to wipe, so sending them would persist
// values the user no longer sees; they are dropped instead. The drop and
// the revert happen under the store lock so no fresh mutation can slip
// in between and be swept up with the stale ones.
func (e *SyncEngine) failKeyed(lane *syncLane, pm pendingMutation, cause error) {
	e.store.mu.Lock()
	dropped := lane.dropRun(pm.epoch)
	e.store.revertKeyLocked(pm.prior, pm.seq, cause)
	e.store.mu.Unlock()

	pm.epoch.Done()
	for _, d := range dropped {
		d.epoch.Done()
	}
}

// close stops accepting work and waits for every lane to drain.
func (e *SyncEngine) close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for _, lane := range e.lanes {
		lane.stop()
	}
	e.mu.Unlock()

	e.wg.Wait()
}

// syncLane is an unbounded FIFO drained by one goroutine. Unbounded so
// that enqueueing under the store lock can never block against a worker
// that is itself waiting for the store lock to revert.
type syncLane struct {
	mu      sync.Mutex
	queue   []pendingMutation
	wake    chan struct{}
	stopped bool
}

func newSyncLane() *syncLane {
	return &syncLane{wake: make(chan struct{}, 1)}
}

func (l *syncLane) push(pm pendingMutation) {
	l.mu.Lock()
	l.queue = append(l.queue, pm)
	l.mu.Unlock()
	l.signal()
}

// pop blocks until a mutation is available or the lane is stopped with
// an empty queue.
func (l *syncLane) pop() (pendingMutation, bool) {
	for {
		l.mu.Lock()
		if len(l.queue) > 0 {
			pm := l.queue[0]
			l.queue = l.queue[1:]
			l.mu.Unlock()
			return pm, true
		}
		stopped := l.stopped
		l.mu.Unlock()

		if stopped {
			return pendingMutation{}, false
		}
		<-l.wake
	}
}

// dropRun removes and returns queued mutations at the head of the queue
// that belong to the given epoch. Mutations issued after a later clear
// stay queued; the clear supersedes the failed run for them.
func (l *syncLane) dropRun(epoch *sync.WaitGroup) []pendingMutation {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for n < len(l.queue) && l.queue[n].epoch == epoch {
		n++
	}
	dropped := append([]pendingMutation(nil), l.queue[:n]...)
	l.queue = l.queue[n:]
	return dropped
}

func (l *syncLane) stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	l.signal()
}

func (l *syncLane) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
