package pbrb

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pbrb-go/pbrb/contracts"
)

// promoteRequest is one queued async promotion: a cold value pointer, the
// value bytes read from the log, and the timestamp it was read at (the CAS
// witness the eventual commit must still match).
type promoteRequest struct {
	schemaID contracts.SchemaID
	vp       *contracts.ValuePtr
	value    []byte
	oldTS    contracts.Timestamp
}

// asyncQueue is a bounded ring buffer holding one schema's pending
// promotions. Many callers enqueue concurrently from read misses (the
// "many producers" side); a drain worker dequeues and commits them (the
// "few consumers" side) - hence the SPMC shape, even though any given
// producer only ever pushes, never pops.
//
// Enqueue never blocks: a full ring returns ErrQueueFull immediately and
// the caller degrades to "stayed cold", per the read path's queue-full
// behavior.
type asyncQueue struct {
	mu    sync.Mutex
	items []promoteRequest
	head  int
	count int
}

func newAsyncQueue(capacity int) *asyncQueue {
	if capacity <= 0 {
		invariantViolation("pbrb: asyncQueue requires capacity > 0")
	}
	return &asyncQueue{items: make([]promoteRequest, capacity)}
}

func (q *asyncQueue) push(req promoteRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == len(q.items) {
		return ErrQueueFull
	}
	tail := (q.head + q.count) % len(q.items)
	q.items[tail] = req
	q.count++
	return nil
}

func (q *asyncQueue) pop() (promoteRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return promoteRequest{}, false
	}
	req := q.items[q.head]
	q.items[q.head] = promoteRequest{}
	q.head = (q.head + 1) % len(q.items)
	q.count--
	return req, true
}

func (q *asyncQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// asyncRingSet holds one bounded ring per schema, per §3's "per-schema
// bounded ring of fixed-size entries" and §4.6's "the worker thread spins
// over the list of per-schema rings". Rings are created lazily so a schema
// with no async traffic never allocates one. Keeping the rings separate
// means a promotion burst on one schema can fill only its own ring and
// never starves an unrelated schema's promotions.
type asyncRingSet struct {
	mu       sync.Mutex
	capacity int
	rings    map[contracts.SchemaID]*asyncQueue
	notify   chan struct{}
}

func newAsyncRingSet(capacity int) *asyncRingSet {
	return &asyncRingSet{
		capacity: capacity,
		rings:    make(map[contracts.SchemaID]*asyncQueue),
		notify:   make(chan struct{}, 1),
	}
}

func (s *asyncRingSet) ringFor(id contracts.SchemaID) *asyncQueue {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.rings[id]
	if !ok {
		q = newAsyncQueue(s.capacity)
		s.rings[id] = q
	}
	return q
}

func (s *asyncRingSet) push(id contracts.SchemaID, req promoteRequest) error {
	err := s.ringFor(id).push(req)
	if err == nil {
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
	return err
}

// snapshotRings returns the current set of per-schema rings. Go's map
// iteration order is randomized per call, which is enough to keep one
// schema's ring from always being drained first.
func (s *asyncRingSet) snapshotRings() []*asyncQueue {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*asyncQueue, 0, len(s.rings))
	for _, q := range s.rings {
		out = append(out, q)
	}
	return out
}

// popAny dequeues one request from whichever schema ring has one.
func (s *asyncRingSet) popAny() (promoteRequest, bool) {
	for _, q := range s.snapshotRings() {
		if req, ok := q.pop(); ok {
			return req, true
		}
	}
	return promoteRequest{}, false
}

// depth is the total number of requests pending across every ring, for
// tests and diagnostics.
func (s *asyncRingSet) depth() int {
	total := 0
	for _, q := range s.snapshotRings() {
		total += q.depth()
	}
	return total
}

// startDrainWorkers launches n goroutines under g, each spinning over the
// current set of per-schema rings and handing dequeued requests to process
// until ctx is cancelled. Workers block on the ring set's shared notify
// channel between passes rather than busy-polling; a worker that wakes to
// find every ring already drained by a sibling just loops back to waiting,
// which is why notify is a best-effort wakeup and not a strict
// one-token-per-item channel.
func startDrainWorkers(ctx context.Context, g *errgroup.Group, set *asyncRingSet, n int, process func(promoteRequest)) {
	for i := 0; i < n; i++ {
		g.Go(func() error {
			for {
				req, ok := set.popAny()
				if ok {
					process(req)
					continue
				}
				select {
				case <-ctx.Done():
					return nil
				case <-set.notify:
				}
			}
		})
	}
}
