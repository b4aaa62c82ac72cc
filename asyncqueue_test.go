package pbrb

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/pbrb-go/pbrb/contracts"
)

// TestAsyncQueueFullDegrades is the §8 "queue-full degradation" scenario:
// with capacity 4 and 100 submissions in tight succession, at most 4 are
// ever in flight and the rest are silently dropped, with no crash or
// duplicate processing.
func TestAsyncQueueFullDegrades(t *testing.T) {
	q := newAsyncQueue(4)
	accepted := 0
	for i := 0; i < 100; i++ {
		if err := q.push(promoteRequest{oldTS: contracts.Timestamp(i)}); err == nil {
			accepted++
		}
	}
	require.LessOrEqual(t, accepted, 4)
	require.Equal(t, accepted, q.depth())
}

func TestAsyncQueuePushPopOrder(t *testing.T) {
	q := newAsyncQueue(4)
	for i := 0; i < 3; i++ {
		require.NoError(t, q.push(promoteRequest{oldTS: contracts.Timestamp(i)}))
	}
	for i := 0; i < 3; i++ {
		req, ok := q.pop()
		require.True(t, ok)
		require.EqualValues(t, i, req.oldTS)
	}
	_, ok := q.pop()
	require.False(t, ok)
}

// TestAsyncRingSetPerSchemaIsolation is the per-schema ring requirement:
// filling schema 1's ring solid must not block a push for schema 2.
func TestAsyncRingSetPerSchemaIsolation(t *testing.T) {
	set := newAsyncRingSet(2)
	require.NoError(t, set.push(1, promoteRequest{schemaID: 1}))
	require.NoError(t, set.push(1, promoteRequest{schemaID: 1}))
	require.ErrorIs(t, set.push(1, promoteRequest{schemaID: 1}), ErrQueueFull)

	// Schema 2's ring is untouched by schema 1 being full.
	require.NoError(t, set.push(2, promoteRequest{schemaID: 2}))
	require.Equal(t, 3, set.depth())
}

func TestDrainWorkersProcessAllPushedRequests(t *testing.T) {
	set := newAsyncRingSet(16)
	for i := 0; i < 5; i++ {
		require.NoError(t, set.push(1, promoteRequest{schemaID: 1, oldTS: contracts.Timestamp(i)}))
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, set.push(2, promoteRequest{schemaID: 2, oldTS: contracts.Timestamp(i)}))
	}

	var processed atomic.Int64
	var mu sync.Mutex
	seen := make(map[contracts.SchemaID]map[contracts.Timestamp]bool)

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	startDrainWorkers(gctx, g, set, 3, func(req promoteRequest) {
		processed.Add(1)
		mu.Lock()
		if seen[req.schemaID] == nil {
			seen[req.schemaID] = make(map[contracts.Timestamp]bool)
		}
		seen[req.schemaID][req.oldTS] = true
		mu.Unlock()
	})

	require.Eventually(t, func() bool {
		return processed.Load() == 10
	}, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, g.Wait())
	require.Len(t, seen[contracts.SchemaID(1)], 5)
	require.Len(t, seen[contracts.SchemaID(2)], 5)
}
