package pbrb

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/pbrb-go/pbrb/contracts"
)

// gcConfig tunes when GC runs and how aggressively it tightens under
// sustained pressure.
type gcConfig struct {
	// startGCOccupancyRatio is the pool-wide occupancy that triggers a
	// cycle at all.
	startGCOccupancyRatio float64
	// targetOccupancyRatio is the pool-wide occupancy a cycle tries to
	// bring the pool back down to; reaching it mid-cycle stops early.
	targetOccupancyRatio float64

	// retentionWindow is the base "how old must a hot row be before it's
	// GC-eligible" duration, in the same tick unit as the engine's
	// Clock. Each schema's actual watermark shrinks this by
	// 2^(-failedRounds) * (1-chainOccupancy)/(1-target), so a schema
	// that's nearly full gets a much tighter window than one with room
	// to spare.
	retentionWindow contracts.Timestamp
	// minRetentionWindow floors the shrunk window so GC never starts
	// evicting rows the instant they're promoted.
	minRetentionWindow contracts.Timestamp
}

func defaultGCConfig() gcConfig {
	return gcConfig{
		startGCOccupancyRatio: 0.75,
		targetOccupancyRatio:  0.70,
		retentionWindow:       contracts.Timestamp(1_000_000_000),
		minRetentionWindow:    contracts.Timestamp(1_000_000),
	}
}

// evictor runs GC cycles over schema chains. failedRounds counts
// consecutive cycles that didn't bring the pool back down to target,
// exponentially tightening every schema's retention watermark
// (2^(-failedRounds)) until one does; gcFailedTimes mirrors the same
// counter under the name the distilled source's GCFailedTimes field uses,
// reported for operational visibility.
type evictor struct {
	cfg gcConfig

	mu            sync.Mutex
	failedRounds  uint64
	gcFailedTimes atomic.Uint64
}

func newEvictor(cfg gcConfig) *evictor {
	return &evictor{cfg: cfg}
}

// evictRow flips vp cold and frees its cache slot. Returns false if vp
// was already cold. Callers must hold the engine's writeLock.
func evictRow(pool *pagePool, chain *schemaChain, vp *contracts.ValuePtr) bool {
	addr := vp.SetCold()
	if addr == 0 {
		return false
	}
	pg, rowIdx := pool.slotOf(addr, chain.stride)
	pg.clearBit(rowIdx)
	chain.curRowNum.Add(-1)
	return true
}

// dropRow is evictRow's counterpart for an explicit key deletion rather
// than an age-driven reclaim: identical cache-side bookkeeping today, kept
// as its own name because the two are invoked from different call sites
// (the GC traversal vs. a delete operation) and may diverge later (e.g.
// deletion-specific stats).
func dropRow(pool *pagePool, chain *schemaChain, vp *contracts.ValuePtr) bool {
	return evictRow(pool, chain, vp)
}

// traverseIdxGC walks idx once, evicting every hot row whose age (now
// minus its timestamp) has reached window. Callers must hold the
// engine's writeLock for the duration of the traversal.
func traverseIdxGC(pool *pagePool, chain *schemaChain, idx contracts.SchemaIndex, now contracts.Timestamp, window contracts.Timestamp) int {
	evicted := 0
	iter := idx.NewIterator()
	for iter.Next() {
		vp := iter.ValuePtr()
		if vp == nil {
			continue
		}
		addr, ts, hot := vp.Snapshot()
		if !hot || addr == 0 {
			continue
		}
		if now-ts < window {
			continue
		}
		if evictRow(pool, chain, vp) {
			evicted++
		}
	}
	chain.reclaimEmptyPages(pool)
	return evicted
}

// effectiveWindow derives one schema's retention watermark age from the
// evictor's base window, the global failure streak, and how full this
// particular chain is relative to the pool's target occupancy - a chain
// sitting well under target gets a much looser window than one crowding
// its pages.
func effectiveWindow(base contracts.Timestamp, failedRounds uint64, chainOccupancy, target float64) contracts.Timestamp {
	if target >= 1 {
		target = 0.99
	}
	factor := math.Pow(2, -float64(failedRounds)) * (1 - chainOccupancy) / (1 - target)
	if factor < 0 {
		factor = 0
	}
	w := contracts.Timestamp(float64(base) * factor)
	return w
}

// runCycle implements the watermark cycle: bail out immediately if the
// pool isn't over its start threshold, otherwise visit schemas coldest
// hit-ratio first, evicting from each until the pool falls back to
// target (stopping early, per the spec's "if target reached mid-schema,
// stop") or every schema with live rows has been visited. Callers must
// hold the engine's writeLock. Returns the number of rows evicted and
// whether this cycle failed to bring the pool back down to target (only
// meaningful when the cycle actually ran - a cycle skipped because the
// pool was already under the start threshold is never a "failure").
func (e *evictor) runCycle(pool *pagePool, chains map[contracts.SchemaID]*schemaChain, stats *accessStats, indexer contracts.Indexer, now contracts.Timestamp) (evicted int, failed bool) {
	if pool.occupancyRatio() < e.cfg.startGCOccupancyRatio {
		return 0, false
	}

	ids := make([]contracts.SchemaID, 0, len(chains))
	for id, chain := range chains {
		if chain.curRowNum.Load() > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return stats.hitRatio(ids[i]) < stats.hitRatio(ids[j])
	})

	e.mu.Lock()
	failedRounds := e.failedRounds
	e.mu.Unlock()

	totalEvicted := 0
	reachedTarget := false
	for _, id := range ids {
		chain := chains[id]
		idx, ok := indexer.Index(id)
		if !ok {
			continue
		}
		window := effectiveWindow(e.cfg.retentionWindow, failedRounds, chain.occupancyRatio(), e.cfg.targetOccupancyRatio)
		if window < e.cfg.minRetentionWindow {
			window = e.cfg.minRetentionWindow
		}
		totalEvicted += traverseIdxGC(pool, chain, idx, now, window)
		if pool.occupancyRatio() <= e.cfg.targetOccupancyRatio {
			reachedTarget = true
			break
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if reachedTarget {
		e.failedRounds = 0
		e.gcFailedTimes.Store(0)
	} else {
		e.failedRounds++
		e.gcFailedTimes.Add(1)
	}
	return totalEvicted, !reachedTarget
}
