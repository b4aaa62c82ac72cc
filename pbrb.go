// Package pbrb implements the Page-Based Row Buffer: a schema-aware,
// slab-style DRAM row cache layered over an externally owned persistent
// log, with concurrent insertion, lazy asynchronous promotion,
// timestamp-guarded consistency against a concurrent primary index, and
// a watermark-driven GC that reclaims whole pages.
package pbrb

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pbrb-go/pbrb/contracts"
	"github.com/pbrb-go/pbrb/internal/config"
	"github.com/pbrb-go/pbrb/internal/logging"
	"github.com/pbrb-go/pbrb/internal/metrics"
)

// PBRB is the cache engine. Construct with New; callers are responsible
// for supplying the three out-of-scope collaborators (schema registry,
// primary index, persistent log) plus a Clock for timestamps.
type PBRB struct {
	cfg config.Config

	pool     *pagePool
	registry contracts.SchemaRegistry
	indexer  contracts.Indexer
	log      contracts.LogEngine
	clock    contracts.Clock

	stats   *accessStats
	evictor *evictor
	queues  *asyncRingSet

	logger  *zap.SugaredLogger
	metrics *metrics.Registry // nil if the caller didn't wire a registry

	// writeLock serializes free-list mutation, schema-chain mutation,
	// and promotion commit (§5(a)). gcMu serializes GC cycle invocation
	// on top of that, so a sync TraverseIdxGC call and the background
	// GC worker never run concurrently with each other.
	writeLock sync.Mutex
	gcMu      sync.Mutex

	chainsMu sync.RWMutex
	chains   map[contracts.SchemaID]*schemaChain

	// metricsMu guards the "last seen" alloc/free counters used to turn
	// pagePool's cumulative totals into the deltas a prometheus Counter
	// expects.
	metricsMu        sync.Mutex
	metricsAllocSeen uint64
	metricsFreeSeen  uint64

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New constructs a PBRB engine and, per cfg, starts its background
// promotion-drain and GC workers. Close stops them.
func New(cfg config.Config, registry contracts.SchemaRegistry, indexer contracts.Indexer, log contracts.LogEngine, clock contracts.Clock, logger *zap.SugaredLogger) *PBRB {
	if logger == nil {
		logger = logging.New(zap.InfoLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)

	e := &PBRB{
		cfg:      cfg,
		pool:     newPagePool(cfg.MaxPages),
		registry: registry,
		indexer:  indexer,
		log:      log,
		clock:    clock,
		stats:    newAccessStats(cfg.StatsInterval),
		evictor: newEvictor(gcConfig{
			startGCOccupancyRatio: cfg.StartGCOccupancyRatio,
			targetOccupancyRatio:  cfg.TargetOccupancyRatio,
			retentionWindow:       contracts.Timestamp(cfg.RetentionWindow.Nanoseconds()),
			minRetentionWindow:    contracts.Timestamp(cfg.RetentionWindow.Nanoseconds() / 1000),
		}),
		queues: newAsyncRingSet(cfg.AsyncQueueCapacity),
		logger: logger,
		chains: make(map[contracts.SchemaID]*schemaChain),
		cancel: cancel,
		group:  g,
	}

	if cfg.AsyncWriteEnabled {
		startDrainWorkers(gctx, g, e.queues, e.cfg.AsyncDrainWorkers, e.drainPromote)
	}
	if cfg.AsyncGCEnabled {
		g.Go(func() error { return e.gcLoop(gctx) })
	}

	return e
}

// WithMetrics attaches a prometheus registry for the lifetime of the
// engine; safe to call once, before the engine sees traffic.
func (e *PBRB) WithMetrics(reg *metrics.Registry) *PBRB {
	e.metrics = reg
	return e
}

// Close cancels background workers, waits for them to exit, and logs the
// shutdown counters §6 calls for: per-schema hit totals and allocate/free
// counts.
func (e *PBRB) Close() error {
	e.cancel()
	err := e.group.Wait()

	allocated, freed := e.pool.counts()
	e.logger.Infow("pbrb shutdown",
		"pagesAllocated", allocated,
		"pagesFreed", freed,
		"globalHitRatio", e.stats.globalHitRatio(),
	)
	for _, s := range e.stats.snapshotAll() {
		e.logger.Infow("pbrb schema stats",
			"schemaID", uint32(s.ID), "hits", s.Hits, "misses", s.Misses,
			"hitRatioHistory", s.History)
	}
	return err
}

// schemaChainFor returns the chain for id, lazily constructing it from
// the schema registry on first use.
func (e *PBRB) schemaChainFor(id contracts.SchemaID) (*schemaChain, error) {
	e.chainsMu.RLock()
	chain, ok := e.chains[id]
	e.chainsMu.RUnlock()
	if ok {
		return chain, nil
	}

	schema, ok := e.registry.Find(id)
	if !ok {
		return nil, ErrSchemaUnknown
	}

	e.chainsMu.Lock()
	defer e.chainsMu.Unlock()
	if chain, ok = e.chains[id]; ok {
		return chain, nil
	}
	e.writeLock.Lock()
	chain, err := newSchemaChain(e.pool, schema)
	e.writeLock.Unlock()
	if err != nil {
		return nil, err
	}
	e.chains[id] = chain
	return chain, nil
}

// Write promotes value into the cache for the key iter is positioned at,
// synchronously. On ErrNoSpace it runs one opportunistic GC cycle and
// retries the allocation exactly once before giving up, per §4.9's
// failure semantics ("slot-allocation failures trigger an opportunistic
// GC").
func (e *PBRB) Write(schemaID contracts.SchemaID, iter contracts.IndexIterator, value []byte) (contracts.RowAddr, error) {
	chain, err := e.schemaChainFor(schemaID)
	if err != nil {
		return 0, err
	}

	vp := iter.ValuePtr()
	oldTS := vp.Timestamp()
	newTS := e.clock.Now()

	e.writeLock.Lock()
	result, err := syncPromote(e.pool, chain, vp, value, iter, oldTS, newTS, e.cfg.MaxPageSearch)
	e.writeLock.Unlock()
	e.syncPoolMetrics()

	if err == ErrNoSpace {
		e.TraverseIdxGC()
		e.writeLock.Lock()
		result, err = syncPromote(e.pool, chain, vp, value, iter, oldTS, newTS, e.cfg.MaxPageSearch)
		e.writeLock.Unlock()
		e.syncPoolMetrics()
	}
	if err != nil {
		return 0, err
	}
	return result.addr, nil
}

// AsyncWrite enqueues a promotion for the drain worker instead of
// blocking the caller. A full queue is not an error the caller need act
// on: per §4.6, the enqueue silently fails and the read that triggered it
// still completed from the log.
func (e *PBRB) AsyncWrite(schemaID contracts.SchemaID, iter contracts.IndexIterator, value []byte) {
	vp := iter.ValuePtr()
	req := promoteRequest{schemaID: schemaID, vp: vp, value: value, oldTS: vp.Timestamp()}
	if err := e.queues.push(schemaID, req); err != nil {
		e.logger.Debugw("pbrb async promotion dropped", "schemaID", uint32(schemaID), "reason", err)
	}
}

// drainPromote is the drain worker's per-entry handler: resolve the
// chain, take a fresh newTS from the engine clock, and commit via
// syncPromote exactly as Write would, but with no neighbor-hint iterator
// (the original iterator position isn't meaningfully reusable once the
// request has sat in the ring).
func (e *PBRB) drainPromote(req promoteRequest) {
	chain, err := e.schemaChainFor(req.schemaID)
	if err != nil {
		e.logger.Warnw("pbrb drain: schema chain unavailable", "schemaID", uint32(req.schemaID), "err", err)
		return
	}

	newTS := e.clock.Now()
	e.writeLock.Lock()
	_, err = syncPromote(e.pool, chain, req.vp, req.value, nil, req.oldTS, newTS, e.cfg.MaxPageSearch)
	e.writeLock.Unlock()
	e.syncPoolMetrics()

	switch err {
	case nil:
	case ErrConflict, ErrSizeMismatch:
		// Non-fatal: a concurrent writer already moved on, or the
		// queued value no longer matches the schema. The read that
		// originally triggered this already completed from the log.
	case ErrNoSpace:
		e.TraverseIdxGC()
	default:
		e.logger.Warnw("pbrb drain: promotion failed", "schemaID", uint32(req.schemaID), "err", err)
	}
}

// Read resolves the key iter is positioned at: a hot hit is served
// straight from the pool with a timestamp refresh; a miss (cold, or a hot
// read that lost the staleness race) falls back to the log and schedules
// a promotion attempt so the next read might hit.
func (e *PBRB) Read(schemaID contracts.SchemaID, iter contracts.IndexIterator) ([]byte, error) {
	chain, err := e.schemaChainFor(schemaID)
	if err != nil {
		return nil, err
	}
	vp := iter.ValuePtr()

	if vp.IsHot() {
		newTS := e.clock.Now()
		value, err := readHot(e.pool, vp, chain.stride, chain.valueSize, newTS)
		if err == nil {
			e.recordHit(schemaID)
			return value, nil
		}
	}

	value, err := readCold(e.log, vp)
	if err != nil {
		return nil, err
	}
	e.recordMiss(schemaID)

	if e.cfg.AsyncWriteEnabled {
		e.AsyncWrite(schemaID, iter, value)
	} else {
		newTS := e.clock.Now()
		e.writeLock.Lock()
		syncPromote(e.pool, chain, vp, value, iter, vp.Timestamp(), newTS, e.cfg.MaxPageSearch) //nolint:errcheck
		e.writeLock.Unlock()
		e.syncPoolMetrics()
	}
	return value, nil
}

// DropRow evicts the cache slot for iter's key (if any is live) as part
// of an explicit key deletion. Returns ErrNotFound if the key was already
// cold.
func (e *PBRB) DropRow(schemaID contracts.SchemaID, iter contracts.IndexIterator) error {
	chain, err := e.schemaChainFor(schemaID)
	if err != nil {
		return err
	}
	e.writeLock.Lock()
	ok := dropRow(e.pool, chain, iter.ValuePtr())
	e.writeLock.Unlock()
	e.syncPoolMetrics()
	if !ok {
		return ErrNotFound
	}
	return nil
}

// EvictRow flips iter's key cold without deleting it from the index, the
// single-row counterpart to the GC traversal below.
func (e *PBRB) EvictRow(schemaID contracts.SchemaID, iter contracts.IndexIterator) error {
	chain, err := e.schemaChainFor(schemaID)
	if err != nil {
		return err
	}
	e.writeLock.Lock()
	ok := evictRow(e.pool, chain, iter.ValuePtr())
	e.writeLock.Unlock()
	e.syncPoolMetrics()
	if !ok {
		return ErrNotFound
	}
	return nil
}

// SchemaHit and SchemaMiss let a caller outside Read (e.g. a top-level KV
// facade serving straight from its own cache) still feed PBRB's access
// statistics.
func (e *PBRB) SchemaHit(id contracts.SchemaID)  { e.recordHit(id) }
func (e *PBRB) SchemaMiss(id contracts.SchemaID) { e.recordMiss(id) }

// recordHit and recordMiss feed both the internal accessStats counters
// (consumed by GC's coldest-schema-first ordering) and, when a registry is
// wired via WithMetrics, the prometheus per-schema counters.
func (e *PBRB) recordHit(id contracts.SchemaID) {
	e.stats.schemaHit(id)
	if e.metrics != nil {
		e.metrics.SchemaHits.WithLabelValues(metrics.SchemaIDLabel(uint32(id))).Inc()
	}
}

func (e *PBRB) recordMiss(id contracts.SchemaID) {
	e.stats.schemaMiss(id)
	if e.metrics != nil {
		e.metrics.SchemaMisses.WithLabelValues(metrics.SchemaIDLabel(uint32(id))).Inc()
	}
}

// syncPoolMetrics pushes the page pool's cumulative alloc/free counts and
// current occupancy into the prometheus registry, when one is wired. It
// turns pagePool's monotonic totals into the deltas a prometheus Counter
// expects, guarding against double-counting when called from concurrent
// writers.
func (e *PBRB) syncPoolMetrics() {
	if e.metrics == nil {
		return
	}
	allocated, freed := e.pool.counts()
	e.metricsMu.Lock()
	if allocated > e.metricsAllocSeen {
		e.metrics.PagesAllocated.Add(float64(allocated - e.metricsAllocSeen))
		e.metricsAllocSeen = allocated
	}
	if freed > e.metricsFreeSeen {
		e.metrics.PagesFreed.Add(float64(freed - e.metricsFreeSeen))
		e.metricsFreeSeen = freed
	}
	e.metricsMu.Unlock()
	e.metrics.PoolOccupancy.Set(e.pool.occupancyRatio())
}

// GetHitRatio returns the schema's hit ratio, or -1 if it has never been
// accessed.
func (e *PBRB) GetHitRatio(id contracts.SchemaID) float64 {
	ratio, ok := e.stats.hitRatioOrUndefined(id)
	if !ok {
		return -1
	}
	return ratio
}

// TraverseIdxGC runs one synchronous GC cycle over every schema chain.
// Safe to call concurrently with the background GC worker; gcMu
// serializes the two.
func (e *PBRB) TraverseIdxGC() {
	e.gcMu.Lock()
	defer e.gcMu.Unlock()

	e.chainsMu.RLock()
	chains := make(map[contracts.SchemaID]*schemaChain, len(e.chains))
	for id, c := range e.chains {
		chains[id] = c
	}
	e.chainsMu.RUnlock()

	e.writeLock.Lock()
	evicted, failed := e.evictor.runCycle(e.pool, chains, e.stats, e.indexer, e.clock.Now())
	e.writeLock.Unlock()
	e.syncPoolMetrics()

	if e.metrics != nil {
		if evicted > 0 {
			e.metrics.GCEvictedRows.Add(float64(evicted))
		}
		if failed {
			e.metrics.GCFailedRounds.Inc()
		}
	}

	if evicted > 0 {
		e.logger.Debugw("pbrb gc cycle", "evicted", evicted)
	}
}

// gcLoop is the background GC worker: runs TraverseIdxGC on cfg.GCInterval
// until ctx is cancelled.
func (e *PBRB) gcLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.TraverseIdxGC()
		}
	}
}
