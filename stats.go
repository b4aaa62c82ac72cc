package pbrb

import (
	"sync"
	"sync/atomic"

	"github.com/pbrb-go/pbrb/contracts"
)

// maxStatsHistory bounds the per-schema hits-per-interval history vector
// (§4.8: "a bounded history vector") so a long-lived schema's stats don't
// grow without limit; the oldest samples are dropped once full.
const maxStatsHistory = 64

// schemaStats accumulates hit/miss counts for one schema, plus the
// windowed hits-per-interval history §4.8 describes. The hit/miss
// totals are atomics so the read path never contends with GC or the
// stats reporter; the history vector is mutex-guarded since it's only
// touched once per StatsInterval accesses, not on every call.
type schemaStats struct {
	hits   atomic.Uint64
	misses atomic.Uint64

	mu           sync.Mutex
	lastHitCount uint64
	history      []uint64
}

func (s *schemaStats) hit()  { s.hits.Add(1) }
func (s *schemaStats) miss() { s.misses.Add(1) }

func (s *schemaStats) ratio() float64 {
	h, m := s.hits.Load(), s.misses.Load()
	total := h + m
	if total == 0 {
		return 0
	}
	return float64(h) / float64(total)
}

// recordInterval appends hitCount-lastHitCount to the bounded history
// vector every time total accesses crosses a multiple of interval, per
// §4.8: "Every interval accesses (default 200 000), append hitCount -
// lastHitCount to a bounded history vector."
func (s *schemaStats) recordInterval(interval uint64) {
	if interval == 0 {
		return
	}
	total := s.hits.Load() + s.misses.Load()
	if total == 0 || total%interval != 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	hitCount := s.hits.Load()
	s.history = append(s.history, hitCount-s.lastHitCount)
	if len(s.history) > maxStatsHistory {
		s.history = s.history[len(s.history)-maxStatsHistory:]
	}
	s.lastHitCount = hitCount
}

func (s *schemaStats) historySnapshot() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, len(s.history))
	copy(out, s.history)
	return out
}

// accessStats is the engine-wide collection of per-schema counters, plus
// the global totals used for the overall hit ratio reported alongside
// per-schema ones. Schemas are registered lazily on first access so
// callers never need a separate "announce this schema" step.
type accessStats struct {
	mu        sync.RWMutex
	perSchema map[contracts.SchemaID]*schemaStats
	interval  uint64

	globalHits   atomic.Uint64
	globalMisses atomic.Uint64
}

func newAccessStats(interval uint64) *accessStats {
	return &accessStats{perSchema: make(map[contracts.SchemaID]*schemaStats), interval: interval}
}

func (a *accessStats) forSchema(id contracts.SchemaID) *schemaStats {
	a.mu.RLock()
	s, ok := a.perSchema[id]
	a.mu.RUnlock()
	if ok {
		return s
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok = a.perSchema[id]; ok {
		return s
	}
	s = &schemaStats{}
	a.perSchema[id] = s
	return s
}

func (a *accessStats) schemaHit(id contracts.SchemaID) {
	s := a.forSchema(id)
	s.hit()
	s.recordInterval(a.interval)
	a.globalHits.Add(1)
}

func (a *accessStats) schemaMiss(id contracts.SchemaID) {
	s := a.forSchema(id)
	s.miss()
	s.recordInterval(a.interval)
	a.globalMisses.Add(1)
}

// hitRatio returns the per-schema hit ratio, or 0 for a schema that has
// never been accessed.
func (a *accessStats) hitRatio(id contracts.SchemaID) float64 {
	a.mu.RLock()
	s, ok := a.perSchema[id]
	a.mu.RUnlock()
	if !ok {
		return 0
	}
	return s.ratio()
}

// hitRatioOrUndefined is hitRatio but distinguishes "never accessed"
// (undefined, §4.8) from a genuine 0% hit ratio.
func (a *accessStats) hitRatioOrUndefined(id contracts.SchemaID) (float64, bool) {
	a.mu.RLock()
	s, ok := a.perSchema[id]
	a.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if s.hits.Load()+s.misses.Load() == 0 {
		return 0, false
	}
	return s.ratio(), true
}

// globalHitRatio returns the hit ratio across all schemas combined.
func (a *accessStats) globalHitRatio() float64 {
	h, m := a.globalHits.Load(), a.globalMisses.Load()
	total := h + m
	if total == 0 {
		return 0
	}
	return float64(h) / float64(total)
}

// historyFor returns a schema's bounded hits-per-interval history vector,
// oldest sample first. Empty for a schema that hasn't crossed one
// StatsInterval's worth of accesses yet.
func (a *accessStats) historyFor(id contracts.SchemaID) []uint64 {
	a.mu.RLock()
	s, ok := a.perSchema[id]
	a.mu.RUnlock()
	if !ok {
		return nil
	}
	return s.historySnapshot()
}

// schemaSnapshot is one schema's hit/miss totals and hit-ratio history,
// for the shutdown dump.
type schemaSnapshot struct {
	ID      contracts.SchemaID
	Hits    uint64
	Misses  uint64
	History []uint64
}

// snapshotAll returns every registered schema's current counters, for
// Close's shutdown log line (per-schema hit totals and hit-ratio
// histories, §6 Observability).
func (a *accessStats) snapshotAll() []schemaSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]schemaSnapshot, 0, len(a.perSchema))
	for id, s := range a.perSchema {
		out = append(out, schemaSnapshot{
			ID:      id,
			Hits:    s.hits.Load(),
			Misses:  s.misses.Load(),
			History: s.historySnapshot(),
		})
	}
	return out
}

// coldestSchemas returns every registered schema id whose hit ratio is at
// or below threshold. The evictor does not call it: runCycle ranks schemas
// by hitRatio directly. Order is unspecified; the caller sorts if it needs
// a ranking.
func (a *accessStats) coldestSchemas(threshold float64) []contracts.SchemaID {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var ids []contracts.SchemaID
	for id, s := range a.perSchema {
		if s.ratio() <= threshold {
			ids = append(ids, id)
		}
	}
	return ids
}
