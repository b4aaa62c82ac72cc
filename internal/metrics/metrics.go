// Package metrics exposes PBRB's shutdown counters (per-schema hit
// totals, hit-ratio histories, allocate/free counts) as prometheus
// gauges/counters for a hosting process that scrapes, alongside the zap
// log dump PBRB.Close writes.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles the collectors PBRB registers against a
// *prometheus.Registry supplied by the hosting process.
type Registry struct {
	SchemaHits   *prometheus.CounterVec
	SchemaMisses *prometheus.CounterVec
	PagesAllocated prometheus.Counter
	PagesFreed     prometheus.Counter
	PoolOccupancy  prometheus.Gauge
	GCFailedRounds prometheus.Counter
	GCEvictedRows  prometheus.Counter
}

// NewRegistry builds and registers the collector set against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		SchemaHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pbrb",
			Name:      "schema_hits_total",
			Help:      "Cache read hits, by schema id.",
		}, []string{"schema_id"}),
		SchemaMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pbrb",
			Name:      "schema_misses_total",
			Help:      "Cache read misses, by schema id.",
		}, []string{"schema_id"}),
		PagesAllocated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pbrb",
			Name:      "pages_allocated_total",
			Help:      "Pages popped from the pool free list.",
		}),
		PagesFreed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pbrb",
			Name:      "pages_freed_total",
			Help:      "Pages pushed back onto the pool free list.",
		}),
		PoolOccupancy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pbrb",
			Name:      "pool_occupancy_ratio",
			Help:      "1 - freePages/maxPages across the whole page pool.",
		}),
		GCFailedRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pbrb",
			Name:      "gc_failed_rounds_total",
			Help:      "GC cycles that did not bring occupancy back to target.",
		}),
		GCEvictedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pbrb",
			Name:      "gc_evicted_rows_total",
			Help:      "Rows evicted across all GC cycles.",
		}),
	}
	reg.MustRegister(
		r.SchemaHits, r.SchemaMisses, r.PagesAllocated, r.PagesFreed,
		r.PoolOccupancy, r.GCFailedRounds, r.GCEvictedRows,
	)
	return r
}

// SchemaIDLabel renders a schema id as the label value the counter vectors
// above expect.
func SchemaIDLabel(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}
