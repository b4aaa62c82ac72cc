package pbrb

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/pbrb-go/pbrb/contracts"
	"github.com/pbrb-go/pbrb/internal/config"
	"github.com/pbrb-go/pbrb/internal/metrics"
	"github.com/pbrb-go/pbrb/testkit"
)

func newTestEngine(t *testing.T, cfg config.Config) (*PBRB, *testkit.SchemaRegistry, *testkit.Indexer, *testkit.MemLogEngine, *testkit.Clock) {
	t.Helper()
	registry := testkit.NewSchemaRegistry()
	registry.Register(testSchemaA())

	indexer := testkit.NewIndexer()
	idx := testkit.NewSchemaIndex(testkit.IntKeyLess)
	indexer.Register(contracts.SchemaID(1), idx)

	log := testkit.NewMemLogEngine()
	clock := &testkit.Clock{}

	e := New(cfg, registry, indexer, log, clock, nil)
	t.Cleanup(func() { require.NoError(t, e.Close()) })
	return e, registry, indexer, log, clock
}

func smallTestConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.MaxPages = 4
	cfg.MaxPageSearch = 4
	cfg.AsyncWriteEnabled = false
	cfg.AsyncGCEnabled = false
	cfg.GCInterval = time.Hour
	cfg.RetentionWindow = time.Hour
	return cfg
}

// TestInsertThenRead is the §8 "insert-then-read" scenario: create schema
// A, insert key 1 with a value, read it back and expect a hot hit.
func TestInsertThenRead(t *testing.T) {
	e, _, indexer, log, clock := newTestEngine(t, smallTestConfig())

	idx, ok := indexer.Index(1)
	require.True(t, ok)
	testIdx := idx.(*testkit.SchemaIndex)

	addr, err := log.Append([]byte("abc123xyz789"))
	require.NoError(t, err)
	vp := contracts.NewColdValuePtr(addr, clock.Now())
	testIdx.Insert(1, vp)

	iter := testIdx.NewIterator()
	require.True(t, iter.Next())

	_, err = e.Write(1, iter, []byte("abc123xyz789"))
	require.NoError(t, err)
	require.True(t, vp.IsHot())

	got, err := e.Read(1, iter)
	require.NoError(t, err)
	require.Equal(t, []byte("abc123xyz789"), got)
	require.InDelta(t, 1.0, e.GetHitRatio(1), 1e-9)
}

// TestPromoteOnMiss is the §8 "promote-on-miss" scenario: a cold key is
// read once; the engine falls back to the log, then (with async writes
// disabled in this config) promotes it synchronously before returning.
func TestPromoteOnMiss(t *testing.T) {
	e, _, indexer, log, clock := newTestEngine(t, smallTestConfig())

	idx, ok := indexer.Index(1)
	require.True(t, ok)
	testIdx := idx.(*testkit.SchemaIndex)

	addr, err := log.Append([]byte("abc123xyz789"))
	require.NoError(t, err)
	vp := contracts.NewColdValuePtr(addr, clock.Now())
	testIdx.Insert(2, vp)

	iter := testIdx.NewIterator()
	require.True(t, iter.Next())

	got, err := e.Read(1, iter)
	require.NoError(t, err)
	require.Equal(t, []byte("abc123xyz789"), got)
	require.True(t, vp.IsHot())
	require.NotZero(t, vp.CacheAddr())
}

func TestDropRowAndEvictRow(t *testing.T) {
	e, _, indexer, log, clock := newTestEngine(t, smallTestConfig())

	idx, ok := indexer.Index(1)
	require.True(t, ok)
	testIdx := idx.(*testkit.SchemaIndex)

	addr, err := log.Append([]byte("abc123xyz789"))
	require.NoError(t, err)
	vp := contracts.NewColdValuePtr(addr, clock.Now())
	testIdx.Insert(3, vp)
	iter := testIdx.NewIterator()
	require.True(t, iter.Next())

	_, err = e.Write(1, iter, []byte("abc123xyz789"))
	require.NoError(t, err)

	require.NoError(t, e.DropRow(1, iter))
	require.False(t, vp.IsHot())
	require.ErrorIs(t, e.DropRow(1, iter), ErrNotFound)

	_, err = e.Write(1, iter, []byte("abc123xyz789"))
	require.NoError(t, err)
	require.True(t, vp.IsHot())

	require.NoError(t, e.EvictRow(1, iter))
	require.False(t, vp.IsHot())
	require.ErrorIs(t, e.EvictRow(1, iter), ErrNotFound)
}

// TestWithMetricsRecordsCounters wires a prometheus registry and checks
// that a hit, a miss, and a promotion actually move its counters instead
// of sitting permanently at zero.
func TestWithMetricsRecordsCounters(t *testing.T) {
	e, _, indexer, log, clock := newTestEngine(t, smallTestConfig())
	reg := metrics.NewRegistry(prometheus.NewRegistry())
	e.WithMetrics(reg)

	idx, ok := indexer.Index(1)
	require.True(t, ok)
	testIdx := idx.(*testkit.SchemaIndex)

	addr, err := log.Append([]byte("abc123xyz789"))
	require.NoError(t, err)
	vp := contracts.NewColdValuePtr(addr, clock.Now())
	testIdx.Insert(1, vp)

	iter := testIdx.NewIterator()
	require.True(t, iter.Next())

	_, err = e.Write(1, iter, []byte("abc123xyz789"))
	require.NoError(t, err)
	// smallTestConfig sizes the pool at 4 pages; schemaChainFor's lazy
	// construction already allocated the one page this write's single row
	// fits in.
	require.InDelta(t, 1.0, testutil.ToFloat64(reg.PagesAllocated), 1e-9)
	require.InDelta(t, 0.25, testutil.ToFloat64(reg.PoolOccupancy), 1e-9)

	_, err = e.Read(1, iter)
	require.NoError(t, err)
	require.InDelta(t, 1.0, testutil.ToFloat64(reg.SchemaHits.WithLabelValues(metrics.SchemaIDLabel(1))), 1e-9)

	addr2, err := log.Append([]byte("other0000000"))
	require.NoError(t, err)
	vp2 := contracts.NewColdValuePtr(addr2, clock.Now())
	testIdx.Insert(2, vp2)
	iter2 := testIdx.NewIterator()
	require.True(t, iter2.Next())
	require.True(t, iter2.Next())

	_, err = e.Read(1, iter2)
	require.NoError(t, err)
	require.InDelta(t, 1.0, testutil.ToFloat64(reg.SchemaMisses.WithLabelValues(metrics.SchemaIDLabel(1))), 1e-9)
}

func TestSchemaUnknown(t *testing.T) {
	e, _, indexer, _, _ := newTestEngine(t, smallTestConfig())
	idx, _ := indexer.Index(1)
	testIdx := idx.(*testkit.SchemaIndex)
	testIdx.Insert(1, contracts.NewColdValuePtr(0, 1))
	iter := testIdx.NewIterator()
	iter.Next()

	_, err := e.Write(99, iter, []byte("x"))
	require.ErrorIs(t, err, ErrSchemaUnknown)
}
