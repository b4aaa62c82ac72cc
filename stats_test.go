package pbrb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pbrb-go/pbrb/contracts"
)

func TestAccessStatsRatio(t *testing.T) {
	stats := newAccessStats(0)
	const schema = contracts.SchemaID(1)

	ratio, ok := stats.hitRatioOrUndefined(schema)
	require.False(t, ok)
	require.Zero(t, ratio)

	stats.schemaHit(schema)
	stats.schemaHit(schema)
	stats.schemaMiss(schema)

	ratio, ok = stats.hitRatioOrUndefined(schema)
	require.True(t, ok)
	require.InDelta(t, 2.0/3.0, ratio, 1e-9)
	require.InDelta(t, 2.0/3.0, stats.globalHitRatio(), 1e-9)
}

func TestAccessStatsColdestSchemas(t *testing.T) {
	stats := newAccessStats(0)
	stats.schemaHit(1)
	stats.schemaHit(1)

	stats.schemaMiss(2)
	stats.schemaMiss(2)

	cold := stats.coldestSchemas(0.1)
	require.Contains(t, cold, contracts.SchemaID(2))
	require.NotContains(t, cold, contracts.SchemaID(1))
}

func TestAccessStatsSnapshotAll(t *testing.T) {
	stats := newAccessStats(0)
	stats.schemaHit(1)
	stats.schemaMiss(1)
	stats.schemaHit(2)

	snap := stats.snapshotAll()
	require.Len(t, snap, 2)
}

func TestAccessStatsRecordsWindowedHistory(t *testing.T) {
	stats := newAccessStats(4)
	const schema = contracts.SchemaID(1)

	require.Empty(t, stats.historyFor(schema))

	stats.schemaHit(schema)
	stats.schemaHit(schema)
	stats.schemaHit(schema)
	stats.schemaMiss(schema) // 4th access: interval boundary, hits=3 since last

	history := stats.historyFor(schema)
	require.Equal(t, []uint64{3}, history)

	for i := 0; i < 4; i++ {
		stats.schemaHit(schema) // next 4 accesses, all hits
	}
	history = stats.historyFor(schema)
	require.Equal(t, []uint64{3, 4}, history)
}
