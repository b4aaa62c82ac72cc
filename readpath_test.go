package pbrb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pbrb-go/pbrb/contracts"
	"github.com/pbrb-go/pbrb/testkit"
)

func TestReadHotRefreshesTimestamp(t *testing.T) {
	pool := newPagePool(4)
	chain, err := newSchemaChain(pool, testSchemaA())
	require.NoError(t, err)

	vp := contracts.NewColdValuePtr(0, 1)
	value := []byte("abc123xyz789")
	_, err = syncPromote(pool, chain, vp, value, nil, 1, 5, 8)
	require.NoError(t, err)

	got, err := readHot(pool, vp, chain.stride, chain.valueSize, 6)
	require.NoError(t, err)
	require.Equal(t, value, got)
	require.EqualValues(t, 6, vp.Timestamp())

	pg, rowIdx := pool.slotOf(vp.CacheAddr(), chain.stride)
	require.EqualValues(t, 6, pg.rowTimestamp(pg.rowOffset(rowIdx, chain.stride)))
}

func TestReadHotStaleOnTimestampMismatch(t *testing.T) {
	pool := newPagePool(4)
	chain, err := newSchemaChain(pool, testSchemaA())
	require.NoError(t, err)

	vp := contracts.NewColdValuePtr(0, 1)
	_, err = syncPromote(pool, chain, vp, []byte("abc123xyz789"), nil, 1, 5, 8)
	require.NoError(t, err)

	// Simulate a concurrent writer moving the row's own timestamp without
	// the value pointer agreeing (an inconsistency that should never
	// happen under the writeLock, but readHot must still catch it).
	pg, rowIdx := pool.slotOf(vp.CacheAddr(), chain.stride)
	pg.setRowTimestamp(pg.rowOffset(rowIdx, chain.stride), 999)

	_, err = readHot(pool, vp, chain.stride, chain.valueSize, 6)
	require.ErrorIs(t, err, ErrStale)
}

func TestReadHotOnColdValuePtr(t *testing.T) {
	vp := contracts.NewColdValuePtr(0, 1)
	_, err := readHot(newPagePool(1), vp, 40, 12, 2)
	require.ErrorIs(t, err, ErrStale)
}

func TestReadColdFetchesFromLog(t *testing.T) {
	log := testkit.NewMemLogEngine()
	addr, err := log.Append([]byte("abc123xyz789"))
	require.NoError(t, err)

	vp := contracts.NewColdValuePtr(addr, 1)
	got, err := readCold(log, vp)
	require.NoError(t, err)
	require.Equal(t, []byte("abc123xyz789"), got)
}
