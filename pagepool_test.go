package pbrb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pbrb-go/pbrb/contracts"
)

func TestPagePoolAllocateRelease(t *testing.T) {
	pool := newPagePool(4)
	require.Equal(t, 4, pool.freePageCount())

	pg1, ok := pool.allocate()
	require.True(t, ok)
	require.Equal(t, 3, pool.freePageCount())

	pg2, ok := pool.allocate()
	require.True(t, ok)
	require.NotEqual(t, pg1.addr, pg2.addr)

	pool.release(pg1)
	require.Equal(t, 3, pool.freePageCount())

	_, ok = pool.allocate()
	require.True(t, ok)
	_, ok = pool.allocate()
	require.True(t, ok)
	_, ok = pool.allocate()
	require.True(t, ok)
	_, ok = pool.allocate()
	require.False(t, ok, "pool exhausted should report false, not panic")
}

func TestPagePoolAddrRoundTrip(t *testing.T) {
	pool := newPagePool(8)
	stride := rowStride(12)

	pg, ok := pool.allocate()
	require.True(t, ok)

	for _, rowIdx := range []uint32{0, 1, 5} {
		if pg.rowOffset(rowIdx, stride)+stride > pageSize {
			continue
		}
		addr := addrOf(pg, rowIdx, stride)
		gotPage, gotIdx := pool.slotOf(addr, stride)
		require.Equal(t, pg.addr, gotPage.addr)
		require.Equal(t, rowIdx, gotIdx)
	}
}

func TestPagePoolPageOfRejectsMalformedAddr(t *testing.T) {
	pool := newPagePool(2)
	require.Panics(t, func() { pool.pageOf(contracts.RowAddr(0)) })
}

func TestPagePoolOccupancyRatio(t *testing.T) {
	pool := newPagePool(4)
	require.InDelta(t, 0, pool.occupancyRatio(), 1e-9)

	_, _ = pool.allocate()
	_, _ = pool.allocate()
	require.InDelta(t, 0.5, pool.occupancyRatio(), 1e-9)
}
