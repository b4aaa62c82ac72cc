package pbrb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pbrb-go/pbrb/contracts"
)

func testSchemaA() contracts.Schema {
	return contracts.Schema{
		Name: "A",
		ID:   1,
		Fields: []contracts.Field{
			{Name: "a", Type: contracts.FieldTypeFixedBytes, Size: 6},
			{Name: "b", Type: contracts.FieldTypeFixedBytes, Size: 6},
		},
		ValueSize: 12,
	}
}

func TestNewSchemaChainNoSpace(t *testing.T) {
	pool := newPagePool(1)
	_, ok := pool.allocate() // starve the free list
	require.True(t, ok)

	_, err := newSchemaChain(pool, testSchemaA())
	require.ErrorIs(t, err, ErrNoSpace)
}

func TestSchemaChainAppendAndReclaim(t *testing.T) {
	pool := newPagePool(4)
	chain, err := newSchemaChain(pool, testSchemaA())
	require.NoError(t, err)
	require.Equal(t, uint32(1), chain.curPageNum)
	require.Equal(t, chain.head, chain.tail)

	pg2, ok := pool.allocate()
	require.True(t, ok)
	chain.appendNewPage(pg2)
	require.Equal(t, uint32(2), chain.curPageNum)
	require.Equal(t, chain.tail, pg2)
	require.Equal(t, pg2, chain.next(chain.head))

	pg3, ok := pool.allocate()
	require.True(t, ok)
	chain.appendPageAfter(chain.head, pg3)
	require.Equal(t, uint32(3), chain.curPageNum)
	require.Equal(t, pg3, chain.next(chain.head))
	require.Equal(t, pg2, chain.next(pg3))

	chain.reclaimPage(pool, pg3)
	require.Equal(t, uint32(2), chain.curPageNum)
	require.Equal(t, pg2, chain.next(chain.head))
}

func TestSchemaChainReclaimRefusesLastPage(t *testing.T) {
	pool := newPagePool(2)
	chain, err := newSchemaChain(pool, testSchemaA())
	require.NoError(t, err)
	require.Panics(t, func() { chain.reclaimPage(pool, chain.head) })
}

func TestSchemaChainReclaimEmptyPages(t *testing.T) {
	pool := newPagePool(4)
	chain, err := newSchemaChain(pool, testSchemaA())
	require.NoError(t, err)

	pg2, _ := pool.allocate()
	chain.appendNewPage(pg2)
	pg3, _ := pool.allocate()
	chain.appendNewPage(pg3)

	// Leave pg2 and pg3 empty (hotRowCount 0); reclaimEmptyPages should
	// reclaim both but always keep head.
	n := chain.reclaimEmptyPages(pool)
	require.Equal(t, 2, n)
	require.Equal(t, chain.head, chain.tail)
	require.Equal(t, 3, pool.freePageCount())
}

func TestSchemaChainOccupancyRatio(t *testing.T) {
	pool := newPagePool(2)
	chain, err := newSchemaChain(pool, testSchemaA())
	require.NoError(t, err)
	require.Zero(t, chain.occupancyRatio())

	chain.curRowNum.Store(int64(chain.maxRowCnt))
	require.InDelta(t, 1.0, chain.occupancyRatio(), 1e-9)
}
