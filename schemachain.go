package pbrb

import (
	"sync/atomic"

	"github.com/pbrb-go/pbrb/contracts"
)

// schemaChain is the doubly linked list of pages holding one schema's hot
// rows, plus the layout constants derived once from the schema's fixed
// field sizes. All mutation (appendNewPage, reclaimPage,
// reclaimEmptyPages) happens under the owning engine's writeLock; readers
// doing neighbor-hint search accept that pages may be appended
// concurrently and see a consistent snapshot through the prev/next links.
type schemaChain struct {
	schemaID contracts.SchemaID
	pool     *pagePool // resolves prev/next link addresses back to pages

	valueSize uint32
	stride    uint32
	maxRowCnt uint32

	head *page
	tail *page

	curPageNum uint32
	curRowNum  atomic.Int64 // live row count; atomic so stats/GC can read without the writeLock
}

// newSchemaChain derives layout constants and seeds the chain with one
// page pulled from the pool's free list. Returns ErrNoSpace if the free
// list is already empty - mirrors the distilled source's
// createCacheForSchema, which logs and returns nil rather than panicking
// when the very first page for a brand-new schema can't be allocated.
func newSchemaChain(pool *pagePool, schema contracts.Schema) (*schemaChain, error) {
	stride := rowStride(schema.ValueSize)
	chain := &schemaChain{
		schemaID:  schema.ID,
		pool:      pool,
		valueSize: schema.ValueSize,
		stride:    stride,
		maxRowCnt: maxRowsPerPage(stride),
	}

	pg, ok := pool.allocate()
	if !ok {
		return nil, ErrNoSpace
	}
	pg.setSchemaID(schema.ID)
	pg.setSchemaVersion(schema.Version)
	chain.head = pg
	chain.tail = pg
	chain.curPageNum = 1
	return chain, nil
}

// appendNewPage links a freshly allocated page at the tail in O(1).
func (c *schemaChain) appendNewPage(pg *page) {
	pg.setSchemaID(c.schemaID)
	if c.tail == nil {
		c.head = pg
		c.tail = pg
	} else {
		pg.setPrevAddr(c.tail.addr)
		c.tail.setNextAddr(pg.addr)
		c.tail = pg
	}
	c.curPageNum++
}

// appendPageAfter links a freshly allocated page immediately after "after",
// used by the slot allocator's grow step when the bounded scan stopped
// partway through the chain rather than at the true tail.
func (c *schemaChain) appendPageAfter(after, pg *page) {
	if after == nil {
		c.appendNewPage(pg)
		return
	}
	pg.setSchemaID(c.schemaID)
	next := after.nextAddr()
	pg.setPrevAddr(after.addr)
	if next == 0 {
		pg.setNextAddr(0)
		after.setNextAddr(pg.addr)
		c.tail = pg
	} else {
		nextPg := c.pageAt(next)
		pg.setNextAddr(next)
		after.setNextAddr(pg.addr)
		if nextPg != nil {
			nextPg.setPrevAddr(pg.addr)
		}
	}
	c.curPageNum++
}

// pageAt resolves a chain-internal page address back to its *page in O(1)
// through the pool's address arithmetic. Address 0 (no link) yields nil.
func (c *schemaChain) pageAt(addr uintptr) *page {
	if addr == 0 {
		return nil
	}
	return c.pool.pageOf(contracts.RowAddr(addr))
}

func (c *schemaChain) next(p *page) *page {
	addr := p.nextAddr()
	if addr == 0 {
		return nil
	}
	return c.pageAt(addr)
}

func (c *schemaChain) prev(p *page) *page {
	addr := p.prevAddr()
	if addr == 0 {
		return nil
	}
	return c.pageAt(addr)
}

// reclaimPage unlinks pg from the chain, resets it, and returns it to the
// pool's free list. The chain always preserves at least the head page -
// callers must not reclaim the sole remaining page.
func (c *schemaChain) reclaimPage(pool *pagePool, pg *page) {
	if c.head == pg && c.tail == pg {
		invariantViolation("pbrb: refusing to reclaim the last page of a schema chain")
	}
	prevAddr := pg.prevAddr()
	nextAddr := pg.nextAddr()
	if prevAddr != 0 {
		if prev := c.pageAt(prevAddr); prev != nil {
			prev.setNextAddr(nextAddr)
		}
	} else {
		c.head = c.pageAt(nextAddr)
	}
	if nextAddr != 0 {
		if next := c.pageAt(nextAddr); next != nil {
			next.setPrevAddr(prevAddr)
		}
	} else {
		c.tail = c.pageAt(prevAddr)
	}
	c.curPageNum--
	pool.release(pg)
}

// reclaimEmptyPages walks the chain and reclaims every page whose hot-row
// count has reached zero, always preserving the head page even if it is
// itself empty (an empty chain must still own somewhere to allocate row 0
// into next).
func (c *schemaChain) reclaimEmptyPages(pool *pagePool) int {
	reclaimed := 0
	p := c.next(c.head)
	for p != nil {
		next := c.next(p)
		if p.hotRowCount() == 0 {
			c.reclaimPage(pool, p)
			reclaimed++
		}
		p = next
	}
	return reclaimed
}

// occupancyRatio is curRowNum / (curPageNum * maxRowCnt), or 0 when the
// chain has no live rows (avoids a spurious divide-by-zero report when a
// schema was only just created).
func (c *schemaChain) occupancyRatio() float64 {
	rows := c.curRowNum.Load()
	if rows == 0 {
		return 0
	}
	capacity := int64(c.curPageNum) * int64(c.maxRowCnt)
	if capacity == 0 {
		return 0
	}
	return float64(rows) / float64(capacity)
}
