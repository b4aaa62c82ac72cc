package pbrb

import (
	"github.com/pbrb-go/pbrb/contracts"
)

const neighborHintDepth = 3

// allocSlot locates a free slot for a promotion into chain, optionally
// using iter (the index iterator positioned at the key being promoted) as
// a neighbor hint. Callers must hold the engine's writeLock: this may
// mutate the chain (grow). On the neighbor-hint path it returns the lowest
// free bit at or after the hinted neighbor's row; on the scan path, the
// lowest free bit of the page it settles on.
//
// iter may be nil - the drain worker's replay (drainPromote) and plain first-time
// inserts have no meaningful neighbor to hint from, and fall straight to
// the bounded scan.
func allocSlot(pool *pagePool, chain *schemaChain, iter contracts.IndexIterator, maxPageSearch uint32) (*page, uint32, error) {
	if iter != nil {
		if pg, off, ok := neighborHintSlot(pool, chain, iter); ok {
			return pg, off, nil
		} else if pg != nil {
			// Hint page had no free bit at or after the neighbor's row:
			// resume the bounded scan one page past it.
			return scanFrom(pool, chain, chain.next(pg), maxPageSearch)
		}
	}
	return scanFrom(pool, chain, chain.head, maxPageSearch)
}

// neighborHintSlot steps forward up to neighborHintDepth entries from iter
// looking for a key whose value pointer is already hot; the first hit's
// page is probed for a free bit starting at its own row offset. This is a
// heuristic, not a correctness requirement - any slot in the schema's
// chain is acceptable, so callers fall back to scanFrom on a miss.
//
// Returns (nil, 0, false) when no hot neighbor was found at all (caller
// should start a full scan from head); (page, 0, false) when a hot
// neighbor's page was found but it is full or has no free bit at or after
// the neighbor's row (caller should resume scanning after that page);
// (page, offset, true) on a direct hit.
func neighborHintSlot(pool *pagePool, chain *schemaChain, iter contracts.IndexIterator) (*page, uint32, bool) {
	probe := iter.Clone()
	for i := 0; i < neighborHintDepth; i++ {
		if !probe.Next() {
			break
		}
		vp := probe.ValuePtr()
		if vp == nil {
			continue
		}
		addr, _, hot := vp.Snapshot()
		if !hot {
			continue
		}
		pg, rowIdx := pool.slotOf(addr, chain.stride)
		if pg.hotRowCount() >= uint16(chain.maxRowCnt) {
			return pg, 0, false
		}
		bit := pg.firstZeroBit(rowIdx, chain.maxRowCnt)
		if bit == noFreeSlot {
			return pg, 0, false
		}
		return pg, bit, true
	}
	return nil, 0, false
}

// scanFrom walks the chain starting at start for up to maxPageSearch
// pages, probing each with firstZeroBit over its full row range. A page
// already at capacity is skipped without a bitmap scan. If nothing is
// found within the window, it grows the chain by one page, linked after
// the last page actually probed (or at the tail if nothing was probed),
// and returns slot 0 of the new page.
func scanFrom(pool *pagePool, chain *schemaChain, start *page, maxPageSearch uint32) (*page, uint32, error) {
	if maxPageSearch == 0 {
		maxPageSearch = 1
	}
	var last *page
	p := start
	for visited := uint32(0); visited < maxPageSearch && p != nil; visited++ {
		last = p
		if p.hotRowCount() < uint16(chain.maxRowCnt) {
			if bit := p.firstZeroBit(0, chain.maxRowCnt); bit != noFreeSlot {
				return p, bit, nil
			}
		}
		p = chain.next(p)
	}

	newPage, ok := pool.allocate()
	if !ok {
		return nil, 0, ErrNoSpace
	}
	if last == nil {
		chain.appendNewPage(newPage)
	} else {
		chain.appendPageAfter(last, newPage)
	}
	return newPage, 0, nil
}
