package pbrb

import (
	"sync"
	"unsafe"

	"github.com/ncw/directio"
	"github.com/pbrb-go/pbrb/contracts"
)

// pagePool is the aligned, contiguous page arena plus its free list. It is
// built as one directio.AlignedBlock so that every page start address is
// page-size aligned, which is what makes addr &^ pageMask an O(1)
// address-to-page computation instead of a lookup.
type pagePool struct {
	mu       sync.Mutex
	arena    []byte
	baseAddr uintptr
	pages    []page
	free     []*page
	maxPages uint32

	allocCount uint64
	freeCount  uint64
}

func newPagePool(maxPages uint32) *pagePool {
	if maxPages == 0 {
		invariantViolation("pbrb: pagePool requires maxPages > 0")
	}
	arena := directio.AlignedBlock(int(maxPages) * pageSize)
	pp := &pagePool{
		arena:    arena,
		maxPages: maxPages,
	}
	pp.baseAddr = uintptr(unsafe.Pointer(&arena[0]))
	pp.pages = make([]page, maxPages)
	pp.free = make([]*page, 0, maxPages)
	for i := range pp.pages {
		pg := &pp.pages[i]
		pg.data = arena[i*pageSize : (i+1)*pageSize]
		pg.addr = pp.baseAddr + uintptr(i*pageSize)
		pg.reset()
		pp.free = append(pp.free, pg)
	}
	return pp
}

// allocate pops a page off the free list, or reports false when the arena
// is exhausted.
func (pp *pagePool) allocate() (*page, bool) {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	n := len(pp.free)
	if n == 0 {
		return nil, false
	}
	pg := pp.free[n-1]
	pp.free[n-1] = nil
	pp.free = pp.free[:n-1]
	pp.allocCount++
	return pg, true
}

// release resets a page and pushes it back onto the free list.
func (pp *pagePool) release(pg *page) {
	pg.reset()
	pp.mu.Lock()
	pp.free = append(pp.free, pg)
	pp.freeCount++
	pp.mu.Unlock()
}

func (pp *pagePool) freePageCount() int {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return len(pp.free)
}

// occupancyRatio is 1 - freePages/maxPages across the whole arena, the
// pool-wide figure GC uses to decide whether to run at all.
func (pp *pagePool) occupancyRatio() float64 {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return 1 - float64(len(pp.free))/float64(pp.maxPages)
}

// counts returns the lifetime allocate/release counts, for the shutdown
// dump.
func (pp *pagePool) counts() (allocated, freed uint64) {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return pp.allocCount, pp.freeCount
}

// pageOf resolves the owning page for a row address in O(1) via the
// address-alignment trick described in the page pool's contract. Malformed
// addresses (outside the arena) are treated as internal corruption.
func (pp *pagePool) pageOf(addr contracts.RowAddr) *page {
	raw := uintptr(addr)
	if raw < pp.baseAddr {
		invariantViolation("pbrb: row address %#x below arena base %#x", raw, pp.baseAddr)
	}
	pageAddr := raw &^ pageMask
	idx := (pageAddr - pp.baseAddr) / pageSize
	if idx >= uintptr(pp.maxPages) {
		invariantViolation("pbrb: row address %#x outside arena", raw)
	}
	return &pp.pages[idx]
}

// slotOf resolves (page, rowOffsetIndex) for a row address given the
// owning schema's row stride. A nonzero remainder after removing the
// header and first-row offset means the address is malformed.
func (pp *pagePool) slotOf(addr contracts.RowAddr, stride uint32) (*page, uint32) {
	pg := pp.pageOf(addr)
	off := uint32(uintptr(addr) - pg.addr)
	if off < firstRowOffset {
		invariantViolation("pbrb: row address %#x lands inside page header", uintptr(addr))
	}
	rel := off - firstRowOffset
	if rel%stride != 0 {
		invariantViolation("pbrb: row address %#x misaligned for stride %d", uintptr(addr), stride)
	}
	return pg, rel / stride
}

// addrOf computes the row address for (page, rowIndex) given a stride -
// the inverse of slotOf.
func addrOf(pg *page, rowIndex, stride uint32) contracts.RowAddr {
	return contracts.RowAddr(pg.addr + uintptr(pg.rowOffset(rowIndex, stride)))
}
