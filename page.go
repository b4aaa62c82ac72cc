package pbrb

import (
	"encoding/binary"
	"math/bits"

	"github.com/pbrb-go/pbrb/contracts"
)

// Fixed page geometry, per the data model: a 4 KiB aligned block, 64-byte
// header, 16-byte occupancy bitmap, rows packed at a fixed stride after
// that.
const (
	pageSize       = 4096
	pageMask       = pageSize - 1
	pageHeaderSize = 64
	bitmapSize     = 16
	bitmapBits     = bitmapSize * 8 // 128 possible slots per page
	firstRowOffset = pageHeaderSize + bitmapSize

	// Row header layout: CRC placeholder (4) + timestamp (8) +
	// persistent address (8) + back reference to the owning value
	// pointer (8) = 28 bytes. The spec's prose gives "24 bytes" for this
	// same field list, which doesn't sum correctly (4+8+8+8=28); DESIGN.md
	// records this as a resolved inconsistency, not an open question we
	// left dangling.
	rowHeaderSize = 28

	pageMagic = uint16(0xB4B4)
)

// Byte offsets within the 64-byte page header.
const (
	offMagic        = 0
	offSchemaID     = 2
	offSchemaVer    = 6
	offPrevPage     = 8
	offNextPage     = 16
	offHotRowCount  = 24
	offReserved     = 26
	bitmapOffset    = pageHeaderSize
)

// Byte offsets within a row header.
const (
	rowOffCRC       = 0
	rowOffTimestamp = 4
	rowOffPersist   = 12
	rowOffBackRef   = 20
)

// page is a schema-aware 4 KiB slab carved out of the pool arena. All
// header and bitmap operations are plain memory accesses at fixed byte
// offsets within data; callers coordinate concurrent mutation via the
// engine's writeLock - page itself does no internal locking.
type page struct {
	addr uintptr // real arena address of this page, for O(1) addr<->page math
	data []byte  // length pageSize, backed by the pool arena
}

func (p *page) reset() {
	clearBytes(p.data)
	binary.LittleEndian.PutUint16(p.data[offMagic:], pageMagic)
}

func clearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func (p *page) schemaID() contracts.SchemaID {
	return contracts.SchemaID(binary.LittleEndian.Uint32(p.data[offSchemaID:]))
}

func (p *page) setSchemaID(id contracts.SchemaID) {
	binary.LittleEndian.PutUint32(p.data[offSchemaID:], uint32(id))
}

func (p *page) schemaVersion() uint16 {
	return binary.LittleEndian.Uint16(p.data[offSchemaVer:])
}

func (p *page) setSchemaVersion(v uint16) {
	binary.LittleEndian.PutUint16(p.data[offSchemaVer:], v)
}

func (p *page) prevAddr() uintptr {
	return uintptr(binary.LittleEndian.Uint64(p.data[offPrevPage:]))
}

func (p *page) setPrevAddr(a uintptr) {
	binary.LittleEndian.PutUint64(p.data[offPrevPage:], uint64(a))
}

func (p *page) nextAddr() uintptr {
	return uintptr(binary.LittleEndian.Uint64(p.data[offNextPage:]))
}

func (p *page) setNextAddr(a uintptr) {
	binary.LittleEndian.PutUint64(p.data[offNextPage:], uint64(a))
}

func (p *page) hotRowCount() uint16 {
	return binary.LittleEndian.Uint16(p.data[offHotRowCount:])
}

func (p *page) setHotRowCount(n uint16) {
	binary.LittleEndian.PutUint16(p.data[offHotRowCount:], n)
}

// bitmap returns the 16-byte occupancy bitmap as a sub-slice of data.
func (p *page) bitmap() []byte {
	return p.data[bitmapOffset : bitmapOffset+bitmapSize]
}

func (p *page) bitSet(i uint32) bool {
	b := p.bitmap()
	return b[i/8]&(1<<(i%8)) != 0
}

// setBit marks slot i live and bumps the header's hot-row counter. Callers
// must hold the engine's writeLock.
func (p *page) setBit(i uint32) {
	b := p.bitmap()
	byteIdx, bit := i/8, uint(i%8)
	if b[byteIdx]&(1<<bit) != 0 {
		invariantViolation("pbrb: setBit on already-set slot %d", i)
	}
	b[byteIdx] |= 1 << bit
	p.setHotRowCount(p.hotRowCount() + 1)
}

// clearBit frees slot i and decrements the header's hot-row counter.
// Callers must hold the engine's writeLock.
func (p *page) clearBit(i uint32) {
	b := p.bitmap()
	byteIdx, bit := i/8, uint(i%8)
	if b[byteIdx]&(1<<bit) == 0 {
		invariantViolation("pbrb: clearBit on already-clear slot %d", i)
	}
	b[byteIdx] &^= 1 << bit
	cur := p.hotRowCount()
	if cur == 0 {
		invariantViolation("pbrb: hot row count underflow on page")
	}
	p.setHotRowCount(cur - 1)
}

// noFreeSlot is the sentinel returned by firstZeroBit when every bit in
// [begin,end) is set.
const noFreeSlot = ^uint32(0)

// firstZeroBit finds the lowest-index clear bit in [begin, end). An end
// above bitmapBits is clamped to bitmapBits; the function does not know a
// schema's row count, so callers pass maxRowCnt as end.
// Runs in O(bytes), tolerating partial bytes at both ends of the range -
// the original C++ this replaces botches the partial-byte mask math
// (`1 << beginBit - 1` underflows when beginBit is 0); this implementation
// is deliberately byte-correct instead of bug-compatible, per the spec's
// explicit license to fix that arithmetic.
func firstZeroBit(bm []byte, begin, end uint32) uint32 {
	if end > bitmapBits {
		end = bitmapBits
	}
	if begin >= end {
		return noFreeSlot
	}
	beginByte := begin / 8
	endByte := (end + 7) / 8
	for byteIdx := beginByte; byteIdx < endByte; byteIdx++ {
		b := bm[byteIdx]
		lo := uint32(0)
		hi := uint32(8)
		if byteIdx == begin/8 {
			lo = begin % 8
		}
		if byteIdx == (end-1)/8 {
			hi = (end-1)%8 + 1
		}
		if lo > 0 {
			b |= (1 << lo) - 1
		}
		if hi < 8 {
			b |= ^uint8(0) << hi
		}
		if b != 0xFF {
			// TrailingZeros8 finds the lowest unset bit by inverting first.
			bit := uint32(bits.TrailingZeros8(^b))
			return byteIdx*8 + bit
		}
	}
	return noFreeSlot
}

func (p *page) firstZeroBit(begin, end uint32) uint32 {
	return firstZeroBit(p.bitmap(), begin, end)
}

// --- Row header/value accessors -------------------------------------------

func (p *page) rowOffset(idx, rowStride uint32) uint32 {
	return firstRowOffset + idx*rowStride
}

func (p *page) rowTimestamp(off uint32) contracts.Timestamp {
	return contracts.Timestamp(binary.LittleEndian.Uint64(p.data[off+rowOffTimestamp:]))
}

func (p *page) setRowTimestamp(off uint32, ts contracts.Timestamp) {
	binary.LittleEndian.PutUint64(p.data[off+rowOffTimestamp:], uint64(ts))
}

func (p *page) rowPersistentAddr(off uint32) uint64 {
	return binary.LittleEndian.Uint64(p.data[off+rowOffPersist:])
}

func (p *page) setRowPersistentAddr(off uint32, addr uint64) {
	binary.LittleEndian.PutUint64(p.data[off+rowOffPersist:], addr)
}

func (p *page) rowBackRef(off uint32) uint64 {
	return binary.LittleEndian.Uint64(p.data[off+rowOffBackRef:])
}

func (p *page) setRowBackRef(off uint32, ptr uint64) {
	binary.LittleEndian.PutUint64(p.data[off+rowOffBackRef:], ptr)
}

func (p *page) rowValue(off uint32, valueSize uint32) []byte {
	start := off + rowHeaderSize
	return p.data[start : start+valueSize]
}

func (p *page) setRowValue(off uint32, value []byte) {
	dst := p.rowValue(off, uint32(len(value)))
	copy(dst, value)
}

// rowStride computes the fixed stride for a schema's value size: the row
// header plus the value, rounded up to an 8-byte multiple.
func rowStride(valueSize uint32) uint32 {
	total := rowHeaderSize + valueSize
	return ((total + 7) / 8) * 8
}

// maxRowsPerPage computes how many rows of the given stride fit in the
// space left after the header and bitmap, capped by how many slots the
// 128-bit occupancy bitmap can track.
func maxRowsPerPage(stride uint32) uint32 {
	bySpace := (pageSize - firstRowOffset) / stride
	if bySpace > bitmapBits {
		return bitmapBits
	}
	return bySpace
}
