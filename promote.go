package pbrb

import (
	"unsafe"

	"github.com/pbrb-go/pbrb/contracts"
)

// promoteResult carries what a successful promotion committed, for the
// caller to fold into access statistics.
type promoteResult struct {
	addr contracts.RowAddr
	ts   contracts.Timestamp
}

// syncPromote writes value into a freshly allocated slot in chain and
// commits it into the index via CASToHot. This is the "synchronous write"
// path: the caller blocks until either the commit lands or a concurrent
// writer is detected, in which case the slot is rolled back and
// ErrConflict is returned for the caller to retry against a fresh read.
//
// iter may be nil (no neighbor hint available, e.g. a drain-worker replay
// of a queued async promotion); allocSlot falls back to a bounded scan
// from the chain head in that case.
//
// Callers must hold the engine's writeLock.
func syncPromote(pool *pagePool, chain *schemaChain, vp *contracts.ValuePtr, value []byte, iter contracts.IndexIterator, oldTS, newTS contracts.Timestamp, maxPageSearch uint32) (promoteResult, error) {
	if uint32(len(value)) != chain.valueSize {
		return promoteResult{}, ErrSizeMismatch
	}

	pg, rowIdx, err := allocSlot(pool, chain, iter, maxPageSearch)
	if err != nil {
		return promoteResult{}, err
	}

	pg.setBit(rowIdx)
	off := pg.rowOffset(rowIdx, chain.stride)
	pg.setRowTimestamp(off, newTS)
	pg.setRowPersistentAddr(off, vp.PersistentAddr())
	pg.setRowBackRef(off, uint64(uintptr(unsafe.Pointer(vp))))
	pg.setRowValue(off, value)

	addr := addrOf(pg, rowIdx, chain.stride)

	// Consistency check: the index may have moved on since the caller
	// read oldTS. Re-validate before committing, same as the CAS below
	// would catch, but this lets us distinguish "lost the race before we
	// even tried" from "lost the literal CAS" only in spirit - both
	// roll back identically.
	if vp.Timestamp() != oldTS {
		pg.clearBit(rowIdx)
		return promoteResult{}, ErrConflict
	}

	if !vp.CASToHot(oldTS, newTS, addr) {
		pg.clearBit(rowIdx)
		return promoteResult{}, ErrConflict
	}

	chain.curRowNum.Add(1)
	return promoteResult{addr: addr, ts: newTS}, nil
}

// backRefOwner recovers the *contracts.ValuePtr stored in a row's back
// reference field. The index is the sole GC root for the pointee: PBRB
// never allocates or frees it, only reads the address the index already
// published through CASToHot.
func backRefOwner(raw uint64) *contracts.ValuePtr {
	return (*contracts.ValuePtr)(unsafe.Pointer(uintptr(raw)))
}
