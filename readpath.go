package pbrb

import (
	"github.com/pbrb-go/pbrb/contracts"
)

// readHot implements the read path for a row already believed hot: copy
// the payload out of the pool, confirm the row's own timestamp still
// matches the snapshot the caller took (vp hasn't been evicted and
// reused out from under us), then publish newTS into both the row header
// and the value pointer. Returns ErrStale if either check loses the race
// - the caller must re-resolve through the index and retry.
//
// Reading never allocates and never blocks a writer; it only ever reads
// pool/page state and, on success, performs the same CAS refresh a
// promotion would.
func readHot(pool *pagePool, vp *contracts.ValuePtr, stride, valueSize uint32, newTS contracts.Timestamp) ([]byte, error) {
	addr, oldTS, hot := vp.Snapshot()
	if !hot {
		return nil, ErrStale
	}

	pg, rowIdx := pool.slotOf(addr, stride)
	off := pg.rowOffset(rowIdx, stride)

	value := make([]byte, valueSize)
	copy(value, pg.rowValue(off, valueSize))

	if pg.rowTimestamp(off) != oldTS {
		return nil, ErrStale
	}

	pg.setRowTimestamp(off, newTS)
	if !vp.RefreshTimestamp(oldTS, newTS) {
		return nil, ErrStale
	}
	return value, nil
}

// readCold fetches a value through the persistent log for a cold value
// pointer. It never mutates vp or the cache - the caller decides
// separately whether to enqueue an async promotion for the bytes
// returned here.
func readCold(log contracts.LogEngine, vp *contracts.ValuePtr) ([]byte, error) {
	return log.Read(vp.PersistentAddr())
}
