// Package contracts defines the interfaces PBRB needs from its external
// collaborators: the primary index, the schema registry, and the persistent
// log engine. None of these are implemented here - pbrb/testkit carries
// fakes for tests, and a hosting process wires in the real ones.
package contracts

import (
	"sync/atomic"
)

// Timestamp is a monotone 64-bit tick, used both as an ordering token and
// as the CAS witness for hot/cold transitions. The value has no fixed
// relationship to wall-clock time; callers that need one supply their own
// clock (see the Clock interface below).
type Timestamp uint64

// RowAddr addresses a cached row inside the PBRB page pool. Zero means
// "no cache row" and is never a valid address.
type RowAddr uint64

// Clock produces Timestamps. Production callers typically wrap a hardware
// cycle counter; tests use a simple counter.
type Clock interface {
	Now() Timestamp
}

// SchemaID identifies a row layout in the schema registry.
type SchemaID uint32

// FieldType enumerates the fixed-size field kinds a schema can describe.
type FieldType uint8

const (
	FieldTypeInt64 FieldType = iota
	FieldTypeUint64
	FieldTypeFloat64
	FieldTypeBool
	FieldTypeFixedBytes
)

// Field describes one fixed-size column of a schema's row layout.
type Field struct {
	Name string
	Type FieldType
	Size uint32
}

// Schema is the fixed-size row layout for one schema id, as handed back by
// the schema registry. ValueSize is the sum of all Fields' sizes and is
// what PBRB validates incoming writes against.
type Schema struct {
	Name      string
	ID        SchemaID
	Version   uint16
	Fields    []Field
	ValueSize uint32
}

// SchemaRegistry maps a schema id to its fixed-size row layout. It is an
// external collaborator: PBRB never mutates it.
type SchemaRegistry interface {
	Find(id SchemaID) (Schema, bool)
}

// Key is the ordered primary-key type used by the index. The source this
// spec distills from alternates between a 64-bit integer and a string key;
// this contract picks "whatever ordered type the index itself uses" and
// leaves concrete typing to the index implementation (see Open Questions
// in DESIGN.md).
type Key any

// pointerState is the immutable snapshot swapped atomically by ValuePtr.
// Bundling cacheAddr, timestamp and the hot flag into one struct behind a
// single atomic.Pointer gives PBRB a single-word CAS over all three
// fields together, which is the "treat (timestamp, hotFlag) as a single
// logical word" requirement from the spec's design notes.
type pointerState struct {
	cacheAddr RowAddr
	ts        Timestamp
	hot       bool
}

// ValuePtr is the index-resident record shared between the primary index
// and PBRB: it is owned by the index and destroyed only when the index
// entry is removed, but its hot/cold state and cache address are written
// by PBRB's promotion and eviction paths under CAS.
type ValuePtr struct {
	persistentAddr uint64
	state          atomic.Pointer[pointerState]
}

// NewColdValuePtr creates a value pointer for a freshly-inserted key: cold,
// no cache row, carrying the timestamp the log append was tagged with.
func NewColdValuePtr(persistentAddr uint64, ts Timestamp) *ValuePtr {
	vp := &ValuePtr{persistentAddr: persistentAddr}
	vp.state.Store(&pointerState{ts: ts})
	return vp
}

// Timestamp returns the current CAS witness.
func (v *ValuePtr) Timestamp() Timestamp {
	return v.state.Load().ts
}

// IsHot reports whether the value currently lives in the cache.
func (v *ValuePtr) IsHot() bool {
	return v.state.Load().hot
}

// CacheAddr returns the cache row address, or 0 if cold.
func (v *ValuePtr) CacheAddr() RowAddr {
	return v.state.Load().cacheAddr
}

// Snapshot returns cacheAddr, timestamp and hot together from a single
// atomic load. Callers that need more than one of these fields to agree
// with each other - the read path checking "is it hot, and if so at what
// address and timestamp" - must use this instead of the individual
// accessors above, which can each observe a different state struct if a
// promotion or eviction lands between them.
func (v *ValuePtr) Snapshot() (RowAddr, Timestamp, bool) {
	s := v.state.Load()
	return s.cacheAddr, s.ts, s.hot
}

// PersistentAddr returns the log address; authoritative only while cold.
func (v *ValuePtr) PersistentAddr() uint64 {
	return v.persistentAddr
}

// SetPersistentAddr updates the log address backing this key. Used when the
// log engine relocates a record (e.g. compaction); out of scope for PBRB
// itself but the field must remain settable by the owning collaborator.
func (v *ValuePtr) SetPersistentAddr(addr uint64) {
	atomic.StoreUint64((*uint64)(&v.persistentAddr), addr)
}

// CASToHot is PBRB's promotion commit: it publishes (newAddr, newTS, hot)
// iff the current timestamp still equals oldTS. A failed CAS means a
// concurrent writer already moved the timestamp out from under this
// promotion; the caller must roll back its row write and report Conflict.
func (v *ValuePtr) CASToHot(oldTS, newTS Timestamp, newAddr RowAddr) bool {
	for {
		cur := v.state.Load()
		if cur.ts != oldTS {
			return false
		}
		next := &pointerState{cacheAddr: newAddr, ts: newTS, hot: true}
		if v.state.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// RefreshTimestamp is the read path's hit refresh: bumps the timestamp in
// place without touching hot/cacheAddr, failing if the row went stale or
// cold out from under the reader.
func (v *ValuePtr) RefreshTimestamp(oldTS, newTS Timestamp) bool {
	for {
		cur := v.state.Load()
		if cur.ts != oldTS || !cur.hot {
			return false
		}
		next := &pointerState{cacheAddr: cur.cacheAddr, ts: newTS, hot: true}
		if v.state.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// SetCold flips hot to false and clears the cache address, returning the
// cache address that was live just before the flip (0 if it was already
// cold). Used by eviction and drop.
func (v *ValuePtr) SetCold() RowAddr {
	for {
		cur := v.state.Load()
		if !cur.hot {
			return 0
		}
		next := &pointerState{ts: cur.ts, hot: false}
		if v.state.CompareAndSwap(cur, next) {
			return cur.cacheAddr
		}
	}
}

// IndexIterator walks the primary index for one schema. Clone lets the
// slot allocator's neighbor-hint search step ahead without disturbing the
// caller's own position - the source this spec distills from copies its
// C++ iterator for the same reason.
type IndexIterator interface {
	Clone() IndexIterator
	Next() bool
	Key() Key
	ValuePtr() *ValuePtr
}

// SchemaIndex is the per-schema ordered map the indexer maintains.
type SchemaIndex interface {
	NewIterator() IndexIterator
}

// Indexer is the top-level collection of per-schema indexes.
type Indexer interface {
	Index(id SchemaID) (SchemaIndex, bool)
}

// LogEngine is the append-only persistent log PBRB never bypasses: it is
// the source of truth, and PBRB only ever caches a copy of what it holds.
type LogEngine interface {
	Append(data []byte) (addr uint64, err error)
	Read(addr uint64) ([]byte, error)
}
