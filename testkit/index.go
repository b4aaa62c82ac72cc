package testkit

import (
	"sort"
	"sync"

	"github.com/pbrb-go/pbrb/contracts"
)

// LessFunc orders two index keys, since contracts.Key is deliberately
// typed as `any` (the source this fake stands in for alternates between
// integer and string primary keys; concrete typing is left to whoever
// wires a real index).
type LessFunc func(a, b contracts.Key) bool

// SchemaIndex is an in-memory ordered map from key to value pointer,
// standing in for one schema's slice of the real primary index. It keeps
// a separate sorted key slice alongside the map so NewIterator can walk
// keys in order without re-sorting on every call.
type SchemaIndex struct {
	mu    sync.RWMutex
	less  LessFunc
	byKey map[any]*contracts.ValuePtr
	order []contracts.Key
}

func NewSchemaIndex(less LessFunc) *SchemaIndex {
	return &SchemaIndex{less: less, byKey: make(map[any]*contracts.ValuePtr)}
}

// Insert adds or overwrites the value pointer for key.
func (idx *SchemaIndex) Insert(key contracts.Key, vp *contracts.ValuePtr) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, exists := idx.byKey[key]; !exists {
		pos := sort.Search(len(idx.order), func(i int) bool { return !idx.less(idx.order[i], key) })
		idx.order = append(idx.order, nil)
		copy(idx.order[pos+1:], idx.order[pos:])
		idx.order[pos] = key
	}
	idx.byKey[key] = vp
}

// Get returns the value pointer for key, if present.
func (idx *SchemaIndex) Get(key contracts.Key) (*contracts.ValuePtr, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	vp, ok := idx.byKey[key]
	return vp, ok
}

// Delete removes key from the index entirely, per the value pointer's
// "destroyed only when the index entry is removed" lifecycle.
func (idx *SchemaIndex) Delete(key contracts.Key) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, exists := idx.byKey[key]; !exists {
		return
	}
	delete(idx.byKey, key)
	pos := sort.Search(len(idx.order), func(i int) bool { return !idx.less(idx.order[i], key) })
	if pos < len(idx.order) && idx.order[pos] == key {
		idx.order = append(idx.order[:pos], idx.order[pos+1:]...)
	}
}

func (idx *SchemaIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.order)
}

func (idx *SchemaIndex) NewIterator() contracts.IndexIterator {
	return &schemaIndexIterator{idx: idx, pos: -1}
}

type schemaIndexIterator struct {
	idx *SchemaIndex
	pos int
}

func (it *schemaIndexIterator) Clone() contracts.IndexIterator {
	return &schemaIndexIterator{idx: it.idx, pos: it.pos}
}

func (it *schemaIndexIterator) Next() bool {
	it.idx.mu.RLock()
	defer it.idx.mu.RUnlock()
	if it.pos+1 >= len(it.idx.order) {
		return false
	}
	it.pos++
	return true
}

func (it *schemaIndexIterator) Key() contracts.Key {
	it.idx.mu.RLock()
	defer it.idx.mu.RUnlock()
	return it.idx.order[it.pos]
}

func (it *schemaIndexIterator) ValuePtr() *contracts.ValuePtr {
	it.idx.mu.RLock()
	key := it.idx.order[it.pos]
	vp := it.idx.byKey[key]
	it.idx.mu.RUnlock()
	return vp
}

// Indexer is the top-level collection of per-schema SchemaIndex fakes.
type Indexer struct {
	mu      sync.RWMutex
	indexes map[contracts.SchemaID]*SchemaIndex
}

func NewIndexer() *Indexer {
	return &Indexer{indexes: make(map[contracts.SchemaID]*SchemaIndex)}
}

// Register installs idx as the index for schema id, creating one with
// IntKeyLess if the caller doesn't need custom ordering.
func (ix *Indexer) Register(id contracts.SchemaID, idx *SchemaIndex) {
	if idx == nil {
		idx = NewSchemaIndex(IntKeyLess)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.indexes[id] = idx
}

func (ix *Indexer) Index(id contracts.SchemaID) (contracts.SchemaIndex, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	idx, ok := ix.indexes[id]
	if !ok {
		return nil, false
	}
	return idx, true
}

// IntKeyLess orders keys that are known to be int primary keys - the
// common case exercised by PBRB's own tests.
func IntKeyLess(a, b contracts.Key) bool {
	return a.(int) < b.(int)
}
