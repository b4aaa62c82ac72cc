// Package testkit carries in-memory fakes of PBRB's external
// collaborators (schema registry, primary index, persistent log) for
// tests, mirroring the teacher's parent_buf_mgr_dummy.go /
// parent_page_dummy.go pattern.
package testkit

import (
	"sync"

	"github.com/pbrb-go/pbrb/contracts"
)

// SchemaRegistry is a fixed in-memory schema registry: schemas are
// registered once up front and never change underneath a running engine.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[contracts.SchemaID]contracts.Schema
}

func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[contracts.SchemaID]contracts.Schema)}
}

func (r *SchemaRegistry) Register(s contracts.Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[s.ID] = s
}

func (r *SchemaRegistry) Find(id contracts.SchemaID) (contracts.Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[id]
	return s, ok
}
