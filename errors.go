package pbrb

import (
	"github.com/pkg/errors"
)

// Sentinel errors surfaced to callers, per the recoverable error kinds
// listed for PBRB. Callers compare with errors.Is; call sites wrap these
// with errors.Wrap/Wrapf to attach a stack and context for the logs.
var (
	// ErrNoSpace is returned when the free list is empty at allocation
	// time, even after an opportunistic GC pass.
	ErrNoSpace = errors.New("pbrb: no space")

	// ErrConflict is returned when a timestamp CAS lost to a concurrent
	// writer. The caller should reread through the index.
	ErrConflict = errors.New("pbrb: timestamp conflict")

	// ErrStale is returned when a row's timestamp diverged during a read.
	ErrStale = errors.New("pbrb: stale row")

	// ErrSizeMismatch is returned when a value's length does not match
	// the schema's fixed value size.
	ErrSizeMismatch = errors.New("pbrb: value size mismatch")

	// ErrNotFound is returned when a drop/evict target does not exist.
	ErrNotFound = errors.New("pbrb: not found")

	// ErrSchemaUnknown is returned when the schema registry does not
	// recognize a schema id on first write. Treated as fatal by callers:
	// it signals a configuration bug, not a transient condition.
	ErrSchemaUnknown = errors.New("pbrb: schema unknown to registry")

	// ErrQueueFull is returned internally when an async enqueue finds the
	// schema's ring already full; AsyncWrite logs it and drops the request
	// ("no promotion happened") rather than surfacing it to read/write
	// callers.
	ErrQueueFull = errors.New("pbrb: async queue full")
)

// invariantViolation panics with a diagnostic. Used exclusively for
// corruption that indicates a bug, never for a condition a caller could
// trigger through normal use (malformed row address, negative hot-row
// count, a bitmap whose popcount disagrees with the header).
func invariantViolation(format string, args ...any) {
	panic(errors.Errorf(format, args...))
}
