package testkit

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/dsnet/golib/memfile"
)

// MemLogEngine is a contracts.LogEngine backed by an in-memory
// io.ReadWriteSeeker (dsnet/golib/memfile), giving tests real persistent
// addresses to round-trip through instead of a map keyed by a fake
// counter. Records are length-prefixed so Read can recover exactly the
// bytes Append was given.
type MemLogEngine struct {
	mu sync.Mutex
	f  *memfile.File
}

func NewMemLogEngine() *MemLogEngine {
	return &MemLogEngine{f: memfile.New(nil)}
}

func (m *MemLogEngine) Append(data []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	off, err := m.f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := m.f.Write(lenBuf[:]); err != nil {
		return 0, err
	}
	if _, err := m.f.Write(data); err != nil {
		return 0, err
	}
	return uint64(off), nil
}

func (m *MemLogEngine) Read(addr uint64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.f.Seek(int64(addr), io.SeekStart); err != nil {
		return nil, err
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(m.f, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(m.f, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
