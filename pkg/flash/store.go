// Package flash simulates the flash of an EC and the engine programming it
// during a firmware update.
package flash

import (
	"errors"
	"io"
	"sync"
)

// Erased is the value of an erased flash byte.
const Erased = 0xff

// ErrOutOfRange indicates an access beyond the end of the store.
var ErrOutOfRange = errors.New("flash access out of range")

// Store is the backing storage of the flash.
type Store interface {
	io.ReaderAt
	io.WriterAt
	Size() int64
}

func checkRange(off int64, n int, size int64) error {
	if off < 0 || off+int64(n) > size {
		return ErrOutOfRange
	}
	return nil
}

// MemStore keeps the flash in memory.
type MemStore struct {
	lock sync.RWMutex
	data []byte
}

// NewMemStore creates an erased MemStore of size bytes.
func NewMemStore(size int) *MemStore {
	s := &MemStore{data: make([]byte, size)}
	for i := range s.data {
		s.data[i] = Erased
	}
	return s
}

// Size implements Store.
func (s *MemStore) Size() int64 {
	return int64(len(s.data))
}

// ReadAt implements io.ReaderAt.
func (s *MemStore) ReadAt(p []byte, off int64) (int, error) {
	if err := checkRange(off, len(p), s.Size()); err != nil {
		return 0, err
	}
	s.lock.RLock()
	defer s.lock.RUnlock()
	return copy(p, s.data[off:]), nil
}

// WriteAt implements io.WriterAt.
func (s *MemStore) WriteAt(p []byte, off int64) (int, error) {
	if err := checkRange(off, len(p), s.Size()); err != nil {
		return 0, err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	return copy(s.data[off:], p), nil
}
