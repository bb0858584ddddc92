// Package sharedmem models the single large scratch buffer shared by the
// firmware tasks. At most one user holds it at a time.
package sharedmem

import (
	"errors"
	"sync"

	"github.com/golang/glog"
)

var (
	// ErrBusy indicates the buffer is held by another user.
	ErrBusy = errors.New("shared memory busy")
	// ErrNoMemory indicates the request exceeds the pool size.
	ErrNoMemory = errors.New("shared memory too small")
	// ErrNotHeld indicates Release of a buffer which was not acquired.
	ErrNotHeld = errors.New("shared memory not held")
)

// DefaultSize is the default pool size in bytes.
const DefaultSize = 8192

// Pool hands out the shared scratch buffer.
type Pool struct {
	size int

	lock     sync.Mutex
	buf      []byte
	held     bool
	acquired uint64
	failed   uint64
}

// NewPool creates a Pool of size bytes.
func NewPool(size int) *Pool {
	return &Pool{size: size}
}

// Size returns the pool size.
func (p *Pool) Size() int {
	return p.size
}

// Acquire returns a buffer of exactly n bytes.
func (p *Pool) Acquire(n int) ([]byte, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if n > p.size || n < 0 {
		p.failed++
		glog.V(2).Infof("sharedmem: request %d exceeds %d", n, p.size)
		return nil, ErrNoMemory
	}
	if p.held {
		p.failed++
		return nil, ErrBusy
	}
	if p.buf == nil {
		p.buf = make([]byte, p.size)
	}
	p.held = true
	p.acquired++
	return p.buf[:n:n], nil
}

// Release returns the buffer to the pool.
func (p *Pool) Release(buf []byte) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if !p.held {
		return ErrNotHeld
	}
	p.held = false
	return nil
}

// Held reports whether the buffer is in use.
func (p *Pool) Held() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.held
}

// Stats returns the number of successful and failed acquisitions.
func (p *Pool) Stats() (acquired, failed uint64) {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.acquired, p.failed
}
