package framework

import (
	"sync"
	"time"
)

// Deferred is a function scheduled to run later in task context.
// Scheduling again replaces the pending call. Runs never overlap.
type Deferred struct {
	fn func()

	lock    sync.Mutex
	runLock sync.Mutex
	timer   *time.Timer
	gen     uint64
	pending bool
	due     time.Time
}

// NewDeferred creates a Deferred running fn.
func NewDeferred(fn func()) *Deferred {
	return &Deferred{fn: fn}
}

// Call schedules fn after delay. A negative delay cancels the pending call.
func (d *Deferred) Call(delay time.Duration) {
	if delay < 0 {
		d.Cancel()
		return
	}
	due := time.Now().Add(delay)
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.pending && delay == 0 && !d.due.After(due) {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.due = due
	d.gen++
	gen := d.gen
	d.pending = true
	d.timer = time.AfterFunc(delay, func() { d.fire(gen) })
}

// Wake runs fn as soon as possible.
func (d *Deferred) Wake() {
	d.Call(0)
}

// Cancel drops the pending call, if any.
func (d *Deferred) Cancel() {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	d.pending = false
}

// Pending reports whether a call is scheduled.
func (d *Deferred) Pending() bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.pending
}

// Wait blocks while a call is running.
func (d *Deferred) Wait() {
	d.runLock.Lock()
	d.runLock.Unlock()
}

func (d *Deferred) fire(gen uint64) {
	d.runLock.Lock()
	defer d.runLock.Unlock()
	d.lock.Lock()
	if gen != d.gen {
		d.lock.Unlock()
		return
	}
	d.pending = false
	d.timer = nil
	d.lock.Unlock()
	d.fn()
}
