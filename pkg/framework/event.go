package framework

import "context"

// Event is a coalesced wake flag: any number of Wake calls before a Wait
// result in a single wake-up. Wake never blocks and is safe from any
// goroutine.
type Event struct {
	ch chan struct{}
}

// NewEvent creates an Event.
func NewEvent() *Event {
	return &Event{ch: make(chan struct{}, 1)}
}

// Wake sets the event.
func (e *Event) Wake() {
	select {
	case e.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until the event is set or ctx is done, and clears the event.
func (e *Event) Wait(ctx context.Context) error {
	select {
	case <-e.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// C exposes the channel for use in select.
func (e *Event) C() <-chan struct{} {
	return e.ch
}

// Clear drops a pending wake-up.
func (e *Event) Clear() {
	select {
	case <-e.ch:
	default:
	}
}
