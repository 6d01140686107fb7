package submission

import (
	"context"
	"errors"
	"sync"
)

// EventType is a step in a submitted transaction's life.
type EventType string

const (
	EventSent          EventType = "sent"          // signed, about to broadcast
	EventExtrinsicHash EventType = "extrinsicHash" // accepted by the node
	EventError         EventType = "error"
	EventFinalized     EventType = "finalized"
)

// Event is one emitted step.
type Event struct {
	Type        EventType `json:"type"`
	ID          string    `json:"id"`
	Hash        string    `json:"hash,omitempty"`
	BlockNumber int64     `json:"blockNumber,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// ErrFailedOnChain is returned by Wait when the transaction was included
// but failed.
var ErrFailedOnChain = errors.New("transaction failed on chain")

// Emitter reports the progress of one submitted transaction. Listeners
// added late get the events emitted so far replayed first.
type Emitter struct {
	id            string
	resolveOnDone bool

	mu        sync.Mutex
	events    []Event
	listeners map[int]func(Event)
	nextID    int
	hash      string
	err       error

	broadcast chan struct{} // closed at EventExtrinsicHash or on error
	done      chan struct{} // closed at EventFinalized or on error
	bOnce     sync.Once
	dOnce     sync.Once
}

func newEmitter(id string, resolveOnDone bool) *Emitter {
	return &Emitter{
		id:            id,
		resolveOnDone: resolveOnDone,
		listeners:     make(map[int]func(Event)),
		broadcast:     make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// ID returns the transaction id.
func (e *Emitter) ID() string {
	return e.id
}

// Hash returns the chain hash once broadcast.
func (e *Emitter) Hash() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hash
}

// Events returns the events emitted so far.
func (e *Emitter) Events() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Event(nil), e.events...)
}

// On registers fn for every event, replaying past ones.
func (e *Emitter) On(fn func(Event)) (unsubscribe func()) {
	e.mu.Lock()
	past := append([]Event(nil), e.events...)
	id := e.nextID
	e.nextID++
	e.listeners[id] = fn
	e.mu.Unlock()

	for _, ev := range past {
		fn(ev)
	}
	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

// Wait blocks until the transaction is broadcast, or finalized when the
// transaction asked to resolve on done. It returns the hash.
func (e *Emitter) Wait(ctx context.Context) (string, error) {
	ch := e.broadcast
	if e.resolveOnDone {
		ch = e.done
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-ch:
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hash, e.err
}

// Done is closed once the transaction is final or failed.
func (e *Emitter) Done() <-chan struct{} {
	return e.done
}

func (e *Emitter) emit(ev Event) {
	ev.ID = e.id

	e.mu.Lock()
	if ev.Hash != "" {
		e.hash = ev.Hash
	}
	e.events = append(e.events, ev)
	fns := make([]func(Event), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}

	switch ev.Type {
	case EventExtrinsicHash:
		e.bOnce.Do(func() { close(e.broadcast) })
	case EventFinalized:
		e.bOnce.Do(func() { close(e.broadcast) })
		e.dOnce.Do(func() { close(e.done) })
	case EventError:
		e.bOnce.Do(func() { close(e.broadcast) })
		e.dOnce.Do(func() { close(e.done) })
	}
}

func (e *Emitter) fail(err error, blockNumber int64) {
	e.mu.Lock()
	if e.err == nil {
		e.err = err
	}
	e.mu.Unlock()
	e.emit(Event{Type: EventError, Error: err.Error(), BlockNumber: blockNumber})
}
