// Package subscription tracks push subscriptions per connection and
// guarantees each one is torn down exactly once.
package subscription

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Klingon-tech/klingsign/internal/metrics"
	"github.com/Klingon-tech/klingsign/pkg/logging"
)

// ErrDuplicateID is returned when a subscription id is already in use.
var ErrDuplicateID = errors.New("subscription id already in use")

var errSinkPanic = errors.New("subscription sink panicked")

// Source starts pushing values through emit. It returns the value current
// at subscription time and a function that stops the pushes.
type Source func(emit func(any) error) (initial any, cancel func())

// Sink receives pushed values for one subscription.
type Sink func(subID, topic string, value any) error

// Handle is a live subscription.
type Handle struct {
	ID     string
	ConnID string
	Topic  string

	mu     sync.Mutex
	done   bool
	cancel func()
}

// setCancel installs the source's cancel func, running it at once if the
// handle was closed while the source was starting.
func (h *Handle) setCancel(fn func()) {
	h.mu.Lock()
	if h.done {
		h.mu.Unlock()
		if fn != nil {
			fn()
		}
		return
	}
	h.cancel = fn
	h.mu.Unlock()
}

// close runs the cancel func at most once. Reports whether this call did it.
func (h *Handle) close() bool {
	h.mu.Lock()
	if h.done {
		h.mu.Unlock()
		return false
	}
	h.done = true
	fn := h.cancel
	h.cancel = nil
	h.mu.Unlock()

	if fn != nil {
		fn()
	}
	return true
}

// Closed reports whether the subscription has ended.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done
}

// Multiplexer maps subscription ids to handles grouped by connection.
type Multiplexer struct {
	log     *logging.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	subs  map[string]*Handle
	conns map[string]map[string]*Handle
}

// NewMultiplexer creates an empty multiplexer. m may be nil.
func NewMultiplexer(m *metrics.Metrics) *Multiplexer {
	return &Multiplexer{
		log:     logging.GetDefault().Component("subscriptions"),
		metrics: m,
		subs:    make(map[string]*Handle),
		conns:   make(map[string]map[string]*Handle),
	}
}

// Subscribe starts src for connection connID and routes its values to sink.
// An empty subID gets a generated one.
func (m *Multiplexer) Subscribe(connID, subID, topic string, src Source, sink Sink) (*Handle, any, error) {
	if subID == "" {
		subID = uuid.NewString()
	}
	h := &Handle{ID: subID, ConnID: connID, Topic: topic}

	m.mu.Lock()
	if _, ok := m.subs[subID]; ok {
		m.mu.Unlock()
		return nil, nil, ErrDuplicateID
	}
	m.subs[subID] = h
	if m.conns[connID] == nil {
		m.conns[connID] = make(map[string]*Handle)
	}
	m.conns[connID][subID] = h
	m.mu.Unlock()

	m.metrics.SubscriptionOpened()

	emit := func(v any) (err error) {
		if h.Closed() {
			return nil
		}
		defer func() {
			if r := recover(); r != nil {
				m.log.Error("Subscription sink panicked", "id", subID, "topic", topic, "panic", fmt.Sprint(r))
				err = fmt.Errorf("%w: %v", errSinkPanic, r)
			}
		}()
		return sink(subID, topic, v)
	}
	initial, cancel := src(emit)
	h.setCancel(cancel)

	m.log.Debug("Subscribed", "conn", connID, "id", subID, "topic", topic)
	return h, initial, nil
}

// Cancel ends a subscription. Unknown ids report false.
func (m *Multiplexer) Cancel(subID string) bool {
	m.mu.Lock()
	h, ok := m.subs[subID]
	if ok {
		m.removeLocked(h)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	return m.finish(h)
}

// Disconnect ends every subscription of connID as if each were cancelled.
// Returns how many were ended by this call.
func (m *Multiplexer) Disconnect(connID string) int {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.conns[connID]))
	for _, h := range m.conns[connID] {
		handles = append(handles, h)
	}
	for _, h := range handles {
		m.removeLocked(h)
	}
	delete(m.conns, connID)
	m.mu.Unlock()

	n := 0
	for _, h := range handles {
		if m.finish(h) {
			n++
		}
	}
	if n > 0 {
		m.log.Debug("Connection closed", "conn", connID, "subscriptions", n)
	}
	return n
}

func (m *Multiplexer) removeLocked(h *Handle) {
	delete(m.subs, h.ID)
	if c := m.conns[h.ConnID]; c != nil {
		delete(c, h.ID)
		if len(c) == 0 {
			delete(m.conns, h.ConnID)
		}
	}
}

func (m *Multiplexer) finish(h *Handle) bool {
	if !h.close() {
		return false
	}
	m.metrics.SubscriptionClosed()
	return true
}

// Count returns the number of live subscriptions.
func (m *Multiplexer) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Connection returns the subscription ids held by connID, sorted.
func (m *Multiplexer) Connection(connID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.conns[connID]))
	for id := range m.conns[connID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
