package subscription

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Klingon-tech/klingsign/pkg/logging"
)

// Subject holds a current value and pushes every new value to its
// subscribers. A subscriber that panics or returns an error is logged and
// skipped; the others still receive the value.
//
// Subscribers are called synchronously from Next and must not call Next or
// Subscribe on the same subject.
type Subject[T any] struct {
	name string
	log  *logging.Logger

	pubMu sync.Mutex // orders deliveries after publications

	mu    sync.RWMutex
	value T
	subs  map[uint64]func(T) error
	next  uint64
}

// NewSubject creates a subject holding initial.
func NewSubject[T any](name string, initial T) *Subject[T] {
	return &Subject[T]{
		name:  name,
		log:   logging.GetDefault().Component("subject"),
		value: initial,
		subs:  make(map[uint64]func(T) error),
	}
}

// Value returns the current value.
func (s *Subject[T]) Value() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Next stores v and delivers it to every subscriber.
func (s *Subject[T]) Next(v T) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	s.value = v
	subs := s.snapshot()
	s.mu.Unlock()

	for _, sub := range subs {
		s.deliver(sub.id, sub.fn, v)
	}
}

// Update applies fn to the current value and publishes the result.
func (s *Subject[T]) Update(fn func(T) T) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	s.value = fn(s.value)
	v := s.value
	subs := s.snapshot()
	s.mu.Unlock()

	for _, sub := range subs {
		s.deliver(sub.id, sub.fn, v)
	}
}

// Subscribe registers fn for future values and returns the current value.
// No value is missed between the returned value and the first push.
func (s *Subject[T]) Subscribe(fn func(T) error) (current T, unsubscribe func()) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = fn
	current = s.value
	s.mu.Unlock()

	var once sync.Once
	return current, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Len returns the number of subscribers.
func (s *Subject[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Source adapts the subject for the multiplexer.
func (s *Subject[T]) Source() Source {
	return func(emit func(any) error) (any, func()) {
		cur, cancel := s.Subscribe(func(v T) error { return emit(v) })
		return cur, cancel
	}
}

type subscriber[T any] struct {
	id uint64
	fn func(T) error
}

// snapshot returns subscribers in registration order. Caller holds s.mu.
func (s *Subject[T]) snapshot() []subscriber[T] {
	out := make([]subscriber[T], 0, len(s.subs))
	for id, fn := range s.subs {
		out = append(out, subscriber[T]{id, fn})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (s *Subject[T]) deliver(id uint64, fn func(T) error, v T) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Subscriber panicked", "subject", s.name, "subscriber", id, "panic", fmt.Sprint(r))
		}
	}()
	if err := fn(v); err != nil {
		s.log.Warn("Subscriber failed", "subject", s.name, "subscriber", id, "error", err)
	}
}
