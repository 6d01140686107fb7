package subscription

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

// countingSource counts how many times its cancel func runs.
type countingSource struct {
	cancels int32
	emit    func(any) error
}

func (c *countingSource) source() Source {
	return func(emit func(any) error) (any, func()) {
		c.emit = emit
		return "initial", func() { atomic.AddInt32(&c.cancels, 1) }
	}
}

func discard(string, string, any) error { return nil }

func TestCancelThenDisconnectUnsubscribesOnce(t *testing.T) {
	m := NewMultiplexer(nil)
	src := &countingSource{}

	h, initial, err := m.Subscribe("conn-1", "sub-1", "balances", src.source(), discard)
	if err != nil {
		t.Fatal(err)
	}
	if initial != "initial" {
		t.Errorf("initial = %v", initial)
	}
	if h.ID != "sub-1" {
		t.Errorf("id = %s", h.ID)
	}

	if !m.Cancel("sub-1") {
		t.Error("first cancel should report true")
	}
	if m.Cancel("sub-1") {
		t.Error("second cancel should report false")
	}
	if n := m.Disconnect("conn-1"); n != 0 {
		t.Errorf("disconnect ended %d subscriptions, want 0", n)
	}
	if got := atomic.LoadInt32(&src.cancels); got != 1 {
		t.Errorf("unsubscribe ran %d times, want 1", got)
	}
}

func TestDisconnectCancelsAll(t *testing.T) {
	m := NewMultiplexer(nil)
	a, b, other := &countingSource{}, &countingSource{}, &countingSource{}

	m.Subscribe("conn-1", "a", "accounts", a.source(), discard)
	m.Subscribe("conn-1", "b", "transactions", b.source(), discard)
	m.Subscribe("conn-2", "c", "accounts", other.source(), discard)

	if got := m.Connection("conn-1"); len(got) != 2 || got[0] != "a" {
		t.Errorf("Connection = %v", got)
	}
	if n := m.Disconnect("conn-1"); n != 2 {
		t.Errorf("disconnect ended %d, want 2", n)
	}
	if m.Cancel("a") {
		t.Error("cancel after disconnect should report false")
	}
	if a.cancels != 1 || b.cancels != 1 {
		t.Errorf("cancels = %d, %d", a.cancels, b.cancels)
	}
	if other.cancels != 0 || m.Count() != 1 {
		t.Error("other connections must be untouched")
	}
}

func TestCancelUnknown(t *testing.T) {
	m := NewMultiplexer(nil)
	if m.Cancel("nope") {
		t.Error("unknown id should report false")
	}
}

func TestDuplicateID(t *testing.T) {
	m := NewMultiplexer(nil)
	src := &countingSource{}
	m.Subscribe("c", "dup", "accounts", src.source(), discard)
	if _, _, err := m.Subscribe("c", "dup", "accounts", src.source(), discard); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("got %v, want ErrDuplicateID", err)
	}
}

func TestGeneratedID(t *testing.T) {
	m := NewMultiplexer(nil)
	h, _, err := m.Subscribe("c", "", "accounts", (&countingSource{}).source(), discard)
	if err != nil {
		t.Fatal(err)
	}
	if h.ID == "" {
		t.Error("expected a generated id")
	}
}

func TestConcurrentCancelAndDisconnect(t *testing.T) {
	for i := 0; i < 50; i++ {
		m := NewMultiplexer(nil)
		src := &countingSource{}
		m.Subscribe("conn", "sub", "accounts", src.source(), discard)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); m.Cancel("sub") }()
		go func() { defer wg.Done(); m.Disconnect("conn") }()
		wg.Wait()

		if got := atomic.LoadInt32(&src.cancels); got != 1 {
			t.Fatalf("iteration %d: unsubscribe ran %d times", i, got)
		}
	}
}

func TestNoDeliveryAfterCancel(t *testing.T) {
	m := NewMultiplexer(nil)
	subject := NewSubject("balances", 0)

	var got []any
	sink := func(_, _ string, v any) error {
		got = append(got, v)
		return nil
	}
	_, initial, err := m.Subscribe("c", "s", "balances", subject.Source(), sink)
	if err != nil {
		t.Fatal(err)
	}
	if initial != 0 {
		t.Errorf("initial = %v", initial)
	}

	subject.Next(1)
	m.Cancel("s")
	subject.Next(2)

	if len(got) != 1 || got[0] != 1 {
		t.Errorf("delivered %v, want [1]", got)
	}
	if subject.Len() != 0 {
		t.Error("cancel should remove the subject subscriber")
	}
}

func TestSubjectIsolatesSubscribers(t *testing.T) {
	s := NewSubject("tx", "")

	var good []string
	s.Subscribe(func(v string) error { panic("bad subscriber") })
	s.Subscribe(func(v string) error { return errors.New("failing subscriber") })
	s.Subscribe(func(v string) error {
		good = append(good, v)
		return nil
	})

	s.Next("a")
	s.Next("b")

	if len(good) != 2 || good[0] != "a" || good[1] != "b" {
		t.Errorf("healthy subscriber got %v", good)
	}
	if s.Value() != "b" {
		t.Errorf("Value = %q", s.Value())
	}
}

func TestSubjectUpdate(t *testing.T) {
	s := NewSubject("counter", 1)
	cur, unsub := s.Subscribe(func(int) error { return nil })
	defer unsub()
	if cur != 1 {
		t.Errorf("current = %d", cur)
	}
	s.Update(func(v int) int { return v + 41 })
	if s.Value() != 42 {
		t.Errorf("Value = %d", s.Value())
	}
	unsub()
	unsub()
	if s.Len() != 0 {
		t.Error("unsubscribe should be idempotent")
	}
}

func TestSinkPanicIsContained(t *testing.T) {
	m := NewMultiplexer(nil)
	bad, good := &countingSource{}, &countingSource{}

	var got []any
	m.Subscribe("conn-1", "bad", "balances", bad.source(), func(string, string, any) error {
		panic("sink exploded")
	})
	m.Subscribe("conn-1", "good", "balances", good.source(), func(_, _ string, v any) error {
		got = append(got, v)
		return nil
	})

	err := bad.emit("update")
	if !errors.Is(err, errSinkPanic) {
		t.Fatalf("emit err = %v, want errSinkPanic", err)
	}
	if err := good.emit("update"); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "update" {
		t.Errorf("good sink got %v", got)
	}
	if m.Count() != 2 {
		t.Errorf("count = %d, want 2", m.Count())
	}
	if !m.Cancel("bad") || atomic.LoadInt32(&bad.cancels) != 1 {
		t.Error("panicking subscription should still cancel cleanly")
	}
}
