package balance

import (
	"testing"
	"time"

	"github.com/Klingon-tech/klingsign/internal/chain"
)

func TestWatch(t *testing.T) {
	f := newFixture(t)
	f.sub.SetAccount(alice, 1000, 0, 0)

	pushed := make(chan chain.Amount, 4)
	src := f.r.Watch(alice, "subtest", "", 10*time.Millisecond)
	initial, cancel := src(func(v any) error {
		pushed <- v.(chain.Amount)
		return nil
	})
	defer cancel()

	if a, ok := initial.(chain.Amount); !ok || a.Value != "1000" || a.Symbol != "WND" {
		t.Fatalf("initial = %#v", initial)
	}

	f.sub.SetAccount(alice, 1500, 0, 0)
	select {
	case a := <-pushed:
		if a.Value != "1500" {
			t.Errorf("pushed %s, want 1500", a.Value)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no push after balance change")
	}

	// unchanged balances are not pushed again
	select {
	case a := <-pushed:
		t.Errorf("unexpected push %s", a.Value)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatchUnknownChain(t *testing.T) {
	f := newFixture(t)
	initial, cancel := f.r.Watch(alice, "missing", "", time.Hour)(func(any) error { return nil })
	defer cancel()
	if initial != nil {
		t.Errorf("initial = %#v, want nil", initial)
	}
}
