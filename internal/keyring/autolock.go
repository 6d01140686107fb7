package keyring

import (
	"sync"
	"time"
)

// AutoLock calls a lock function after a period without activity.
type AutoLock struct {
	mu      sync.Mutex
	timeout time.Duration
	timer   *time.Timer
	skip    bool
	stopped bool
	lock    func()
}

// NewAutoLock arms a timer that calls lock after timeout of inactivity.
// A non-positive timeout disables auto-lock.
func NewAutoLock(timeout time.Duration, lock func()) *AutoLock {
	a := &AutoLock{timeout: timeout, lock: lock}
	if timeout > 0 {
		a.timer = time.AfterFunc(timeout, a.fire)
	}
	return a
}

// Touch resets the inactivity timer.
func (a *AutoLock) Touch() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer == nil || a.stopped {
		return
	}
	a.timer.Reset(a.timeout)
}

// SetSkip suspends auto-lock while long background work runs.
func (a *AutoLock) SetSkip(skip bool) {
	a.mu.Lock()
	a.skip = skip
	a.mu.Unlock()
}

// Skip reports whether auto-lock is suspended.
func (a *AutoLock) Skip() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.skip
}

// SetTimeout changes the timeout and restarts the timer.
func (a *AutoLock) SetTimeout(timeout time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.timeout = timeout
	if a.stopped {
		return
	}
	if timeout <= 0 {
		if a.timer != nil {
			a.timer.Stop()
		}
		return
	}
	if a.timer == nil {
		a.timer = time.AfterFunc(timeout, a.fire)
		return
	}
	a.timer.Reset(timeout)
}

// Stop disarms the timer for good.
func (a *AutoLock) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	if a.timer != nil {
		a.timer.Stop()
	}
}

func (a *AutoLock) fire() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	if a.skip {
		// check again later
		a.timer.Reset(a.timeout)
		a.mu.Unlock()
		return
	}
	lock := a.lock
	a.mu.Unlock()

	lock()
}
