package clock

import (
	"sync"
	"time"
)

// MockClock is a Clock implementation for testing that allows manual time control.
type MockClock struct {
	mu      sync.RWMutex
	current time.Time
	waiters []*mockWaiter
	tickers []*mockTicker
}

// NewMock returns a new MockClock set to the given time.
func NewMock(t time.Time) *MockClock {
	return &MockClock{current: t}
}

// Now returns the mock's current time.
func (c *MockClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Since returns the time elapsed since t.
func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Set sets the mock clock's time.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
	c.fire()
}

// Add advances the mock clock by the given duration.
func (c *MockClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	c.fire()
}

// fire delivers to any waiters or tickers that have elapsed.
// Must be called with the lock held.
func (c *MockClock) fire() {
	for _, w := range c.waiters {
		if !w.fired && !c.current.Before(w.deadline) {
			w.fired = true
			select {
			case w.ch <- c.current:
			default:
			}
		}
	}
	for _, t := range c.tickers {
		if t.stopped {
			continue
		}
		for !c.current.Before(t.next) {
			select {
			case t.ch <- c.current:
			default:
			}
			t.next = t.next.Add(t.interval)
		}
	}
}

// After returns a channel that receives the mock time once it reaches now+d.
func (c *MockClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := &mockWaiter{
		deadline: c.current.Add(d),
		ch:       make(chan time.Time, 1),
	}
	c.waiters = append(c.waiters, w)
	if d <= 0 {
		w.fired = true
		w.ch <- c.current
	}
	return w.ch
}

// NewTicker returns a mock Ticker driven by Add/Set.
func (c *MockClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &mockTicker{
		clock:    c,
		interval: d,
		next:     c.current.Add(d),
		ch:       make(chan time.Time, 1),
	}
	c.tickers = append(c.tickers, t)
	return t
}

// Sleep is a no-op for the mock clock; tests advance time explicitly.
func (c *MockClock) Sleep(d time.Duration) {}

type mockWaiter struct {
	deadline time.Time
	ch       chan time.Time
	fired    bool
}

type mockTicker struct {
	clock    *MockClock
	interval time.Duration
	next     time.Time
	ch       chan time.Time
	stopped  bool
}

func (t *mockTicker) C() <-chan time.Time {
	return t.ch
}

func (t *mockTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.stopped = true
}
