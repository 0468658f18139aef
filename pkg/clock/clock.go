// Package clock provides a time abstraction for testability.
package clock

import "time"

// Clock is an interface for time operations, allowing for easy mocking in tests.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// Since returns the time elapsed since t.
	Since(t time.Time) time.Duration
	// After waits for the duration to elapse and then sends the current time on the returned channel.
	After(d time.Duration) <-chan time.Time
	// NewTicker returns a new Ticker.
	NewTicker(d time.Duration) Ticker
	// Sleep pauses the current goroutine for at least the duration d.
	Sleep(d time.Duration)
}

// Ticker wraps time.Ticker for mockability.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

// New returns a new RealClock.
func New() Clock {
	return &RealClock{}
}

// Now returns the current time.
func (c *RealClock) Now() time.Time {
	return time.Now()
}

// Since returns the time elapsed since t.
func (c *RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// After waits for the duration to elapse and then sends the current time.
func (c *RealClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// NewTicker returns a new Ticker.
func (c *RealClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}

// Sleep pauses the current goroutine for at least the duration d.
func (c *RealClock) Sleep(d time.Duration) {
	time.Sleep(d)
}

// realTicker wraps time.Ticker.
type realTicker struct {
	ticker *time.Ticker
}

func (t *realTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t *realTicker) Stop() {
	t.ticker.Stop()
}
