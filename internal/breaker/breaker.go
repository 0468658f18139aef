// Package breaker provides per-target failure isolation for job execution.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/warden/warden/pkg/clock"
)

// ErrCircuitOpen is returned when a call is rejected without being attempted.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed allows calls through; failures are tracked.
	StateClosed State = iota
	// StateOpen blocks all calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen allows exactly one probe call to test recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config configures breaker behavior.
type Config struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before allowing a probe.
	Cooldown time.Duration
	// OnStateChange is called whenever the circuit state changes (optional).
	OnStateChange func(target string, from, to State)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// Breaker implements the circuit breaker pattern for a single target.
type Breaker struct {
	mu     sync.RWMutex
	config *Config
	target string
	clock  clock.Clock

	state               State
	consecutiveFailures int
	lastFailureAt       time.Time
	cooldownUntil       time.Time
	probeInFlight       bool
}

// New creates a breaker for the named target.
func New(target string, config *Config, clk clock.Clock) *Breaker {
	if config == nil {
		config = DefaultConfig()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Breaker{
		config: config,
		target: target,
		clock:  clk,
		state:  StateClosed,
	}
}

// State returns the current circuit state, accounting for cooldown expiry.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.currentState()
}

// currentState returns the state, exposing half_open once the cooldown
// has elapsed. Must be called with at least a read lock held.
func (b *Breaker) currentState() State {
	if b.state == StateOpen && !b.clock.Now().Before(b.cooldownUntil) {
		return StateHalfOpen
	}
	return b.state
}

// Allow checks whether a call may proceed. In half_open, only one
// probe is admitted; concurrent callers are rejected until the probe
// reports its outcome.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState() {
	case StateClosed:
		return true
	case StateOpen:
		return false
	case StateHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	}
	return false
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState() {
	case StateHalfOpen:
		// Probe succeeded; close the circuit.
		b.probeInFlight = false
		b.transition(StateClosed)
	case StateClosed:
		b.consecutiveFailures = 0
	}
}

// RecordFailure records a failed call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureAt = b.clock.Now()

	switch b.currentState() {
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.config.FailureThreshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		// Probe failed; re-open and restart the cooldown.
		b.probeInFlight = false
		b.transition(StateOpen)
	}
}

// transition changes state. Must be called with the lock held.
func (b *Breaker) transition(to State) {
	from := b.currentState()
	if from == to && b.state == to {
		return
	}

	b.state = to
	b.consecutiveFailures = 0

	if to == StateOpen {
		b.cooldownUntil = b.clock.Now().Add(b.config.Cooldown)
	}

	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(b.target, from, to)
	}
}

// Reset forces the breaker back to closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probeInFlight = false
	b.transition(StateClosed)
}

// Stats is a point-in-time snapshot of a breaker.
type Stats struct {
	Target              string    `json:"target"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureAt       time.Time `json:"last_failure_at,omitempty"`
	CooldownUntil       time.Time `json:"cooldown_until,omitempty"`
}

// Stats returns the breaker's current statistics.
func (b *Breaker) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		Target:              b.target,
		State:               b.currentState().String(),
		ConsecutiveFailures: b.consecutiveFailures,
		LastFailureAt:       b.lastFailureAt,
		CooldownUntil:       b.cooldownUntil,
	}
}

// Registry manages breakers for multiple targets.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   *Config
	clock    clock.Clock
}

// NewRegistry creates a registry with the given default config.
func NewRegistry(config *Config, clk clock.Clock) *Registry {
	if config == nil {
		config = DefaultConfig()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		breakers: make(map[string]*Breaker),
		config:   config,
		clock:    clk,
	}
}

// Get returns the breaker for a target, creating one if needed.
func (r *Registry) Get(target string) *Breaker {
	r.mu.RLock()
	b, exists := r.breakers[target]
	r.mu.RUnlock()
	if exists {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, exists = r.breakers[target]; exists {
		return b
	}
	b = New(target, r.config, r.clock)
	r.breakers[target] = b
	return b
}

// Summary counts breakers per state for health reporting.
type Summary struct {
	Closed   int `json:"closed"`
	Open     int `json:"open"`
	HalfOpen int `json:"half_open"`
}

// Summary returns aggregate per-state counts.
func (r *Registry) Summary() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var s Summary
	for _, b := range r.breakers {
		switch b.State() {
		case StateClosed:
			s.Closed++
		case StateOpen:
			s.Open++
		case StateHalfOpen:
			s.HalfOpen++
		}
	}
	return s
}

// Stats returns stats for all breakers keyed by target.
func (r *Registry) Stats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]Stats, len(r.breakers))
	for target, b := range r.breakers {
		stats[target] = b.Stats()
	}
	return stats
}

// ResetAll resets every breaker to closed.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.breakers {
		b.Reset()
	}
}
