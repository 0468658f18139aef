// Package rollout decides whether an execution target is enabled for a
// given run under gradual rollout.
package rollout

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"
)

// Mode controls how a target is rolled out.
type Mode string

const (
	// ModeOff disables the target entirely.
	ModeOff Mode = "off"
	// ModeCanary enables the target for a deterministic percentage of runs.
	ModeCanary Mode = "canary"
	// ModeFull enables the target for all runs.
	ModeFull Mode = "full"
)

// Record is the rollout configuration for one target. Immutable for
// the duration of a run; reloadable between runs.
type Record struct {
	Mode          Mode     `json:"mode" yaml:"mode"`
	CanaryPercent int      `json:"canary_percent" yaml:"canary_percent"`
	Allowlist     []string `json:"allowlist,omitempty" yaml:"allowlist,omitempty"`
}

// Router answers enablement queries from an atomically swappable
// config snapshot. IsEnabled is a pure function of (target, runID,
// config): no stored selection state, so repeated calls for the same
// run are stable.
type Router struct {
	mu      sync.RWMutex
	targets map[string]Record
}

// New creates a router from the given per-target records.
func New(targets map[string]Record) *Router {
	r := &Router{}
	r.Reload(targets)
	return r
}

// Reload swaps in a new rollout configuration.
func (r *Router) Reload(targets map[string]Record) {
	snapshot := make(map[string]Record, len(targets))
	for name, rec := range targets {
		cp := rec
		cp.Allowlist = append([]string(nil), rec.Allowlist...)
		snapshot[name] = cp
	}

	r.mu.Lock()
	r.targets = snapshot
	r.mu.Unlock()
}

// IsEnabled reports whether the target is enabled for the run.
// Unknown targets are disabled.
func (r *Router) IsEnabled(target, runID string) bool {
	r.mu.RLock()
	rec, ok := r.targets[target]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return Enabled(target, runID, rec)
}

// Targets returns a copy of the current rollout configuration.
func (r *Router) Targets() map[string]Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Record, len(r.targets))
	for name, rec := range r.targets {
		out[name] = rec
	}
	return out
}

// Enabled is the pure enablement function for a single record.
func Enabled(target, runID string, rec Record) bool {
	switch rec.Mode {
	case ModeFull:
		return true
	case ModeCanary:
		for _, id := range rec.Allowlist {
			if id == runID {
				return true
			}
		}
		if rec.CanaryPercent <= 0 {
			return false
		}
		if rec.CanaryPercent >= 100 {
			return true
		}
		return bucket(target, runID) < rec.CanaryPercent
	default:
		return false
	}
}

// bucket maps a (target, runID) pair to [0,100) using the first 32
// bits of sha256(runID + ":" + target). The hash is uniform, so the
// enabled fraction over many runs approximates the configured percent.
func bucket(target, runID string) int {
	sum := sha256.Sum256([]byte(runID + ":" + target))
	return int(binary.BigEndian.Uint32(sum[:4]) % 100)
}
