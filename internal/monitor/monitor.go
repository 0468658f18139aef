// Package monitor watches queue and breaker health and raises alerts.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/warden/warden/internal/breaker"
	"github.com/warden/warden/internal/models"
	"github.com/warden/warden/internal/notify"
	"github.com/warden/warden/internal/queue"
	"github.com/warden/warden/internal/redact"
	"github.com/warden/warden/internal/storage"
	"github.com/warden/warden/pkg/clock"
)

// Health statuses, ordered by severity.
const (
	StatusOK       = "ok"
	StatusWarn     = "warn"
	StatusCritical = "critical"
)

// Config holds monitor configuration.
type Config struct {
	// Interval is the tick cadence.
	Interval time.Duration `yaml:"interval" json:"interval"`
	// WarnCooldown and CriticalCooldown limit repeat alerts for a
	// sustained incident. Escalations bypass them.
	WarnCooldown     time.Duration `yaml:"warn_cooldown" json:"warn_cooldown"`
	CriticalCooldown time.Duration `yaml:"critical_cooldown" json:"critical_cooldown"`
	// NotifyRecovery posts when a non-ok status returns to ok.
	NotifyRecovery bool `yaml:"notify_recovery" json:"notify_recovery"`

	// Status thresholds.
	UtilizationWarn      float64 `yaml:"utilization_warn" json:"utilization_warn"`
	OpenBreakersCritical int     `yaml:"open_breakers_critical" json:"open_breakers_critical"`
	RecentFailuresWarn   int     `yaml:"recent_failures_warn" json:"recent_failures_warn"`
}

// DefaultConfig returns sensible monitor defaults.
func DefaultConfig() Config {
	return Config{
		Interval:             30 * time.Second,
		WarnCooldown:         15 * time.Minute,
		CriticalCooldown:     5 * time.Minute,
		NotifyRecovery:       true,
		UtilizationWarn:      60,
		OpenBreakersCritical: 3,
		RecentFailuresWarn:   5,
	}
}

// Monitor derives {ok, warn, critical} from queue and breaker metrics
// each tick and posts alerts per the escalation rules. Its state is
// persisted after every tick so a restart cannot bypass a cooldown or
// duplicate a still-open alert.
type Monitor struct {
	cfg      Config
	queue    *queue.Queue
	breakers *breaker.Registry
	sink     notify.Sink
	store    storage.MonitorStateStore
	clk      clock.Clock
	logger   zerolog.Logger

	state models.MonitorState
}

// New creates a monitor, restoring persisted state when present.
func New(cfg Config, q *queue.Queue, breakers *breaker.Registry, sink notify.Sink,
	store storage.MonitorStateStore, clk clock.Clock, logger zerolog.Logger) (*Monitor, error) {
	m := &Monitor{
		cfg:      cfg,
		queue:    q,
		breakers: breakers,
		sink:     sink,
		store:    store,
		clk:      clk,
		logger:   logger.With().Str("component", "monitor").Logger(),
	}

	state, err := store.GetMonitorState()
	switch err {
	case nil:
		m.state = *state
	case models.ErrMonitorStateEmpty:
		// First run.
	default:
		return nil, fmt.Errorf("restoring monitor state: %w", err)
	}
	return m, nil
}

// Run drives the tick loop until ctx is canceled. Cancellation
// interrupts only the sleep between ticks, never a tick in progress.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info().Dur("interval", m.cfg.Interval).Msg("monitor started")

	ticker := m.clk.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("monitor stopped")
			return ctx.Err()
		case <-ticker.C():
			m.Tick(ctx)
		}
	}
}

// Status returns the currently computed health without posting.
func (m *Monitor) Status() (status, reason string, err error) {
	stats, err := m.queue.Stats()
	if err != nil {
		return "", "", err
	}
	status, reason = m.evaluate(stats, m.breakers.Summary())
	return status, reason, nil
}

// Tick evaluates health once and applies the posting rules. An
// evaluation error is logged and skipped; it never corrupts state.
func (m *Monitor) Tick(ctx context.Context) {
	stats, err := m.queue.Stats()
	if err != nil {
		m.logger.Error().Err(err).Msg("health evaluation failed, skipping tick")
		return
	}

	now := m.clk.Now().UTC()
	status, reason := m.evaluate(stats, m.breakers.Summary())
	post := m.shouldPost(status, now)

	if post {
		if err := m.post(ctx, status, reason, now); err != nil {
			m.logger.Error().Err(err).Msg("alert delivery failed")
		} else {
			m.state.LastPostTime = now
		}
	}

	prev := m.state.LastStatus
	m.state.LastStatus = status
	m.state.LastCheckTime = now
	if status == StatusOK {
		m.state.ConsecutiveOkCount++
	} else {
		m.state.ConsecutiveOkCount = 0
	}

	if err := m.store.SaveMonitorState(&m.state); err != nil {
		m.logger.Error().Err(err).Msg("persisting monitor state failed")
	}

	if status != prev {
		m.logger.Info().Str("from", prev).Str("to", status).Str("reason", reason).Bool("posted", post).Msg("health status changed")
	}
}

// evaluate derives the current status and a human-readable reason.
func (m *Monitor) evaluate(stats queue.Stats, sum breaker.Summary) (string, string) {
	var critical, warn []string

	if stats.BackpressureActive {
		critical = append(critical, fmt.Sprintf("queue backpressure active at %.0f%% utilization", stats.UtilizationPercent))
	}
	// A half-open circuit is one whose cooldown elapsed without a
	// successful probe. It is not recovered until it closes.
	unhealthy := sum.Open + sum.HalfOpen
	if unhealthy >= m.cfg.OpenBreakersCritical && m.cfg.OpenBreakersCritical > 0 {
		critical = append(critical, fmt.Sprintf("%d circuits not closed", unhealthy))
	}

	if stats.UtilizationPercent >= m.cfg.UtilizationWarn {
		warn = append(warn, fmt.Sprintf("queue utilization %.0f%%", stats.UtilizationPercent))
	}
	if unhealthy > 0 {
		warn = append(warn, fmt.Sprintf("%d circuit(s) not closed", unhealthy))
	}
	if m.cfg.RecentFailuresWarn > 0 && stats.RecentFailures >= m.cfg.RecentFailuresWarn {
		warn = append(warn, fmt.Sprintf("%d recent failures", stats.RecentFailures))
	}

	switch {
	case len(critical) > 0:
		return StatusCritical, strings.Join(critical, "; ")
	case len(warn) > 0:
		return StatusWarn, strings.Join(warn, "; ")
	default:
		return StatusOK, "all signals nominal"
	}
}

// shouldPost applies the escalation rules:
//  1. a status change to non-ok posts immediately, bypassing cooldown;
//  2. a recovery to ok posts when recovery notifications are enabled;
//  3. a sustained non-ok status posts only after its cooldown elapses;
//  4. a sustained ok never posts.
func (m *Monitor) shouldPost(status string, now time.Time) bool {
	prev := m.state.LastStatus

	if prev == "" {
		return status != StatusOK
	}

	if status != prev {
		if status != StatusOK {
			return true
		}
		return m.cfg.NotifyRecovery
	}

	if status == StatusOK {
		return false
	}
	return now.Sub(m.state.LastPostTime) >= m.cooldown(status)
}

func (m *Monitor) cooldown(status string) time.Duration {
	if status == StatusCritical {
		return m.cfg.CriticalCooldown
	}
	return m.cfg.WarnCooldown
}

// post sends the alert through the sink, redacting the reason first.
func (m *Monitor) post(ctx context.Context, status, reason string, now time.Time) error {
	severity := notify.SeverityInfo
	switch status {
	case StatusWarn:
		severity = notify.SeverityWarning
	case StatusCritical:
		severity = notify.SeverityCritical
	}

	title := "warden health: " + status
	if status == StatusOK {
		title = "warden health recovered"
	}

	return m.sink.Post(ctx, notify.Alert{
		Title:     title,
		Message:   redact.String(reason),
		Severity:  severity,
		Status:    status,
		Timestamp: now,
	})
}
