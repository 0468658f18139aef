package admission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/warden/warden/internal/approval"
	"github.com/warden/warden/internal/models"
	"github.com/warden/warden/internal/policy"
	"github.com/warden/warden/internal/queue"
	"github.com/warden/warden/internal/rollout"
	"github.com/warden/warden/internal/storage"
	"github.com/warden/warden/pkg/clock"
)

type gateHarness struct {
	gate    *Gate
	queue   *queue.Queue
	channel *approval.MemoryChannel
}

func newGateHarness(t *testing.T, qcfg queue.Config) *gateHarness {
	t.Helper()

	clk := clock.NewMock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	rules := []policy.Rule{
		{Category: "destructive", Keywords: []string{"drop table"}, Action: policy.ActionDeny, RiskLevel: policy.RiskHigh},
		{Category: "production", Keywords: []string{"prod-deploy"}, Action: policy.ActionRequireHuman, RiskLevel: policy.RiskMedium},
	}
	engine, err := policy.NewEngine(rules, nil, policy.DefaultEngineConfig(), clk)
	if err != nil {
		t.Fatalf("policy.NewEngine: %v", err)
	}

	router := rollout.New(map[string]rollout.Record{
		"staging": {Mode: rollout.ModeFull},
		"dark":    {Mode: rollout.ModeOff},
	})

	q, err := queue.New(storage.NewMemoryStore(), qcfg, clk, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}

	h := &gateHarness{queue: q, channel: approval.NewMemoryChannel()}
	h.gate = New(engine, router, q, h.channel, 3, zerolog.Nop())
	return h
}

func TestGateAllow(t *testing.T) {
	h := newGateHarness(t, queue.DefaultConfig())

	dec, err := h.gate.Submit(context.Background(), Request{
		Entrypoint: "sync-report",
		Target:     "staging",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if dec.Policy.Action != policy.ActionAllow {
		t.Errorf("expected allow, got %s", dec.Policy.Action)
	}
	if dec.Job == nil {
		t.Fatal("expected admitted job")
	}

	job, err := h.queue.Get(dec.Job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != models.StatusQueued || job.MaxAttempts != 3 {
		t.Errorf("unexpected job: %+v", job)
	}
}

func TestGateDeny(t *testing.T) {
	h := newGateHarness(t, queue.DefaultConfig())

	dec, err := h.gate.Submit(context.Background(), Request{
		Entrypoint: "run-sql",
		Target:     "staging",
		Input:      "DROP TABLE users",
	})
	if !errors.Is(err, ErrPolicyDenied) {
		t.Fatalf("expected ErrPolicyDenied, got %v", err)
	}
	if dec.Policy.MatchedCategory != "destructive" {
		t.Errorf("unexpected decision: %+v", dec.Policy)
	}

	jobs, _ := h.queue.List()
	if len(jobs) != 0 {
		t.Errorf("denied request must not enqueue, found %d jobs", len(jobs))
	}
}

func TestGateRequireHuman(t *testing.T) {
	h := newGateHarness(t, queue.DefaultConfig())

	dec, err := h.gate.Submit(context.Background(), Request{
		Entrypoint: "prod-deploy",
		Target:     "staging",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if dec.TicketID == "" || dec.Job == nil {
		t.Fatalf("expected parked job with ticket, got %+v", dec)
	}

	job, _ := h.queue.Get(dec.Job.ID)
	if job.Status != models.StatusWaitingApproval || job.TicketID != dec.TicketID {
		t.Errorf("unexpected job: %+v", job)
	}

	pending := h.channel.Pending()
	req, ok := pending[dec.TicketID]
	if !ok {
		t.Fatalf("ticket not pending: %+v", pending)
	}
	if req.JobID != dec.Job.ID || req.Risk != string(policy.RiskMedium) {
		t.Errorf("unexpected ticket request: %+v", req)
	}
}

func TestGateRolloutDisabled(t *testing.T) {
	h := newGateHarness(t, queue.DefaultConfig())

	for _, target := range []string{"dark", "unknown"} {
		_, err := h.gate.Submit(context.Background(), Request{
			Entrypoint: "sync-report",
			Target:     target,
		})
		if !errors.Is(err, ErrRolloutDisabled) {
			t.Errorf("target %s: expected ErrRolloutDisabled, got %v", target, err)
		}
	}
}

func TestGateBackpressurePassesThrough(t *testing.T) {
	qcfg := queue.DefaultConfig()
	qcfg.Capacity = 10
	qcfg.HighWaterPercent = 50
	h := newGateHarness(t, qcfg)

	for i := 0; i < 5; i++ {
		if _, err := h.gate.Submit(context.Background(), Request{Entrypoint: "sync-report", Target: "staging"}); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}

	_, err := h.gate.Submit(context.Background(), Request{Entrypoint: "sync-report", Target: "staging"})
	if !errors.Is(err, models.ErrBackpressure) {
		t.Errorf("expected ErrBackpressure, got %v", err)
	}
}

func TestGateDerivedInputCoversParams(t *testing.T) {
	h := newGateHarness(t, queue.DefaultConfig())

	// The deny keyword arrives through a param value, not the
	// entrypoint.
	_, err := h.gate.Submit(context.Background(), Request{
		Entrypoint: "run-sql",
		Target:     "staging",
		Params:     map[string]string{"query": "drop table accounts"},
	})
	if !errors.Is(err, ErrPolicyDenied) {
		t.Errorf("expected ErrPolicyDenied via params, got %v", err)
	}
}
