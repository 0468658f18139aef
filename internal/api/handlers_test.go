package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/warden/warden/internal/admission"
	"github.com/warden/warden/internal/approval"
	"github.com/warden/warden/internal/blobstore"
	"github.com/warden/warden/internal/breaker"
	"github.com/warden/warden/internal/events"
	"github.com/warden/warden/internal/models"
	"github.com/warden/warden/internal/monitor"
	"github.com/warden/warden/internal/notify"
	"github.com/warden/warden/internal/policy"
	"github.com/warden/warden/internal/queue"
	"github.com/warden/warden/internal/rollout"
	"github.com/warden/warden/internal/storage"
	"github.com/warden/warden/internal/worker"
	"github.com/warden/warden/pkg/clock"
	"github.com/warden/warden/pkg/executor"
)

type testAPI struct {
	server   *httptest.Server
	queue    *queue.Queue
	breakers *breaker.Registry
	channel  *approval.MemoryChannel
}

func setupTestAPI(t *testing.T) *testAPI {
	t.Helper()

	store := storage.NewMemoryStore()
	clk := clock.NewMock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	bus := events.NewBus()
	logger := zerolog.Nop()

	q, err := queue.New(store, queue.DefaultConfig(), clk, bus, logger)
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}

	engine, err := policy.NewEngine([]policy.Rule{
		{Category: "destructive", Keywords: []string{"drop table"}, Action: policy.ActionDeny, RiskLevel: policy.RiskCritical},
		{Category: "production", Keywords: []string{"prod-deploy"}, Action: policy.ActionRequireHuman, RiskLevel: policy.RiskHigh},
	}, nil, nil, clk)
	if err != nil {
		t.Fatalf("policy.NewEngine: %v", err)
	}

	router := rollout.New(map[string]rollout.Record{
		"staging": {Mode: rollout.ModeFull},
	})

	breakers := breaker.NewRegistry(breaker.DefaultConfig(), clk)
	channel := approval.NewMemoryChannel()
	gate := admission.New(engine, router, q, channel, 3, logger)
	w := worker.New(worker.DefaultConfig(), q, breakers, executor.NewRegistry(),
		channel, blobstore.New(store), bus, clk, logger)

	mon, err := monitor.New(monitor.DefaultConfig(), q, breakers,
		notify.NewMemorySink(), store, clk, logger)
	if err != nil {
		t.Fatalf("monitor.New: %v", err)
	}

	handler := NewHandler(gate, q, breakers, mon, w, channel, logger)
	server := httptest.NewServer(NewRouter(handler, logger))
	t.Cleanup(server.Close)

	return &testAPI{server: server, queue: q, breakers: breakers, channel: channel}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) (*http.Response, Response) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req, err := http.NewRequest(method, a.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var parsed Response
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, parsed
}

func TestHealthCheck(t *testing.T) {
	a := setupTestAPI(t)

	resp, parsed := a.do(t, "GET", "/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if !parsed.Success {
		t.Error("expected success=true")
	}
}

func TestSubmitJobAllowed(t *testing.T) {
	a := setupTestAPI(t)

	resp, parsed := a.do(t, "POST", "/api/v1/jobs", admission.Request{
		Entrypoint: "deploy",
		Target:     "staging",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	if !parsed.Success {
		t.Error("expected success=true")
	}

	jobs, err := a.queue.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != models.StatusQueued {
		t.Errorf("expected one queued job, got %+v", jobs)
	}
}

func TestSubmitJobDenied(t *testing.T) {
	a := setupTestAPI(t)

	resp, parsed := a.do(t, "POST", "/api/v1/jobs", admission.Request{
		Entrypoint: "migrate",
		Target:     "staging",
		Input:      "drop table users",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %d", resp.StatusCode)
	}
	if parsed.Error == nil || parsed.Error.Code != ErrCodePolicyDenied {
		t.Errorf("expected POLICY_DENIED, got %+v", parsed.Error)
	}
}

func TestSubmitJobRolloutDisabled(t *testing.T) {
	a := setupTestAPI(t)

	resp, parsed := a.do(t, "POST", "/api/v1/jobs", admission.Request{
		Entrypoint: "deploy",
		Target:     "unconfigured",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %d", resp.StatusCode)
	}
	if parsed.Error == nil || parsed.Error.Code != ErrCodeRolloutDisabled {
		t.Errorf("expected ROLLOUT_DISABLED, got %+v", parsed.Error)
	}
}

func TestSubmitJobValidation(t *testing.T) {
	a := setupTestAPI(t)

	resp, parsed := a.do(t, "POST", "/api/v1/jobs", admission.Request{Target: "staging"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	if parsed.Error == nil || parsed.Error.Code != ErrCodeValidation {
		t.Errorf("expected VALIDATION_ERROR, got %+v", parsed.Error)
	}
}

func TestGetJob(t *testing.T) {
	a := setupTestAPI(t)

	job := &models.Job{Entrypoint: "deploy", Target: "staging", MaxAttempts: 3}
	if err := a.queue.Admit(job); err != nil {
		t.Fatalf("Admit: %v", err)
	}

	resp, parsed := a.do(t, "GET", "/api/v1/jobs/"+job.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	data, ok := parsed.Data.(map[string]interface{})
	if !ok || data["id"] != job.ID {
		t.Errorf("unexpected job payload: %+v", parsed.Data)
	}

	resp, parsed = a.do(t, "GET", "/api/v1/jobs/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
	if parsed.Error == nil || parsed.Error.Code != ErrCodeNotFound {
		t.Errorf("expected NOT_FOUND, got %+v", parsed.Error)
	}
}

func TestListJobsStatusFilter(t *testing.T) {
	a := setupTestAPI(t)

	for i := 0; i < 3; i++ {
		job := &models.Job{Entrypoint: "deploy", Target: "staging", MaxAttempts: 3}
		if err := a.queue.Admit(job); err != nil {
			t.Fatalf("Admit: %v", err)
		}
	}
	if _, err := a.queue.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}

	_, parsed := a.do(t, "GET", "/api/v1/jobs?status=running", nil)
	data := parsed.Data.(map[string]interface{})
	if total := data["total"].(float64); total != 1 {
		t.Errorf("expected 1 running job, got %v", total)
	}
}

func TestStats(t *testing.T) {
	a := setupTestAPI(t)

	resp, parsed := a.do(t, "GET", "/api/v1/stats", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	data := parsed.Data.(map[string]interface{})
	qstats := data["queue"].(map[string]interface{})
	if capacity := qstats["capacity"].(float64); capacity != 256 {
		t.Errorf("expected capacity 256, got %v", capacity)
	}
}

func TestDeadLetterLifecycle(t *testing.T) {
	a := setupTestAPI(t)

	job := &models.Job{Entrypoint: "deploy", Target: "staging", MaxAttempts: 1}
	if err := a.queue.Admit(job); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if _, err := a.queue.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if err := a.queue.Fail(job.ID, errors.New("connection refused")); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	_, parsed := a.do(t, "GET", "/api/v1/deadletters", nil)
	data := parsed.Data.(map[string]interface{})
	entries := data["entries"].([]interface{})
	if len(entries) != 1 {
		t.Fatalf("expected 1 dead-letter entry, got %d", len(entries))
	}
	entryID := entries[0].(map[string]interface{})["id"].(string)

	_, parsed = a.do(t, "GET", "/api/v1/deadletters/triage", nil)
	data = parsed.Data.(map[string]interface{})
	if total := data["total"].(float64); total != 1 {
		t.Errorf("expected 1 triage group, got %v", total)
	}

	resp, _ := a.do(t, "POST", fmt.Sprintf("/api/v1/deadletters/%s/retry", entryID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("retry: expected 200, got %d", resp.StatusCode)
	}

	_, parsed = a.do(t, "GET", "/api/v1/deadletters", nil)
	data = parsed.Data.(map[string]interface{})
	if total := data["total"].(float64); total != 0 {
		t.Errorf("expected empty sink after retry, got %v entries", total)
	}

	jobs, err := a.queue.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != models.StatusQueued {
		t.Errorf("expected requeued job, got %+v", jobs)
	}
}

func TestRetryDeadLetterNotFound(t *testing.T) {
	a := setupTestAPI(t)

	resp, parsed := a.do(t, "POST", "/api/v1/deadletters/nope/retry", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
	if parsed.Error == nil || parsed.Error.Code != ErrCodeNotFound {
		t.Errorf("expected NOT_FOUND, got %+v", parsed.Error)
	}
}

func TestBreakerResetEndpoint(t *testing.T) {
	a := setupTestAPI(t)

	b := a.breakers.Get("staging")
	for i := 0; i < breaker.DefaultConfig().FailureThreshold; i++ {
		b.RecordFailure()
	}

	_, parsed := a.do(t, "GET", "/api/v1/breakers", nil)
	data := parsed.Data.(map[string]interface{})
	summary := data["summary"].(map[string]interface{})
	if open := summary["open"].(float64); open != 1 {
		t.Fatalf("expected 1 open breaker, got %v", open)
	}

	resp, _ := a.do(t, "POST", "/api/v1/breakers/staging/reset", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset: expected 200, got %d", resp.StatusCode)
	}
	if b.State() != breaker.StateClosed {
		t.Errorf("expected closed after reset, got %s", b.State())
	}
}

func TestApprovalResolution(t *testing.T) {
	a := setupTestAPI(t)

	resp, parsed := a.do(t, "POST", "/api/v1/jobs", admission.Request{
		Entrypoint: "prod-deploy",
		Target:     "staging",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %+v", resp.StatusCode, parsed.Error)
	}
	dec := parsed.Data.(map[string]interface{})
	ticketID, _ := dec["ticket_id"].(string)
	if ticketID == "" {
		t.Fatalf("expected ticket_id in decision, got %+v", dec)
	}

	_, parsed = a.do(t, "GET", "/api/v1/approvals", nil)
	data := parsed.Data.(map[string]interface{})
	if total := data["total"].(float64); total != 1 {
		t.Errorf("expected 1 pending ticket, got %v", total)
	}

	resp, _ = a.do(t, "POST", "/api/v1/approvals/"+ticketID+"/resolve",
		ResolveRequest{Outcome: approval.OutcomeApproved})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve: expected 200, got %d", resp.StatusCode)
	}

	resp, _ = a.do(t, "POST", "/api/v1/approvals/nope/resolve",
		ResolveRequest{Outcome: approval.OutcomeApproved})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown ticket, got %d", resp.StatusCode)
	}
}

func TestResolveApprovalRejectsBadOutcome(t *testing.T) {
	a := setupTestAPI(t)

	resp, parsed := a.do(t, "POST", "/api/v1/approvals/t1/resolve",
		ResolveRequest{Outcome: "maybe"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	if parsed.Error == nil || parsed.Error.Code != ErrCodeValidation {
		t.Errorf("expected VALIDATION_ERROR, got %+v", parsed.Error)
	}
}
