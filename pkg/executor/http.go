package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// HTTPConfig configures the HTTP executor.
type HTTPConfig struct {
	// URL receives the task as a JSON POST.
	URL string `json:"url" yaml:"url"`
	// Headers are added to every request.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	// MaxResponseSize bounds how much of the response body is read.
	MaxResponseSize int64 `json:"max_response_size,omitempty" yaml:"max_response_size,omitempty"`
	// Timeout is the HTTP client timeout. The caller's context usually
	// fires first; this is a transport-level backstop.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// HTTP executes tasks by posting them to a webhook endpoint.
//
// The endpoint replies 2xx with an optional JSON body:
//
//	{"status": "succeeded", "output": "..."}
//	{"status": "needs_approval", "summary": "...", "plan_hash": "...", "risk": "..."}
//
// Any non-2xx status is a failure.
type HTTP struct {
	name            string
	cfg             HTTPConfig
	client          *http.Client
	maxResponseSize int64
}

// NewHTTP creates an HTTP executor.
func NewHTTP(name string, cfg HTTPConfig) *HTTP {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	maxSize := cfg.MaxResponseSize
	if maxSize == 0 {
		maxSize = 1 << 20 // 1MB
	}
	return &HTTP{
		name:            name,
		cfg:             cfg,
		client:          &http.Client{Timeout: timeout},
		maxResponseSize: maxSize,
	}
}

// Name implements Executor.
func (h *HTTP) Name() string { return h.name }

// Execute implements Executor.
func (h *HTTP) Execute(ctx context.Context, task Task) (*Result, error) {
	body, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range h.cfg.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("X-Warden-Job-ID", task.JobID)
	req.Header.Set("X-Warden-Entrypoint", task.Entrypoint)
	req.Header.Set("X-Warden-Attempt", strconv.Itoa(task.Attempt))

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, h.maxResponseSize))
	if readErr != nil {
		respBody = []byte(fmt.Sprintf("[error reading response: %v]", readErr))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	var reply struct {
		Status   string `json:"status"`
		Output   string `json:"output"`
		Summary  string `json:"summary"`
		PlanHash string `json:"plan_hash"`
		Risk     string `json:"risk"`
	}
	// A non-JSON 2xx body is treated as plain success output.
	if err := json.Unmarshal(respBody, &reply); err != nil {
		return &Result{Output: respBody}, nil
	}

	if reply.Status == "needs_approval" {
		return &Result{
			NeedsApproval: true,
			Summary:       reply.Summary,
			PlanHash:      reply.PlanHash,
			Risk:          reply.Risk,
		}, nil
	}

	out := []byte(reply.Output)
	if reply.Output == "" {
		out = respBody
	}
	return &Result{Output: out}, nil
}
