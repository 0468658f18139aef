// Package approval integrates with an external human approval channel.
package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Common errors.
var (
	ErrTicketNotFound = errors.New("approval ticket not found")
	ErrPlanMismatch   = errors.New("approval bound to a different plan")
)

// Outcome is the tri-state result of an approval ticket.
type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
)

// Request describes what a human is asked to approve.
type Request struct {
	JobID    string            `json:"job_id"`
	Summary  string            `json:"summary"`
	PlanHash string            `json:"plan_hash,omitempty"`
	Risk     string            `json:"risk,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Channel opens approval tickets and reports their outcome.
// The planHash passed to Status must match the hash the ticket was
// opened with; a mismatch means someone approved a different plan.
type Channel interface {
	Open(ctx context.Context, req Request) (ticketID string, err error)
	Status(ctx context.Context, ticketID, planHash string) (Outcome, error)
}

// MemoryChannel is an in-process channel resolved via the API or
// directly in tests.
type MemoryChannel struct {
	mu      sync.Mutex
	tickets map[string]*memoryTicket
}

type memoryTicket struct {
	req     Request
	outcome Outcome
	opened  time.Time
}

// NewMemoryChannel creates an in-memory approval channel.
func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{tickets: make(map[string]*memoryTicket)}
}

// Open implements Channel.
func (c *MemoryChannel) Open(_ context.Context, req Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := uuid.New().String()
	c.tickets[id] = &memoryTicket{req: req, outcome: OutcomePending, opened: time.Now().UTC()}
	return id, nil
}

// Status implements Channel.
func (c *MemoryChannel) Status(_ context.Context, ticketID, planHash string) (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tickets[ticketID]
	if !ok {
		return "", ErrTicketNotFound
	}
	if t.req.PlanHash != "" && planHash != t.req.PlanHash {
		return "", fmt.Errorf("%w: ticket %s", ErrPlanMismatch, ticketID)
	}
	return t.outcome, nil
}

// Resolve sets a ticket's outcome. Used by the operator API.
func (c *MemoryChannel) Resolve(ticketID string, outcome Outcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tickets[ticketID]
	if !ok {
		return ErrTicketNotFound
	}
	t.outcome = outcome
	return nil
}

// Pending returns the requests of all unresolved tickets, keyed by
// ticket ID.
func (c *MemoryChannel) Pending() map[string]Request {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]Request)
	for id, t := range c.tickets {
		if t.outcome == OutcomePending {
			out[id] = t.req
		}
	}
	return out
}

// WebhookChannel talks to an external ticketing system over HTTP.
// Open posts the request to {base}/tickets; Status reads
// {base}/tickets/{id}.
type WebhookChannel struct {
	baseURL string
	headers map[string]string
	client  *http.Client
}

// NewWebhookChannel creates a webhook-backed approval channel.
func NewWebhookChannel(baseURL string, headers map[string]string) *WebhookChannel {
	return &WebhookChannel{
		baseURL: baseURL,
		headers: headers,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Open implements Channel.
func (c *WebhookChannel) Open(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tickets", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("ticket creation failed: status %d", resp.StatusCode)
	}

	var out struct {
		TicketID string `json:"ticket_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding ticket response: %w", err)
	}
	if out.TicketID == "" {
		return "", errors.New("ticket response missing ticket_id")
	}
	return out.TicketID, nil
}

// Status implements Channel.
func (c *WebhookChannel) Status(ctx context.Context, ticketID, planHash string) (Outcome, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tickets/"+ticketID, nil)
	if err != nil {
		return "", err
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrTicketNotFound
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("ticket status failed: status %d", resp.StatusCode)
	}

	var out struct {
		Outcome  Outcome `json:"outcome"`
		PlanHash string  `json:"plan_hash,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding ticket status: %w", err)
	}

	if out.PlanHash != "" && planHash != out.PlanHash {
		return "", fmt.Errorf("%w: ticket %s", ErrPlanMismatch, ticketID)
	}

	switch out.Outcome {
	case OutcomePending, OutcomeApproved, OutcomeRejected:
		return out.Outcome, nil
	default:
		return "", fmt.Errorf("unknown outcome %q for ticket %s", out.Outcome, ticketID)
	}
}
