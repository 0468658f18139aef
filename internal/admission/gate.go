// Package admission gates incoming requests through policy, rollout,
// and queue backpressure before they become jobs.
package admission

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warden/warden/internal/approval"
	"github.com/warden/warden/internal/models"
	"github.com/warden/warden/internal/policy"
	"github.com/warden/warden/internal/queue"
	"github.com/warden/warden/internal/rollout"
)

// Common errors.
var (
	// ErrPolicyDenied means the request matched a deny rule. Terminal,
	// never retried.
	ErrPolicyDenied = errors.New("request denied by policy")
	// ErrRolloutDisabled means the target is not enabled for this run.
	ErrRolloutDisabled = errors.New("target not enabled by rollout")
)

// Request is an incoming unit of work before admission.
type Request struct {
	Entrypoint  string            `json:"entrypoint"`
	Target      string            `json:"target"`
	RunID       string            `json:"run_id,omitempty"`
	Params      map[string]string `json:"params,omitempty"`
	Priority    int               `json:"priority,omitempty"`
	MaxAttempts int               `json:"max_attempts,omitempty"`
	// Input is the text the policy engine evaluates. When empty it is
	// derived from the entrypoint, target, and params.
	Input string `json:"input,omitempty"`
}

// Decision is the result of admitting a request.
type Decision struct {
	Policy   policy.Decision `json:"policy"`
	Job      *models.Job     `json:"job,omitempty"`
	TicketID string          `json:"ticket_id,omitempty"`
}

// Gate runs every incoming request through the admission pipeline:
// policy first, then rollout, then queue admission.
type Gate struct {
	engine  *policy.Engine
	router  *rollout.Router
	queue   *queue.Queue
	channel approval.Channel
	logger  zerolog.Logger

	defaultMaxAttempts int
}

// New creates an admission gate.
func New(engine *policy.Engine, router *rollout.Router, q *queue.Queue,
	channel approval.Channel, defaultMaxAttempts int, logger zerolog.Logger) *Gate {
	if defaultMaxAttempts <= 0 {
		defaultMaxAttempts = 3
	}
	return &Gate{
		engine:             engine,
		router:             router,
		queue:              q,
		channel:            channel,
		defaultMaxAttempts: defaultMaxAttempts,
		logger:             logger.With().Str("component", "admission").Logger(),
	}
}

// Submit admits a request. A deny decision returns ErrPolicyDenied; a
// require_human decision opens an approval ticket and parks the job; an
// allow decision confirms the rollout target and enqueues. Queue
// backpressure errors pass through unchanged.
func (g *Gate) Submit(ctx context.Context, req Request) (*Decision, error) {
	input := req.Input
	if input == "" {
		input = deriveInput(req)
	}

	pd := g.engine.Evaluate(input)
	dec := &Decision{Policy: pd}

	switch pd.Action {
	case policy.ActionDeny:
		g.logger.Warn().
			Str("entrypoint", req.Entrypoint).
			Str("target", req.Target).
			Str("category", pd.MatchedCategory).
			Msg("request denied by policy")
		return dec, fmt.Errorf("%w: %s", ErrPolicyDenied, pd.MatchedCategory)

	case policy.ActionRequireHuman:
		if !g.router.IsEnabled(req.Target, req.RunID) {
			return dec, fmt.Errorf("%w: %s", ErrRolloutDisabled, req.Target)
		}
		return g.admitWaiting(ctx, req, dec)

	default:
		if !g.router.IsEnabled(req.Target, req.RunID) {
			return dec, fmt.Errorf("%w: %s", ErrRolloutDisabled, req.Target)
		}
		job := g.buildJob(req)
		if err := g.queue.Admit(job); err != nil {
			return dec, err
		}
		dec.Job = job
		return dec, nil
	}
}

// admitWaiting opens an approval ticket and parks the job on it.
func (g *Gate) admitWaiting(ctx context.Context, req Request, dec *Decision) (*Decision, error) {
	job := g.buildJob(req)

	summary := fmt.Sprintf("%s against %s (matched policy category %q)",
		req.Entrypoint, req.Target, dec.Policy.MatchedCategory)
	ticketID, err := g.channel.Open(ctx, approval.Request{
		JobID:   job.ID,
		Summary: summary,
		Risk:    string(dec.Policy.RiskLevel),
		Metadata: map[string]string{
			"matched_by": dec.Policy.MatchedBy,
			"category":   dec.Policy.MatchedCategory,
		},
	})
	if err != nil {
		return dec, fmt.Errorf("opening approval ticket: %w", err)
	}

	if err := g.queue.AdmitWaiting(job, ticketID, ""); err != nil {
		return dec, err
	}

	dec.Job = job
	dec.TicketID = ticketID
	g.logger.Info().
		Str("job_id", job.ID).
		Str("ticket_id", ticketID).
		Str("category", dec.Policy.MatchedCategory).
		Msg("request parked for human approval")
	return dec, nil
}

func (g *Gate) buildJob(req Request) *models.Job {
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = g.defaultMaxAttempts
	}
	return &models.Job{
		ID:          uuid.New().String(),
		Entrypoint:  req.Entrypoint,
		Target:      req.Target,
		RunID:       req.RunID,
		Params:      req.Params,
		Priority:    req.Priority,
		MaxAttempts: maxAttempts,
	}
}

// deriveInput builds the policy evaluation text from request fields.
func deriveInput(req Request) string {
	parts := []string{req.Entrypoint, req.Target}
	for k, v := range req.Params {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, " ")
}
