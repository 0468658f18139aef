// Package worker drains the queue one job at a time.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/warden/warden/internal/approval"
	"github.com/warden/warden/internal/blobstore"
	"github.com/warden/warden/internal/breaker"
	"github.com/warden/warden/internal/events"
	"github.com/warden/warden/internal/models"
	"github.com/warden/warden/internal/queue"
	"github.com/warden/warden/internal/redact"
	"github.com/warden/warden/pkg/clock"
	"github.com/warden/warden/pkg/executor"
)

// ErrExecTimeout marks an execution abandoned by the timeout race.
var ErrExecTimeout = errors.New("execution timed out")

// Config holds worker configuration.
type Config struct {
	// PollInterval is how often the loop asks the queue for work.
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	// ExecTimeout is the hard per-attempt execution deadline.
	ExecTimeout time.Duration `yaml:"exec_timeout" json:"exec_timeout"`
	// InlineLimit is the largest output kept inline in the job record.
	InlineLimit int `yaml:"inline_limit" json:"inline_limit"`
}

// DefaultConfig returns sensible worker defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: 2 * time.Second,
		ExecTimeout:  5 * time.Minute,
		InlineLimit:  blobstore.DefaultInlineLimit,
	}
}

// Stats is a snapshot of worker counters.
type Stats struct {
	Processed       int64         `json:"processed"`
	Succeeded       int64         `json:"succeeded"`
	Failed          int64         `json:"failed"`
	TimedOut        int64         `json:"timed_out"`
	WaitingApproval int64         `json:"waiting_approval"`
	CircuitRejected int64         `json:"circuit_rejected"`
	Busy            bool          `json:"busy"`
	Uptime          time.Duration `json:"uptime"`
}

// Worker pulls jobs from the queue and executes them through the
// registered backends. A single job is in flight at any time.
type Worker struct {
	cfg      Config
	queue    *queue.Queue
	breakers *breaker.Registry
	registry *executor.Registry
	channel  approval.Channel
	blobs    *blobstore.Store
	bus      *events.Bus
	clk      clock.Clock
	logger   zerolog.Logger

	busy      atomic.Bool
	startTime time.Time

	processed       atomic.Int64
	succeeded       atomic.Int64
	failed          atomic.Int64
	timedOut        atomic.Int64
	waitingApproval atomic.Int64
	circuitRejected atomic.Int64
}

// New creates a worker.
func New(cfg Config, q *queue.Queue, breakers *breaker.Registry, reg *executor.Registry,
	channel approval.Channel, blobs *blobstore.Store, bus *events.Bus,
	clk clock.Clock, logger zerolog.Logger) *Worker {
	return &Worker{
		cfg:       cfg,
		queue:     q,
		breakers:  breakers,
		registry:  reg,
		channel:   channel,
		blobs:     blobs,
		bus:       bus,
		clk:       clk,
		logger:    logger.With().Str("component", "worker").Logger(),
		startTime: clk.Now(),
	}
}

// Run drives the poll loop until ctx is canceled. Cancellation is
// cooperative: a job already in flight finishes or times out first.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().
		Dur("poll_interval", w.cfg.PollInterval).
		Dur("exec_timeout", w.cfg.ExecTimeout).
		Msg("worker started")

	ticker := w.clk.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("worker stopped")
			return ctx.Err()
		case <-ticker.C():
			w.Tick(ctx)
		}
	}
}

// Tick performs one loop iteration: resolve pending approvals, then
// process at most one job. Exported so tests can drive the worker
// without the timer.
func (w *Worker) Tick(ctx context.Context) {
	if w.busy.Load() {
		return
	}
	w.resolveApprovals(ctx)
	w.processNext(ctx)
}

// Stats returns a snapshot of the worker counters.
func (w *Worker) Stats() Stats {
	return Stats{
		Processed:       w.processed.Load(),
		Succeeded:       w.succeeded.Load(),
		Failed:          w.failed.Load(),
		TimedOut:        w.timedOut.Load(),
		WaitingApproval: w.waitingApproval.Load(),
		CircuitRejected: w.circuitRejected.Load(),
		Busy:            w.busy.Load(),
		Uptime:          w.clk.Since(w.startTime),
	}
}

// processNext takes one job off the queue and drives it to an outcome.
func (w *Worker) processNext(ctx context.Context) {
	job, err := w.queue.Next()
	if err != nil {
		w.logger.Error().Err(err).Msg("queue poll failed")
		return
	}
	if job == nil {
		return
	}

	w.busy.Store(true)
	defer w.busy.Store(false)

	// Circuit check happens after dequeue so the decision uses the
	// breaker state at execution time. A rejection costs no attempt.
	b := w.breakers.Get(job.Target)
	if !b.Allow() {
		w.circuitRejected.Add(1)
		w.logger.Warn().Str("job_id", job.ID).Str("target", job.Target).Msg("circuit open, job re-queued")
		if err := w.queue.Requeue(job.ID); err != nil {
			w.logger.Error().Err(err).Str("job_id", job.ID).Msg("requeue failed")
		}
		return
	}

	w.processed.Add(1)
	w.publish(events.JobProcessing, job, nil)
	w.logger.Info().
		Str("job_id", job.ID).
		Str("entrypoint", job.Entrypoint).
		Str("target", job.Target).
		Int("attempt", job.Attempts+1).
		Msg("processing job")

	w.execute(ctx, job, b)
}

// outcome carries the winner of the execution race.
type outcome struct {
	result *executor.Result
	err    error
}

// execute runs the job under the timeout race. Whichever side wins the
// race reports; the loser is abandoned and its result discarded, so an
// abandoned execution can never mutate queue state.
func (w *Worker) execute(ctx context.Context, job *models.Job, b *breaker.Breaker) {
	exec, err := w.registry.Get(job.Entrypoint)
	if err != nil {
		w.fail(job, b, err)
		return
	}

	task := executor.Task{
		JobID:      job.ID,
		Entrypoint: job.Entrypoint,
		Target:     job.Target,
		RunID:      job.RunID,
		Params:     job.Params,
		Attempt:    job.Attempts + 1,
	}

	execCtx, cancel := context.WithTimeout(ctx, w.cfg.ExecTimeout)
	defer cancel()

	var claimed atomic.Bool
	resCh := make(chan outcome, 1)
	go func() {
		res, execErr := exec.Execute(execCtx, task)
		if claimed.CompareAndSwap(false, true) {
			resCh <- outcome{result: res, err: execErr}
		}
	}()

	select {
	case out := <-resCh:
		w.report(ctx, job, b, out)
	case <-execCtx.Done():
		if claimed.CompareAndSwap(false, true) {
			w.timedOut.Add(1)
			w.publish(events.JobTimeout, job, nil)
			w.fail(job, b, fmt.Errorf("%w after %s", ErrExecTimeout, w.cfg.ExecTimeout))
			return
		}
		// The executor won the race just before the deadline fired.
		w.report(ctx, job, b, <-resCh)
	}
}

// report applies a completed execution's outcome to the queue.
func (w *Worker) report(ctx context.Context, job *models.Job, b *breaker.Breaker, out outcome) {
	if out.err != nil {
		w.fail(job, b, out.err)
		return
	}

	res := out.result
	if res != nil && res.NeedsApproval {
		w.awaitApproval(ctx, job, res)
		return
	}

	b.RecordSuccess()

	var refID string
	if res != nil && len(res.Output) > 0 {
		id, external, err := w.blobs.PutIfLarge(res.Output, w.cfg.InlineLimit)
		if err != nil {
			w.logger.Error().Err(err).Str("job_id", job.ID).Msg("blob store write failed")
		} else if external {
			refID = id
		}
	}

	if err := w.queue.Complete(job.ID, refID); err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("complete failed")
		return
	}
	w.succeeded.Add(1)
	w.publish(events.JobSucceeded, job, map[string]string{"ref_id": refID})
}

// fail records a failure against the breaker and the queue.
func (w *Worker) fail(job *models.Job, b *breaker.Breaker, cause error) {
	b.RecordFailure()
	w.failed.Add(1)
	w.publish(events.JobFailed, job, map[string]string{"error": redact.Error(cause)})

	if err := w.queue.Fail(job.ID, cause); err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("fail transition failed")
	}
}

// awaitApproval opens a ticket and parks the job.
func (w *Worker) awaitApproval(ctx context.Context, job *models.Job, res *executor.Result) {
	ticketID, err := w.channel.Open(ctx, approval.Request{
		JobID:    job.ID,
		Summary:  res.Summary,
		PlanHash: res.PlanHash,
		Risk:     res.Risk,
	})
	if err != nil {
		// Could not reach the ticketing system; the attempt failed.
		w.fail(job, w.breakers.Get(job.Target), fmt.Errorf("opening approval ticket: %w", err))
		return
	}

	if err := w.queue.AwaitApproval(job.ID, ticketID, res.PlanHash); err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("await approval transition failed")
		return
	}
	w.waitingApproval.Add(1)
	w.publish(events.JobWaitingApproval, job, map[string]string{"ticket_id": ticketID})
}

// resolveApprovals polls the approval channel for every waiting job.
func (w *Worker) resolveApprovals(ctx context.Context) {
	jobs, err := w.queue.List()
	if err != nil {
		w.logger.Error().Err(err).Msg("listing jobs for approval resolution failed")
		return
	}

	for _, job := range jobs {
		if job.Status != models.StatusWaitingApproval {
			continue
		}

		status, err := w.channel.Status(ctx, job.TicketID, job.PlanHash)
		if err != nil {
			// Plan mismatch or channel trouble: leave the job waiting
			// rather than act on an approval we cannot trust.
			w.logger.Warn().Err(err).
				Str("job_id", job.ID).
				Str("ticket_id", job.TicketID).
				Msg("approval status check failed")
			continue
		}

		switch status {
		case approval.OutcomeApproved:
			if err := w.queue.ResolveApproval(job.ID, true); err != nil {
				w.logger.Error().Err(err).Str("job_id", job.ID).Msg("approval resolution failed")
			}
		case approval.OutcomeRejected:
			if err := w.queue.ResolveApproval(job.ID, false); err != nil {
				w.logger.Error().Err(err).Str("job_id", job.ID).Msg("rejection resolution failed")
			}
		case approval.OutcomePending:
			// Keep waiting.
		}
	}
}

func (w *Worker) publish(t events.Type, job *models.Job, fields map[string]string) {
	if w.bus == nil {
		return
	}
	w.bus.Publish(events.Event{Type: t, JobID: job.ID, Fields: fields, Timestamp: w.clk.Now().UTC()})
}
