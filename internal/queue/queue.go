// Package queue implements the durable job queue and dead-letter sink.
package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warden/warden/internal/events"
	"github.com/warden/warden/internal/models"
	"github.com/warden/warden/internal/redact"
	"github.com/warden/warden/internal/storage"
	"github.com/warden/warden/pkg/clock"
)

// Config holds queue configuration.
type Config struct {
	// Capacity is the maximum number of occupied (queued + running) slots.
	Capacity int `yaml:"capacity" json:"capacity"`
	// HighWaterPercent is the utilization threshold that activates
	// backpressure. Admission is rejected while active.
	HighWaterPercent float64 `yaml:"high_water_percent" json:"high_water_percent"`
	// Retention is how long terminal job records are kept before sweep.
	Retention time.Duration `yaml:"retention" json:"retention"`
	// FailureWindow bounds the sliding window used for the failure count
	// reported by Stats.
	FailureWindow time.Duration `yaml:"failure_window" json:"failure_window"`
	// MaxReasonLen bounds dead-letter reasons after redaction.
	MaxReasonLen int `yaml:"max_reason_len" json:"max_reason_len"`
}

// DefaultConfig returns sensible queue defaults.
func DefaultConfig() Config {
	return Config{
		Capacity:         256,
		HighWaterPercent: 80,
		Retention:        24 * time.Hour,
		FailureWindow:    5 * time.Minute,
		MaxReasonLen:     redact.DefaultMaxLen,
	}
}

// Stats is a point-in-time snapshot of queue state.
type Stats struct {
	Queued             int     `json:"queued"`
	Running            int     `json:"running"`
	WaitingApproval    int     `json:"waiting_approval"`
	Capacity           int     `json:"capacity"`
	UtilizationPercent float64 `json:"utilization_percent"`
	BackpressureActive bool    `json:"backpressure_active"`
	Succeeded          int64   `json:"succeeded"`
	DeadLettered       int64   `json:"dead_lettered"`
	RecentFailures     int     `json:"recent_failures"`
}

// Queue owns all job records and is the only component allowed to
// mutate their status. All transitions go through its methods.
type Queue struct {
	mu     sync.Mutex
	store  storage.Store
	cfg    Config
	clk    clock.Clock
	bus    *events.Bus
	logger zerolog.Logger

	nextSeq      uint64
	succeeded    int64
	deadLettered int64
	failTimes    []time.Time
}

// New creates a queue over the given store. Existing job records are
// scanned to recover the admission sequence counter after a restart.
func New(store storage.Store, cfg Config, clk clock.Clock, bus *events.Bus, logger zerolog.Logger) (*Queue, error) {
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("queue capacity must be positive, got %d", cfg.Capacity)
	}

	q := &Queue{
		store:  store,
		cfg:    cfg,
		clk:    clk,
		bus:    bus,
		logger: logger.With().Str("component", "queue").Logger(),
	}

	jobs, err := store.ListJobs()
	if err != nil {
		return nil, fmt.Errorf("failed to scan jobs: %w", err)
	}
	for _, job := range jobs {
		if job.Seq >= q.nextSeq {
			q.nextSeq = job.Seq + 1
		}
	}

	return q, nil
}

// Admit validates a job and places it in the queued state. It rejects
// with ErrQueueFull at capacity and ErrBackpressure while the
// high-water mark is crossed.
func (q *Queue) Admit(job *models.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	occupied, _, err := q.occupiedLocked()
	if err != nil {
		return err
	}
	if occupied >= q.cfg.Capacity {
		return models.ErrQueueFull
	}
	if q.utilization(occupied) >= q.cfg.HighWaterPercent {
		return models.ErrBackpressure
	}

	return q.enqueueLocked(job)
}

// enqueueLocked assigns identity and sequence and persists the job as
// queued. Caller holds q.mu.
func (q *Queue) enqueueLocked(job *models.Job) error {
	now := q.clk.Now().UTC()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.Status = models.StatusQueued
	job.UpdatedAt = now
	job.Seq = q.nextSeq
	q.nextSeq++

	if err := q.store.SaveJob(job); err != nil {
		return err
	}

	q.logger.Info().
		Str("job_id", job.ID).
		Str("entrypoint", job.Entrypoint).
		Str("target", job.Target).
		Int("priority", job.Priority).
		Msg("job admitted")
	return nil
}

// AdmitWaiting admits a job directly into waiting_approval, bound to
// an already opened ticket. Used when admission control requires a
// human sign-off before the first execution.
func (q *Queue) AdmitWaiting(job *models.Job, ticketID, planHash string) error {
	if err := job.Validate(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	occupied, _, err := q.occupiedLocked()
	if err != nil {
		return err
	}
	if occupied >= q.cfg.Capacity {
		return models.ErrQueueFull
	}

	if err := q.enqueueLocked(job); err != nil {
		return err
	}
	job.Status = models.StatusWaitingApproval
	job.TicketID = ticketID
	job.PlanHash = planHash
	return q.store.SaveJob(job)
}

// Next returns the next eligible job and transitions it to running.
// Eligibility is highest priority first, then admission order.
// Returns (nil, nil) when no job is queued.
func (q *Queue) Next() (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs, err := q.store.ListJobs()
	if err != nil {
		return nil, err
	}

	var pick *models.Job
	for _, job := range jobs {
		if job.Status != models.StatusQueued {
			continue
		}
		if pick == nil || job.Priority > pick.Priority ||
			(job.Priority == pick.Priority && job.Seq < pick.Seq) {
			pick = job
		}
	}
	if pick == nil {
		return nil, nil
	}

	pick.Status = models.StatusRunning
	pick.UpdatedAt = q.clk.Now().UTC()
	if err := q.store.SaveJob(pick); err != nil {
		return nil, err
	}
	return pick, nil
}

// Complete marks a running job as succeeded. refID optionally points
// at externally stored output.
func (q *Queue) Complete(id, refID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.getLocked(id, models.StatusRunning)
	if err != nil {
		return err
	}

	job.Status = models.StatusSucceeded
	job.RefID = refID
	job.LastError = ""
	job.UpdatedAt = q.clk.Now().UTC()
	if err := q.store.SaveJob(job); err != nil {
		return err
	}

	q.succeeded++
	q.logger.Info().Str("job_id", id).Int("attempts", job.Attempts).Msg("job succeeded")
	return nil
}

// Fail records a failure of a running job. The attempt counter is
// incremented; if attempts remain the job is re-enqueued, otherwise it
// is moved to the dead-letter sink with a redacted reason.
func (q *Queue) Fail(id string, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.getLocked(id, models.StatusRunning)
	if err != nil {
		return err
	}

	now := q.clk.Now().UTC()
	job.Attempts++
	job.LastError = redact.ErrorN(cause, q.cfg.MaxReasonLen)
	job.UpdatedAt = now
	q.recordFailureLocked(now)

	if job.Attempts < job.MaxAttempts {
		job.Status = models.StatusQueued
		if err := q.store.SaveJob(job); err != nil {
			return err
		}
		q.logger.Warn().
			Str("job_id", id).
			Int("attempts", job.Attempts).
			Int("max_attempts", job.MaxAttempts).
			Msg("job failed, re-enqueued")
		return nil
	}

	return q.deadLetterLocked(job, now)
}

// Requeue returns a running job to the queued state without consuming
// an attempt. Used when execution was refused before it started, such
// as an open circuit on the job's target.
func (q *Queue) Requeue(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.getLocked(id, models.StatusRunning)
	if err != nil {
		return err
	}

	job.Status = models.StatusQueued
	job.UpdatedAt = q.clk.Now().UTC()
	return q.store.SaveJob(job)
}

// AwaitApproval parks a running job until its approval ticket resolves.
// planHash binds the ticket to the exact plan that was reviewed.
func (q *Queue) AwaitApproval(id, ticketID, planHash string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.getLocked(id, models.StatusRunning)
	if err != nil {
		return err
	}

	job.Status = models.StatusWaitingApproval
	job.TicketID = ticketID
	job.PlanHash = planHash
	job.UpdatedAt = q.clk.Now().UTC()
	if err := q.store.SaveJob(job); err != nil {
		return err
	}

	q.logger.Info().Str("job_id", id).Str("ticket_id", ticketID).Msg("job waiting for approval")
	return nil
}

// ResolveApproval moves a waiting job back to queued when approved, or
// to canceled when rejected.
func (q *Queue) ResolveApproval(id string, approved bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.getLocked(id, models.StatusWaitingApproval)
	if err != nil {
		return err
	}

	now := q.clk.Now().UTC()
	if approved {
		job.Status = models.StatusQueued
		job.TicketID = ""
	} else {
		job.Status = models.StatusCanceled
	}
	job.UpdatedAt = now
	if err := q.store.SaveJob(job); err != nil {
		return err
	}

	q.logger.Info().Str("job_id", id).Bool("approved", approved).Msg("approval resolved")
	return nil
}

// Get returns a job by ID.
func (q *Queue) Get(id string) (*models.Job, error) {
	return q.store.GetJob(id)
}

// List returns all job records.
func (q *Queue) List() ([]*models.Job, error) {
	return q.store.ListJobs()
}

// Stats returns a snapshot of queue occupancy and counters.
func (q *Queue) Stats() (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs, err := q.store.ListJobs()
	if err != nil {
		return Stats{}, err
	}

	s := Stats{
		Capacity:     q.cfg.Capacity,
		Succeeded:    q.succeeded,
		DeadLettered: q.deadLettered,
	}
	for _, job := range jobs {
		switch job.Status {
		case models.StatusQueued:
			s.Queued++
		case models.StatusRunning:
			s.Running++
		case models.StatusWaitingApproval:
			s.WaitingApproval++
		}
	}

	s.UtilizationPercent = q.utilization(s.Queued + s.Running)
	s.BackpressureActive = s.UtilizationPercent >= q.cfg.HighWaterPercent
	s.RecentFailures = q.pruneFailuresLocked(q.clk.Now().UTC())
	return s, nil
}

// Sweep removes terminal job records older than the retention window
// and returns how many were removed. Dead-letter entries are not
// touched; they are removed only by operator action.
func (q *Queue) Sweep() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs, err := q.store.ListJobs()
	if err != nil {
		return 0, err
	}

	cutoff := q.clk.Now().UTC().Add(-q.cfg.Retention)
	removed := 0
	for _, job := range jobs {
		if !job.Status.Terminal() || job.UpdatedAt.After(cutoff) {
			continue
		}
		if err := q.store.DeleteJob(job.ID); err != nil {
			return removed, err
		}
		removed++
	}

	if removed > 0 {
		q.logger.Debug().Int("removed", removed).Msg("retention sweep")
	}
	return removed, nil
}

// getLocked fetches a job and checks it is in the expected state.
func (q *Queue) getLocked(id string, want models.JobStatus) (*models.Job, error) {
	job, err := q.store.GetJob(id)
	if err != nil {
		return nil, err
	}
	if job.Status != want {
		return nil, fmt.Errorf("%w: job %s is %s, want %s",
			models.ErrInvalidTransition, id, job.Status, want)
	}
	return job, nil
}

func (q *Queue) occupiedLocked() (occupied, waiting int, err error) {
	jobs, err := q.store.ListJobs()
	if err != nil {
		return 0, 0, err
	}
	for _, job := range jobs {
		switch job.Status {
		case models.StatusQueued, models.StatusRunning:
			occupied++
		case models.StatusWaitingApproval:
			waiting++
		}
	}
	return occupied, waiting, nil
}

func (q *Queue) utilization(occupied int) float64 {
	return float64(occupied) / float64(q.cfg.Capacity) * 100
}

func (q *Queue) recordFailureLocked(now time.Time) {
	q.failTimes = append(q.failTimes, now)
	q.pruneFailuresLocked(now)
}

func (q *Queue) pruneFailuresLocked(now time.Time) int {
	cutoff := now.Add(-q.cfg.FailureWindow)
	kept := q.failTimes[:0]
	for _, t := range q.failTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	q.failTimes = kept
	return len(kept)
}

func (q *Queue) publish(t events.Type, jobID string, fields map[string]string) {
	if q.bus == nil {
		return
	}
	q.bus.Publish(events.Event{Type: t, JobID: jobID, Fields: fields, Timestamp: q.clk.Now().UTC()})
}
