// Package models defines the core data structures for Warden.
package models

import (
	"time"

	"github.com/warden/warden/pkg/duration"
)

// Duration is an alias for the shared duration.Duration type.
type Duration = duration.Duration

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	// StatusQueued means the job is waiting to be picked up by the worker.
	StatusQueued JobStatus = "queued"
	// StatusRunning means the job is currently executing.
	StatusRunning JobStatus = "running"
	// StatusWaitingApproval means the job is blocked on a human approval ticket.
	StatusWaitingApproval JobStatus = "waiting_approval"
	// StatusSucceeded is terminal.
	StatusSucceeded JobStatus = "succeeded"
	// StatusFailed is terminal; the job has been moved to the dead-letter sink.
	StatusFailed JobStatus = "failed"
	// StatusCanceled is terminal; the approval was rejected or timed out.
	StatusCanceled JobStatus = "canceled"
)

// Terminal reports whether the status is a terminal state.
func (s JobStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

// Job represents a unit of work flowing through the pipeline.
// Jobs are owned by the queue and mutated only through its state
// transition methods.
type Job struct {
	ID         string            `json:"id"`
	Entrypoint string            `json:"entrypoint"`
	Target     string            `json:"target"`
	RunID      string            `json:"run_id,omitempty"`
	Params     map[string]string `json:"params,omitempty"`

	Status      JobStatus `json:"status"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	Priority    int       `json:"priority"` // Higher runs first.

	// PlanHash binds an approval ticket to exactly one execution plan.
	PlanHash string `json:"plan_hash,omitempty"`
	// TicketID is the external approval ticket, set while waiting_approval.
	TicketID string `json:"ticket_id,omitempty"`
	// RefID points at externally stored large output instead of inlining it.
	RefID string `json:"ref_id,omitempty"`

	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Seq       uint64    `json:"seq"` // Admission order, for FIFO within a priority.
}

// Validate checks that the job is admissible.
func (j *Job) Validate() error {
	if j.Entrypoint == "" {
		return ErrEntrypointRequired
	}
	if j.Target == "" {
		return ErrTargetRequired
	}
	if j.MaxAttempts <= 0 {
		return ErrMaxAttemptsInvalid
	}
	return nil
}

// DeadLetterEntry is a permanently failed job awaiting operator triage.
// Immutable once written; removed only by explicit operator action.
type DeadLetterEntry struct {
	ID      string    `json:"id"`
	Job     Job       `json:"job"`
	Reason  string    `json:"reason"` // Redacted and truncated.
	AddedAt time.Time `json:"added_at"`
}

// MonitorState is the persisted state of the health monitor.
// A single instance, mutated once per monitor tick.
type MonitorState struct {
	LastStatus         string    `json:"last_status,omitempty"`
	LastPostTime       time.Time `json:"last_post_time,omitempty"`
	LastCheckTime      time.Time `json:"last_check_time,omitempty"`
	ConsecutiveOkCount int       `json:"consecutive_ok_count"`
}
