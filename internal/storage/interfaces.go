// Package storage provides storage interfaces and implementations for Warden.
package storage

import "github.com/warden/warden/internal/models"

// JobStore provides job persistence operations.
type JobStore interface {
	// SaveJob creates or replaces a job record.
	SaveJob(job *models.Job) error
	// GetJob retrieves a job by ID. Returns ErrJobNotFound if not found.
	GetJob(id string) (*models.Job, error)
	// DeleteJob removes a job by ID. Returns ErrJobNotFound if not found.
	DeleteJob(id string) error
	// ListJobs returns all jobs.
	ListJobs() ([]*models.Job, error)
}

// DeadLetterStore provides dead-letter sink persistence operations.
type DeadLetterStore interface {
	// AppendDeadLetter stores a new dead-letter entry.
	AppendDeadLetter(entry *models.DeadLetterEntry) error
	// GetDeadLetter retrieves an entry by ID.
	GetDeadLetter(id string) (*models.DeadLetterEntry, error)
	// ListDeadLetters returns all entries.
	ListDeadLetters() ([]*models.DeadLetterEntry, error)
	// DeleteDeadLetter removes an entry by ID.
	DeleteDeadLetter(id string) error
	// PurgeDeadLetters removes all entries.
	PurgeDeadLetters() error
}

// MonitorStateStore persists the health monitor's single state record.
type MonitorStateStore interface {
	// SaveMonitorState saves the monitor state.
	SaveMonitorState(state *models.MonitorState) error
	// GetMonitorState retrieves the monitor state.
	// Returns ErrMonitorStateEmpty when nothing has been persisted.
	GetMonitorState() (*models.MonitorState, error)
}

// BlobStore persists large payloads addressed by reference ID.
type BlobStore interface {
	// PutBlob stores content under the given ID.
	PutBlob(id string, content []byte) error
	// GetBlob retrieves content by ID. Returns ErrBlobNotFound if missing.
	GetBlob(id string) ([]byte, error)
	// DeleteBlob removes content by ID.
	DeleteBlob(id string) error
}

// Store combines all storage interfaces.
// This is the primary interface for components that need full storage access.
type Store interface {
	JobStore
	DeadLetterStore
	MonitorStateStore
	BlobStore

	// Close closes the store and releases resources.
	Close() error
}
