package storage

import (
	"sync"

	"github.com/warden/warden/internal/models"
)

// MemoryStore implements the Store interface using in-memory data structures.
// Useful for testing and development.
type MemoryStore struct {
	jobs         map[string]*models.Job
	deadLetters  map[string]*models.DeadLetterEntry
	monitorState *models.MonitorState
	blobs        map[string][]byte
	mu           sync.RWMutex
}

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:        make(map[string]*models.Job),
		deadLetters: make(map[string]*models.DeadLetterEntry),
		blobs:       make(map[string][]byte),
	}
}

// SaveJob creates or replaces a job record.
func (s *MemoryStore) SaveJob(job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobCopy := *job
	s.jobs[job.ID] = &jobCopy
	return nil
}

// GetJob retrieves a job by ID.
func (s *MemoryStore) GetJob(id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, models.ErrJobNotFound
	}

	jobCopy := *job
	return &jobCopy, nil
}

// DeleteJob removes a job by ID.
func (s *MemoryStore) DeleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; !exists {
		return models.ErrJobNotFound
	}

	delete(s.jobs, id)
	return nil
}

// ListJobs returns all jobs.
func (s *MemoryStore) ListJobs() ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*models.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobCopy := *job
		jobs = append(jobs, &jobCopy)
	}
	return jobs, nil
}

// AppendDeadLetter stores a new dead-letter entry.
func (s *MemoryStore) AppendDeadLetter(entry *models.DeadLetterEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryCopy := *entry
	s.deadLetters[entry.ID] = &entryCopy
	return nil
}

// GetDeadLetter retrieves an entry by ID.
func (s *MemoryStore) GetDeadLetter(id string) (*models.DeadLetterEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.deadLetters[id]
	if !exists {
		return nil, models.ErrDeadLetterNotFound
	}

	entryCopy := *entry
	return &entryCopy, nil
}

// ListDeadLetters returns all entries.
func (s *MemoryStore) ListDeadLetters() ([]*models.DeadLetterEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*models.DeadLetterEntry, 0, len(s.deadLetters))
	for _, entry := range s.deadLetters {
		entryCopy := *entry
		entries = append(entries, &entryCopy)
	}
	return entries, nil
}

// DeleteDeadLetter removes an entry by ID.
func (s *MemoryStore) DeleteDeadLetter(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.deadLetters[id]; !exists {
		return models.ErrDeadLetterNotFound
	}

	delete(s.deadLetters, id)
	return nil
}

// PurgeDeadLetters removes all entries.
func (s *MemoryStore) PurgeDeadLetters() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deadLetters = make(map[string]*models.DeadLetterEntry)
	return nil
}

// SaveMonitorState saves the monitor state.
func (s *MemoryStore) SaveMonitorState(state *models.MonitorState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stateCopy := *state
	s.monitorState = &stateCopy
	return nil
}

// GetMonitorState retrieves the monitor state.
func (s *MemoryStore) GetMonitorState() (*models.MonitorState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.monitorState == nil {
		return nil, models.ErrMonitorStateEmpty
	}

	stateCopy := *s.monitorState
	return &stateCopy, nil
}

// PutBlob stores content under the given ID.
func (s *MemoryStore) PutBlob(id string, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]byte, len(content))
	copy(cp, content)
	s.blobs[id] = cp
	return nil
}

// GetBlob retrieves content by ID.
func (s *MemoryStore) GetBlob(id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	content, exists := s.blobs[id]
	if !exists {
		return nil, models.ErrBlobNotFound
	}

	cp := make([]byte, len(content))
	copy(cp, content)
	return cp, nil
}

// DeleteBlob removes content by ID.
func (s *MemoryStore) DeleteBlob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.blobs[id]; !exists {
		return models.ErrBlobNotFound
	}

	delete(s.blobs, id)
	return nil
}

// Close closes the store and releases resources.
func (s *MemoryStore) Close() error {
	return nil
}

// Reset clears all data (useful for testing).
func (s *MemoryStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs = make(map[string]*models.Job)
	s.deadLetters = make(map[string]*models.DeadLetterEntry)
	s.monitorState = nil
	s.blobs = make(map[string][]byte)
}
