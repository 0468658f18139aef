// Package storage provides persistent storage using BadgerDB.
package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/warden/warden/internal/models"
)

// Compile-time check that BadgerStore implements Store.
var _ Store = (*BadgerStore)(nil)

// Key prefixes for the different record types.
const (
	prefixJobs        = "jobs/"
	prefixDeadLetters = "deadletters/"
	prefixBlobs       = "blobs/"
	keyMonitorState   = "monitor/state"
)

// BadgerStore provides persistent storage using BadgerDB.
type BadgerStore struct {
	db     *badger.DB
	stopCh chan struct{}
}

// NewBadgerStore opens (or creates) a BadgerDB store under dataDir.
func NewBadgerStore(dataDir string) (*BadgerStore, error) {
	dbPath := filepath.Join(dataDir, "warden.db")

	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil
	opts.SyncWrites = true
	opts.ValueLogFileSize = 64 << 20 // 64MB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &BadgerStore{
		db:     db,
		stopCh: make(chan struct{}),
	}

	go s.runGC()

	return s, nil
}

// Close closes the database and stops background goroutines.
func (s *BadgerStore) Close() error {
	close(s.stopCh)
	return s.db.Close()
}

// runGC runs periodic value-log garbage collection.
func (s *BadgerStore) runGC() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			for {
				if err := s.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
		}
	}
}

// SaveJob creates or replaces a job record.
func (s *BadgerStore) SaveJob(job *models.Job) error {
	return s.db.Update(func(txn *badger.Txn) error {
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return txn.Set([]byte(prefixJobs+job.ID), data)
	})
}

// GetJob retrieves a job by ID.
func (s *BadgerStore) GetJob(id string) (*models.Job, error) {
	var job models.Job
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixJobs + id))
		if err == badger.ErrKeyNotFound {
			return models.ErrJobNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &job)
		})
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// DeleteJob removes a job by ID.
func (s *BadgerStore) DeleteJob(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := []byte(prefixJobs + id)
		if _, err := txn.Get(key); err == badger.ErrKeyNotFound {
			return models.ErrJobNotFound
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	})
}

// ListJobs returns all jobs.
func (s *BadgerStore) ListJobs() ([]*models.Job, error) {
	var jobs []*models.Job
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixJobs)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var job models.Job
				if err := json.Unmarshal(val, &job); err != nil {
					return err
				}
				jobs = append(jobs, &job)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// AppendDeadLetter stores a new dead-letter entry.
func (s *BadgerStore) AppendDeadLetter(entry *models.DeadLetterEntry) error {
	return s.db.Update(func(txn *badger.Txn) error {
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return txn.Set([]byte(prefixDeadLetters+entry.ID), data)
	})
}

// GetDeadLetter retrieves an entry by ID.
func (s *BadgerStore) GetDeadLetter(id string) (*models.DeadLetterEntry, error) {
	var entry models.DeadLetterEntry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixDeadLetters + id))
		if err == badger.ErrKeyNotFound {
			return models.ErrDeadLetterNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListDeadLetters returns all entries.
func (s *BadgerStore) ListDeadLetters() ([]*models.DeadLetterEntry, error) {
	var entries []*models.DeadLetterEntry
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixDeadLetters)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var entry models.DeadLetterEntry
				if err := json.Unmarshal(val, &entry); err != nil {
					return err
				}
				entries = append(entries, &entry)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// DeleteDeadLetter removes an entry by ID.
func (s *BadgerStore) DeleteDeadLetter(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := []byte(prefixDeadLetters + id)
		if _, err := txn.Get(key); err == badger.ErrKeyNotFound {
			return models.ErrDeadLetterNotFound
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	})
}

// PurgeDeadLetters removes all entries.
func (s *BadgerStore) PurgeDeadLetters() error {
	return s.db.DropPrefix([]byte(prefixDeadLetters))
}

// SaveMonitorState saves the monitor state.
func (s *BadgerStore) SaveMonitorState(state *models.MonitorState) error {
	return s.db.Update(func(txn *badger.Txn) error {
		data, err := json.Marshal(state)
		if err != nil {
			return err
		}
		return txn.Set([]byte(keyMonitorState), data)
	})
}

// GetMonitorState retrieves the monitor state.
func (s *BadgerStore) GetMonitorState() (*models.MonitorState, error) {
	var state models.MonitorState
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyMonitorState))
		if err == badger.ErrKeyNotFound {
			return models.ErrMonitorStateEmpty
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &state)
		})
	})
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// PutBlob stores content under the given ID.
func (s *BadgerStore) PutBlob(id string, content []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixBlobs+id), content)
	})
}

// GetBlob retrieves content by ID.
func (s *BadgerStore) GetBlob(id string) ([]byte, error) {
	var content []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixBlobs + id))
		if err == badger.ErrKeyNotFound {
			return models.ErrBlobNotFound
		}
		if err != nil {
			return err
		}
		content, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return content, nil
}

// DeleteBlob removes content by ID.
func (s *BadgerStore) DeleteBlob(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := []byte(prefixBlobs + id)
		if _, err := txn.Get(key); err == badger.ErrKeyNotFound {
			return models.ErrBlobNotFound
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	})
}
