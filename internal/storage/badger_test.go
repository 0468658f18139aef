package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/warden/warden/internal/models"
)

func newTestBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := NewBadgerStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBadgerStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBadgerStoreJobRoundTrip(t *testing.T) {
	s := newTestBadgerStore(t)

	job := &models.Job{
		ID:          "job-1",
		Entrypoint:  "deploy",
		Target:      "staging",
		Status:      models.StatusQueued,
		MaxAttempts: 3,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.SaveJob(job); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	got, err := s.GetJob("job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Entrypoint != "deploy" || got.MaxAttempts != 3 {
		t.Errorf("unexpected job: %+v", got)
	}

	jobs, err := s.ListJobs()
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Errorf("expected 1 job, got %d", len(jobs))
	}

	if err := s.DeleteJob("job-1"); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if _, err := s.GetJob("job-1"); !errors.Is(err, models.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestBadgerStoreDeadLettersAndPurge(t *testing.T) {
	s := newTestBadgerStore(t)

	for _, id := range []string{"dl-1", "dl-2"} {
		entry := &models.DeadLetterEntry{ID: id, Job: models.Job{ID: "job-" + id}, Reason: "timeout"}
		if err := s.AppendDeadLetter(entry); err != nil {
			t.Fatalf("AppendDeadLetter: %v", err)
		}
	}

	entries, err := s.ListDeadLetters()
	if err != nil {
		t.Fatalf("ListDeadLetters: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	if err := s.PurgeDeadLetters(); err != nil {
		t.Fatalf("PurgeDeadLetters: %v", err)
	}
	entries, _ = s.ListDeadLetters()
	if len(entries) != 0 {
		t.Errorf("expected empty sink after purge, got %d", len(entries))
	}
}

func TestBadgerStoreMonitorStateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := NewBadgerStore(dir)
	if err != nil {
		t.Fatalf("NewBadgerStore: %v", err)
	}

	state := &models.MonitorState{
		LastStatus:    "critical",
		LastPostTime:  time.Now().UTC().Truncate(time.Second),
		LastCheckTime: time.Now().UTC().Truncate(time.Second),
	}
	if err := s.SaveMonitorState(state); err != nil {
		t.Fatalf("SaveMonitorState: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A restart must see the persisted state so cooldowns are honored.
	s2, err := NewBadgerStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.GetMonitorState()
	if err != nil {
		t.Fatalf("GetMonitorState: %v", err)
	}
	if got.LastStatus != "critical" || !got.LastPostTime.Equal(state.LastPostTime) {
		t.Errorf("persisted state mismatch: %+v", got)
	}
}

func TestBadgerStoreBlobs(t *testing.T) {
	s := newTestBadgerStore(t)

	if err := s.PutBlob("ref-1", []byte("payload")); err != nil {
		t.Fatalf("PutBlob: %v", err)
	}
	content, err := s.GetBlob("ref-1")
	if err != nil {
		t.Fatalf("GetBlob: %v", err)
	}
	if string(content) != "payload" {
		t.Errorf("unexpected content: %q", content)
	}
	if _, err := s.GetBlob("nope"); !errors.Is(err, models.ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
}
