package queue

import (
	"errors"
	"fmt"
	"testing"

	"github.com/warden/warden/internal/models"
)

// exhaust drives a freshly admitted job through maxAttempts failures so
// it lands in the sink.
func exhaust(t *testing.T, q *Queue, job *models.Job, cause error) {
	t.Helper()
	if err := q.Admit(job); err != nil {
		t.Fatalf("Admit(%s): %v", job.ID, err)
	}
	for i := 0; i < job.MaxAttempts; i++ {
		next, err := q.Next()
		if err != nil || next == nil {
			t.Fatalf("Next: job=%v err=%v", next, err)
		}
		if err := q.Fail(next.ID, cause); err != nil {
			t.Fatalf("Fail: %v", err)
		}
	}
}

func TestRetryDeadLetterResetsAttempts(t *testing.T) {
	q, _, _ := newTestQueue(t, DefaultConfig())

	exhaust(t, q, testJob("job-1"), errors.New("boom"))

	entries, _ := q.DeadLetters()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	job, err := q.RetryDeadLetter(entries[0].ID)
	if err != nil {
		t.Fatalf("RetryDeadLetter: %v", err)
	}
	if job.Attempts != 0 {
		t.Errorf("retry must reset attempts, got %d", job.Attempts)
	}
	if job.Status != models.StatusQueued {
		t.Errorf("expected queued, got %s", job.Status)
	}
	if job.LastError != "" {
		t.Errorf("expected cleared last error, got %q", job.LastError)
	}

	// The entry is consumed by the retry.
	entries, _ = q.DeadLetters()
	if len(entries) != 0 {
		t.Errorf("expected empty sink after retry, got %d entries", len(entries))
	}
}

func TestRetryDeadLetterNotFound(t *testing.T) {
	q, _, _ := newTestQueue(t, DefaultConfig())

	if _, err := q.RetryDeadLetter("missing"); !errors.Is(err, models.ErrDeadLetterNotFound) {
		t.Errorf("expected ErrDeadLetterNotFound, got %v", err)
	}
}

func TestClearDeadLetters(t *testing.T) {
	q, _, _ := newTestQueue(t, DefaultConfig())

	exhaust(t, q, testJob("job-1"), errors.New("boom"))
	exhaust(t, q, testJob("job-2"), errors.New("boom"))

	if err := q.ClearDeadLetters(); err != nil {
		t.Fatalf("ClearDeadLetters: %v", err)
	}
	entries, _ := q.DeadLetters()
	if len(entries) != 0 {
		t.Errorf("expected empty sink, got %d", len(entries))
	}
}

func TestTriageGroupsByNormalizedReason(t *testing.T) {
	q, _, _ := newTestQueue(t, DefaultConfig())

	// Same underlying error with varying ports should collapse into one
	// group; a distinct error forms its own.
	for i := 0; i < 3; i++ {
		exhaust(t, q, testJob(fmt.Sprintf("conn-%d", i)),
			fmt.Errorf("dial tcp 10.0.0.%d:443: connection refused", i))
	}
	exhaust(t, q, testJob("disk"), errors.New("disk full"))

	groups, err := q.Triage()
	if err != nil {
		t.Fatalf("Triage: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d: %+v", len(groups), groups)
	}

	// Largest group first.
	if groups[0].Count != 3 {
		t.Errorf("expected largest group of 3, got %d", groups[0].Count)
	}
	if len(groups[0].JobIDs) != 3 {
		t.Errorf("expected 3 job ids, got %v", groups[0].JobIDs)
	}
	if groups[1].Reason != "disk full" {
		t.Errorf("unexpected second group: %+v", groups[1])
	}
}

func TestNormalizeReason(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"dial tcp 10.0.0.1:443: connection refused", "dial tcp #.#.#.#:#: connection refused"},
		{"  Disk   Full  ", "disk full"},
		{"", "(no reason)"},
	}
	for _, tt := range tests {
		if got := normalizeReason(tt.in); got != tt.want {
			t.Errorf("normalizeReason(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDeleteDeadLetter(t *testing.T) {
	q, _, _ := newTestQueue(t, DefaultConfig())

	exhaust(t, q, testJob("job-1"), errors.New("boom"))

	entries, _ := q.DeadLetters()
	if err := q.DeleteDeadLetter(entries[0].ID); err != nil {
		t.Fatalf("DeleteDeadLetter: %v", err)
	}
	entries, _ = q.DeadLetters()
	if len(entries) != 0 {
		t.Errorf("expected empty sink, got %d", len(entries))
	}
}
