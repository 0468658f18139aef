package queue

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/warden/warden/internal/events"
	"github.com/warden/warden/internal/models"
)

// TriageGroup summarizes dead-letter entries sharing a normalized
// failure reason.
type TriageGroup struct {
	Reason    string    `json:"reason"`
	Count     int       `json:"count"`
	JobIDs    []string  `json:"job_ids"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// deadLetterLocked moves an exhausted job into the sink. The job record
// is removed from the active store; the entry carries its final copy.
// Caller holds q.mu and has already redacted job.LastError.
func (q *Queue) deadLetterLocked(job *models.Job, now time.Time) error {
	job.Status = models.StatusFailed

	entry := &models.DeadLetterEntry{
		ID:      uuid.New().String(),
		Job:     *job,
		Reason:  job.LastError,
		AddedAt: now,
	}
	if err := q.store.AppendDeadLetter(entry); err != nil {
		return err
	}
	if err := q.store.DeleteJob(job.ID); err != nil {
		return err
	}

	q.deadLettered++
	q.logger.Error().
		Str("job_id", job.ID).
		Str("entry_id", entry.ID).
		Int("attempts", job.Attempts).
		Str("reason", entry.Reason).
		Msg("job dead-lettered")
	q.publish(events.JobDeadLettered, job.ID, map[string]string{"entry_id": entry.ID})
	return nil
}

// DeadLetters returns all sink entries, newest first.
func (q *Queue) DeadLetters() ([]*models.DeadLetterEntry, error) {
	entries, err := q.store.ListDeadLetters()
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].AddedAt.After(entries[j].AddedAt)
	})
	return entries, nil
}

// RetryDeadLetter re-admits a dead-lettered job with its attempt
// counter reset, then removes the entry. Operator retries go through
// the capacity check but bypass backpressure.
func (q *Queue) RetryDeadLetter(entryID string) (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, err := q.store.GetDeadLetter(entryID)
	if err != nil {
		return nil, err
	}

	occupied, _, err := q.occupiedLocked()
	if err != nil {
		return nil, err
	}
	if occupied >= q.cfg.Capacity {
		return nil, models.ErrQueueFull
	}

	job := entry.Job
	job.Attempts = 0
	job.LastError = ""
	if err := q.enqueueLocked(&job); err != nil {
		return nil, err
	}
	if err := q.store.DeleteDeadLetter(entryID); err != nil {
		return nil, err
	}

	q.logger.Info().Str("job_id", job.ID).Str("entry_id", entryID).Msg("dead-letter entry retried")
	return &job, nil
}

// DeleteDeadLetter removes a single entry without re-admitting it.
func (q *Queue) DeleteDeadLetter(entryID string) error {
	return q.store.DeleteDeadLetter(entryID)
}

// ClearDeadLetters removes every entry from the sink.
func (q *Queue) ClearDeadLetters() error {
	q.logger.Warn().Msg("clearing dead-letter sink")
	return q.store.PurgeDeadLetters()
}

// Triage groups sink entries by normalized failure reason for operator
// review, largest group first. Reasons were redacted when the entries
// were written, so the summary is safe to export.
func (q *Queue) Triage() ([]TriageGroup, error) {
	entries, err := q.store.ListDeadLetters()
	if err != nil {
		return nil, err
	}

	byReason := make(map[string]*TriageGroup)
	for _, e := range entries {
		key := normalizeReason(e.Reason)
		g, ok := byReason[key]
		if !ok {
			g = &TriageGroup{Reason: key, FirstSeen: e.AddedAt, LastSeen: e.AddedAt}
			byReason[key] = g
		}
		g.Count++
		g.JobIDs = append(g.JobIDs, e.Job.ID)
		if e.AddedAt.Before(g.FirstSeen) {
			g.FirstSeen = e.AddedAt
		}
		if e.AddedAt.After(g.LastSeen) {
			g.LastSeen = e.AddedAt
		}
	}

	groups := make([]TriageGroup, 0, len(byReason))
	for _, g := range byReason {
		sort.Strings(g.JobIDs)
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Count != groups[j].Count {
			return groups[i].Count > groups[j].Count
		}
		return groups[i].Reason < groups[j].Reason
	})
	return groups, nil
}

var (
	digitRun      = regexp.MustCompile(`\d+`)
	whitespaceRun = regexp.MustCompile(`\s+`)
)

const maxNormalizedReasonLen = 120

// normalizeReason collapses variable parts of a failure reason so that
// repeats of the same underlying error group together.
func normalizeReason(reason string) string {
	r := strings.ToLower(strings.TrimSpace(reason))
	r = digitRun.ReplaceAllString(r, "#")
	r = whitespaceRun.ReplaceAllString(r, " ")
	if r == "" {
		return "(no reason)"
	}
	if len(r) > maxNormalizedReasonLen {
		r = r[:maxNormalizedReasonLen]
	}
	return r
}
