// Package api provides the REST API handlers.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/warden/warden/internal/admission"
	"github.com/warden/warden/internal/approval"
	"github.com/warden/warden/internal/breaker"
	"github.com/warden/warden/internal/monitor"
	"github.com/warden/warden/internal/queue"
	"github.com/warden/warden/internal/worker"
)

// ApprovalAdmin is the optional in-process approval surface. The memory
// channel implements it; with an external webhook channel, tickets are
// resolved out of band and these endpoints are unavailable.
type ApprovalAdmin interface {
	Resolve(ticketID string, outcome approval.Outcome) error
	Pending() map[string]approval.Request
}

// Handler handles API requests.
type Handler struct {
	gate      *admission.Gate
	queue     *queue.Queue
	breakers  *breaker.Registry
	monitor   *monitor.Monitor
	worker    *worker.Worker
	approvals ApprovalAdmin
	logger    zerolog.Logger
}

// NewHandler creates a new API handler. approvals may be nil when ticket
// resolution happens outside the process.
func NewHandler(gate *admission.Gate, q *queue.Queue, breakers *breaker.Registry,
	mon *monitor.Monitor, w *worker.Worker, approvals ApprovalAdmin, logger zerolog.Logger) *Handler {
	return &Handler{
		gate:      gate,
		queue:     q,
		breakers:  breakers,
		monitor:   mon,
		worker:    w,
		approvals: approvals,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// API Response types

// Response is a generic API response.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo contains error details.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResolveRequest is the request body for resolving an approval ticket.
type ResolveRequest struct {
	Outcome approval.Outcome `json:"outcome"`
}

// StatsResponse aggregates pipeline state for GET /api/v1/stats.
type StatsResponse struct {
	Queue    queue.Stats              `json:"queue"`
	Circuits breaker.Summary          `json:"circuits"`
	Targets  map[string]breaker.Stats `json:"targets"`
	Worker   worker.Stats             `json:"worker"`
}

// Health check

// HealthCheck handles GET /health. The status is derived from the same
// evaluation the monitor posts alerts from; critical reports 503 so load
// balancers stop routing new work here.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status, reason, err := h.monitor.Status()
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, Response{
			Success: false,
			Error:   &ErrorInfo{Code: ErrCodeInternalError, Message: "health evaluation failed"},
		})
		return
	}

	code := http.StatusOK
	if status == monitor.StatusCritical {
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, Response{
		Success: status != monitor.StatusCritical,
		Data: map[string]interface{}{
			"status":    status,
			"reason":    reason,
			"timestamp": time.Now().UTC(),
		},
	})
}

// Job handlers

// SubmitJob handles POST /api/v1/jobs.
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req admission.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.WriteAPIError(w, ErrInvalidJSON)
		return
	}

	dec, err := h.gate.Submit(r.Context(), req)
	if h.HandleError(w, err) {
		return
	}

	h.writeJSON(w, http.StatusAccepted, Response{
		Success: true,
		Data:    dec,
	})
}

// GetJob handles GET /api/v1/jobs/{id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.queue.Get(chi.URLParam(r, "id"))
	if h.HandleError(w, err) {
		return
	}
	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: job})
}

// ListJobs handles GET /api/v1/jobs. An optional status query parameter
// filters by job status.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.queue.List()
	if h.HandleError(w, err) {
		return
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := jobs[:0]
		for _, job := range jobs {
			if string(job.Status) == status {
				filtered = append(filtered, job)
			}
		}
		jobs = filtered
	}

	h.writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]interface{}{
			"jobs":  jobs,
			"total": len(jobs),
		},
	})
}

// Stats handles GET /api/v1/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Stats()
	if h.HandleError(w, err) {
		return
	}

	h.writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data: StatsResponse{
			Queue:    stats,
			Circuits: h.breakers.Summary(),
			Targets:  h.breakers.Stats(),
			Worker:   h.worker.Stats(),
		},
	})
}

// Sweep handles POST /api/v1/queue/sweep.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	removed, err := h.queue.Sweep()
	if h.HandleError(w, err) {
		return
	}
	h.writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    map[string]int{"removed": removed},
	})
}

// Dead-letter handlers

// ListDeadLetters handles GET /api/v1/deadletters.
func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	entries, err := h.queue.DeadLetters()
	if h.HandleError(w, err) {
		return
	}
	h.writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]interface{}{
			"entries": entries,
			"total":   len(entries),
		},
	})
}

// TriageDeadLetters handles GET /api/v1/deadletters/triage.
func (h *Handler) TriageDeadLetters(w http.ResponseWriter, r *http.Request) {
	groups, err := h.queue.Triage()
	if h.HandleError(w, err) {
		return
	}
	h.writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]interface{}{
			"groups": groups,
			"total":  len(groups),
		},
	})
}

// RetryDeadLetter handles POST /api/v1/deadletters/{id}/retry.
func (h *Handler) RetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "id")

	job, err := h.queue.RetryDeadLetter(entryID)
	if h.HandleError(w, err) {
		return
	}

	h.logger.Info().Str("entry_id", entryID).Str("job_id", job.ID).Msg("dead-letter entry requeued")
	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: job})
}

// DeleteDeadLetter handles DELETE /api/v1/deadletters/{id}.
func (h *Handler) DeleteDeadLetter(w http.ResponseWriter, r *http.Request) {
	if h.HandleError(w, h.queue.DeleteDeadLetter(chi.URLParam(r, "id"))) {
		return
	}
	h.writeJSON(w, http.StatusOK, Response{Success: true})
}

// ClearDeadLetters handles DELETE /api/v1/deadletters.
func (h *Handler) ClearDeadLetters(w http.ResponseWriter, r *http.Request) {
	if h.HandleError(w, h.queue.ClearDeadLetters()) {
		return
	}
	h.logger.Info().Msg("dead-letter sink cleared")
	h.writeJSON(w, http.StatusOK, Response{Success: true})
}

// Circuit breaker handlers

// ListBreakers handles GET /api/v1/breakers.
func (h *Handler) ListBreakers(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]interface{}{
			"summary": h.breakers.Summary(),
			"targets": h.breakers.Stats(),
		},
	})
}

// ResetBreaker handles POST /api/v1/breakers/{target}/reset.
func (h *Handler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "target")
	h.breakers.Get(target).Reset()
	h.logger.Info().Str("target", target).Msg("circuit breaker reset")
	h.writeJSON(w, http.StatusOK, Response{Success: true})
}

// ResetAllBreakers handles POST /api/v1/breakers/reset.
func (h *Handler) ResetAllBreakers(w http.ResponseWriter, r *http.Request) {
	h.breakers.ResetAll()
	h.logger.Info().Msg("all circuit breakers reset")
	h.writeJSON(w, http.StatusOK, Response{Success: true})
}

// Approval handlers

// ListApprovals handles GET /api/v1/approvals.
func (h *Handler) ListApprovals(w http.ResponseWriter, r *http.Request) {
	if h.approvals == nil {
		h.writeApprovalsUnsupported(w)
		return
	}
	pending := h.approvals.Pending()
	h.writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]interface{}{
			"tickets": pending,
			"total":   len(pending),
		},
	})
}

// ResolveApproval handles POST /api/v1/approvals/{ticket}/resolve.
func (h *Handler) ResolveApproval(w http.ResponseWriter, r *http.Request) {
	if h.approvals == nil {
		h.writeApprovalsUnsupported(w)
		return
	}

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.WriteAPIError(w, ErrInvalidJSON)
		return
	}
	if req.Outcome != approval.OutcomeApproved && req.Outcome != approval.OutcomeRejected {
		h.WriteAPIError(w, NewValidationError("outcome must be approved or rejected"))
		return
	}

	ticketID := chi.URLParam(r, "ticket")
	if h.HandleError(w, h.approvals.Resolve(ticketID, req.Outcome)) {
		return
	}

	h.logger.Info().Str("ticket_id", ticketID).Str("outcome", string(req.Outcome)).Msg("approval ticket resolved")
	h.writeJSON(w, http.StatusOK, Response{Success: true})
}

func (h *Handler) writeApprovalsUnsupported(w http.ResponseWriter) {
	h.WriteAPIError(w, &APIError{
		HTTPStatus: http.StatusNotImplemented,
		Code:       ErrCodeUnsupported,
		Message:    "Approval tickets are managed by an external channel",
	})
}

// Helper methods

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
