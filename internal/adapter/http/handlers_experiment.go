package http

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/promptdeck/promptdeck/internal/domain/experiment"
)

// statusFromQuery validates the optional status filter value.
func statusFromQuery(raw string) (experiment.Status, error) {
	switch s := experiment.Status(raw); s {
	case "", experiment.StatusDraft, experiment.StatusRunning, experiment.StatusPaused,
		experiment.StatusCompleted, experiment.StatusCancelled:
		return s, nil
	default:
		return "", fmt.Errorf("unknown status %q", raw)
	}
}

// CreateExperiment handles POST /api/v1/experiments
func (h *Handlers) CreateExperiment(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[experiment.CreateRequest](w, r)
	if !ok {
		return
	}
	t, err := h.Experiments.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "referenced prompt version not found")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// ListExperiments handles GET /api/v1/experiments
func (h *Handlers) ListExperiments(w http.ResponseWriter, r *http.Request) {
	status, err := statusFromQuery(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := experiment.Filter{
		PromptName: r.URL.Query().Get("prompt_name"),
		Status:     status,
	}

	tests, err := h.Experiments.List(r.Context(), filter)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if tests == nil {
		tests = []experiment.Test{}
	}
	writeJSON(w, http.StatusOK, tests)
}

// GetExperiment handles GET /api/v1/experiments/{id}
func (h *Handlers) GetExperiment(w http.ResponseWriter, r *http.Request) {
	t, err := h.Experiments.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "experiment not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// StartExperiment handles POST /api/v1/experiments/{id}/start
func (h *Handlers) StartExperiment(w http.ResponseWriter, r *http.Request) {
	t, err := h.Experiments.Start(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "experiment not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// PauseExperiment handles POST /api/v1/experiments/{id}/pause
func (h *Handlers) PauseExperiment(w http.ResponseWriter, r *http.Request) {
	t, err := h.Experiments.Pause(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "experiment not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// CancelExperiment handles POST /api/v1/experiments/{id}/cancel
func (h *Handlers) CancelExperiment(w http.ResponseWriter, r *http.Request) {
	t, err := h.Experiments.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "experiment not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// RecordResult handles POST /api/v1/experiments/{id}/results
//
// A job already recorded for the test answers 200 with the existing
// observation semantics instead of 201, so orchestrator retries are harmless.
func (h *Handlers) RecordResult(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[struct {
		VariantID      experiment.VariantID `json:"variant_id"`
		JobID          string               `json:"job_id"`
		QualityScoreID string               `json:"quality_score_id"`
	}](w, r)
	if !ok {
		return
	}

	res, created, err := h.Experiments.RecordResult(r.Context(), chi.URLParam(r, "id"), req.VariantID, req.JobID, req.QualityScoreID)
	if err != nil {
		writeDomainError(w, err, "experiment not found")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

// ListResults handles GET /api/v1/experiments/{id}/results
func (h *Handlers) ListResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.Experiments.Results(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "experiment not found")
		return
	}
	if results == nil {
		results = []experiment.Result{}
	}
	writeJSON(w, http.StatusOK, results)
}

// CountResults handles GET /api/v1/experiments/{id}/results/counts
func (h *Handlers) CountResults(w http.ResponseWriter, r *http.Request) {
	counts, err := h.Experiments.CountByVariant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "experiment not found")
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// EvaluateExperiment handles POST /api/v1/experiments/{id}/evaluate
func (h *Handlers) EvaluateExperiment(w http.ResponseWriter, r *http.Request) {
	ev, err := h.Decisions.Evaluate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "experiment not found")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// CompleteExperiment handles POST /api/v1/experiments/{id}/complete
//
// With too few samples per arm the experiment stays running and the response
// carries the insufficient_data outcome; the caller extends or cancels.
func (h *Handlers) CompleteExperiment(w http.ResponseWriter, r *http.Request) {
	d, err := h.Decisions.CompleteAndMaybeAdopt(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "experiment not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}
