package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/promptdeck/promptdeck/internal/domain/prompt"
	"github.com/promptdeck/promptdeck/internal/service"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Prompts     *service.PromptService
	Experiments *service.ExperimentService
	Decisions   *service.DecisionService
	Assignments *service.AssignService
}

// ListPrompts handles GET /api/v1/prompts
func (h *Handlers) ListPrompts(w http.ResponseWriter, r *http.Request) {
	names, err := h.Prompts.PromptNames(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

// CreateVersion handles POST /api/v1/prompts/{name}/versions
//
// Submitting content identical to an existing version of the prompt converges
// on that version and answers 200 instead of 201.
func (h *Handlers) CreateVersion(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[prompt.CreateRequest](w, r)
	if !ok {
		return
	}
	req.PromptName = chi.URLParam(r, "name")

	v, created, err := h.Prompts.CreateVersion(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "version creation failed")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, v)
}

// ListVersions handles GET /api/v1/prompts/{name}/versions
func (h *Handlers) ListVersions(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	versions, err := h.Prompts.History(r.Context(), name)
	if err != nil {
		writeDomainError(w, err, "prompt not found")
		return
	}
	if versions == nil {
		versions = []prompt.Version{}
	}
	writeJSON(w, http.StatusOK, versions)
}

// GetVersion handles GET /api/v1/prompts/{name}/versions/{version}
func (h *Handlers) GetVersion(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "version must be an integer")
		return
	}
	v, err := h.Prompts.GetVersion(r.Context(), name, version)
	if err != nil {
		writeDomainError(w, err, "version not found")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// GetActiveVersion handles GET /api/v1/prompts/{name}/active
func (h *Handlers) GetActiveVersion(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	v, err := h.Prompts.GetActive(r.Context(), name)
	if err != nil {
		writeDomainError(w, err, "no active version for prompt")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// ActivateVersion handles POST /api/v1/prompts/{name}/activate
func (h *Handlers) ActivateVersion(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	req, ok := readJSON[struct {
		Version int `json:"version"`
	}](w, r)
	if !ok {
		return
	}
	if req.Version < 1 {
		writeError(w, http.StatusBadRequest, "version must be >= 1")
		return
	}
	v, err := h.Prompts.SetActive(r.Context(), name, req.Version)
	if err != nil {
		writeDomainError(w, err, "version not found")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// ResolveAssignment handles GET /api/v1/prompts/{name}/assignment
//
// The job_id query parameter pins retried jobs to a stable variant while an
// experiment is running.
func (h *Handlers) ResolveAssignment(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}
	a, err := h.Assignments.Resolve(r.Context(), name, jobID)
	if err != nil {
		writeDomainError(w, err, "no active version for prompt")
		return
	}
	writeJSON(w, http.StatusOK, a)
}
