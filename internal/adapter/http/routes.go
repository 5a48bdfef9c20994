package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Prompts
		r.Get("/prompts", h.ListPrompts)
		r.Post("/prompts/{name}/versions", h.CreateVersion)
		r.Get("/prompts/{name}/versions", h.ListVersions)
		r.Get("/prompts/{name}/versions/{version}", h.GetVersion)
		r.Get("/prompts/{name}/active", h.GetActiveVersion)
		r.Post("/prompts/{name}/activate", h.ActivateVersion)
		r.Get("/prompts/{name}/assignment", h.ResolveAssignment)

		// Experiments
		r.Get("/experiments", h.ListExperiments)
		r.Post("/experiments", h.CreateExperiment)
		r.Get("/experiments/{id}", h.GetExperiment)
		r.Post("/experiments/{id}/start", h.StartExperiment)
		r.Post("/experiments/{id}/pause", h.PauseExperiment)
		r.Post("/experiments/{id}/cancel", h.CancelExperiment)
		r.Post("/experiments/{id}/results", h.RecordResult)
		r.Get("/experiments/{id}/results", h.ListResults)
		r.Get("/experiments/{id}/results/counts", h.CountResults)
		r.Post("/experiments/{id}/evaluate", h.EvaluateExperiment)
		r.Post("/experiments/{id}/complete", h.CompleteExperiment)
	})
}
