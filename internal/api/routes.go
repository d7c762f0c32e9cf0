package api

import "github.com/go-chi/chi/v5"

func setupRoutes(r *chi.Mux, h *Handlers) {
	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/maintenance", func(r chi.Router) {
			r.Post("/post-send", h.TriggerPostSend)
			r.Post("/weekly-sweep", h.TriggerWeeklySweep)
		})
		r.Post("/validate/pre-send", h.ValidatePreSend)
		r.Get("/runs/{runID}", h.GetRun)
	})
}
