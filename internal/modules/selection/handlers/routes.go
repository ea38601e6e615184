package handlers

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RegisterRoutes registers selection and gate-set routes on an /api router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/gatesets", h.HandleListGateSets)

	r.Route("/selection", func(r chi.Router) {
		r.Get("/options", h.HandleGetOptions)

		r.Group(func(r chi.Router) {
			// Germ selection on two-qubit models runs for minutes
			r.Use(middleware.Timeout(15 * time.Minute))

			r.Post("/fiducials", h.HandleSelectFiducials)
			r.Post("/germs", h.HandleSelectGerms)
			r.Post("/design", h.HandleDesign)
		})

		r.Get("/runs", h.HandleListRuns)
		r.Get("/runs/{id}", h.HandleGetRun)
	})
}
