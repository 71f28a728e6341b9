package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes builds the router.
func SetupRoutes(h *Handlers, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(requestLogger)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Group(func(r chi.Router) {
		r.Use(requireActor)

		r.Post("/commands", h.ExecuteCommand)

		r.Route("/repositories", func(r chi.Router) {
			r.Post("/", h.CreateRepository)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetRepository)
				r.Put("/growth", h.UpdateGrowth)
				r.Put("/moderators", h.SetModerators)
				r.Post("/archive", h.ArchiveRepository)

				r.Post("/emails", h.AdmitEmail)
				r.Delete("/emails/{email}", h.RemoveEmail)
				r.Get("/emails/{email}/history", h.EmailHistory)
				r.Post("/unsubscribe", h.Unsubscribe)
				r.Get("/stats", h.Stats)

				r.Post("/csv", h.UploadCSV)
				r.Get("/imports", h.ListImports)
				r.Get("/imports/{importID}", h.GetImport)
				r.Post("/imports/{importID}/cancel", h.CancelImport)
				r.Get("/export", h.Export)

				r.Get("/reviews", h.ListReviews)
				r.Post("/reviews/{email}/approve", h.ApproveReview)
				r.Post("/reviews/{email}/dismiss", h.DismissReview)

				r.Post("/snowball", h.ObserveForward)

				r.Get("/digests", h.ListDigests)
				r.Post("/digests/run", h.RunDigest)
			})
		})
	})

	return r
}
