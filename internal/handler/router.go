package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/techtrust/backend/internal/middleware"
)

func pathParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// NewRouter создаёт маршрутизатор API сервиса TechTrust.
func NewRouter(h *Handler, limiter *middleware.RateLimiter) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger(h.logger))

	r.Get("/metrics", h.collector.Handler().ServeHTTP)

	r.Route("/api/user", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)
		r.Use(limiter.Middleware)

		r.Get("/mileage/banner", h.GetMileageBanner)
		r.Put("/mileage/reminders", h.SetMileageOptOut)
		r.Post("/vehicles", h.RegisterVehicle)
		r.Post("/vehicles/{vehicleID}/mileage", h.UpdateMileage)
		r.Get("/vehicles/{vehicleID}/mileage", h.GetMileageHistory)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)
		r.Use(h.requireAdmin)

		r.Get("/credits", h.GetCreditStates)
		r.Get("/credits/history", h.GetCreditHistory)
		r.Get("/credits/{provider}", h.GetCreditState)
		r.Get("/credits/{provider}/check", h.CheckCreditGate)
		r.Post("/credits/{provider}/refresh", h.RefreshCreditState)
		r.Post("/credits/{provider}/usage", h.RecordCreditUsage)

		r.Post("/jobs/expirations/run", h.RunExpirationSweep)
		r.Post("/jobs/compliance/run", h.RunComplianceCheck)
		r.Post("/jobs/mileage/run", h.RunMileageCheck)
	})

	return r
}
