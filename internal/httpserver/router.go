package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"fleetboard-backend/internal/handlers"
	"fleetboard-backend/internal/metrics"
	"fleetboard-backend/internal/middleware"
)

// Handlers groups the endpoint handlers the router mounts.
type Handlers struct {
	Session  *handlers.SessionHandler
	Reports  *handlers.ReportsHandler
	Legacy   *handlers.LegacyAlertsHandler
	DBAlerts *handlers.DBAlertsHandler
}

func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, h Handlers) {

	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())
	// report fan-out against a slow upstream can legitimately take a while
	r.Use(middleware.Timeout(75 * time.Second))
	r.Use(middleware.MaxBodySize(512 * 1024)) // 512 KB max body

	// routes
	r.Route("/api", func(r chi.Router) {
		r.Post("/login", h.Session.Login)
		r.Post("/devices", h.Session.Devices)
		r.Post("/groups", h.Session.Groups)

		r.Route("/reports", func(r chi.Router) {
			r.Post("/average-speed", h.Reports.AverageSpeed)
			r.Post("/max-speed", h.Reports.MaxSpeed)
			r.Post("/avg-fuel", h.Reports.Fuel)
			r.Post("/active-devices", h.Reports.ActiveDevices)
			r.Post("/total-distance", h.Reports.TotalDistance)
			r.Post("/maintenance-efficiency", h.Reports.MaintenanceEfficiency)
			r.Post("/vehicle-alerts", h.Reports.VehicleAlerts)
		})

		r.Route("/alerts/state", func(r chi.Router) {
			r.Post("/get", h.Legacy.StateGet)
			r.Post("/patch", h.Legacy.StatePatch)
		})

		r.Route("/db/alerts", func(r chi.Router) {
			r.Post("/state/patch", h.DBAlerts.StatePatch)
			r.Post("/state/get", h.DBAlerts.StateGet)
			r.Post("/in-progress", h.DBAlerts.MarkInProgress)
			r.Post("/done", h.DBAlerts.MarkResolved)
			r.Get("/in-progress", h.DBAlerts.ListInProgress)
			r.Get("/done", h.DBAlerts.ListResolved)
		})
	})

	// health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", metrics.Handler())
}
