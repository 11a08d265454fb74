package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/abraan16/dr-sonrisa-backend/internal/analytics"
	httpmiddleware "github.com/abraan16/dr-sonrisa-backend/internal/http/middleware"
	"github.com/abraan16/dr-sonrisa-backend/internal/inbound"
	"github.com/abraan16/dr-sonrisa-backend/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger           *logging.Logger
	WebhookHandler   *inbound.Handler
	AnalyticsHandler *analytics.Handler
	MetricsHandler   http.Handler
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	if cfg.WebhookHandler != nil {
		r.Post("/webhook", cfg.WebhookHandler.Webhook)
		// Evolution API appends the event name for some configurations.
		r.Post("/webhook/messages-upsert", cfg.WebhookHandler.Webhook)
	}

	if cfg.AnalyticsHandler != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Get("/metrics", cfg.AnalyticsHandler.Metrics)
			admin.Get("/patients", cfg.AnalyticsHandler.SearchPatients)
			admin.Get("/appointments", cfg.AnalyticsHandler.UpcomingAppointments)
			admin.Get("/activity", cfg.AnalyticsHandler.RecentActivity)
		})
	}

	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	return r
}
