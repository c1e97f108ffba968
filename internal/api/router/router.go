package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zaidy-mughal/telehealth-backend/internal/appointments"
	httpmiddleware "github.com/zaidy-mughal/telehealth-backend/internal/http/middleware"
	"github.com/zaidy-mughal/telehealth-backend/internal/payments"
	"github.com/zaidy-mughal/telehealth-backend/internal/scheduling"
	"github.com/zaidy-mughal/telehealth-backend/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger              *logging.Logger
	SlotsHandler        *scheduling.Handler
	AppointmentsHandler *appointments.Handler
	PaymentsHandler     *payments.Handler
	StripeWebhook       *payments.WebhookHandler
	MetricsHandler      http.Handler
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	// Webhooks carry their own signature auth.
	r.Post("/webhooks/stripe", cfg.StripeWebhook.Handle)

	r.Route("/doctors/{doctorID}/slots", func(r chi.Router) {
		r.Post("/generate", cfg.SlotsHandler.GenerateSlots)
		r.Get("/", cfg.SlotsHandler.ListSlots)
		r.Delete("/", cfg.SlotsHandler.DeleteSlots)
	})

	r.Route("/payments", func(r chi.Router) {
		r.Post("/intents", cfg.PaymentsHandler.CreateIntent)
		r.Post("/refunds", cfg.PaymentsHandler.RequestRefund)
	})
	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", cfg.AppointmentsHandler.CreateAppointment)
		r.Get("/{appointmentID}", cfg.AppointmentsHandler.GetAppointment)
		r.Get("/{appointmentID}/payment", cfg.PaymentsHandler.GetAppointmentPayment)
	})

	return r
}
