package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/zaidy-mughal/telehealth-backend/cmd/mainconfig"
	"github.com/zaidy-mughal/telehealth-backend/internal/api/router"
	"github.com/zaidy-mughal/telehealth-backend/internal/appointments"
	appconfig "github.com/zaidy-mughal/telehealth-backend/internal/config"
	"github.com/zaidy-mughal/telehealth-backend/internal/db"
	"github.com/zaidy-mughal/telehealth-backend/internal/events"
	"github.com/zaidy-mughal/telehealth-backend/internal/locks"
	"github.com/zaidy-mughal/telehealth-backend/internal/notify"
	"github.com/zaidy-mughal/telehealth-backend/internal/observability/metrics"
	"github.com/zaidy-mughal/telehealth-backend/internal/payments"
	"github.com/zaidy-mughal/telehealth-backend/internal/scheduling"
	"github.com/zaidy-mughal/telehealth-backend/pkg/logging"
)

func main() {
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting telehealth-backend API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := newRedisClient(cfg)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// Repositories.
	slotRepo := scheduling.NewRepository(pool)
	apptRepo := appointments.NewRepository(pool)
	paymentRepo := payments.NewRepository(pool)
	processedStore := events.NewProcessedStore(pool)

	// Processor client.
	stripeClient := payments.NewStripeClient(cfg.StripeSecretKey, logger)
	if cfg.StripeBaseURL != "" {
		stripeClient = stripeClient.WithBaseURL(cfg.StripeBaseURL)
	}

	// Reservation guards.
	velocityCfg := payments.DefaultVelocityConfig()
	velocityCfg.MaxReservationsPerPatient = cfg.MaxReservationsPerDay
	velocityCfg.MaxRefundsPerPatient = cfg.MaxRefundsPerWeek
	velocity := payments.NewVelocityChecker(redisClient, velocityCfg, logger)
	locker := locks.NewRedisLocker(redisClient, cfg.PaymentLockTTL)

	// Observability.
	registry := prometheus.NewRegistry()
	bookingMetrics := metrics.NewBookingMetrics(registry)

	// Notifications.
	notifier := notify.NewService(
		newEmailSender(ctx, cfg, logger),
		notify.NewPGDirectory(pool),
		&appointmentTimes{appointments: apptRepo, slots: slotRepo},
		logger,
	)

	coordinator := payments.NewCoordinator(payments.CoordinatorOpts{
		Appointments: apptRepo,
		Slots:        slotRepo,
		Payments:     paymentRepo,
		Processor:    stripeClient,
		Velocity:     velocity,
		Metrics:      bookingMetrics,
		Logger:       logger,
	})
	refundService := payments.NewRefundService(payments.RefundServiceOpts{
		Appointments: apptRepo,
		Slots:        slotRepo,
		Payments:     paymentRepo,
		Processor:    stripeClient,
		Velocity:     velocity,
		Metrics:      bookingMetrics,
		Logger:       logger,
	})
	reconciler := payments.NewReconciler(payments.ReconcilerOpts{
		Payments:     paymentRepo,
		Appointments: apptRepo,
		Slots:        slotRepo,
		Notifier:     notifier,
		Locker:       locker,
		Metrics:      bookingMetrics,
		Logger:       logger,
	})

	r := router.New(&router.Config{
		Logger:              logger,
		SlotsHandler:        scheduling.NewHandler(slotRepo, bookingMetrics, logger),
		AppointmentsHandler: appointments.NewHandler(apptRepo, slotRepo, logger),
		PaymentsHandler:     payments.NewHandler(coordinator, refundService, paymentRepo, logger),
		StripeWebhook:       payments.NewWebhookHandler(cfg.StripeWebhookSecret, reconciler, processedStore, logger),
		MetricsHandler:      promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func newRedisClient(cfg *appconfig.Config) *redis.Client {
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(opts)
}

// newEmailSender picks the configured email provider. An empty provider
// disables outbound email entirely.
func newEmailSender(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) notify.EmailSender {
	switch cfg.EmailProvider {
	case "sendgrid":
		return notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
	case "ses":
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config, email disabled", "error", err)
			return nil
		}
		return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
	default:
		return nil
	}
}

// appointmentTimes resolves an appointment to its slot's start time for
// notification templating.
type appointmentTimes struct {
	appointments *appointments.Repository
	slots        *scheduling.Repository
}

func (a *appointmentTimes) GetStartTime(ctx context.Context, appointmentID uuid.UUID) (time.Time, error) {
	appt, err := a.appointments.GetByID(ctx, appointmentID)
	if err != nil {
		return time.Time{}, err
	}
	slot, err := a.slots.GetByID(ctx, appt.SlotID)
	if err != nil {
		return time.Time{}, err
	}
	return slot.StartTime, nil
}
