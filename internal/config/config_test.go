package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level info, got %s", cfg.LogLevel)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("expected 30s shutdown timeout, got %s", cfg.ShutdownTimeout)
	}
	if cfg.PaymentLockTTL != 10*time.Second {
		t.Errorf("expected 10s payment lock ttl, got %s", cfg.PaymentLockTTL)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("PAYMENT_LOCK_TTL", "3s")
	t.Setenv("MAX_RESERVATIONS_PER_DAY", "2")
	t.Setenv("REDIS_TLS", "true")

	cfg := Load()

	if cfg.Port != "9999" {
		t.Errorf("expected port override, got %s", cfg.Port)
	}
	if cfg.PaymentLockTTL != 3*time.Second {
		t.Errorf("expected 3s lock ttl, got %s", cfg.PaymentLockTTL)
	}
	if cfg.MaxReservationsPerDay != 2 {
		t.Errorf("expected 2 reservations/day, got %d", cfg.MaxReservationsPerDay)
	}
	if !cfg.RedisTLS {
		t.Error("expected redis tls enabled")
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("MAX_REFUNDS_PER_WEEK", "not-a-number")
	t.Setenv("SHUTDOWN_TIMEOUT", "nope")

	cfg := Load()

	if cfg.MaxRefundsPerWeek != 1 {
		t.Errorf("expected fallback refund limit, got %d", cfg.MaxRefundsPerWeek)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("expected fallback shutdown timeout, got %s", cfg.ShutdownTimeout)
	}
}
