package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zaidy-mughal/telehealth-backend/pkg/logging"
)

// VelocityChecker rate-limits reservation and refund attempts per patient.
type VelocityChecker struct {
	redis  *redis.Client
	logger *logging.Logger
	config VelocityConfig
}

// VelocityConfig contains velocity check configuration.
type VelocityConfig struct {
	// Max reservation attempts per patient per window
	MaxReservationsPerPatient int
	ReservationWindowHours    int

	// Max refund requests per patient per window
	MaxRefundsPerPatient int
	RefundWindowDays     int

	EnableReservationCheck bool
	EnableRefundCheck      bool
}

// DefaultVelocityConfig returns default velocity limits.
func DefaultVelocityConfig() VelocityConfig {
	return VelocityConfig{
		MaxReservationsPerPatient: 5,
		ReservationWindowHours:    24,
		MaxRefundsPerPatient:      1,
		RefundWindowDays:          7,
		EnableReservationCheck:    true,
		EnableRefundCheck:         true,
	}
}

// VelocityResult contains the result of a velocity check.
type VelocityResult struct {
	Allowed      bool
	CheckType    string
	CurrentCount int
	MaxAllowed   int
	WindowExpiry time.Time
	Message      string
}

// NewVelocityChecker creates a new velocity checker.
func NewVelocityChecker(redisClient *redis.Client, config VelocityConfig, logger *logging.Logger) *VelocityChecker {
	if logger == nil {
		logger = logging.Default()
	}
	return &VelocityChecker{
		redis:  redisClient,
		logger: logger,
		config: config,
	}
}

// CheckReservationVelocity checks if the patient may start another reservation.
func (v *VelocityChecker) CheckReservationVelocity(ctx context.Context, patientID string) (*VelocityResult, error) {
	ctx, span := stripeTracer.Start(ctx, "velocity.check_reservation")
	defer span.End()
	span.SetAttributes(attribute.String("velocity.check_type", "reservation"))

	if !v.config.EnableReservationCheck {
		return &VelocityResult{Allowed: true, CheckType: "reservation"}, nil
	}

	key := fmt.Sprintf("velocity:reservation:%s", patientID)
	window := time.Duration(v.config.ReservationWindowHours) * time.Hour

	count, expiry, err := v.incrementAndGet(ctx, key, window)
	if err != nil {
		v.logger.Error("velocity check failed", "error", err, "key", key)
		// Fail open - allow the transaction if Redis is down
		return &VelocityResult{Allowed: true, CheckType: "reservation", Message: "velocity check unavailable"}, nil
	}

	result := &VelocityResult{
		Allowed:      count <= v.config.MaxReservationsPerPatient,
		CheckType:    "reservation",
		CurrentCount: count,
		MaxAllowed:   v.config.MaxReservationsPerPatient,
		WindowExpiry: expiry,
	}

	if !result.Allowed {
		result.Message = fmt.Sprintf("exceeded %d reservation attempts in %d hours", v.config.MaxReservationsPerPatient, v.config.ReservationWindowHours)
		v.logger.Warn("reservation velocity exceeded",
			"patient_id", patientID,
			"count", count,
			"max", v.config.MaxReservationsPerPatient,
		)
		span.SetAttributes(attribute.Bool("velocity.exceeded", true))
	}

	return result, nil
}

// CheckRefundVelocity checks if a refund request is allowed for the patient.
func (v *VelocityChecker) CheckRefundVelocity(ctx context.Context, patientID string) (*VelocityResult, error) {
	ctx, span := stripeTracer.Start(ctx, "velocity.check_refund")
	defer span.End()
	span.SetAttributes(attribute.String("velocity.check_type", "refund"))

	if !v.config.EnableRefundCheck {
		return &VelocityResult{Allowed: true, CheckType: "refund"}, nil
	}

	key := fmt.Sprintf("velocity:refund:%s", patientID)
	window := time.Duration(v.config.RefundWindowDays) * 24 * time.Hour

	count, expiry, err := v.incrementAndGet(ctx, key, window)
	if err != nil {
		v.logger.Error("velocity check failed", "error", err, "key", key)
		return &VelocityResult{Allowed: true, CheckType: "refund", Message: "velocity check unavailable"}, nil
	}

	result := &VelocityResult{
		Allowed:      count <= v.config.MaxRefundsPerPatient,
		CheckType:    "refund",
		CurrentCount: count,
		MaxAllowed:   v.config.MaxRefundsPerPatient,
		WindowExpiry: expiry,
	}

	if !result.Allowed {
		result.Message = fmt.Sprintf("exceeded %d refund requests in %d days", v.config.MaxRefundsPerPatient, v.config.RefundWindowDays)
		v.logger.Warn("refund velocity exceeded",
			"patient_id", patientID,
			"count", count,
			"max", v.config.MaxRefundsPerPatient,
		)
		span.SetAttributes(attribute.Bool("velocity.exceeded", true))
	}

	return result, nil
}

func (v *VelocityChecker) incrementAndGet(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	count, err := v.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, err
	}

	// Set expiry only on first increment
	if count == 1 {
		v.redis.Expire(ctx, key, window)
	}

	ttl, err := v.redis.TTL(ctx, key).Result()
	if err != nil {
		ttl = window
	}

	return int(count), time.Now().Add(ttl), nil
}
