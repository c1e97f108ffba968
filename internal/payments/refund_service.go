package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zaidy-mughal/telehealth-backend/internal/appointments"
	"github.com/zaidy-mughal/telehealth-backend/internal/observability/metrics"
	"github.com/zaidy-mughal/telehealth-backend/internal/scheduling"
	"github.com/zaidy-mughal/telehealth-backend/pkg/logging"
)

type refundStore interface {
	LatestForAppointment(ctx context.Context, appointmentID uuid.UUID) (*Payment, error)
	CreateRefund(ctx context.Context, ref *Refund) error
	SetRefundProviderID(ctx context.Context, id uuid.UUID, providerRefundID string) error
	TransitionRefund(ctx context.Context, id uuid.UUID, to RefundStatus, from ...RefundStatus) (bool, error)
	ActivePolicies(ctx context.Context) ([]RefundPolicy, error)
}

type refundLimiter interface {
	CheckRefundVelocity(ctx context.Context, patientID string) (*VelocityResult, error)
}

// RefundService opens refunds against succeeded payments, with the amount
// set by the cancellation schedule. Settlement is asynchronous: the refund
// stays in requires_action until the processor's charge.refunded event
// arrives and the reconciler applies it.
type RefundService struct {
	appointments appointmentGetter
	slots        slotGetter
	payments     refundStore
	processor    ProcessorClient
	velocity     refundLimiter
	metrics      *metrics.BookingMetrics
	logger       *logging.Logger
	now          func() time.Time
}

// RefundServiceOpts carries the refund service's collaborators.
type RefundServiceOpts struct {
	Appointments appointmentGetter
	Slots        slotGetter
	Payments     refundStore
	Processor    ProcessorClient
	Velocity     refundLimiter
	Metrics      *metrics.BookingMetrics
	Logger       *logging.Logger
}

func NewRefundService(opts RefundServiceOpts) *RefundService {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &RefundService{
		appointments: opts.Appointments,
		slots:        opts.Slots,
		payments:     opts.Payments,
		processor:    opts.Processor,
		velocity:     opts.Velocity,
		metrics:      opts.Metrics,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// RefundResult reports what the schedule granted.
type RefundResult struct {
	RefundID    uuid.UUID
	AmountCents int64
	Percent     int
}

// RequestRefund opens a refund for the appointment's succeeded payment.
// A zero-percent tier produces a closed refund row without a processor
// call: the request is recorded but nothing is returned.
func (s *RefundService) RequestRefund(ctx context.Context, appointmentID uuid.UUID, reason string) (*RefundResult, error) {
	appt, err := s.appointments.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.Status != appointments.StatusConfirmed {
		return nil, ErrPaymentNotRefundable
	}

	payment, err := s.payments.LatestForAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != StatusSucceeded {
		return nil, ErrPaymentNotRefundable
	}

	if s.velocity != nil {
		res, err := s.velocity.CheckRefundVelocity(ctx, appt.PatientID.String())
		if err == nil && !res.Allowed {
			return nil, fmt.Errorf("%w: %s", ErrRefundRateLimited, res.Message)
		}
	}

	slot, err := s.slots.GetByID(ctx, appt.SlotID)
	if err != nil {
		if errors.Is(err, scheduling.ErrSlotNotFound) {
			return nil, ErrPaymentNotRefundable
		}
		return nil, err
	}

	policies, err := s.payments.ActivePolicies(ctx)
	if err != nil {
		return nil, err
	}
	policy, err := SelectPolicy(policies, slot.StartTime, s.now())
	if err != nil {
		return nil, err
	}
	amount := RefundAmountCents(payment.AmountCents, policy.Percent)

	refund := &Refund{
		ID:          uuid.New(),
		PaymentID:   payment.ID,
		AmountCents: amount,
		Currency:    payment.Currency,
		Status:      RefundRequiresAction,
		Reason:      reason,
		PolicyID:    policy.ID,
	}
	if amount == 0 {
		refund.Status = RefundCancelled
	}
	if err := s.payments.CreateRefund(ctx, refund); err != nil {
		return nil, err
	}

	if amount == 0 {
		s.metrics.ObserveRefund("zero_tier")
		s.logger.Info("refund request inside the no-refund window",
			"appointment_id", appointmentID, "payment_id", payment.ID)
		return &RefundResult{RefundID: refund.ID, AmountCents: 0, Percent: policy.Percent}, nil
	}

	provider, err := s.processor.CreateRefund(ctx, RefundParams{
		IntentID:    payment.IntentID,
		AmountCents: amount,
		RefundID:    refund.ID.String(),
		Reason:      reason,
	})
	if err != nil {
		if _, trErr := s.payments.TransitionRefund(ctx, refund.ID, RefundCancelled, RefundRequiresAction); trErr != nil {
			s.logger.Error("failed to close refund after processor error", "error", trErr, "refund_id", refund.ID)
		}
		s.metrics.ObserveRefund("processor_error")
		return nil, fmt.Errorf("payments: create refund: %w", err)
	}

	if err := s.payments.SetRefundProviderID(ctx, refund.ID, provider.ID); err != nil {
		return nil, err
	}

	s.metrics.ObserveRefund("requested")
	s.logger.Info("refund requested",
		"refund_id", refund.ID, "payment_id", payment.ID,
		"amount_cents", amount, "percent", policy.Percent)

	return &RefundResult{RefundID: refund.ID, AmountCents: amount, Percent: policy.Percent}, nil
}
