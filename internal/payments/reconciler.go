package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zaidy-mughal/telehealth-backend/internal/appointments"
	"github.com/zaidy-mughal/telehealth-backend/internal/locks"
	"github.com/zaidy-mughal/telehealth-backend/internal/observability/metrics"
	"github.com/zaidy-mughal/telehealth-backend/internal/scheduling"
	"github.com/zaidy-mughal/telehealth-backend/pkg/logging"
)

// EventKind is the closed set of processor event types the reconciler acts on.
type EventKind string

const (
	EventIntentRequiresAction EventKind = "payment_intent.requires_action"
	EventIntentSucceeded      EventKind = "payment_intent.succeeded"
	EventIntentFailed         EventKind = "payment_intent.payment_failed"
	EventIntentCanceled       EventKind = "payment_intent.canceled"
	EventChargeRefunded       EventKind = "charge.refunded"
	EventRefundCreated        EventKind = "refund.created"
	EventRefundUpdated        EventKind = "refund.updated"
	EventRefundFailed         EventKind = "refund.failed"
)

// Event is the processor-agnostic shape the reconciler consumes, extracted
// from the raw webhook payload by the HTTP handler.
type Event struct {
	ID            string
	Kind          EventKind
	IntentID      string
	PaymentMethod string
	RefundID      string
	RefundStatus  string
}

type paymentEventStore interface {
	GetByIntentID(ctx context.Context, intentID string) (*Payment, error)
	Transition(ctx context.Context, id uuid.UUID, to Status, from ...Status) (bool, error)
	SetPaymentMethod(ctx context.Context, id uuid.UUID, method string) error
	GetRefundByProviderID(ctx context.Context, providerRefundID string) (*Refund, error)
	LatestRefundForPayment(ctx context.Context, paymentID uuid.UUID) (*Refund, error)
	TransitionRefund(ctx context.Context, id uuid.UUID, to RefundStatus, from ...RefundStatus) (bool, error)
}

type appointmentTransitioner interface {
	Transition(ctx context.Context, id uuid.UUID, to appointments.Status, from ...appointments.Status) (bool, error)
}

type slotBooker interface {
	Reserve(ctx context.Context, id uuid.UUID) error
	Release(ctx context.Context, id uuid.UUID) error
}

type bookingNotifier interface {
	SendAppointmentConfirmation(ctx context.Context, patientID, appointmentID uuid.UUID)
	SendPaymentFailed(ctx context.Context, patientID, appointmentID uuid.UUID)
	SendRefundSuccess(ctx context.Context, patientID, appointmentID uuid.UUID, amountCents int64, currency string)
	SendRefundFailed(ctx context.Context, patientID, appointmentID uuid.UUID, reason string)
}

// Reconciler applies processor events to local payment, appointment, refund,
// and slot state. Every transition is a conditional update keyed on the
// current status, so replaying an event is a no-op and side effects fire at
// most once. Application is a critical section per payment, taken as a
// distributed lock on the intent id.
type Reconciler struct {
	payments     paymentEventStore
	appointments appointmentTransitioner
	slots        slotBooker
	notifier     bookingNotifier
	locker       locks.Locker
	metrics      *metrics.BookingMetrics
	logger       *logging.Logger
}

// ReconcilerOpts carries the reconciler's collaborators.
type ReconcilerOpts struct {
	Payments     paymentEventStore
	Appointments appointmentTransitioner
	Slots        slotBooker
	Notifier     bookingNotifier
	Locker       locks.Locker
	Metrics      *metrics.BookingMetrics
	Logger       *logging.Logger
}

func NewReconciler(opts ReconcilerOpts) *Reconciler {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Reconciler{
		payments:     opts.Payments,
		appointments: opts.Appointments,
		slots:        opts.Slots,
		notifier:     opts.Notifier,
		locker:       opts.Locker,
		metrics:      opts.Metrics,
		logger:       logger,
	}
}

// Apply processes one processor event. Unknown local payment references are
// logged and dropped so processor retries do not pile up.
func (r *Reconciler) Apply(ctx context.Context, evt Event) error {
	if evt.IntentID == "" {
		r.logger.Warn("processor event without intent id", "event_id", evt.ID, "kind", evt.Kind)
		return nil
	}

	start := time.Now()
	err := r.withPaymentLock(ctx, evt.IntentID, func(ctx context.Context) error {
		return r.apply(ctx, evt)
	})
	r.metrics.ObserveWebhookLatency(string(evt.Kind), time.Since(start).Seconds())
	if err != nil {
		r.metrics.ObserveWebhookEvent(string(evt.Kind), "error")
		return err
	}
	r.metrics.ObserveWebhookEvent(string(evt.Kind), "processed")
	return nil
}

func (r *Reconciler) withPaymentLock(ctx context.Context, intentID string, fn func(context.Context) error) error {
	if r.locker == nil {
		return fn(ctx)
	}
	return r.locker.WithLock(ctx, "payment:"+intentID, fn)
}

func (r *Reconciler) apply(ctx context.Context, evt Event) error {
	payment, err := r.payments.GetByIntentID(ctx, evt.IntentID)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			r.logger.Warn("processor event for unknown payment, dropping",
				"event_id", evt.ID, "kind", evt.Kind, "intent_id", evt.IntentID)
			return nil
		}
		return err
	}

	switch evt.Kind {
	case EventIntentRequiresAction:
		_, err := r.payments.Transition(ctx, payment.ID, StatusRequiresAction,
			StatusRequiresPaymentMethod, StatusRequiresConfirmation, StatusProcessing)
		return err

	case EventIntentSucceeded:
		return r.applySucceeded(ctx, payment, evt)

	case EventIntentFailed:
		return r.applyFailed(ctx, payment)

	case EventIntentCanceled:
		return r.applyCanceled(ctx, payment)

	case EventChargeRefunded:
		return r.applyChargeRefunded(ctx, payment, evt)

	case EventRefundCreated, EventRefundUpdated, EventRefundFailed:
		return r.applyRefundUpdate(ctx, payment, evt)

	default:
		r.logger.Debug("ignoring processor event kind", "kind", evt.Kind, "event_id", evt.ID)
		return nil
	}
}

func (r *Reconciler) applySucceeded(ctx context.Context, payment *Payment, evt Event) error {
	applied, err := r.payments.Transition(ctx, payment.ID, StatusSucceeded,
		StatusRequiresPaymentMethod, StatusRequiresConfirmation, StatusRequiresAction, StatusProcessing)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	// The transition above gates the booking: a late redelivery after the
	// payment settled (succeeded, canceled, refunded) never reaches the
	// slot, so a refund-released slot stays in the available pool. An
	// already-booked slot here can only mean a prior delivery of this
	// event got partway through before failing.
	if err := r.slots.Reserve(ctx, payment.SlotID); err != nil {
		if !errors.Is(err, scheduling.ErrSlotAlreadyBooked) {
			return fmt.Errorf("payments: booking slot for succeeded payment: %w", err)
		}
	}

	if evt.PaymentMethod != "" {
		if err := r.payments.SetPaymentMethod(ctx, payment.ID, evt.PaymentMethod); err != nil {
			r.logger.Error("failed to record payment method", "error", err, "payment_id", payment.ID)
		}
	}

	if _, err := r.appointments.Transition(ctx, payment.AppointmentID,
		appointments.StatusConfirmed, appointments.StatusPending); err != nil {
		return err
	}

	r.notifier.SendAppointmentConfirmation(ctx, payment.PatientID, payment.AppointmentID)
	r.logger.Info("payment succeeded, appointment confirmed",
		"payment_id", payment.ID, "appointment_id", payment.AppointmentID)
	return nil
}

func (r *Reconciler) applyFailed(ctx context.Context, payment *Payment) error {
	applied, err := r.payments.Transition(ctx, payment.ID, StatusFailed,
		StatusRequiresPaymentMethod, StatusRequiresConfirmation, StatusRequiresAction, StatusProcessing)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	if _, err := r.appointments.Transition(ctx, payment.AppointmentID,
		appointments.StatusFailed, appointments.StatusPending); err != nil {
		return err
	}

	r.notifier.SendPaymentFailed(ctx, payment.PatientID, payment.AppointmentID)
	return nil
}

func (r *Reconciler) applyCanceled(ctx context.Context, payment *Payment) error {
	applied, err := r.payments.Transition(ctx, payment.ID, StatusCanceled,
		StatusRequiresPaymentMethod, StatusRequiresConfirmation, StatusRequiresAction, StatusProcessing)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	_, err = r.appointments.Transition(ctx, payment.AppointmentID,
		appointments.StatusCancelled, appointments.StatusPending)
	return err
}

// applyChargeRefunded is the authoritative refund confirmation: the payment
// flips to refunded, the appointment to refunded, and the slot reopens.
func (r *Reconciler) applyChargeRefunded(ctx context.Context, payment *Payment, evt Event) error {
	refund, err := r.resolveRefund(ctx, payment, evt)
	if err != nil {
		if errors.Is(err, ErrRefundNotFound) {
			r.logger.Warn("charge.refunded without local refund row, dropping",
				"event_id", evt.ID, "payment_id", payment.ID)
			return nil
		}
		return err
	}

	status := mapProviderRefundStatus(evt.RefundStatus)
	if status != RefundSucceeded {
		return r.applyRefundUpdate(ctx, payment, evt)
	}

	if _, err := r.payments.TransitionRefund(ctx, refund.ID, RefundSucceeded, RefundRequiresAction); err != nil {
		return err
	}

	applied, err := r.payments.Transition(ctx, payment.ID, StatusRefunded, StatusSucceeded)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	if _, err := r.appointments.Transition(ctx, payment.AppointmentID,
		appointments.StatusRefunded, appointments.StatusConfirmed); err != nil {
		return err
	}
	if err := r.slots.Release(ctx, payment.SlotID); err != nil {
		return fmt.Errorf("payments: release slot after refund: %w", err)
	}

	r.metrics.ObserveRefund("succeeded")
	r.notifier.SendRefundSuccess(ctx, payment.PatientID, payment.AppointmentID, refund.AmountCents, refund.Currency)
	r.logger.Info("refund settled, slot released",
		"payment_id", payment.ID, "refund_id", refund.ID, "slot_id", payment.SlotID)
	return nil
}

// applyRefundUpdate moves the refund row only. A failed refund does not
// un-confirm a succeeded appointment.
func (r *Reconciler) applyRefundUpdate(ctx context.Context, payment *Payment, evt Event) error {
	refund, err := r.resolveRefund(ctx, payment, evt)
	if err != nil {
		if errors.Is(err, ErrRefundNotFound) {
			r.logger.Warn("refund event without local refund row, dropping",
				"event_id", evt.ID, "payment_id", payment.ID)
			return nil
		}
		return err
	}

	status := mapProviderRefundStatus(evt.RefundStatus)
	if evt.Kind == EventRefundFailed {
		status = RefundFailed
	}
	if status == RefundRequiresAction {
		return nil
	}

	applied, err := r.payments.TransitionRefund(ctx, refund.ID, status, RefundRequiresAction)
	if err != nil {
		return err
	}
	if applied && status == RefundFailed {
		r.metrics.ObserveRefund("failed")
		r.notifier.SendRefundFailed(ctx, payment.PatientID, payment.AppointmentID, "refund was declined by the payment processor")
	}
	return nil
}

func (r *Reconciler) resolveRefund(ctx context.Context, payment *Payment, evt Event) (*Refund, error) {
	if evt.RefundID != "" {
		refund, err := r.payments.GetRefundByProviderID(ctx, evt.RefundID)
		if err == nil {
			return refund, nil
		}
		if !errors.Is(err, ErrRefundNotFound) {
			return nil, err
		}
	}
	return r.payments.LatestRefundForPayment(ctx, payment.ID)
}

// mapProviderRefundStatus translates the processor's refund status strings.
func mapProviderRefundStatus(s string) RefundStatus {
	switch s {
	case "succeeded":
		return RefundSucceeded
	case "failed":
		return RefundFailed
	case "canceled", "cancelled":
		return RefundCancelled
	default:
		return RefundRequiresAction
	}
}
