package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zaidy-mughal/telehealth-backend/internal/appointments"
	"github.com/zaidy-mughal/telehealth-backend/internal/observability/metrics"
	"github.com/zaidy-mughal/telehealth-backend/internal/scheduling"
	"github.com/zaidy-mughal/telehealth-backend/pkg/logging"
)

type appointmentGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*appointments.Appointment, error)
}

type slotGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*scheduling.TimeSlot, error)
}

type paymentCreator interface {
	InsertPending(ctx context.Context, p *Payment) error
	SetIntentRef(ctx context.Context, id uuid.UUID, intentID, clientSecret string) error
	Transition(ctx context.Context, id uuid.UUID, to Status, from ...Status) (bool, error)
}

type reservationLimiter interface {
	CheckReservationVelocity(ctx context.Context, patientID string) (*VelocityResult, error)
}

// Coordinator binds a patient's payment intent to exactly one slot. The
// payment row in requires_payment_method is itself the exclusion marker: no
// second reservation can be opened on the slot while it exists.
type Coordinator struct {
	appointments appointmentGetter
	slots        slotGetter
	payments     paymentCreator
	processor    ProcessorClient
	velocity     reservationLimiter
	metrics      *metrics.BookingMetrics
	logger       *logging.Logger
	now          func() time.Time
}

// CoordinatorOpts carries the coordinator's collaborators.
type CoordinatorOpts struct {
	Appointments appointmentGetter
	Slots        slotGetter
	Payments     paymentCreator
	Processor    ProcessorClient
	Velocity     reservationLimiter
	Metrics      *metrics.BookingMetrics
	Logger       *logging.Logger
}

func NewCoordinator(opts CoordinatorOpts) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Coordinator{
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

// ReservationResult is what the patient's client needs to complete payment.
type ReservationResult struct {
	PaymentID    uuid.UUID
	ClientSecret string
}

// ReserveSlotForPayment opens a payment intent for the appointment's slot.
// On any failure after the processor intent exists, the intent is cancelled
// as a compensating action so no orphaned hold survives a local error.
func (c *Coordinator) ReserveSlotForPayment(ctx context.Context, appointmentID uuid.UUID, amountCents int64, currency string) (*ReservationResult, error) {
	appt, err := c.appointments.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	slot, err := c.slots.GetByID(ctx, appt.SlotID)
	if err != nil {
		return nil, err
	}
	if !slot.EndTime.After(slot.StartTime) || !slot.StartTime.After(c.now()) {
		return nil, ErrInvalidSlot
	}

	currency = strings.ToLower(strings.TrimSpace(currency))
	if !supportedCurrencies[currency] {
		return nil, ErrUnsupportedCurrency
	}

	if c.velocity != nil {
		res, err := c.velocity.CheckReservationVelocity(ctx, appt.PatientID.String())
		if err == nil && !res.Allowed {
			return nil, fmt.Errorf("%w: %s", ErrReservationRateLimited, res.Message)
		}
	}

	payment := &Payment{
		ID:            uuid.New(),
		AppointmentID: appt.ID,
		SlotID:        appt.SlotID,
		PatientID:     appt.PatientID,
		AmountCents:   amountCents,
		Currency:      currency,
		Status:        StatusRequiresPaymentMethod,
	}
	if err := c.payments.InsertPending(ctx, payment); err != nil {
		c.metrics.ObserveReservation("rejected")
		return nil, err
	}

	intent, err := c.processor.CreateIntent(ctx, IntentParams{
		AmountCents:   amountCents,
		Currency:      currency,
		AppointmentID: appt.ID.String(),
		PaymentID:     payment.ID.String(),
	})
	if err != nil {
		c.abandonPayment(ctx, payment.ID)
		c.metrics.ObserveReservation("processor_error")
		return nil, fmt.Errorf("payments: create intent: %w", err)
	}

	if err := c.payments.SetIntentRef(ctx, payment.ID, intent.ID, intent.ClientSecret); err != nil {
		// The processor-side intent exists but we lost track of it
		// locally. Cancel it so no orphaned hold survives.
		if cancelErr := c.processor.CancelIntent(ctx, intent.ID); cancelErr != nil {
			c.logger.Error("compensating intent cancellation failed",
				"error", cancelErr, "intent_id", intent.ID, "payment_id", payment.ID)
		}
		c.abandonPayment(ctx, payment.ID)
		c.metrics.ObserveReservation("persist_error")
		return nil, fmt.Errorf("payments: persist intent ref: %w", err)
	}

	c.metrics.ObserveReservation("created")
	c.logger.Info("payment intent created",
		"payment_id", payment.ID, "appointment_id", appt.ID, "intent_id", intent.ID,
		"amount_cents", amountCents, "currency", currency)

	return &ReservationResult{PaymentID: payment.ID, ClientSecret: intent.ClientSecret}, nil
}

// abandonPayment moves a freshly created payment to canceled so the slot's
// exclusion marker is lifted after a failed intent creation.
func (c *Coordinator) abandonPayment(ctx context.Context, id uuid.UUID) {
	if _, err := c.payments.Transition(ctx, id, StatusCanceled, StatusRequiresPaymentMethod); err != nil {
		c.logger.Error("failed to abandon payment", "error", err, "payment_id", id)
	}
}

