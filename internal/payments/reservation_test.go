package payments

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaidy-mughal/telehealth-backend/internal/appointments"
	"github.com/zaidy-mughal/telehealth-backend/internal/scheduling"
)

type coordinatorFixture struct {
	coordinator  *Coordinator
	appointments *fakeAppointments
	slots        *fakeSlots
	payments     *fakePayments
	processor    *fakeProcessor
	appointment  *appointments.Appointment
	slot         *scheduling.TimeSlot
}

func newCoordinatorFixture(t *testing.T) *coordinatorFixture {
	t.Helper()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	start := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

	slot := &scheduling.TimeSlot{
		ID:        uuid.New(),
		DoctorID:  uuid.New(),
		StartTime: start,
		EndTime:   start.Add(scheduling.SlotDuration),
	}
	appt := &appointments.Appointment{
		ID:        uuid.New(),
		PatientID: uuid.New(),
		DoctorID:  slot.DoctorID,
		SlotID:    slot.ID,
		Status:    appointments.StatusPending,
	}

	f := &coordinatorFixture{
		appointments: newFakeAppointments(),
		slots:        newFakeSlots(),
		payments:     newFakePayments(),
		processor:    &fakeProcessor{},
		appointment:  appt,
		slot:         slot,
	}
	f.appointments.add(appt)
	f.slots.add(slot)

	f.coordinator = NewCoordinator(CoordinatorOpts{
		Appointments: f.appointments,
		Slots:        f.slots,
		Payments:     f.payments,
		Processor:    f.processor,
	})
	f.coordinator.now = func() time.Time { return now }
	return f
}

func TestReserveSlotForPayment(t *testing.T) {
	f := newCoordinatorFixture(t)

	result, err := f.coordinator.ReserveSlotForPayment(context.Background(), f.appointment.ID, 15000, "USD")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, result.PaymentID)
	assert.NotEmpty(t, result.ClientSecret)

	payment, err := f.payments.GetByID(context.Background(), result.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, StatusRequiresPaymentMethod, payment.Status)
	assert.Equal(t, "usd", payment.Currency, "currency is normalized to lower case")
	assert.Equal(t, int64(15000), payment.AmountCents)
	assert.NotEmpty(t, payment.IntentID)

	require.Len(t, f.processor.intents, 1)
	assert.Empty(t, f.processor.cancellations)
}

func TestReserveRejectsDuplicatePending(t *testing.T) {
	f := newCoordinatorFixture(t)

	_, err := f.coordinator.ReserveSlotForPayment(context.Background(), f.appointment.ID, 15000, "usd")
	require.NoError(t, err)

	_, err = f.coordinator.ReserveSlotForPayment(context.Background(), f.appointment.ID, 15000, "usd")
	assert.ErrorIs(t, err, ErrDuplicatePendingPayment)
	assert.Len(t, f.processor.intents, 1, "second attempt must not reach the processor")
}

func TestReserveAllowedAfterTerminalPayment(t *testing.T) {
	f := newCoordinatorFixture(t)

	result, err := f.coordinator.ReserveSlotForPayment(context.Background(), f.appointment.ID, 15000, "usd")
	require.NoError(t, err)

	applied, err := f.payments.Transition(context.Background(), result.PaymentID, StatusFailed, StatusRequiresPaymentMethod)
	require.NoError(t, err)
	require.True(t, applied)

	_, err = f.coordinator.ReserveSlotForPayment(context.Background(), f.appointment.ID, 15000, "usd")
	assert.NoError(t, err, "a terminal payment no longer blocks the slot")
}

func TestReserveRejectsPastSlot(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.coordinator.now = func() time.Time { return f.slot.StartTime.Add(time.Minute) }

	_, err := f.coordinator.ReserveSlotForPayment(context.Background(), f.appointment.ID, 15000, "usd")
	assert.ErrorIs(t, err, ErrInvalidSlot)
}

func TestReserveRejectsUnsupportedCurrency(t *testing.T) {
	f := newCoordinatorFixture(t)

	_, err := f.coordinator.ReserveSlotForPayment(context.Background(), f.appointment.ID, 15000, "jpy")
	assert.ErrorIs(t, err, ErrUnsupportedCurrency)
	assert.Empty(t, f.processor.intents)
}

func TestReserveUnknownAppointment(t *testing.T) {
	f := newCoordinatorFixture(t)

	_, err := f.coordinator.ReserveSlotForPayment(context.Background(), uuid.New(), 15000, "usd")
	assert.ErrorIs(t, err, appointments.ErrAppointmentNotFound)
}

func TestReserveProcessorFailureAbandonsPayment(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.processor.createIntentErr = errBoom

	_, err := f.coordinator.ReserveSlotForPayment(context.Background(), f.appointment.ID, 15000, "usd")
	require.Error(t, err)

	// The failed attempt must not leave an exclusion marker behind.
	f.processor.createIntentErr = nil
	_, err = f.coordinator.ReserveSlotForPayment(context.Background(), f.appointment.ID, 15000, "usd")
	assert.NoError(t, err)
}

func TestReserveCompensatingCancellation(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.payments.setIntentRefErr = errBoom

	_, err := f.coordinator.ReserveSlotForPayment(context.Background(), f.appointment.ID, 15000, "usd")
	require.Error(t, err)

	// Exactly one processor-side cancel for the orphaned intent.
	require.Len(t, f.processor.intents, 1)
	assert.Len(t, f.processor.cancellations, 1)
}

func TestConcurrentSlotReserveSingleWinner(t *testing.T) {
	slots := newFakeSlots()
	start := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	slot := &scheduling.TimeSlot{
		ID:        uuid.New(),
		DoctorID:  uuid.New(),
		StartTime: start,
		EndTime:   start.Add(scheduling.SlotDuration),
	}
	slots.add(slot)

	const attempts = 64
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := slots.Reserve(context.Background(), slot.ID); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load(), "exactly one of the racing reservations may win")

	got, err := slots.GetByID(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.True(t, got.IsBooked)
}
