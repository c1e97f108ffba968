package appointments

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the appointment lifecycle state. Transitions are driven by the
// payment reconciler: pending -> confirmed on payment success, pending ->
// failed/cancelled on payment failure or intent cancellation, confirmed ->
// refunded on a succeeded refund.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// Terminal reports whether the status releases the slot for rebooking.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusFailed || s == StatusRefunded
}

var (
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrSlotAlreadyScheduled = errors.New("slot already has an open appointment")
)

// Appointment ties a patient to a reserved time slot. The slot reference is
// what the refund path releases when a refund settles.
type Appointment struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	SlotID    uuid.UUID
	Status    Status
	Reason    string
	CreatedAt time.Time
	UpdatedAt time.Time
}
