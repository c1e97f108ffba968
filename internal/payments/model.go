package payments

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status mirrors the processor's payment intent lifecycle, plus a local
// refunded state once a refund settles.
type Status string

const (
	StatusRequiresPaymentMethod Status = "requires_payment_method"
	StatusRequiresConfirmation  Status = "requires_confirmation"
	StatusRequiresAction        Status = "requires_action"
	StatusProcessing            Status = "processing"
	StatusSucceeded             Status = "succeeded"
	StatusCanceled              Status = "canceled"
	StatusFailed                Status = "failed"
	StatusRefunded              Status = "refunded"
)

// Terminal reports whether the status can never produce another charge.
// A slot may carry at most one payment in a non-terminal status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCanceled, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

// RefundStatus tracks a refund from request through settlement.
type RefundStatus string

const (
	RefundRequiresAction RefundStatus = "requires_action"
	RefundSucceeded      RefundStatus = "succeeded"
	RefundFailed         RefundStatus = "failed"
	RefundCancelled      RefundStatus = "cancelled"
)

var (
	ErrPaymentNotFound         = errors.New("payment not found")
	ErrRefundNotFound          = errors.New("refund not found")
	ErrDuplicatePendingPayment = errors.New("slot already has a pending payment")
	ErrInvalidSlot             = errors.New("slot is not reservable")
	ErrUnsupportedCurrency     = errors.New("unsupported currency")
	ErrPaymentNotRefundable    = errors.New("payment is not refundable")
	ErrNoApplicablePolicy      = errors.New("no applicable refund policy")
	ErrRefundRateLimited       = errors.New("refund rate limit exceeded")
	ErrReservationRateLimited  = errors.New("reservation rate limit exceeded")
)

var supportedCurrencies = map[string]bool{
	"usd": true,
	"eur": true,
	"gbp": true,
	"cad": true,
	"aud": true,
}

// Payment records a single intent against a reserved slot. Amounts are in
// the currency's minor unit (cents).
type Payment struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	SlotID        uuid.UUID
	PatientID     uuid.UUID
	AmountCents   int64
	Currency      string
	Status        Status
	IntentID      string
	ClientSecret  string
	PaymentMethod string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Refund is one refund attempt against a succeeded payment.
type Refund struct {
	ID               uuid.UUID
	PaymentID        uuid.UUID
	AmountCents      int64
	Currency         string
	Status           RefundStatus
	Reason           string
	ProviderRefundID string
	PolicyID         uuid.UUID
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RefundPolicy is one tier of the cancellation schedule: refunds requested
// between HoursBeforeMin and HoursBeforeMax hours ahead of the appointment
// get Percent back. A nil HoursBeforeMax means the tier is open-ended.
type RefundPolicy struct {
	ID             uuid.UUID
	HoursBeforeMin int
	HoursBeforeMax *int
	Percent        int
	CreatedAt      time.Time
}
