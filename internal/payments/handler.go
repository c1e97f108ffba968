package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/zaidy-mughal/telehealth-backend/internal/appointments"
	"github.com/zaidy-mughal/telehealth-backend/internal/scheduling"
	"github.com/zaidy-mughal/telehealth-backend/pkg/logging"
)

type slotReserver interface {
	ReserveSlotForPayment(ctx context.Context, appointmentID uuid.UUID, amountCents int64, currency string) (*ReservationResult, error)
}

type refundRequester interface {
	RequestRefund(ctx context.Context, appointmentID uuid.UUID, reason string) (*RefundResult, error)
}

type paymentLookup interface {
	LatestForAppointment(ctx context.Context, appointmentID uuid.UUID) (*Payment, error)
}

// Handler exposes the payment endpoints.
type Handler struct {
	coordinator slotReserver
	refunds     refundRequester
	payments    paymentLookup
	logger      *logging.Logger
}

func NewHandler(coordinator slotReserver, refunds refundRequester, payments paymentLookup, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		coordinator: coordinator,
		refunds:     refunds,
		payments:    payments,
		logger:      logger,
	}
}

type createIntentRequest struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	Amount        string    `json:"amount"` // decimal major units, e.g. "150.00"
	Currency      string    `json:"currency"`
}

type createIntentResponse struct {
	PaymentID    uuid.UUID `json:"payment_id"`
	ClientSecret string    `json:"client_secret"`
}

// CreateIntent handles POST /payments/intents.
func (h *Handler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	var req createIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AppointmentID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "appointment_id is required")
		return
	}

	amountCents, err := parseAmountCents(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.coordinator.ReserveSlotForPayment(r.Context(), req.AppointmentID, amountCents, req.Currency)
	if err != nil {
		h.writePaymentError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createIntentResponse{
		PaymentID:    result.PaymentID,
		ClientSecret: result.ClientSecret,
	})
}

type refundRequest struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	Reason        string    `json:"reason"`
}

type refundResponse struct {
	RefundID uuid.UUID `json:"refund_id"`
	Amount   string    `json:"amount"`
	Percent  int       `json:"percent"`
}

// RequestRefund handles POST /payments/refunds.
func (h *Handler) RequestRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AppointmentID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "appointment_id is required")
		return
	}

	result, err := h.refunds.RequestRefund(r.Context(), req.AppointmentID, req.Reason)
	if err != nil {
		h.writePaymentError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, refundResponse{
		RefundID: result.RefundID,
		Amount:   formatAmount(result.AmountCents),
		Percent:  result.Percent,
	})
}

type paymentPayload struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	Status        Status    `json:"status"`
}

// GetAppointmentPayment handles GET /appointments/{appointmentID}/payment.
func (h *Handler) GetAppointmentPayment(w http.ResponseWriter, r *http.Request) {
	appointmentID, err := uuid.Parse(chi.URLParam(r, "appointmentID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid appointment id")
		return
	}

	payment, err := h.payments.LatestForAppointment(r.Context(), appointmentID)
	if err != nil {
		h.writePaymentError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, paymentPayload{
		ID:            payment.ID,
		AppointmentID: payment.AppointmentID,
		Amount:        formatAmount(payment.AmountCents),
		Currency:      payment.Currency,
		Status:        payment.Status,
	})
}

// writePaymentError maps service sentinels onto HTTP statuses. Processor
// failures deliberately collapse into a generic message; detail stays in
// the server logs.
func (h *Handler) writePaymentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointments.ErrAppointmentNotFound),
		errors.Is(err, scheduling.ErrSlotNotFound),
		errors.Is(err, ErrPaymentNotFound),
		errors.Is(err, ErrRefundNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidSlot),
		errors.Is(err, ErrUnsupportedCurrency):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrDuplicatePendingPayment),
		errors.Is(err, ErrPaymentNotRefundable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrReservationRateLimited),
		errors.Is(err, ErrRefundRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, ErrNoApplicablePolicy):
		h.logger.Error("refund policy configuration error", "error", err)
		writeError(w, http.StatusInternalServerError, "refund policy configuration error")
	default:
		h.logger.Error("payment operation failed", "error", err)
		writeError(w, http.StatusBadRequest, "payment processing error")
	}
}

// parseAmountCents converts a decimal major-unit amount ("150.00") into
// minor units without going through floats.
func parseAmountCents(amount string) (int64, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return 0, errors.New("amount is required")
	}

	whole, frac, _ := strings.Cut(amount, ".")
	if whole == "" {
		whole = "0"
	}
	major, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || major < 0 {
		return 0, errors.New("invalid amount")
	}

	var minor int64
	switch len(frac) {
	case 0:
	case 1:
		minor, err = strconv.ParseInt(frac, 10, 64)
		minor *= 10
	case 2:
		minor, err = strconv.ParseInt(frac, 10, 64)
	default:
		return 0, errors.New("amount supports at most two decimal places")
	}
	if err != nil || minor < 0 {
		return 0, errors.New("invalid amount")
	}

	cents := major*100 + minor
	if cents <= 0 {
		return 0, errors.New("amount must be positive")
	}
	return cents, nil
}

func formatAmount(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
