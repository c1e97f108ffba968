package appointments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/zaidy-mughal/telehealth-backend/internal/scheduling"
	"github.com/zaidy-mughal/telehealth-backend/pkg/logging"
)

type appointmentStore interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetBySlotID(ctx context.Context, slotID uuid.UUID) (*Appointment, error)
}

type slotGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*scheduling.TimeSlot, error)
}

// Handler exposes appointment creation and lookup. Appointments start in
// pending; payment drives every later transition.
type Handler struct {
	store  appointmentStore
	slots  slotGetter
	logger *logging.Logger
	now    func() time.Time
}

func NewHandler(store appointmentStore, slots slotGetter, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		store:  store,
		slots:  slots,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type createRequest struct {
	PatientID string `json:"patient_id"`
	DoctorID  string `json:"doctor_id"`
	SlotID    string `json:"slot_id"`
	Reason    string `json:"reason"`
}

type appointmentPayload struct {
	ID        uuid.UUID `json:"id"`
	PatientID uuid.UUID `json:"patient_id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	SlotID    uuid.UUID `json:"slot_id"`
	Status    Status    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// CreateAppointment handles POST /appointments.
func (h *Handler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid patient id")
		return
	}
	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid doctor id")
		return
	}
	slotID, err := uuid.Parse(req.SlotID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid slot id")
		return
	}

	slot, err := h.slots.GetByID(r.Context(), slotID)
	if err != nil {
		if errors.Is(err, scheduling.ErrSlotNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error("slot lookup failed", "error", err, "slot_id", slotID)
		writeError(w, http.StatusInternalServerError, "failed to create appointment")
		return
	}
	if slot.DoctorID != doctorID {
		writeError(w, http.StatusBadRequest, "slot belongs to a different doctor")
		return
	}
	if slot.IsBooked || !slot.StartTime.After(h.now()) {
		writeError(w, http.StatusConflict, "slot is not available")
		return
	}

	// Cheap pre-check; the partial unique index on slot_id is the real
	// guard when two requests race.
	if existing, err := h.store.GetBySlotID(r.Context(), slotID); err == nil && !existing.Status.Terminal() {
		writeError(w, http.StatusConflict, ErrSlotAlreadyScheduled.Error())
		return
	}

	appt := &Appointment{
		ID:        uuid.New(),
		PatientID: patientID,
		DoctorID:  doctorID,
		SlotID:    slotID,
		Status:    StatusPending,
		Reason:    req.Reason,
	}
	if err := h.store.Create(r.Context(), appt); err != nil {
		if errors.Is(err, ErrSlotAlreadyScheduled) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error("create appointment failed", "error", err, "slot_id", slotID)
		writeError(w, http.StatusInternalServerError, "failed to create appointment")
		return
	}

	h.logger.Info("appointment created",
		"appointment_id", appt.ID, "patient_id", patientID, "slot_id", slotID)
	writeJSON(w, http.StatusCreated, h.payload(appt, slot))
}

// GetAppointment handles GET /appointments/{appointmentID}.
func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "appointmentID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid appointment id")
		return
	}

	appt, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error("appointment lookup failed", "error", err, "appointment_id", id)
		writeError(w, http.StatusInternalServerError, "failed to load appointment")
		return
	}

	slot, err := h.slots.GetByID(r.Context(), appt.SlotID)
	if err != nil {
		h.logger.Error("slot lookup failed", "error", err, "slot_id", appt.SlotID)
		writeError(w, http.StatusInternalServerError, "failed to load appointment")
		return
	}

	writeJSON(w, http.StatusOK, h.payload(appt, slot))
}

func (h *Handler) payload(appt *Appointment, slot *scheduling.TimeSlot) appointmentPayload {
	return appointmentPayload{
		ID:        appt.ID,
		PatientID: appt.PatientID,
		DoctorID:  appt.DoctorID,
		SlotID:    appt.SlotID,
		Status:    appt.Status,
		Reason:    appt.Reason,
		StartTime: slot.StartTime,
		EndTime:   slot.EndTime,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
