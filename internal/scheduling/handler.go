package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/zaidy-mughal/telehealth-backend/internal/observability/metrics"
	"github.com/zaidy-mughal/telehealth-backend/pkg/logging"
)

type slotStore interface {
	BulkInsert(ctx context.Context, slots []TimeSlot) (int, error)
	HasOverlap(ctx context.Context, doctorID uuid.UUID, from, to time.Time) (bool, error)
	ListAvailable(ctx context.Context, doctorID uuid.UUID) ([]TimeSlot, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Handler exposes slot generation, listing, and bulk deletion.
type Handler struct {
	store   slotStore
	metrics *metrics.BookingMetrics
	logger  *logging.Logger
	now     func() time.Time
}

func NewHandler(store slotStore, m *metrics.BookingMetrics, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		store:   store,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type windowPayload struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type generateRequest struct {
	StartMonth    string         `json:"start_month"` // "2025-03"
	EndMonth      string         `json:"end_month"`
	Weekdays      []string       `json:"weekdays"`
	WorkingWindow windowPayload  `json:"working_window"`
	BreakWindow   *windowPayload `json:"break_window"`
}

type generateResponse struct {
	CreatedCount int    `json:"created_count"`
	Message      string `json:"message"`
}

// GenerateSlots handles POST /doctors/{doctorID}/slots/generate.
func (h *Handler) GenerateSlots(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid doctor id")
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	params, err := h.buildParams(doctorID, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	slots, err := Generate(params)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(slots) == 0 {
		writeJSON(w, http.StatusOK, generateResponse{Message: "no slots to create in the requested range"})
		return
	}

	// Overlap against pre-existing slots is a separate pre-check so that
	// generating into an empty calendar needs no existing-row scan.
	overlap, err := h.store.HasOverlap(r.Context(), doctorID, slots[0].StartTime, slots[len(slots)-1].EndTime)
	if err != nil {
		h.logger.Error("overlap check failed", "error", err, "doctor_id", doctorID)
		writeError(w, http.StatusInternalServerError, "failed to create time slots")
		return
	}
	if overlap {
		writeError(w, http.StatusConflict, "time slots overlap existing availability")
		return
	}

	created, err := h.store.BulkInsert(r.Context(), slots)
	if err != nil {
		h.logger.Error("bulk insert failed", "error", err, "doctor_id", doctorID)
		writeError(w, http.StatusInternalServerError, "failed to create time slots")
		return
	}

	h.metrics.AddSlotsGenerated(created)
	h.logger.Info("time slots generated", "doctor_id", doctorID, "created", created)
	writeJSON(w, http.StatusCreated, generateResponse{
		CreatedCount: created,
		Message:      "time slots created",
	})
}

func (h *Handler) buildParams(doctorID uuid.UUID, req generateRequest) (GenerateParams, error) {
	startMonth, err := time.Parse("2006-01", req.StartMonth)
	if err != nil {
		return GenerateParams{}, errors.New("invalid start_month, use YYYY-MM")
	}
	endMonth, err := time.Parse("2006-01", req.EndMonth)
	if err != nil {
		return GenerateParams{}, errors.New("invalid end_month, use YYYY-MM")
	}

	if len(req.Weekdays) == 0 {
		return GenerateParams{}, errors.New("at least one weekday is required")
	}
	weekdays := make([]time.Weekday, 0, len(req.Weekdays))
	for _, name := range req.Weekdays {
		d, err := ParseWeekday(name)
		if err != nil {
			return GenerateParams{}, err
		}
		weekdays = append(weekdays, d)
	}

	working, err := parseWindow(req.WorkingWindow)
	if err != nil {
		return GenerateParams{}, err
	}
	var brk *Window
	if req.BreakWindow != nil {
		parsed, err := parseWindow(*req.BreakWindow)
		if err != nil {
			return GenerateParams{}, err
		}
		brk = &parsed
	}

	return GenerateParams{
		DoctorID:   doctorID,
		StartMonth: startMonth,
		EndMonth:   endMonth,
		Weekdays:   weekdays,
		Working:    working,
		Break:      brk,
		Now:        h.now(),
	}, nil
}

func parseWindow(p windowPayload) (Window, error) {
	start, err := ParseTimeOfDay(p.StartTime)
	if err != nil {
		return Window{}, err
	}
	end, err := ParseTimeOfDay(p.EndTime)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: start, End: end}, nil
}

type slotPayload struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	IsBooked  bool      `json:"is_booked"`
}

// ListSlots handles GET /doctors/{doctorID}/slots.
func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid doctor id")
		return
	}

	slots, err := h.store.ListAvailable(r.Context(), doctorID)
	if err != nil {
		h.logger.Error("list slots failed", "error", err, "doctor_id", doctorID)
		writeError(w, http.StatusInternalServerError, "failed to list time slots")
		return
	}

	payload := make([]slotPayload, 0, len(slots))
	for _, s := range slots {
		payload = append(payload, slotPayload{
			ID:        s.ID,
			DoctorID:  s.DoctorID,
			StartTime: s.StartTime,
			EndTime:   s.EndTime,
			IsBooked:  s.IsBooked,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": payload})
}

type deleteRequest struct {
	SlotIDs []uuid.UUID `json:"slot_ids"`
}

// DeleteSlots handles DELETE /doctors/{doctorID}/slots. Booked slots are
// refused and reported, never silently skipped.
func (h *Handler) DeleteSlots(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.SlotIDs) == 0 {
		writeError(w, http.StatusBadRequest, "at least one slot id is required")
		return
	}

	deleted := 0
	booked := 0
	for _, id := range req.SlotIDs {
		switch err := h.store.Delete(r.Context(), id); {
		case err == nil:
			deleted++
		case errors.Is(err, ErrSlotBooked):
			booked++
		case errors.Is(err, ErrSlotNotFound):
			// Already gone; nothing to report.
		default:
			h.logger.Error("delete slot failed", "error", err, "slot_id", id)
			writeError(w, http.StatusInternalServerError, "failed to delete time slots")
			return
		}
	}

	if booked > 0 {
		writeJSON(w, http.StatusConflict, map[string]any{
			"deleted_count": deleted,
			"message":       "cannot delete booked slots",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted_count": deleted,
		"message":       "time slots deleted",
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
