package scheduling

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SlotDuration is the fixed length of every bookable slot.
const SlotDuration = 30 * time.Minute

var (
	ErrSlotNotFound      = errors.New("time slot not found")
	ErrSlotAlreadyBooked = errors.New("time slot is already booked")
	ErrSlotBooked        = errors.New("cannot delete booked slots")
	ErrInvalidMonthRange = errors.New("end month must not be before start month")
	ErrInvalidWindow     = errors.New("window start must be before window end")
	ErrBreakOutsideWindow = errors.New("break window must be inside the working window")
)

// TimeSlot is a fixed-duration bookable interval owned by a doctor.
// EndTime is exclusive.
type TimeSlot struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	StartTime time.Time
	EndTime   time.Time
	IsBooked  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TimeOfDay is a wall-clock time within a working day.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parsed, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("scheduling: invalid time %q, use HH:MM", s)
	}
	return TimeOfDay{Hour: parsed.Hour(), Minute: parsed.Minute()}, nil
}

// Minutes returns minutes past midnight.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

// On anchors the wall-clock time to the given date.
func (t TimeOfDay) On(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour, t.Minute, 0, 0, date.Location())
}

// Window is a half-open [Start, End) wall-clock range.
type Window struct {
	Start TimeOfDay
	End   TimeOfDay
}

// Validate checks that the window is non-empty.
func (w Window) Validate() error {
	if w.Start.Minutes() >= w.End.Minutes() {
		return ErrInvalidWindow
	}
	return nil
}

// Contains reports whether other lies fully inside w.
func (w Window) Contains(other Window) bool {
	return other.Start.Minutes() >= w.Start.Minutes() && other.End.Minutes() <= w.End.Minutes()
}

// ParseWeekday maps a lowercase day name to time.Weekday.
func ParseWeekday(name string) (time.Weekday, error) {
	switch name {
	case "sunday":
		return time.Sunday, nil
	case "monday":
		return time.Monday, nil
	case "tuesday":
		return time.Tuesday, nil
	case "wednesday":
		return time.Wednesday, nil
	case "thursday":
		return time.Thursday, nil
	case "friday":
		return time.Friday, nil
	case "saturday":
		return time.Saturday, nil
	}
	return 0, fmt.Errorf("scheduling: invalid weekday %q", name)
}
