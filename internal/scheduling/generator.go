package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// GenerateParams describes a bulk slot generation request: a contiguous
// month range, the weekdays the doctor works, a daily working window, and
// an optional break window inside it.
type GenerateParams struct {
	DoctorID   uuid.UUID
	StartMonth time.Time // any instant inside the first month
	EndMonth   time.Time // any instant inside the last month, inclusive
	Weekdays   []time.Weekday
	Working    Window
	Break      *Window
	Now        time.Time
}

// Generate produces candidate 30-minute slots for every matching weekday in
// the month range. A slot is skipped when it intersects the break window
// even partially, when its start is at or before Now, or when the trailing
// remainder of the working window is shorter than a full slot.
//
// Generate performs no overlap check against slots already persisted for
// the doctor; callers pair it with Repository.HasOverlap.
func Generate(p GenerateParams) ([]TimeSlot, error) {
	first := firstOfMonth(p.StartMonth)
	lastExclusive := firstOfMonth(p.EndMonth).AddDate(0, 1, 0)
	if lastExclusive.Before(first) || firstOfMonth(p.EndMonth).Before(first) {
		return nil, ErrInvalidMonthRange
	}

	if err := p.Working.Validate(); err != nil {
		return nil, err
	}
	if p.Break != nil {
		if err := p.Break.Validate(); err != nil {
			return nil, err
		}
		if !p.Working.Contains(*p.Break) {
			return nil, ErrBreakOutsideWindow
		}
	}

	workdays := make(map[time.Weekday]bool, len(p.Weekdays))
	for _, d := range p.Weekdays {
		workdays[d] = true
	}

	step := int(SlotDuration / time.Minute)
	var slots []TimeSlot
	for day := first; day.Before(lastExclusive); day = day.AddDate(0, 0, 1) {
		if !workdays[day.Weekday()] {
			continue
		}
		for m := p.Working.Start.Minutes(); m+step <= p.Working.End.Minutes(); m += step {
			start := day.Add(time.Duration(m) * time.Minute)
			end := start.Add(SlotDuration)
			if p.Break != nil && intersectsBreak(m, m+step, *p.Break) {
				continue
			}
			if !start.After(p.Now) {
				continue
			}
			slots = append(slots, TimeSlot{
				ID:        uuid.New(),
				DoctorID:  p.DoctorID,
				StartTime: start,
				EndTime:   end,
			})
		}
	}
	return slots, nil
}

// intersectsBreak reports whether a slot touches the break window. A slot
// ending exactly at the break start still counts as intersecting, so the
// last slot before a break never abuts it; a slot starting at the break
// end is fine.
func intersectsBreak(startMin, endMin int, brk Window) bool {
	return startMin < brk.End.Minutes() && brk.Start.Minutes() <= endMin
}

func firstOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
