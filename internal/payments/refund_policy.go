package payments

import (
	"sort"
	"time"
)

// SelectPolicy picks the refund tier for a refund requested at `now` against
// an appointment starting at `appointmentStart`. Tiers are half-open
// [HoursBeforeMin, HoursBeforeMax) on the lead time, so a request exactly at
// a boundary lands in the more generous tier above it. A tier with a nil
// HoursBeforeMax matches any lead time at or past its minimum.
func SelectPolicy(policies []RefundPolicy, appointmentStart, now time.Time) (*RefundPolicy, error) {
	lead := appointmentStart.Sub(now)
	if lead < 0 {
		lead = 0
	}

	// Most generous tier first so overlapping misconfiguration still
	// resolves deterministically.
	sorted := make([]RefundPolicy, len(policies))
	copy(sorted, policies)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].HoursBeforeMin > sorted[j].HoursBeforeMin
	})

	for i := range sorted {
		p := &sorted[i]
		min := time.Duration(p.HoursBeforeMin) * time.Hour
		if lead < min {
			continue
		}
		if p.HoursBeforeMax != nil && lead >= time.Duration(*p.HoursBeforeMax)*time.Hour {
			continue
		}
		return p, nil
	}
	return nil, ErrNoApplicablePolicy
}

// RefundAmountCents applies the tier percentage, rounding half up.
func RefundAmountCents(amountCents int64, percent int) int64 {
	return (amountCents*int64(percent) + 50) / 100
}

// DefaultPolicies is the stock cancellation schedule: full refund a day or
// more ahead, half between four and twenty-four hours, nothing inside four.
func DefaultPolicies() []RefundPolicy {
	four := 4
	twentyFour := 24
	return []RefundPolicy{
		{HoursBeforeMin: 0, HoursBeforeMax: &four, Percent: 0},
		{HoursBeforeMin: 4, HoursBeforeMax: &twentyFour, Percent: 50},
		{HoursBeforeMin: 24, HoursBeforeMax: nil, Percent: 100},
	}
}
