package scheduling

import (
	"time"

	calendar "crm_automation_backend/internal/calendar/repository"
)

const (
	// slotGranularity is the spacing between candidate start times.
	slotGranularity = 15 * time.Minute

	// maxSlots caps how many candidates a search returns.
	maxSlots = 10
)

// BusinessHours describes the bookable window of an assignee's working day.
// Hours are local to Location.
type BusinessHours struct {
	StartHour   int
	EndHour     int
	WorkingDays []time.Weekday
	Location    *time.Location
}

func (h BusinessHours) isWorkingDay(day time.Weekday) bool {
	for _, d := range h.WorkingDays {
		if d == day {
			return true
		}
	}
	return false
}

// findSlots generates free start times for a call of the given duration
// over the next daysAhead days. Existing events must cover the whole search
// window. Candidates come back earliest first, at most maxSlots of them.
func findSlots(existing []calendar.Event, duration time.Duration, hours BusinessHours, daysAhead int, now time.Time) []time.Time {
	now = now.In(hours.Location)
	slots := make([]time.Time, 0, maxSlots)

	for offset := 0; offset < daysAhead && len(slots) < maxSlots; offset++ {
		day := now.AddDate(0, 0, offset)
		if !hours.isWorkingDay(day.Weekday()) {
			continue
		}

		windowStart := time.Date(day.Year(), day.Month(), day.Day(), hours.StartHour, 0, 0, 0, hours.Location)
		windowEnd := time.Date(day.Year(), day.Month(), day.Day(), hours.EndHour, 0, 0, 0, hours.Location)

		// Today's window starts no earlier than the next slot boundary.
		if offset == 0 {
			if next := roundUpToSlot(now); next.After(windowStart) {
				windowStart = next
			}
		}

		for candidate := windowStart; len(slots) < maxSlots; candidate = candidate.Add(slotGranularity) {
			candidateEnd := candidate.Add(duration)
			if candidateEnd.After(windowEnd) {
				break
			}
			if !overlapsAny(candidate, candidateEnd, existing) {
				slots = append(slots, candidate)
			}
		}
	}

	return slots
}

// overlapsAny reports whether [start, end) intersects any existing event's
// [start, end). Half-open intervals, so back-to-back bookings do not clash.
func overlapsAny(start, end time.Time, existing []calendar.Event) bool {
	for _, ev := range existing {
		if start.Before(ev.EndTime) && end.After(ev.StartTime) {
			return true
		}
	}
	return false
}

// roundUpToSlot advances t to the next slot boundary. A time already on a
// boundary is returned unchanged.
func roundUpToSlot(t time.Time) time.Time {
	rounded := t.Truncate(slotGranularity)
	if rounded.Equal(t) {
		return t
	}
	return rounded.Add(slotGranularity)
}
