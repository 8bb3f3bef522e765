package scheduling

import (
	"iter"
	"time"
)

// SlotPlanner enumerates bookable slots for one provider-day. It is pure:
// windows and booked appointments arrive already materialized, so it never
// touches a store and can be exercised directly in tests.
type SlotPlanner struct {
	SlotDuration time.Duration

	// IncludeUnavailable also emits slots that collide with a booked
	// appointment, marked Available=false. Off by default; the standard
	// response carries free slots only.
	IncludeUnavailable bool
}

// Slots walks each active window for the given calendar date in start-time
// order, emitting candidate [t, t+SlotDuration) slots that fit inside the
// window. A slot colliding with a scheduled appointment is skipped (or
// emitted unavailable, see IncludeUnavailable). The sequence is finite and
// restartable.
func (p SlotPlanner) Slots(date time.Time, windows []AvailabilityWindow, booked []Appointment) iter.Seq[TimeSlot] {
	midnight := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())

	return func(yield func(TimeSlot) bool) {
		if p.SlotDuration <= 0 {
			return
		}
		for _, w := range windows {
			if !w.IsActive {
				continue
			}
			start := midnight.Add(w.StartTime.DurationFromMidnight())
			end := midnight.Add(w.EndTime.DurationFromMidnight())

			for t := start; !t.Add(p.SlotDuration).After(end); t = t.Add(p.SlotDuration) {
				slot := TimeSlot{Start: t, End: t.Add(p.SlotDuration), Available: true}
				for _, apt := range booked {
					if apt.Status != StatusScheduled {
						continue
					}
					if overlaps(slot.Start, slot.End, apt.StartTime, apt.EndTime) {
						slot.Available = false
						break
					}
				}
				if !slot.Available && !p.IncludeUnavailable {
					continue
				}
				if !yield(slot) {
					return
				}
			}
		}
	}
}
