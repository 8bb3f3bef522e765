package scheduling

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTOD(t *testing.T, s string) TimeOfDay {
	t.Helper()
	tod, err := ParseTimeOfDay(s)
	require.NoError(t, err)
	return tod
}

func window(t *testing.T, start, end string) AvailabilityWindow {
	t.Helper()
	return AvailabilityWindow{
		ID:         uuid.New(),
		ProviderID: uuid.New(),
		DayOfWeek:  0,
		StartTime:  mustTOD(t, start),
		EndTime:    mustTOD(t, end),
		IsActive:   true,
	}
}

func collect(planner SlotPlanner, date time.Time, windows []AvailabilityWindow, booked []Appointment) []TimeSlot {
	var slots []TimeSlot
	for s := range planner.Slots(date, windows, booked) {
		slots = append(slots, s)
	}
	return slots
}

var monday = time.Date(2026, time.September, 7, 0, 0, 0, 0, time.UTC)

func TestSlots_FullDayNoBookings(t *testing.T) {
	planner := SlotPlanner{SlotDuration: 30 * time.Minute}
	windows := []AvailabilityWindow{window(t, "09:00", "17:00")}

	slots := collect(planner, monday, windows, nil)

	require.Len(t, slots, 16)
	assert.Equal(t, monday.Add(9*time.Hour), slots[0].Start)
	assert.Equal(t, monday.Add(9*time.Hour+30*time.Minute), slots[0].End)
	assert.Equal(t, monday.Add(16*time.Hour+30*time.Minute), slots[15].Start)
	for _, s := range slots {
		assert.True(t, s.Available)
	}
}

func TestSlots_ExcludesBookedInterval(t *testing.T) {
	planner := SlotPlanner{SlotDuration: 30 * time.Minute}
	windows := []AvailabilityWindow{window(t, "09:00", "17:00")}
	booked := []Appointment{{
		StartTime: monday.Add(10 * time.Hour),
		EndTime:   monday.Add(10*time.Hour + 30*time.Minute),
		Status:    StatusScheduled,
	}}

	slots := collect(planner, monday, windows, booked)

	require.Len(t, slots, 15)
	for _, s := range slots {
		assert.False(t, s.Start.Equal(monday.Add(10*time.Hour)), "10:00 slot should be gone")
	}
}

func TestSlots_OffGridBookingBlocksBothSlots(t *testing.T) {
	planner := SlotPlanner{SlotDuration: 30 * time.Minute}
	windows := []AvailabilityWindow{window(t, "09:00", "17:00")}
	// 10:15-10:45 straddles the 10:00 and 10:30 slots.
	booked := []Appointment{{
		StartTime: monday.Add(10*time.Hour + 15*time.Minute),
		EndTime:   monday.Add(10*time.Hour + 45*time.Minute),
		Status:    StatusScheduled,
	}}

	slots := collect(planner, monday, windows, booked)

	require.Len(t, slots, 14)
	for _, s := range slots {
		assert.False(t, s.Start.Equal(monday.Add(10*time.Hour)))
		assert.False(t, s.Start.Equal(monday.Add(10*time.Hour+30*time.Minute)))
	}
}

func TestSlots_TouchingBookingDoesNotBlock(t *testing.T) {
	planner := SlotPlanner{SlotDuration: 30 * time.Minute}
	windows := []AvailabilityWindow{window(t, "09:00", "10:00")}
	// Ends exactly where the 10:00 window ends and starts where 09:30 ends.
	booked := []Appointment{{
		StartTime: monday.Add(9*time.Hour + 30*time.Minute),
		EndTime:   monday.Add(10 * time.Hour),
		Status:    StatusScheduled,
	}}

	slots := collect(planner, monday, windows, booked)

	require.Len(t, slots, 1)
	assert.Equal(t, monday.Add(9*time.Hour), slots[0].Start)
}

func TestSlots_CanceledBookingIgnored(t *testing.T) {
	planner := SlotPlanner{SlotDuration: 30 * time.Minute}
	windows := []AvailabilityWindow{window(t, "09:00", "10:00")}
	booked := []Appointment{{
		StartTime: monday.Add(9 * time.Hour),
		EndTime:   monday.Add(9*time.Hour + 30*time.Minute),
		Status:    StatusCanceled,
	}}

	slots := collect(planner, monday, windows, booked)

	assert.Len(t, slots, 2)
}

func TestSlots_WindowShorterThanSlot(t *testing.T) {
	planner := SlotPlanner{SlotDuration: 30 * time.Minute}
	windows := []AvailabilityWindow{window(t, "09:00", "09:15")}

	assert.Empty(t, collect(planner, monday, windows, nil))
}

func TestSlots_NoWindows(t *testing.T) {
	planner := SlotPlanner{SlotDuration: 30 * time.Minute}

	assert.Empty(t, collect(planner, monday, nil, nil))
}

func TestSlots_InactiveWindowSkipped(t *testing.T) {
	planner := SlotPlanner{SlotDuration: 30 * time.Minute}
	w := window(t, "09:00", "17:00")
	w.IsActive = false

	assert.Empty(t, collect(planner, monday, []AvailabilityWindow{w}, nil))
}

func TestSlots_MultipleWindowsInOrder(t *testing.T) {
	planner := SlotPlanner{SlotDuration: 30 * time.Minute}
	windows := []AvailabilityWindow{
		window(t, "09:00", "12:00"),
		window(t, "13:00", "17:00"),
	}

	slots := collect(planner, monday, windows, nil)

	require.Len(t, slots, 14)
	for i := 1; i < len(slots); i++ {
		assert.True(t, slots[i].Start.After(slots[i-1].Start), "slots must be chronological")
	}
	// Lunch gap: nothing between 12:00 and 13:00.
	for _, s := range slots {
		assert.False(t, s.Start.Equal(monday.Add(12*time.Hour)))
		assert.False(t, s.Start.Equal(monday.Add(12*time.Hour+30*time.Minute)))
	}
}

func TestSlots_IncludeUnavailable(t *testing.T) {
	planner := SlotPlanner{SlotDuration: 30 * time.Minute, IncludeUnavailable: true}
	windows := []AvailabilityWindow{window(t, "09:00", "17:00")}
	booked := []Appointment{{
		StartTime: monday.Add(10 * time.Hour),
		EndTime:   monday.Add(10*time.Hour + 30*time.Minute),
		Status:    StatusScheduled,
	}}

	slots := collect(planner, monday, windows, booked)

	require.Len(t, slots, 16)
	unavailable := 0
	for _, s := range slots {
		if !s.Available {
			unavailable++
			assert.Equal(t, monday.Add(10*time.Hour), s.Start)
		}
	}
	assert.Equal(t, 1, unavailable)
}

func TestSlots_SequenceIsRestartable(t *testing.T) {
	planner := SlotPlanner{SlotDuration: 30 * time.Minute}
	windows := []AvailabilityWindow{window(t, "09:00", "11:00")}
	seq := planner.Slots(monday, windows, nil)

	first := 0
	for range seq {
		first++
	}
	second := 0
	for range seq {
		second++
	}

	assert.Equal(t, 4, first)
	assert.Equal(t, first, second)
}

func TestSlots_EarlyBreak(t *testing.T) {
	planner := SlotPlanner{SlotDuration: 30 * time.Minute}
	windows := []AvailabilityWindow{window(t, "09:00", "17:00")}

	var got []TimeSlot
	for s := range planner.Slots(monday, windows, nil) {
		got = append(got, s)
		if len(got) == 3 {
			break
		}
	}

	require.Len(t, got, 3)
	assert.Equal(t, monday.Add(10*time.Hour), got[2].Start)
}
