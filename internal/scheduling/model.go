package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentType string

const (
	TypeInitial      AppointmentType = "initial"
	TypeFollowUp     AppointmentType = "follow_up"
	TypeTelemedicine AppointmentType = "telemedicine"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCanceled  AppointmentStatus = "canceled"
	StatusCompleted AppointmentStatus = "completed"
	StatusNoShow    AppointmentStatus = "no_show"
)

// AvailabilityWindow is a recurring weekly interval during which a provider
// accepts appointments. DayOfWeek is Monday-indexed: 0 = Monday, 6 = Sunday.
type AvailabilityWindow struct {
	ID         uuid.UUID
	ProviderID uuid.UUID
	DayOfWeek  int
	StartTime  TimeOfDay
	EndTime    TimeOfDay
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Appointment struct {
	ID                 uuid.UUID
	PatientID          uuid.UUID
	ProviderID         uuid.UUID
	StartTime          time.Time
	EndTime            time.Time
	Type               AppointmentType
	Status             AppointmentStatus
	Reason             *string
	CancellationReason *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TimeSlot is a fixed-duration candidate interval generated for display and
// selection. It is advisory: a booked appointment may span several slots or
// sit off the slot grid entirely.
type TimeSlot struct {
	Start     time.Time
	End       time.Time
	Available bool
}

// DurationTable maps appointment types to their configured length. There is
// no implicit fallback; unknown types fail fast.
type DurationTable map[AppointmentType]time.Duration

func (d DurationTable) Lookup(t AppointmentType) (time.Duration, error) {
	dur, ok := d[t]
	if !ok {
		return 0, ErrUnknownAppointmentType
	}
	return dur, nil
}

// overlaps reports whether [aStart, aEnd) intersects [bStart, bEnd).
// Touching endpoints do not overlap.
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// mondayWeekday converts Go's Sunday-indexed weekday to the Monday-indexed
// form used by AvailabilityWindow.
func mondayWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
