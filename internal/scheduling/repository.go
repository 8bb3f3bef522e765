package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrWindowNotFound      = errors.New("availability window not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// WindowRepository owns the recurring weekly availability windows.
type WindowRepository interface {
	InsertWindow(ctx context.Context, w AvailabilityWindow) (*AvailabilityWindow, error)

	// ListWindows returns a provider's windows for one weekday ordered by
	// start time ascending. dayOfWeek < 0 lists all weekdays.
	ListWindows(ctx context.Context, providerID uuid.UUID, dayOfWeek int, activeOnly bool) ([]AvailabilityWindow, error)
}

// AppointmentRepository owns the appointment records and the overlap query
// the no-double-booking invariant rests on.
type AppointmentRepository interface {
	InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// FindOverlapping returns scheduled appointments for the provider whose
	// [start, end) interval intersects the given half-open interval.
	FindOverlapping(ctx context.Context, providerID uuid.UUID, start, end time.Time) ([]Appointment, error)

	// ListScheduledBetween returns scheduled appointments starting within
	// [from, to), ordered by start time.
	ListScheduledBetween(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Appointment, error)

	// UpdateAppointmentStatus transitions an appointment from one status to
	// another. It fails with ErrAppointmentNotFound when no row matches both
	// the id and the expected current status, which lets callers detect lost
	// races on concurrent transitions. reason, when non-nil, is recorded as
	// the cancellation reason.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, reason *string) (*Appointment, error)

	// FindElapsedScheduled returns scheduled appointments whose end time has
	// passed, for the completion worker.
	FindElapsedScheduled(ctx context.Context, now time.Time) ([]Appointment, error)
}

// Locker guards the check-then-insert critical section per provider.
// Implementations must block until the lock is held or ctx is done.
type Locker interface {
	WithProviderLock(ctx context.Context, providerID uuid.UUID, fn func(ctx context.Context) error) error
}

// EventPublisher carries outbound domain events to the audit/notification
// collaborators. Delivery is best-effort; the engine never rolls back on a
// publish failure.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
}
