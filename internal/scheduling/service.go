package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	RouteAppointmentCreated   = "appointment.created"
	RouteAppointmentCanceled  = "appointment.canceled"
	RouteAppointmentCompleted = "appointment.completed"
	RouteScheduleCreated      = "schedule.created"
)

var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrUnknownAppointmentType = errors.New("unknown appointment type")
	ErrOutOfHours             = errors.New("provider is not working at this time")
	ErrSlotTaken              = errors.New("time slot is already booked")
	ErrScheduleConflict       = errors.New("schedule overlaps an existing window")
)

// AuditEvent is the payload published on successful writes for the external
// audit/notification collaborators.
type AuditEvent struct {
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   uuid.UUID      `json:"resource_id"`
	ActorID      uuid.UUID      `json:"actor_id"`
	ServiceName  string         `json:"service_name"`
	OccurredAt   time.Time      `json:"occurred_at"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type ServiceConfig struct {
	ServiceName  string
	Durations    DurationTable
	SlotDuration time.Duration
}

// Service is the booking engine. It admits appointments against the
// provider's working hours and existing bookings, holding a per-provider
// lock across the check-then-insert sequence so two concurrent callers can
// never both observe a free interval and both book it.
type Service struct {
	windows      WindowRepository
	appointments AppointmentRepository
	locker       Locker
	events       EventPublisher
	planner      SlotPlanner
	durations    DurationTable
	serviceName  string
	log          zerolog.Logger
}

func NewService(
	windows WindowRepository,
	appointments AppointmentRepository,
	locker Locker,
	events EventPublisher,
	cfg ServiceConfig,
	log zerolog.Logger,
) *Service {
	return &Service{
		windows:      windows,
		appointments: appointments,
		locker:       locker,
		events:       events,
		planner:      SlotPlanner{SlotDuration: cfg.SlotDuration},
		durations:    cfg.Durations,
		serviceName:  cfg.ServiceName,
		log:          log,
	}
}

type CreateAppointmentParams struct {
	PatientID  uuid.UUID
	ProviderID uuid.UUID
	StartTime  time.Time
	Type       AppointmentType
	Reason     *string
	ActorID    uuid.UUID
}

// CreateAppointment books an interval for a patient. The working-hours
// check, the overlap check, and the insert run as one critical section under
// the provider's lock.
func (s *Service) CreateAppointment(ctx context.Context, p CreateAppointmentParams) (*Appointment, error) {
	if p.PatientID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient_id is required", ErrInvalidInput)
	}
	if p.ProviderID == uuid.Nil {
		return nil, fmt.Errorf("%w: provider_id is required", ErrInvalidInput)
	}
	if p.StartTime.IsZero() {
		return nil, fmt.Errorf("%w: start_time is required", ErrInvalidInput)
	}

	duration, err := s.durations.Lookup(p.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, p.Type)
	}

	start := p.StartTime.UTC().Truncate(time.Minute)
	end := start.Add(duration)
	if end.Day() != start.Day() {
		// A same-day window can never cover an interval that crosses
		// midnight.
		return nil, ErrOutOfHours
	}

	var created *Appointment

	err = s.locker.WithProviderLock(ctx, p.ProviderID, func(lockCtx context.Context) error {
		if err := s.checkWorkingHours(lockCtx, p.ProviderID, start, end); err != nil {
			return err
		}

		clashing, err := s.appointments.FindOverlapping(lockCtx, p.ProviderID, start, end)
		if err != nil {
			return fmt.Errorf("check overlapping appointments: %w", err)
		}
		if len(clashing) > 0 {
			return ErrSlotTaken
		}

		appt, err := s.appointments.InsertAppointment(lockCtx, Appointment{
			ID:         uuid.New(),
			PatientID:  p.PatientID,
			ProviderID: p.ProviderID,
			StartTime:  start,
			EndTime:    end,
			Type:       p.Type,
			Status:     StatusScheduled,
			Reason:     p.Reason,
		})
		if err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}

		created = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", created.ID.String()).
		Str("provider_id", p.ProviderID.String()).
		Time("start", created.StartTime).
		Msg("appointment created")

	s.publishAudit(ctx, RouteAppointmentCreated, AuditEvent{
		Action:       "CREATE",
		ResourceType: "appointment",
		ResourceID:   created.ID,
		ActorID:      p.ActorID,
		Metadata: map[string]any{
			"provider_id": p.ProviderID.String(),
			"patient_id":  p.PatientID.String(),
			"type":        string(p.Type),
		},
	})

	return created, nil
}

// checkWorkingHours requires a single active window that covers the whole
// requested interval on its weekday.
func (s *Service) checkWorkingHours(ctx context.Context, providerID uuid.UUID, start, end time.Time) error {
	windows, err := s.windows.ListWindows(ctx, providerID, mondayWeekday(start), true)
	if err != nil {
		return fmt.Errorf("list availability windows: %w", err)
	}

	startTOD := TimeOfDayFrom(start)
	endTOD := TimeOfDayFrom(end)
	for _, w := range windows {
		if w.StartTime <= startTOD && w.EndTime >= endTOD {
			return nil
		}
	}
	return ErrOutOfHours
}

// CancelAppointment transitions an appointment to canceled and frees its
// interval. Canceling an already-canceled appointment is a no-op returning
// the current record.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID, reason *string, actorID uuid.UUID) (*Appointment, error) {
	appt, err := s.appointments.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status == StatusCanceled {
		return appt, nil
	}

	updated, err := s.appointments.UpdateAppointmentStatus(ctx, id, appt.Status, StatusCanceled, reason)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Lost a race against another transition; re-read and treat an
			// observed cancel as our own (last write wins on status).
			current, getErr := s.appointments.GetAppointmentByID(ctx, id)
			if getErr == nil && current.Status == StatusCanceled {
				return current, nil
			}
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	s.log.Info().
		Str("appointment_id", id.String()).
		Msg("appointment canceled")

	s.publishAudit(ctx, RouteAppointmentCanceled, AuditEvent{
		Action:       "UPDATE",
		ResourceType: "appointment",
		ResourceID:   id,
		ActorID:      actorID,
		Metadata: map[string]any{
			"status": string(StatusCanceled),
			"reason": derefOrEmpty(reason),
		},
	})

	return updated, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetAppointmentByID(ctx, id)
}

// GetAvailability returns the free slots for a provider on a calendar date.
func (s *Service) GetAvailability(ctx context.Context, providerID uuid.UUID, date time.Time) ([]TimeSlot, error) {
	if providerID == uuid.Nil {
		return nil, fmt.Errorf("%w: provider_id is required", ErrInvalidInput)
	}

	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)

	windows, err := s.windows.ListWindows(ctx, providerID, mondayWeekday(day), true)
	if err != nil {
		return nil, fmt.Errorf("list availability windows: %w", err)
	}
	if len(windows) == 0 {
		return []TimeSlot{}, nil
	}

	booked, err := s.appointments.ListScheduledBetween(ctx, providerID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("list booked appointments: %w", err)
	}

	slots := []TimeSlot{}
	for slot := range s.planner.Slots(day, windows, booked) {
		slots = append(slots, slot)
	}
	return slots, nil
}

type CreateWindowParams struct {
	ProviderID uuid.UUID
	DayOfWeek  int
	StartTime  TimeOfDay
	EndTime    TimeOfDay
	IsActive   bool
	ActorID    uuid.UUID
}

// CreateWindow adds a recurring availability window, rejecting any overlap
// with an existing active window for the same provider and weekday.
func (s *Service) CreateWindow(ctx context.Context, p CreateWindowParams) (*AvailabilityWindow, error) {
	if p.ProviderID == uuid.Nil {
		return nil, fmt.Errorf("%w: provider_id is required", ErrInvalidInput)
	}
	if p.DayOfWeek < 0 || p.DayOfWeek > 6 {
		return nil, fmt.Errorf("%w: day_of_week must be 0..6", ErrInvalidInput)
	}
	if !p.StartTime.Valid() || !p.EndTime.Valid() || p.StartTime >= p.EndTime {
		return nil, fmt.Errorf("%w: start_time must be before end_time", ErrInvalidInput)
	}

	var created *AvailabilityWindow

	err := s.locker.WithProviderLock(ctx, p.ProviderID, func(lockCtx context.Context) error {
		existing, err := s.windows.ListWindows(lockCtx, p.ProviderID, p.DayOfWeek, true)
		if err != nil {
			return fmt.Errorf("list availability windows: %w", err)
		}
		for _, w := range existing {
			if p.StartTime < w.EndTime && p.EndTime > w.StartTime {
				return ErrScheduleConflict
			}
		}

		win, err := s.windows.InsertWindow(lockCtx, AvailabilityWindow{
			ID:         uuid.New(),
			ProviderID: p.ProviderID,
			DayOfWeek:  p.DayOfWeek,
			StartTime:  p.StartTime,
			EndTime:    p.EndTime,
			IsActive:   p.IsActive,
		})
		if err != nil {
			return fmt.Errorf("insert availability window: %w", err)
		}

		created = win
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("window_id", created.ID.String()).
		Str("provider_id", p.ProviderID.String()).
		Int("day_of_week", p.DayOfWeek).
		Msg("availability window created")

	s.publishAudit(ctx, RouteScheduleCreated, AuditEvent{
		Action:       "CREATE",
		ResourceType: "schedule",
		ResourceID:   created.ID,
		ActorID:      p.ActorID,
		Metadata: map[string]any{
			"provider_id": p.ProviderID.String(),
			"day":         p.DayOfWeek,
			"start":       p.StartTime.String(),
		},
	})

	return created, nil
}

// ListWindows lists a provider's windows for one weekday, or for the whole
// week when dayOfWeek is negative.
func (s *Service) ListWindows(ctx context.Context, providerID uuid.UUID, dayOfWeek int, activeOnly bool) ([]AvailabilityWindow, error) {
	if dayOfWeek > 6 {
		return nil, fmt.Errorf("%w: day_of_week must be 0..6", ErrInvalidInput)
	}
	return s.windows.ListWindows(ctx, providerID, dayOfWeek, activeOnly)
}

// CompleteElapsedAppointments transitions scheduled appointments whose end
// time has passed to completed. Intended to run periodically from the
// completion worker.
func (s *Service) CompleteElapsedAppointments(ctx context.Context) error {
	elapsed, err := s.appointments.FindElapsedScheduled(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("find elapsed appointments: %w", err)
	}

	for _, appt := range elapsed {
		if _, err := s.appointments.UpdateAppointmentStatus(ctx, appt.ID, StatusScheduled, StatusCompleted, nil); err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				// Transitioned concurrently, nothing to do.
				continue
			}
			s.log.Error().Err(err).
				Str("appointment_id", appt.ID.String()).
				Msg("failed to complete appointment")
			continue
		}
		s.publishAudit(ctx, RouteAppointmentCompleted, AuditEvent{
			Action:       "UPDATE",
			ResourceType: "appointment",
			ResourceID:   appt.ID,
			Metadata:     map[string]any{"status": string(StatusCompleted)},
		})
	}
	return nil
}

// publishAudit emits a domain event at most once. Failures are logged and
// dropped; they never affect the write that triggered them.
func (s *Service) publishAudit(ctx context.Context, routingKey string, ev AuditEvent) {
	if s.events == nil {
		return
	}

	ev.ServiceName = s.serviceName
	ev.OccurredAt = time.Now().UTC()

	payload, err := json.Marshal(ev)
	if err != nil {
		s.log.Error().Err(err).Str("routing_key", routingKey).Msg("failed to marshal audit event")
		return
	}
	if err := s.events.Publish(ctx, routingKey, payload); err != nil {
		s.log.Warn().Err(err).Str("routing_key", routingKey).Msg("failed to publish audit event")
	}
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
