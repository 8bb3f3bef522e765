package scheduling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	err    error
	events []string
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, routingKey)
	return nil
}

func (p *recordingPublisher) Routes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func testDurations() DurationTable {
	return DurationTable{
		TypeInitial:      60 * time.Minute,
		TypeFollowUp:     30 * time.Minute,
		TypeTelemedicine: 30 * time.Minute,
	}
}

func newTestService(t *testing.T) (*Service, *MemoryRepository, *recordingPublisher) {
	t.Helper()
	repo := NewMemoryRepository()
	pub := &recordingPublisher{}
	svc := NewService(repo, repo, NewMutexLocker(), pub, ServiceConfig{
		ServiceName:  "appointments-test",
		Durations:    testDurations(),
		SlotDuration: 30 * time.Minute,
	}, zerolog.Nop())
	return svc, repo, pub
}

// addWindow seeds a Monday 09:00-17:00 style window directly in the store.
func addWindow(t *testing.T, repo *MemoryRepository, providerID uuid.UUID, day int, start, end string) {
	t.Helper()
	_, err := repo.InsertWindow(context.Background(), AvailabilityWindow{
		ID:         uuid.New(),
		ProviderID: providerID,
		DayOfWeek:  day,
		StartTime:  mustTOD(t, start),
		EndTime:    mustTOD(t, end),
		IsActive:   true,
	})
	require.NoError(t, err)
}

func TestCreateAppointment_Succeeds(t *testing.T) {
	svc, repo, pub := newTestService(t)
	provider := uuid.New()
	addWindow(t, repo, provider, 0, "09:00", "17:00")

	reason := "annual check"
	appt, err := svc.CreateAppointment(context.Background(), CreateAppointmentParams{
		PatientID:  uuid.New(),
		ProviderID: provider,
		StartTime:  monday.Add(10 * time.Hour),
		Type:       TypeFollowUp,
		Reason:     &reason,
	})

	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, appt.Status)
	assert.Equal(t, monday.Add(10*time.Hour), appt.StartTime)
	assert.Equal(t, monday.Add(10*time.Hour+30*time.Minute), appt.EndTime)
	assert.Contains(t, pub.Routes(), RouteAppointmentCreated)
}

func TestCreateAppointment_DurationPerType(t *testing.T) {
	svc, repo, _ := newTestService(t)
	provider := uuid.New()
	addWindow(t, repo, provider, 0, "09:00", "17:00")

	cases := []struct {
		appointmentType AppointmentType
		want            time.Duration
		start           time.Time
	}{
		{TypeInitial, 60 * time.Minute, monday.Add(9 * time.Hour)},
		{TypeFollowUp, 30 * time.Minute, monday.Add(11 * time.Hour)},
		{TypeTelemedicine, 30 * time.Minute, monday.Add(13 * time.Hour)},
	}
	for _, tc := range cases {
		appt, err := svc.CreateAppointment(context.Background(), CreateAppointmentParams{
			PatientID:  uuid.New(),
			ProviderID: provider,
			StartTime:  tc.start,
			Type:       tc.appointmentType,
		})
		require.NoError(t, err)
		assert.Equal(t, tc.want, appt.EndTime.Sub(appt.StartTime))
	}
}

func TestCreateAppointment_UnknownTypeRejected(t *testing.T) {
	svc, repo, _ := newTestService(t)
	provider := uuid.New()
	addWindow(t, repo, provider, 0, "09:00", "17:00")

	_, err := svc.CreateAppointment(context.Background(), CreateAppointmentParams{
		PatientID:  uuid.New(),
		ProviderID: provider,
		StartTime:  monday.Add(10 * time.Hour),
		Type:       AppointmentType("walk_in"),
	})

	assert.ErrorIs(t, err, ErrUnknownAppointmentType)
}

func TestCreateAppointment_OutOfHours(t *testing.T) {
	svc, repo, _ := newTestService(t)
	provider := uuid.New()
	addWindow(t, repo, provider, 0, "09:00", "17:00")

	// A 60-minute initial starting 08:00 is before the window opens.
	_, err := svc.CreateAppointment(context.Background(), CreateAppointmentParams{
		PatientID:  uuid.New(),
		ProviderID: provider,
		StartTime:  monday.Add(8 * time.Hour),
		Type:       TypeInitial,
	})
	assert.ErrorIs(t, err, ErrOutOfHours)

	// Starting inside the window but spilling past its end is also out.
	_, err = svc.CreateAppointment(context.Background(), CreateAppointmentParams{
		PatientID:  uuid.New(),
		ProviderID: provider,
		StartTime:  monday.Add(16*time.Hour + 30*time.Minute),
		Type:       TypeInitial,
	})
	assert.ErrorIs(t, err, ErrOutOfHours)

	// Wrong weekday entirely.
	_, err = svc.CreateAppointment(context.Background(), CreateAppointmentParams{
		PatientID:  uuid.New(),
		ProviderID: provider,
		StartTime:  monday.AddDate(0, 0, 1).Add(10 * time.Hour),
		Type:       TypeFollowUp,
	})
	assert.ErrorIs(t, err, ErrOutOfHours)
}

func TestCreateAppointment_OverlapRejected(t *testing.T) {
	svc, repo, _ := newTestService(t)
	provider := uuid.New()
	addWindow(t, repo, provider, 0, "09:00", "17:00")

	_, err := svc.CreateAppointment(context.Background(), CreateAppointmentParams{
		PatientID:  uuid.New(),
		ProviderID: provider,
		StartTime:  monday.Add(10 * time.Hour),
		Type:       TypeFollowUp,
	})
	require.NoError(t, err)

	// 10:15-10:45 overlaps 10:00-10:30.
	_, err = svc.CreateAppointment(context.Background(), CreateAppointmentParams{
		PatientID:  uuid.New(),
		ProviderID: provider,
		StartTime:  monday.Add(10*time.Hour + 15*time.Minute),
		Type:       TypeFollowUp,
	})
	assert.ErrorIs(t, err, ErrSlotTaken)

	// Touching intervals do not conflict.
	_, err = svc.CreateAppointment(context.Background(), CreateAppointmentParams{
		PatientID:  uuid.New(),
		ProviderID: provider,
		StartTime:  monday.Add(10*time.Hour + 30*time.Minute),
		Type:       TypeFollowUp,
	})
	assert.NoError(t, err)
}

func TestCancelAppointment_FreesSlotAndIsIdempotent(t *testing.T) {
	svc, repo, pub := newTestService(t)
	provider := uuid.New()
	addWindow(t, repo, provider, 0, "09:00", "17:00")

	appt, err := svc.CreateAppointment(context.Background(), CreateAppointmentParams{
		PatientID:  uuid.New(),
		ProviderID: provider,
		StartTime:  monday.Add(10 * time.Hour),
		Type:       TypeFollowUp,
	})
	require.NoError(t, err)

	reason := "patient request"
	canceled, err := svc.CancelAppointment(context.Background(), appt.ID, &reason, uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, canceled.Status)
	require.NotNil(t, canceled.CancellationReason)
	assert.Equal(t, reason, *canceled.CancellationReason)
	assert.Contains(t, pub.Routes(), RouteAppointmentCanceled)

	// Second cancel is a no-op returning the same terminal record.
	again, err := svc.CancelAppointment(context.Background(), appt.ID, nil, uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, canceled.Status, again.Status)
	assert.Equal(t, canceled.CancellationReason, again.CancellationReason)

	// The freed interval is bookable again.
	_, err = svc.CreateAppointment(context.Background(), CreateAppointmentParams{
		PatientID:  uuid.New(),
		ProviderID: provider,
		StartTime:  monday.Add(10*time.Hour + 15*time.Minute),
		Type:       TypeFollowUp,
	})
	assert.NoError(t, err)
}

func TestCancelAppointment_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.CancelAppointment(context.Background(), uuid.New(), nil, uuid.Nil)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestConcurrentCreate_ExactlyOneWins(t *testing.T) {
	svc, repo, _ := newTestService(t)
	provider := uuid.New()
	addWindow(t, repo, provider, 0, "09:00", "17:00")

	const callers = 16
	results := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateAppointment(context.Background(), CreateAppointmentParams{
				PatientID:  uuid.New(),
				ProviderID: provider,
				StartTime:  monday.Add(10 * time.Hour),
				Type:       TypeFollowUp,
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, taken int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrSlotTaken):
			taken++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, callers-1, taken)

	stored, err := repo.FindOverlapping(context.Background(), provider,
		monday.Add(10*time.Hour), monday.Add(10*time.Hour+30*time.Minute))
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestGetAvailability_ReflectsBookings(t *testing.T) {
	svc, repo, _ := newTestService(t)
	provider := uuid.New()
	addWindow(t, repo, provider, 0, "09:00", "17:00")

	slots, err := svc.GetAvailability(context.Background(), provider, monday)
	require.NoError(t, err)
	require.Len(t, slots, 16)

	// Book the first advertised slot; it must be accepted.
	_, err = svc.CreateAppointment(context.Background(), CreateAppointmentParams{
		PatientID:  uuid.New(),
		ProviderID: provider,
		StartTime:  slots[0].Start,
		Type:       TypeFollowUp,
	})
	require.NoError(t, err)

	after, err := svc.GetAvailability(context.Background(), provider, monday)
	require.NoError(t, err)
	require.Len(t, after, 15)
	assert.False(t, after[0].Start.Equal(slots[0].Start))
}

func TestGetAvailability_NoWindowsForWeekday(t *testing.T) {
	svc, repo, _ := newTestService(t)
	provider := uuid.New()
	addWindow(t, repo, provider, 0, "09:00", "17:00")

	sunday := monday.AddDate(0, 0, 6)
	slots, err := svc.GetAvailability(context.Background(), provider, sunday)
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestCreateWindow_OverlapRules(t *testing.T) {
	svc, _, pub := newTestService(t)
	provider := uuid.New()

	_, err := svc.CreateWindow(context.Background(), CreateWindowParams{
		ProviderID: provider,
		DayOfWeek:  0,
		StartTime:  mustTOD(t, "09:00"),
		EndTime:    mustTOD(t, "12:00"),
		IsActive:   true,
	})
	require.NoError(t, err)
	assert.Contains(t, pub.Routes(), RouteScheduleCreated)

	// Overlapping interval on the same day is rejected.
	_, err = svc.CreateWindow(context.Background(), CreateWindowParams{
		ProviderID: provider,
		DayOfWeek:  0,
		StartTime:  mustTOD(t, "11:00"),
		EndTime:    mustTOD(t, "15:00"),
		IsActive:   true,
	})
	assert.ErrorIs(t, err, ErrScheduleConflict)

	// Touching endpoints are fine.
	_, err = svc.CreateWindow(context.Background(), CreateWindowParams{
		ProviderID: provider,
		DayOfWeek:  0,
		StartTime:  mustTOD(t, "12:00"),
		EndTime:    mustTOD(t, "17:00"),
		IsActive:   true,
	})
	assert.NoError(t, err)

	// Same interval on another weekday is fine.
	_, err = svc.CreateWindow(context.Background(), CreateWindowParams{
		ProviderID: provider,
		DayOfWeek:  1,
		StartTime:  mustTOD(t, "09:00"),
		EndTime:    mustTOD(t, "12:00"),
		IsActive:   true,
	})
	assert.NoError(t, err)
}

func TestCreateWindow_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)
	provider := uuid.New()

	_, err := svc.CreateWindow(context.Background(), CreateWindowParams{
		ProviderID: provider,
		DayOfWeek:  7,
		StartTime:  mustTOD(t, "09:00"),
		EndTime:    mustTOD(t, "17:00"),
	})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.CreateWindow(context.Background(), CreateWindowParams{
		ProviderID: provider,
		DayOfWeek:  0,
		StartTime:  mustTOD(t, "17:00"),
		EndTime:    mustTOD(t, "09:00"),
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestListWindows_OrderedByStart(t *testing.T) {
	svc, _, _ := newTestService(t)
	provider := uuid.New()

	for _, span := range [][2]string{{"13:00", "17:00"}, {"09:00", "12:00"}} {
		_, err := svc.CreateWindow(context.Background(), CreateWindowParams{
			ProviderID: provider,
			DayOfWeek:  0,
			StartTime:  mustTOD(t, span[0]),
			EndTime:    mustTOD(t, span[1]),
			IsActive:   true,
		})
		require.NoError(t, err)
	}

	windows, err := svc.ListWindows(context.Background(), provider, 0, true)
	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.Equal(t, mustTOD(t, "09:00"), windows[0].StartTime)
	assert.Equal(t, mustTOD(t, "13:00"), windows[1].StartTime)
}

func TestPublishFailureDoesNotFailWrite(t *testing.T) {
	repo := NewMemoryRepository()
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc := NewService(repo, repo, NewMutexLocker(), pub, ServiceConfig{
		ServiceName:  "appointments-test",
		Durations:    testDurations(),
		SlotDuration: 30 * time.Minute,
	}, zerolog.Nop())

	provider := uuid.New()
	addWindow(t, repo, provider, 0, "09:00", "17:00")

	appt, err := svc.CreateAppointment(context.Background(), CreateAppointmentParams{
		PatientID:  uuid.New(),
		ProviderID: provider,
		StartTime:  monday.Add(10 * time.Hour),
		Type:       TypeFollowUp,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, appt.Status)
}

func TestCompleteElapsedAppointments(t *testing.T) {
	svc, repo, pub := newTestService(t)
	provider := uuid.New()

	past := time.Now().UTC().Add(-2 * time.Hour)
	appt, err := repo.InsertAppointment(context.Background(), Appointment{
		ID:         uuid.New(),
		PatientID:  uuid.New(),
		ProviderID: provider,
		StartTime:  past,
		EndTime:    past.Add(30 * time.Minute),
		Type:       TypeFollowUp,
		Status:     StatusScheduled,
	})
	require.NoError(t, err)

	require.NoError(t, svc.CompleteElapsedAppointments(context.Background()))

	updated, err := repo.GetAppointmentByID(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, updated.Status)
	assert.Contains(t, pub.Routes(), RouteAppointmentCompleted)
}
