package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process WindowRepository and
// AppointmentRepository, used in tests and as a stand-in where Postgres is
// not available.
type MemoryRepository struct {
	mu           sync.RWMutex
	windows      map[uuid.UUID]AvailabilityWindow
	appointments map[uuid.UUID]Appointment
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		windows:      make(map[uuid.UUID]AvailabilityWindow),
		appointments: make(map[uuid.UUID]Appointment),
	}
}

func (m *MemoryRepository) InsertWindow(_ context.Context, w AvailabilityWindow) (*AvailabilityWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	w.CreatedAt = now
	w.UpdatedAt = now
	m.windows[w.ID] = w
	return &w, nil
}

func (m *MemoryRepository) ListWindows(_ context.Context, providerID uuid.UUID, dayOfWeek int, activeOnly bool) ([]AvailabilityWindow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []AvailabilityWindow
	for _, w := range m.windows {
		if w.ProviderID != providerID {
			continue
		}
		if dayOfWeek >= 0 && w.DayOfWeek != dayOfWeek {
			continue
		}
		if activeOnly && !w.IsActive {
			continue
		}
		result = append(result, w)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].DayOfWeek != result[j].DayOfWeek {
			return result[i].DayOfWeek < result[j].DayOfWeek
		}
		return result[i].StartTime < result[j].StartTime
	})
	return result, nil
}

func (m *MemoryRepository) InsertAppointment(_ context.Context, a Appointment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	m.appointments[a.ID] = a
	return &a, nil
}

func (m *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *MemoryRepository) FindOverlapping(_ context.Context, providerID uuid.UUID, start, end time.Time) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Appointment
	for _, a := range m.appointments {
		if a.ProviderID != providerID || a.Status != StatusScheduled {
			continue
		}
		if overlaps(a.StartTime, a.EndTime, start, end) {
			result = append(result, a)
		}
	}
	sortByStart(result)
	return result, nil
}

func (m *MemoryRepository) ListScheduledBetween(_ context.Context, providerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Appointment
	for _, a := range m.appointments {
		if a.ProviderID != providerID || a.Status != StatusScheduled {
			continue
		}
		if !a.StartTime.Before(from) && a.StartTime.Before(to) {
			result = append(result, a)
		}
	}
	sortByStart(result)
	return result, nil
}

func (m *MemoryRepository) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus, reason *string) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	if reason != nil {
		a.CancellationReason = reason
	}
	a.UpdatedAt = time.Now().UTC()
	m.appointments[id] = a
	return &a, nil
}

func (m *MemoryRepository) FindElapsedScheduled(_ context.Context, now time.Time) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Appointment
	for _, a := range m.appointments {
		if a.Status == StatusScheduled && a.EndTime.Before(now) {
			result = append(result, a)
		}
	}
	sortByStart(result)
	return result, nil
}

func sortByStart(appts []Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		return appts[i].StartTime.Before(appts[j].StartTime)
	})
}

// MutexLocker serializes the booking critical section per provider with
// in-process mutexes. Sufficient for a single instance; multi-instance
// deployments use the Redis locker instead.
type MutexLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewMutexLocker() *MutexLocker {
	return &MutexLocker{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (l *MutexLocker) WithProviderLock(ctx context.Context, providerID uuid.UUID, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[providerID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[providerID] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}
