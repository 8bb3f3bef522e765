package scheduling

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRepository implements WindowRepository and AppointmentRepository on a
// pgx pool.
type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanWindow(row pgx.Row) (*AvailabilityWindow, error) {
	var w AvailabilityWindow
	var startMinute, endMinute int

	err := row.Scan(
		&w.ID,
		&w.ProviderID,
		&w.DayOfWeek,
		&startMinute,
		&endMinute,
		&w.IsActive,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWindowNotFound
		}
		return nil, err
	}

	w.StartTime = TimeOfDay(startMinute)
	w.EndTime = TimeOfDay(endMinute)
	return &w, nil
}

func (r *PgRepository) InsertWindow(ctx context.Context, w AvailabilityWindow) (*AvailabilityWindow, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO provider_schedules (id, provider_id, day_of_week, start_minute, end_minute, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING id, provider_id, day_of_week, start_minute, end_minute, is_active, created_at, updated_at
	`, w.ID, w.ProviderID, w.DayOfWeek, int(w.StartTime), int(w.EndTime), w.IsActive)

	return scanWindow(row)
}

func (r *PgRepository) ListWindows(ctx context.Context, providerID uuid.UUID, dayOfWeek int, activeOnly bool) ([]AvailabilityWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, provider_id, day_of_week, start_minute, end_minute, is_active, created_at, updated_at
		FROM provider_schedules
		WHERE provider_id = $1
		  AND ($2 < 0 OR day_of_week = $2)
		  AND (NOT $3 OR is_active)
		ORDER BY day_of_week, start_minute
	`, providerID, dayOfWeek, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AvailabilityWindow
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *w)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
