package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/phihealth/appointments-service/internal/config"
	"github.com/phihealth/appointments-service/internal/db"
	"github.com/phihealth/appointments-service/internal/scheduling"
)

// Seeds weekly schedules for a batch of fake providers, then books a spread
// of appointments through the engine itself so the seeded data respects the
// no-overlap invariant.

const (
	providerCount           = 25
	appointmentsPerProvider = 10
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
	log.Info().Msg("seed starting")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	repo := scheduling.NewPgRepository(pool)
	// The seeder is a single process, so an in-process lock is enough.
	svc := scheduling.NewService(repo, repo, scheduling.NewMutexLocker(), nil, scheduling.ServiceConfig{
		ServiceName: "appointments-seed",
		Durations: scheduling.DurationTable{
			scheduling.TypeInitial:      cfg.DurationInitial,
			scheduling.TypeFollowUp:     cfg.DurationFollowUp,
			scheduling.TypeTelemedicine: cfg.DurationTelemedicine,
		},
		SlotDuration: cfg.SlotDuration,
	}, log)

	seedCtx := context.Background()
	providers := make([]uuid.UUID, 0, providerCount)
	for i := 0; i < providerCount; i++ {
		providerID := uuid.New()
		providers = append(providers, providerID)
		if err := seedSchedules(seedCtx, svc, providerID); err != nil {
			log.Fatal().Err(err).Str("provider_id", providerID.String()).Msg("seed schedules")
		}
	}
	log.Info().Int("providers", len(providers)).Msg("schedules seeded")

	booked := 0
	for _, providerID := range providers {
		n, err := seedAppointments(seedCtx, svc, providerID)
		if err != nil {
			log.Fatal().Err(err).Str("provider_id", providerID.String()).Msg("seed appointments")
		}
		booked += n
	}
	log.Info().Int("appointments", booked).Msg("seed complete")
}

// seedSchedules gives a provider weekday working hours, with some variation
// so availability queries have shape to chew on.
func seedSchedules(ctx context.Context, svc *scheduling.Service, providerID uuid.UUID) error {
	morningStarts := []string{"08:00", "08:30", "09:00", "10:00"}
	eveningEnds := []string{"16:00", "17:00", "17:30", "18:00"}

	for day := 0; day < 5; day++ {
		start, _ := scheduling.ParseTimeOfDay(morningStarts[gofakeit.Number(0, len(morningStarts)-1)])
		end, _ := scheduling.ParseTimeOfDay(eveningEnds[gofakeit.Number(0, len(eveningEnds)-1)])

		_, err := svc.CreateWindow(ctx, scheduling.CreateWindowParams{
			ProviderID: providerID,
			DayOfWeek:  day,
			StartTime:  start,
			EndTime:    end,
			IsActive:   true,
		})
		if err != nil {
			return err
		}
	}

	// Half the providers also take Saturday mornings.
	if gofakeit.Bool() {
		start, _ := scheduling.ParseTimeOfDay("09:00")
		end, _ := scheduling.ParseTimeOfDay("13:00")
		_, err := svc.CreateWindow(ctx, scheduling.CreateWindowParams{
			ProviderID: providerID,
			DayOfWeek:  5,
			StartTime:  start,
			EndTime:    end,
			IsActive:   true,
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func seedAppointments(ctx context.Context, svc *scheduling.Service, providerID uuid.UUID) (int, error) {
	types := []scheduling.AppointmentType{
		scheduling.TypeInitial,
		scheduling.TypeFollowUp,
		scheduling.TypeTelemedicine,
	}

	booked := 0
	for i := 0; i < appointmentsPerProvider; i++ {
		daysAhead := gofakeit.Number(1, 14)
		hour := gofakeit.Number(9, 15)
		minute := 30 * gofakeit.Number(0, 1)

		now := time.Now().UTC()
		start := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC).
			AddDate(0, 0, daysAhead)

		reason := gofakeit.Sentence(6)
		_, err := svc.CreateAppointment(ctx, scheduling.CreateAppointmentParams{
			PatientID:  uuid.New(),
			ProviderID: providerID,
			StartTime:  start,
			Type:       types[gofakeit.Number(0, len(types)-1)],
			Reason:     &reason,
		})
		if err != nil {
			// Collisions and off-hours picks are expected with random times.
			if errors.Is(err, scheduling.ErrSlotTaken) || errors.Is(err, scheduling.ErrOutOfHours) {
				continue
			}
			return booked, err
		}
		booked++
	}

	return booked, nil
}
