package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/phihealth/appointments-service/internal/db"
)

// Load driver for the booking API. Many workers hammer a small set of
// providers with deliberately colliding time slots, then the appointments
// table is checked for overlapping scheduled pairs. Any overlap means the
// engine let a double booking through.

type SimConfig struct {
	APIBaseURL  string
	Duration    time.Duration
	Workers     int
	CancelRatio float64
	PostgresDSN string
}

func loadSimConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:  getEnv("API_BASE_URL", "http://localhost:8080"),
		Duration:    30 * time.Second,
		Workers:     16,
		CancelRatio: 0.2,
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
	}
	if v := os.Getenv("SIM_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Duration = d
		}
	}
	if v := os.Getenv("SIM_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		}
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type OperationMetrics struct {
	mu        sync.Mutex
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	om.mu.Lock()
	defer om.mu.Unlock()

	om.Total++
	switch {
	case status >= 200 && status < 300:
		om.Success++
	case status == http.StatusConflict:
		om.Conflict++
	default:
		om.Error++
	}
	om.Latencies = append(om.Latencies, latency)
}

func (om *OperationMetrics) Percentile(p int) time.Duration {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(om.Latencies))
	copy(sorted, om.Latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

type appointmentPool struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (p *appointmentPool) Add(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, id)
}

func (p *appointmentPool) Random() (uuid.UUID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ids) == 0 {
		return uuid.Nil, false
	}
	return p.ids[rand.Intn(len(p.ids))], true
}

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	cfg := loadSimConfig()
	if cfg.PostgresDSN == "" {
		log.Fatal().Msg("POSTGRES_DSN is required for provider discovery and the invariant check")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	providers, err := loadProviders(context.Background(), pool, 5)
	if err != nil {
		log.Fatal().Err(err).Msg("load providers")
	}
	if len(providers) == 0 {
		log.Fatal().Msg("no provider schedules found, run the seed first")
	}

	log.Info().
		Int("workers", cfg.Workers).
		Dur("duration", cfg.Duration).
		Int("providers", len(providers)).
		Msg("simulation starting")

	createMetrics := &OperationMetrics{}
	cancelMetrics := &OperationMetrics{}
	created := &appointmentPool{}

	runCtx, stopRun := context.WithTimeout(context.Background(), cfg.Duration)
	defer stopRun()

	client := &http.Client{Timeout: 10 * time.Second}
	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(runCtx, client, cfg, providers, created, createMetrics, cancelMetrics)
		}()
	}
	wg.Wait()

	log.Info().
		Int64("total", createMetrics.Total).
		Int64("booked", createMetrics.Success).
		Int64("conflicts", createMetrics.Conflict).
		Int64("errors", createMetrics.Error).
		Dur("p50", createMetrics.Percentile(50)).
		Dur("p95", createMetrics.Percentile(95)).
		Msg("create results")
	log.Info().
		Int64("total", cancelMetrics.Total).
		Int64("ok", cancelMetrics.Success).
		Int64("errors", cancelMetrics.Error).
		Msg("cancel results")

	overlapping, err := countOverlappingPairs(context.Background(), pool)
	if err != nil {
		log.Fatal().Err(err).Msg("invariant check query")
	}
	if overlapping > 0 {
		log.Error().Int("overlapping_pairs", overlapping).Msg("INVARIANT VIOLATED: double bookings found")
		os.Exit(1)
	}
	log.Info().Msg("invariant holds: no overlapping scheduled appointments")
}

func worker(
	ctx context.Context,
	client *http.Client,
	cfg SimConfig,
	providers []uuid.UUID,
	created *appointmentPool,
	createMetrics, cancelMetrics *OperationMetrics,
) {
	for ctx.Err() == nil {
		if rand.Float64() < cfg.CancelRatio {
			if id, ok := created.Random(); ok {
				doCancel(ctx, client, cfg.APIBaseURL, id, cancelMetrics)
				continue
			}
		}
		doCreate(ctx, client, cfg.APIBaseURL, providers, created, createMetrics)
	}
}

// doCreate books within a narrow band of half-hour starts so collisions are
// frequent.
func doCreate(ctx context.Context, client *http.Client, baseURL string, providers []uuid.UUID, created *appointmentPool, metrics *OperationMetrics) {
	provider := providers[rand.Intn(len(providers))]

	now := time.Now().UTC()
	day := now.AddDate(0, 0, 1+rand.Intn(5))
	start := time.Date(day.Year(), day.Month(), day.Day(), 10+rand.Intn(4), 30*rand.Intn(2), 0, 0, time.UTC)

	body, _ := json.Marshal(map[string]any{
		"patient_id":       uuid.NewString(),
		"provider_id":      provider.String(),
		"start_time":       start.Format(time.RFC3339),
		"appointment_type": "follow_up",
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/appointments", bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	t0 := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			metrics.Record(time.Since(t0), 0)
		}
		return
	}
	defer resp.Body.Close()

	metrics.Record(time.Since(t0), resp.StatusCode)

	if resp.StatusCode == http.StatusCreated {
		var payload struct {
			ID uuid.UUID `json:"id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
			created.Add(payload.ID)
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
}

func doCancel(ctx context.Context, client *http.Client, baseURL string, id uuid.UUID, metrics *OperationMetrics) {
	body, _ := json.Marshal(map[string]any{"reason": "simulation cancel"})
	url := fmt.Sprintf("%s/appointments/%s/cancel", baseURL, id)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	t0 := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			metrics.Record(time.Since(t0), 0)
		}
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	metrics.Record(time.Since(t0), resp.StatusCode)
}

func loadProviders(ctx context.Context, pool *pgxpool.Pool, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, `
		SELECT DISTINCT provider_id
		FROM provider_schedules
		WHERE is_active
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var providers []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		providers = append(providers, id)
	}
	return providers, rows.Err()
}

// countOverlappingPairs is the post-run invariant probe: any two scheduled
// appointments for one provider with intersecting half-open intervals.
func countOverlappingPairs(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var count int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments a
		JOIN appointments b
		  ON a.provider_id = b.provider_id
		 AND a.id < b.id
		 AND a.start_time < b.end_time
		 AND a.end_time > b.start_time
		WHERE a.status = 'scheduled'
		  AND b.status = 'scheduled'
	`).Scan(&count)
	return count, err
}
