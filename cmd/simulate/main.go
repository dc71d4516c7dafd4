package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-flow/internal/config"
	"github.com/hackgods/clinic-flow/internal/db"
	"github.com/hackgods/clinic-flow/internal/logger"
)

// SimConfig drives a contention run against a live api-server. Operation
// weights are normalized, so only their proportions matter.
type SimConfig struct {
	APIBaseURL     string        `envconfig:"SIM_API_BASE_URL" default:"http://localhost:8080"`
	Duration       time.Duration `envconfig:"SIM_DURATION" default:"30s"`
	Workers        int           `envconfig:"SIM_WORKERS" default:"10"`
	Rooms          int           `envconfig:"SIM_ROOMS" default:"5"`
	ScheduleWeight float64       `envconfig:"SIM_SCHEDULE_WEIGHT" default:"0.3"`
	StartWeight    float64       `envconfig:"SIM_START_WEIGHT" default:"0.25"`
	FinalizeWeight float64       `envconfig:"SIM_FINALIZE_WEIGHT" default:"0.15"`
	BookingWeight  float64       `envconfig:"SIM_BOOKING_WEIGHT" default:"0.1"`
	ReadWeight     float64       `envconfig:"SIM_READ_WEIGHT" default:"0.2"`
	PatientLimit   int           `envconfig:"SIM_PATIENT_LIMIT" default:"4000"`
}

type DataPool struct {
	Patients   []uuid.UUID
	Clinicians []uuid.UUID
	Rooms      []uuid.UUID

	mu           sync.RWMutex
	appointments []uuid.UUID
	bookings     []uuid.UUID
}

func (dp *DataPool) add(list *[]uuid.UUID, id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	*list = append(*list, id)
}

func (dp *DataPool) pick(list *[]uuid.UUID, rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(*list) == 0 {
		return uuid.Nil, false
	}
	return (*list)[rng.Intn(len(*list))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err != nil || status >= 500:
		atomic.AddInt64(&om.Error, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	case status < 300:
		atomic.AddInt64(&om.Success, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, worst time.Duration) {
	om.mu.Lock()
	latencies := slices.Clone(om.latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	slices.Sort(latencies)

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	at := func(pct int) time.Duration {
		return latencies[min(len(latencies)*pct/100, len(latencies)-1)]
	}
	return sum / time.Duration(len(latencies)), at(50), at(95), latencies[len(latencies)-1]
}

type Metrics struct {
	Schedule OperationMetrics
	Start    OperationMetrics
	Finalize OperationMetrics
	Booking  OperationMetrics
	Read     OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	base, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	logger.Init(base.Env, base.LogLevel)

	var cfg SimConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatal().Err(err).Msg("simulator config")
	}
	if err := validateConfig(cfg, base); err != nil {
		log.Fatal().Err(err).Msg("invalid simulator config")
	}

	log.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Int("rooms", cfg.Rooms).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, base.PostgresDSN, db.PoolSettings{MaxConns: 4, ApplicationName: "clinic-simulate"})
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("load data pool")
	}

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	if err := sim.createRooms(ctx); err != nil {
		log.Fatal().Err(err).Msg("create rooms")
	}

	log.Info().
		Int("patients", len(dataPool.Patients)).
		Int("clinicians", len(dataPool.Clinicians)).
		Int("rooms", len(dataPool.Rooms)).
		Msg("data pool loaded")

	sim.Run()
	sim.PrintReport()
}

func validateConfig(cfg SimConfig, base config.Config) error {
	if base.Store != config.StorePostgres {
		return fmt.Errorf("the simulator reads patients from postgres; STORE=%s", base.Store)
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Rooms <= 0 {
		return fmt.Errorf("SIM_ROOMS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.ScheduleWeight+cfg.StartWeight+cfg.FinalizeWeight+cfg.BookingWeight+cfg.ReadWeight <= 0 {
		return fmt.Errorf("at least one operation weight must be > 0")
	}
	return nil
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	patients, err := loadIDs(ctx, pool, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	clinicians, err := loadIDs(ctx, pool, `SELECT id FROM clinicians WHERE is_clinician`)
	if err != nil {
		return nil, fmt.Errorf("load clinicians: %w", err)
	}
	if len(patients) == 0 {
		return nil, fmt.Errorf("no patients loaded, run cmd/seed first")
	}
	if len(clinicians) == 0 {
		return nil, fmt.Errorf("no clinicians loaded, run cmd/seed first")
	}
	return &DataPool{Patients: patients, Clinicians: clinicians}, nil
}

// createRooms registers a small set of rooms so that workers collide on them.
func (s *Simulator) createRooms(ctx context.Context) error {
	prefix := "SIM-" + strings.ToUpper(uuid.NewString()[:6])
	for i := 0; i < s.config.Rooms; i++ {
		var out struct {
			ID uuid.UUID `json:"id"`
		}
		status, err := s.call(ctx, http.MethodPost, "/rooms", map[string]any{
			"code":     fmt.Sprintf("%s-%02d", prefix, i+1),
			"capacity": 1,
		}, &out)
		if err != nil {
			return err
		}
		if status != http.StatusCreated {
			return fmt.Errorf("create room: unexpected status %d", status)
		}
		s.pool.Rooms = append(s.pool.Rooms, out.ID)
	}
	return nil
}

func (s *Simulator) call(ctx context.Context, method, path string, body, out any) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	c := s.config
	total := c.ScheduleWeight + c.StartWeight + c.FinalizeWeight + c.BookingWeight + c.ReadWeight
	for ctx.Err() == nil {
		r := rng.Float64() * total
		switch {
		case r < c.ScheduleWeight:
			s.doSchedule(ctx, rng)
		case r < c.ScheduleWeight+c.StartWeight:
			s.doAppointmentAction(ctx, rng, "start", &s.metrics.Start)
		case r < c.ScheduleWeight+c.StartWeight+c.FinalizeWeight:
			s.doAppointmentAction(ctx, rng, "finalize", &s.metrics.Finalize)
		case r < total-c.ReadWeight:
			s.doBooking(ctx, rng)
		default:
			s.doRead(ctx, rng)
		}
	}
}

// doSchedule books an appointment starting now on a random room, so a
// later start contends with every other appointment on that room.
func (s *Simulator) doSchedule(ctx context.Context, rng *rand.Rand) {
	start := time.Now()
	var out struct {
		ID uuid.UUID `json:"id"`
	}
	status, err := s.call(ctx, http.MethodPost, "/appointments", map[string]any{
		"patient_id":      s.pool.Patients[rng.Intn(len(s.pool.Patients))],
		"clinician_id":    s.pool.Clinicians[rng.Intn(len(s.pool.Clinicians))],
		"room_id":         s.pool.Rooms[rng.Intn(len(s.pool.Rooms))],
		"scheduled_start": time.Now().UTC(),
		"planned_minutes": 5 + rng.Intn(40),
	}, &out)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Schedule.Record(time.Since(start), status, err)

	if status == http.StatusCreated && out.ID != uuid.Nil {
		s.pool.add(&s.pool.appointments, out.ID)
	}
}

func (s *Simulator) doAppointmentAction(ctx context.Context, rng *rand.Rand, action string, om *OperationMetrics) {
	id, ok := s.pool.pick(&s.pool.appointments, rng)
	if !ok {
		return
	}

	start := time.Now()
	status, err := s.call(ctx, http.MethodPost, "/appointments/"+id.String()+"/"+action, nil, nil)
	if ctx.Err() != nil {
		return
	}
	om.Record(time.Since(start), status, err)
}

// doBooking either finalizes a booking it created earlier or tries to book
// a random room for the shortest allowed duration.
func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	start := time.Now()

	if id, ok := s.pool.pick(&s.pool.bookings, rng); ok && rng.Intn(2) == 0 {
		status, err := s.call(ctx, http.MethodPost, "/bookings/"+id.String()+"/finalize", nil, nil)
		if ctx.Err() == nil {
			s.metrics.Booking.Record(time.Since(start), status, err)
		}
		return
	}

	roomID := s.pool.Rooms[rng.Intn(len(s.pool.Rooms))]
	var out struct {
		ID uuid.UUID `json:"id"`
	}
	status, err := s.call(ctx, http.MethodPost, "/rooms/"+roomID.String()+"/bookings", map[string]any{
		"duration_minutes": 15,
		"reason":           "simulated cleaning",
	}, &out)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Booking.Record(time.Since(start), status, err)

	if status == http.StatusCreated && out.ID != uuid.Nil {
		s.pool.add(&s.pool.bookings, out.ID)
	}
}

func (s *Simulator) doRead(ctx context.Context, rng *rand.Rand) {
	var path string
	switch rng.Intn(3) {
	case 0:
		id, ok := s.pool.pick(&s.pool.appointments, rng)
		if !ok {
			return
		}
		path = "/appointments/" + id.String()
	case 1:
		path = "/appointments?room_id=" + s.pool.Rooms[rng.Intn(len(s.pool.Rooms))].String()
	default:
		path = "/rooms"
	}

	start := time.Now()
	status, err := s.call(ctx, http.MethodGet, path, nil, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Read.Record(time.Since(start), status, err)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s  Workers: %d  Rooms: %d\n\n", s.config.Duration, s.config.Workers, s.config.Rooms)

	printOperationReport("Schedule", &s.metrics.Schedule)
	printOperationReport("Start", &s.metrics.Start)
	printOperationReport("Finalize", &s.metrics.Finalize)
	printOperationReport("Manual booking", &s.metrics.Booking)
	printOperationReport("Read", &s.metrics.Read)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, worst := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, pct(conflict))
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, pct(failed))
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), worst.Round(time.Millisecond))
}
