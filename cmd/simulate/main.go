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
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/practicum-scheduling/internal/auth"
	"github.com/hackgods/practicum-scheduling/internal/authz"
	"github.com/hackgods/practicum-scheduling/internal/config"
	"github.com/hackgods/practicum-scheduling/internal/db"
	"github.com/hackgods/practicum-scheduling/internal/directory"
	"github.com/hackgods/practicum-scheduling/internal/logging"
)

type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	Days            int
	BookingRatio    float64
	TransitionRatio float64
	RescheduleRatio float64
	AssignmentLimit int
}

// pairing is one active assignment plus the token of its clinician.
type pairing struct {
	patientID   uuid.UUID
	clinicianID uuid.UUID
	token       string
}

type booked struct {
	id    uuid.UUID
	token string
}

type DataPool struct {
	Pairings []pairing

	mu           sync.RWMutex
	appointments []booked
}

func (dp *DataPool) AddAppointment(b booked) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, b)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (booked, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return booked{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, maxLatency time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	pick := func(pct int) time.Duration {
		idx := len(latencies) * pct / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}
	return sum / time.Duration(len(latencies)), pick(50), pick(95), latencies[len(latencies)-1]
}

type Metrics struct {
	Booking    OperationMetrics
	Transition OperationMetrics
	Reschedule OperationMetrics
	Read       OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	log     *zap.Logger
	metrics Metrics
	start   time.Time
}

func main() {
	base, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logging.Must(base.Log.Level, base.Log.Format).Named("simulate")
	defer func() { _ = log.Sync() }()

	cfg := SimConfig{
		APIBaseURL:      getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:        getDuration("SIM_DURATION", 30*time.Second),
		Workers:         getInt("SIM_WORKERS", 10),
		Days:            getInt("SIM_DAYS", 5),
		BookingRatio:    getFloat("SIM_BOOKING_RATIO", 0.5),
		TransitionRatio: getFloat("SIM_TRANSITION_RATIO", 0.2),
		RescheduleRatio: getFloat("SIM_RESCHEDULE_RATIO", 0.1),
		AssignmentLimit: getInt("SIM_ASSIGNMENT_LIMIT", 500),
	}
	if cfg.Workers <= 0 || cfg.Days <= 0 {
		log.Fatal("SIM_WORKERS and SIM_DAYS must be positive")
	}
	if cfg.BookingRatio+cfg.TransitionRatio+cfg.RescheduleRatio > 1 {
		log.Fatal("operation ratios must not add up to more than 1")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, base.PostgresDSN)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	tokens := auth.NewManager(base.Auth.JWTSecret, base.Auth.Issuer)
	pairings, err := loadPairings(ctx, pgPool, tokens, cfg.AssignmentLimit)
	if err != nil {
		log.Fatal("load assignments", zap.Error(err))
	}
	if len(pairings) == 0 {
		log.Fatal("no active assignments, run cmd/seed first")
	}
	log.Info("loaded assignments", zap.Int("count", len(pairings)))

	sim := &Simulator{
		config: cfg,
		pool:   &DataPool{Pairings: pairings},
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
		start:  time.Now().AddDate(0, 0, 2),
	}

	sim.Run()
	sim.PrintReport()

	overlaps, err := countOverlaps(context.Background(), pgPool)
	if err != nil {
		log.Fatal("overlap check", zap.Error(err))
	}
	fmt.Printf("\noverlapping active appointments: %d\n", overlaps)
	if overlaps > 0 {
		os.Exit(1)
	}
}

func loadPairings(ctx context.Context, pool *pgxpool.Pool, tokens *auth.Manager, limit int) ([]pairing, error) {
	rows, err := pool.Query(ctx, `
		SELECT a.patient_id, a.clinician_id, c.role
		FROM assignments a
		JOIN clinicians c ON c.id = a.clinician_id
		JOIN patients p ON p.id = a.patient_id
		WHERE a.active AND c.active AND p.active
		ORDER BY random()
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	issued := make(map[uuid.UUID]string)
	var out []pairing
	for rows.Next() {
		var p pairing
		var role string
		if err := rows.Scan(&p.patientID, &p.clinicianID, &role); err != nil {
			return nil, err
		}
		token, ok := issued[p.clinicianID]
		if !ok {
			r, err := directory.ParseRole(role)
			if err != nil {
				return nil, err
			}
			token, err = tokens.Issue(authz.Actor{ID: p.clinicianID, Role: r}, time.Hour)
			if err != nil {
				return nil, err
			}
			issued[p.clinicianID] = token
		}
		p.token = token
		out = append(out, p)
	}
	return out, rows.Err()
}

// countOverlaps looks for two non-cancelled appointments of one clinician
// whose windows intersect. The run is broken if it finds any.
func countOverlaps(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments a
		JOIN appointments b
		  ON a.clinician_id = b.clinician_id
		 AND a.id < b.id
		 AND a.status <> 'cancelled'
		 AND b.status <> 'cancelled'
		 AND a.starts_at < b.starts_at + make_interval(mins => b.duration_mins)
		 AND b.starts_at < a.starts_at + make_interval(mins => a.duration_mins)
	`).Scan(&n)
	return n, err
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info("simulation running", zap.Duration("duration", s.config.Duration), zap.Int("workers", s.config.Workers))

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			s.worker(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		roll := rng.Float64()
		switch {
		case roll < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case roll < s.config.BookingRatio+s.config.TransitionRatio:
			s.doTransition(ctx, rng)
		case roll < s.config.BookingRatio+s.config.TransitionRatio+s.config.RescheduleRatio:
			s.doReschedule(ctx, rng)
		default:
			s.doRead(ctx, rng)
		}
	}
}

// randomSlot concentrates load on few hours so bookings collide.
func (s *Simulator) randomSlot(rng *rand.Rand) (string, string) {
	day := s.start.AddDate(0, 0, rng.Intn(s.config.Days)).Format("2006-01-02")
	return day, fmt.Sprintf("%02d:%02d", 9+rng.Intn(10), 30*rng.Intn(2))
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	p := s.pool.Pairings[rng.Intn(len(s.pool.Pairings))]
	date, clock := s.randomSlot(rng)

	body, _ := json.Marshal(map[string]any{
		"patient_id":    p.patientID,
		"clinician_id":  p.clinicianID,
		"date":          date,
		"time":          clock,
		"duration_mins": 50,
		"modality":      "in_person",
	})

	var out struct {
		Data struct {
			ID uuid.UUID `json:"id"`
		} `json:"data"`
	}
	status := s.call(ctx, &s.metrics.Booking, http.MethodPost, "/appointments", p.token, body, &out)
	if status == http.StatusCreated {
		s.pool.AddAppointment(booked{id: out.Data.ID, token: p.token})
	}
}

func (s *Simulator) doTransition(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	states := []string{"confirmed", "completed", "cancelled"}
	body, _ := json.Marshal(map[string]any{
		"state":  states[rng.Intn(len(states))],
		"reason": "simulated",
	})
	s.call(ctx, &s.metrics.Transition, http.MethodPut, "/appointments/"+b.id.String(), b.token, body, nil)
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	date, clock := s.randomSlot(rng)
	body, _ := json.Marshal(map[string]any{"date": date, "time": clock})
	s.call(ctx, &s.metrics.Reschedule, http.MethodPut, "/appointments/"+b.id.String(), b.token, body, nil)
}

func (s *Simulator) doRead(ctx context.Context, rng *rand.Rand) {
	if b, ok := s.pool.RandomAppointment(rng); ok && rng.Intn(2) == 0 {
		s.call(ctx, &s.metrics.Read, http.MethodGet, "/appointments/"+b.id.String(), b.token, nil, nil)
		return
	}
	p := s.pool.Pairings[rng.Intn(len(s.pool.Pairings))]
	date, _ := s.randomSlot(rng)
	path := fmt.Sprintf("/appointments?clinicianId=%s&date=%s&limit=20", p.clinicianID, date)
	s.call(ctx, &s.metrics.Read, http.MethodGet, path, p.token, nil, nil)
}

func (s *Simulator) call(ctx context.Context, om *OperationMetrics, method, path, token string, body []byte, out any) int {
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			om.Record(latency, 0)
		}
		return 0
	}
	defer resp.Body.Close()

	if out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	om.Record(latency, resp.StatusCode)
	return resp.StatusCode
}

func (s *Simulator) PrintReport() {
	fmt.Println(strings.Repeat("=", 72))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 72))
	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Transition", &s.metrics.Transition)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("Read", &s.metrics.Read)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		fmt.Printf("\n%s: no requests\n", name)
		return
	}
	avg, p50, p95, maxLatency := om.Stats()
	fmt.Printf("\n%s\n", name)
	fmt.Printf("  total=%d ok=%d conflict=%d error=%d\n",
		total, atomic.LoadInt64(&om.Success), atomic.LoadInt64(&om.Conflict), atomic.LoadInt64(&om.Error))
	fmt.Printf("  avg=%s p50=%s p95=%s max=%s\n", avg, p50, p95, maxLatency)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
