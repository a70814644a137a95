package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/servigo/booking-engine/internal/config"
	"github.com/servigo/booking-engine/internal/db"
)

// The simulator hammers a deliberately small slot pool with concurrent
// booking requests. Every slot must end up booked exactly once: duplicate
// successes mean the locking discipline is broken.
type SimConfig struct {
	APIBaseURL  string
	Duration    time.Duration
	Workers     int
	BookRatio   float64
	CancelRatio float64
	ReadRatio   float64
	ClientLimit int
	SlotLimit   int
	PostgresDSN string
}

type DataPool struct {
	Clients []uuid.UUID
	Slots   []uuid.UUID

	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment() (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rand.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total    int64
	Success  int64
	Conflict int64
	Error    int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.latencies) == 0 {
		return 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.latencies))
	copy(latencies, om.latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	p50 = latencies[len(latencies)*50/100]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	max = latencies[len(latencies)-1]
	return avg, p50, p95, max
}

type Metrics struct {
	Book   OperationMetrics
	Cancel OperationMetrics
	List   OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d book=%.2f cancel=%.2f read=%.2f",
		cfg.Duration, cfg.Workers, cfg.BookRatio, cfg.CancelRatio, cfg.ReadRatio)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}

	log.Printf("loaded: %d clients, %d open slots", len(dataPool.Clients), len(dataPool.Slots))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	sim.Run()
	sim.PrintReport()

	if err := verifyNoDoubleBookings(context.Background(), pgPool); err != nil {
		log.Fatalf("INVARIANT VIOLATED: %v", err)
	}
	log.Println("invariant holds: no slot has more than one active appointment")
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:  getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:    getDuration("SIM_DURATION", 30*time.Second),
		Workers:     getInt("SIM_WORKERS", 20),
		BookRatio:   getFloat("SIM_BOOK_RATIO", 0.6),
		CancelRatio: getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:   getFloat("SIM_READ_RATIO", 0.3),
		ClientLimit: getInt("SIM_CLIENT_LIMIT", 2000),
		SlotLimit:   getInt("SIM_SLOT_LIMIT", 200),
		PostgresDSN: baseCfg.PostgresDSN,
	}

	total := cfg.BookRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM clients LIMIT $1`, cfg.ClientLimit)
	if err != nil {
		return nil, fmt.Errorf("load clients: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dataPool.Clients = append(dataPool.Clients, id)
	}

	rows, err = pool.Query(ctx, `
		SELECT id FROM slots
		WHERE status = 'available' AND start_time > now()
		ORDER BY start_time
		LIMIT $1
	`, cfg.SlotLimit)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dataPool.Slots = append(dataPool.Slots, id)
	}

	return dataPool, nil
}

func (s *Simulator) Run() {
	deadline := time.Now().Add(s.config.Duration)
	var wg sync.WaitGroup

	for w := 0; w < s.config.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) {
				r := rand.Float64()
				switch {
				case r < s.config.BookRatio:
					s.doBook()
				case r < s.config.BookRatio+s.config.CancelRatio:
					s.doCancel()
				default:
					s.doList()
				}
			}
		}()
	}

	wg.Wait()
}

func (s *Simulator) doBook() {
	if len(s.pool.Slots) == 0 || len(s.pool.Clients) == 0 {
		return
	}
	slotID := s.pool.Slots[rand.Intn(len(s.pool.Slots))]
	clientID := s.pool.Clients[rand.Intn(len(s.pool.Clients))]

	body, _ := json.Marshal(map[string]any{"client_id": clientID.String()})

	start := time.Now()
	resp, err := s.client.Post(
		fmt.Sprintf("%s/slots/%s/book", s.config.APIBaseURL, slotID),
		"application/json",
		bytes.NewReader(body),
	)
	latency := time.Since(start)

	if err != nil {
		s.metrics.Book.Record(latency, false, false)
		return
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusCreated:
		var created struct {
			ID uuid.UUID `json:"id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&created); err == nil {
			s.pool.AddAppointment(created.ID)
		}
		s.metrics.Book.Record(latency, true, false)
	case http.StatusConflict:
		s.metrics.Book.Record(latency, false, true)
	default:
		s.metrics.Book.Record(latency, false, false)
	}
}

func (s *Simulator) doCancel() {
	apptID, ok := s.pool.RandomAppointment()
	if !ok {
		return
	}

	start := time.Now()
	resp, err := s.client.Post(
		fmt.Sprintf("%s/appointments/%s/cancel", s.config.APIBaseURL, apptID),
		"application/json",
		nil,
	)
	latency := time.Since(start)

	if err != nil {
		s.metrics.Cancel.Record(latency, false, false)
		return
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	s.metrics.Cancel.Record(latency,
		resp.StatusCode == http.StatusOK,
		resp.StatusCode == http.StatusConflict)
}

func (s *Simulator) doList() {
	if len(s.pool.Slots) == 0 {
		return
	}

	start := time.Now()
	resp, err := s.client.Get(s.config.APIBaseURL + "/health/ready")
	latency := time.Since(start)

	if err != nil {
		s.metrics.List.Record(latency, false, false)
		return
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	s.metrics.List.Record(latency, resp.StatusCode == http.StatusOK, false)
}

func (s *Simulator) PrintReport() {
	report := func(name string, om *OperationMetrics) {
		avg, p50, p95, max := om.Stats()
		log.Printf("%-8s total=%d success=%d conflict=%d error=%d avg=%s p50=%s p95=%s max=%s",
			name, om.Total, om.Success, om.Conflict, om.Error, avg, p50, p95, max)
	}
	report("book", &s.metrics.Book)
	report("cancel", &s.metrics.Cancel)
	report("read", &s.metrics.List)
}

// verifyNoDoubleBookings is the post-run ground truth check against the
// database, independent of anything the API reported.
func verifyNoDoubleBookings(ctx context.Context, pool *pgxpool.Pool) error {
	row := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM (
			SELECT slot_id
			FROM appointments
			WHERE status <> 'cancelled'
			GROUP BY slot_id
			HAVING count(*) > 1
		) dup
	`)
	var dups int
	if err := row.Scan(&dups); err != nil {
		return fmt.Errorf("query duplicate bookings: %w", err)
	}
	if dups > 0 {
		return fmt.Errorf("%d slots have more than one active appointment", dups)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
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

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
