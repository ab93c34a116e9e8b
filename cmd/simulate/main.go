package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
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

	"github.com/hackgods/booking-queue-engine/internal/config"
	"github.com/hackgods/booking-queue-engine/internal/db"
)

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	JoinRatio     float64
	CallRatio     float64
	BookingRatio  float64
	ReadRatio     float64
	QueueLimit    int
	Professionals int
	PostgresDSN   string
}

type queueRef struct {
	ID              uuid.UUID
	EstablishmentID uuid.UUID
}

// DataPool holds the seeded fixtures plus everything the run observed, so
// the engine guarantees can be checked afterwards.
type DataPool struct {
	Queues        []queueRef
	Services      []uuid.UUID
	Professionals []uuid.UUID

	mu        sync.Mutex
	positions map[uuid.UUID]map[int]int // queue -> position -> times handed out
	called    map[uuid.UUID]int         // entry -> times returned by call-next
	booked    map[string]int            // professional|start -> successful bookings
}

func (dp *DataPool) RecordJoin(queueID uuid.UUID, position int) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if dp.positions[queueID] == nil {
		dp.positions[queueID] = make(map[int]int)
	}
	dp.positions[queueID][position]++
}

func (dp *DataPool) RecordCall(entryID uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.called[entryID]++
}

func (dp *DataPool) RecordBooking(professionalID uuid.UUID, startAt string) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.booked[professionalID.String()+"|"+startAt]++
}

// Violations counts duplicated positions, entries called twice and slots
// booked twice.
func (dp *DataPool) Violations() (positions, calls, bookings int) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	for _, byPos := range dp.positions {
		for _, n := range byPos {
			if n > 1 {
				positions++
			}
		}
	}
	for _, n := range dp.called {
		if n > 1 {
			calls++
		}
	}
	for _, n := range dp.booked {
		if n > 1 {
			bookings++
		}
	}
	return positions, calls, bookings
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, lo, hi, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

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

	return sum / time.Duration(len(latencies)), latencies[0], latencies[len(latencies)-1], pick(50), pick(95)
}

type Metrics struct {
	Join     OperationMetrics
	CallNext OperationMetrics
	Booking  OperationMetrics
	Status   OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	day     time.Time
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d join=%.2f call=%.2f booking=%.2f read=%.2f",
		cfg.Duration, cfg.Workers, cfg.JoinRatio, cfg.CallRatio, cfg.BookingRatio, cfg.ReadRatio)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.WithMaxConns(int32(cfg.Workers+2)))
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}

	log.Printf("loaded: %d queues, %d services, %d professionals",
		len(dataPool.Queues), len(dataPool.Services), len(dataPool.Professionals))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		day: time.Now().UTC().AddDate(0, 0, 1).Truncate(24 * time.Hour),
	}

	sim.Run()

	if !sim.PrintReport() {
		os.Exit(1)
	}
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:    getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 20),
		JoinRatio:     getFloat("SIM_JOIN_RATIO", 0.4),
		CallRatio:     getFloat("SIM_CALL_RATIO", 0.25),
		BookingRatio:  getFloat("SIM_BOOKING_RATIO", 0.2),
		ReadRatio:     getFloat("SIM_READ_RATIO", 0.15),
		QueueLimit:    getInt("SIM_QUEUE_LIMIT", 5),
		Professionals: getInt("SIM_PROFESSIONALS", 3),
		PostgresDSN:   baseCfg.PostgresDSN,
	}

	// Normalize ratios
	total := cfg.JoinRatio + cfg.CallRatio + cfg.BookingRatio + cfg.ReadRatio
	if total > 0 {
		cfg.JoinRatio /= total
		cfg.CallRatio /= total
		cfg.BookingRatio /= total
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
	if cfg.Professionals <= 0 {
		return fmt.Errorf("SIM_PROFESSIONALS must be > 0")
	}
	return nil
}

// loadDataPool picks a few open queues so joins and calls contend, and
// invents a small set of professionals so bookings collide.
func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{
		positions: make(map[uuid.UUID]map[int]int),
		called:    make(map[uuid.UUID]int),
		booked:    make(map[string]int),
	}

	rows, err := pool.Query(ctx, `
		SELECT id, establishment_id FROM queues
		WHERE status = 'open'
		ORDER BY created_at
		LIMIT $1
	`, cfg.QueueLimit)
	if err != nil {
		return nil, fmt.Errorf("load queues: %w", err)
	}
	for rows.Next() {
		var q queueRef
		if err := rows.Scan(&q.ID, &q.EstablishmentID); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Queues = append(dataPool.Queues, q)
	}
	rows.Close()

	rows, err = pool.Query(ctx, `SELECT id FROM services`)
	if err != nil {
		return nil, fmt.Errorf("load services: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Services = append(dataPool.Services, id)
	}
	rows.Close()

	if len(dataPool.Queues) == 0 {
		return nil, fmt.Errorf("no open queues loaded, run cmd/seed first")
	}
	if len(dataPool.Services) == 0 {
		return nil, fmt.Errorf("no services loaded, run cmd/seed first")
	}

	for i := 0; i < cfg.Professionals; i++ {
		dataPool.Professionals = append(dataPool.Professionals, uuid.New())
	}

	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.JoinRatio:
				s.doJoin(ctx, rng)
			case r < s.config.JoinRatio+s.config.CallRatio:
				s.doCallNext(ctx, rng)
			case r < s.config.JoinRatio+s.config.CallRatio+s.config.BookingRatio:
				s.doBooking(ctx, rng)
			default:
				s.doStatus(ctx, rng)
			}
		}
	}
}

func (s *Simulator) post(ctx context.Context, path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.client.Do(req)
}

func (s *Simulator) doJoin(ctx context.Context, rng *rand.Rand) {
	q := s.pool.Queues[rng.Intn(len(s.pool.Queues))]
	priority := 0
	if rng.Intn(10) == 0 {
		priority = rng.Intn(5) + 1
	}

	start := time.Now()
	resp, err := s.post(ctx, "/queues/"+q.ID.String()+"/join", map[string]any{
		"user_id":  uuid.NewString(),
		"priority": priority,
	})
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusCreated:
			var entry struct {
				Position int `json:"position"`
			}
			if json.NewDecoder(resp.Body).Decode(&entry) == nil {
				success = true
				s.pool.RecordJoin(q.ID, entry.Position)
			}
		case http.StatusConflict:
			conflict = true
		}
	}

	s.metrics.Join.Record(latency, success, conflict)
}

func (s *Simulator) doCallNext(ctx context.Context, rng *rand.Rand) {
	q := s.pool.Queues[rng.Intn(len(s.pool.Queues))]
	body := map[string]string{}
	if rng.Intn(2) == 0 {
		body["establishment_id"] = q.EstablishmentID.String()
		body["professional_id"] = s.pool.Professionals[rng.Intn(len(s.pool.Professionals))].String()
	}

	start := time.Now()
	resp, err := s.post(ctx, "/queues/"+q.ID.String()+"/call-next", body)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusNoContent:
			success = true
		case http.StatusOK:
			var called struct {
				Entry *struct {
					ID uuid.UUID `json:"id"`
				} `json:"entry"`
			}
			if json.NewDecoder(resp.Body).Decode(&called) == nil {
				success = true
				if called.Entry != nil {
					s.pool.RecordCall(called.Entry.ID)
				}
			}
		}
	}

	s.metrics.CallNext.Record(latency, success, false)
}

// doBooking aims at one of a handful of slots on a few professionals, so most
// attempts are expected to conflict.
func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	q := s.pool.Queues[rng.Intn(len(s.pool.Queues))]
	profID := s.pool.Professionals[rng.Intn(len(s.pool.Professionals))]
	serviceID := s.pool.Services[rng.Intn(len(s.pool.Services))]
	startAt := s.day.Add(9*time.Hour + time.Duration(rng.Intn(16))*30*time.Minute).Format(time.RFC3339)

	start := time.Now()
	resp, err := s.post(ctx, "/appointments", map[string]string{
		"establishment_id": q.EstablishmentID.String(),
		"professional_id":  profID.String(),
		"service_id":       serviceID.String(),
		"user_id":          uuid.NewString(),
		"start_at":         startAt,
	})
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusCreated:
			success = true
			s.pool.RecordBooking(profID, startAt)
		case http.StatusConflict:
			conflict = true
		}
	}

	s.metrics.Booking.Record(latency, success, conflict)
}

func (s *Simulator) doStatus(ctx context.Context, rng *rand.Rand) {
	q := s.pool.Queues[rng.Intn(len(s.pool.Queues))]

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/queues/%s/status", s.config.APIBaseURL, q.ID), nil)
	if err != nil {
		return
	}
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.Status.Record(latency, success, false)
}

// PrintReport prints the run summary and reports whether no guarantee was
// violated.
func (s *Simulator) PrintReport() bool {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Join", &s.metrics.Join)
	printOperationReport("Call next", &s.metrics.CallNext)
	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Status", &s.metrics.Status)

	positions, calls, bookings := s.pool.Violations()
	fmt.Println("Guarantees:")
	fmt.Printf("  Duplicate queue positions: %d\n", positions)
	fmt.Printf("  Entries called twice: %d\n", calls)
	fmt.Printf("  Double-booked slots: %d\n", bookings)

	return positions == 0 && calls == 0 && bookings == 0
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, lo, hi, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), lo.Round(time.Millisecond), hi.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
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
