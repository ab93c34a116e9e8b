package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hackgods/booking-queue-engine/internal/api"
	"github.com/hackgods/booking-queue-engine/internal/appointment"
	"github.com/hackgods/booking-queue-engine/internal/config"
	"github.com/hackgods/booking-queue-engine/internal/db"
	"github.com/hackgods/booking-queue-engine/internal/events"
	"github.com/hackgods/booking-queue-engine/internal/metrics"
	"github.com/hackgods/booking-queue-engine/internal/queue"
	redisclient "github.com/hackgods/booking-queue-engine/internal/redis"
	"github.com/hackgods/booking-queue-engine/internal/telemetry"
)

var version = "dev"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running in env=%s http_port=%s", cfg.Env, cfg.HTTPPort)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.Setup("booking-queue-api", cfg.OTLPEndpoint, cfg.OTLPInsecure)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Printf("tracer shutdown error: %v", err)
		}
	}()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.WithMaxConns(cfg.PostgresMaxConn))
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	if err := db.Migrate(rootCtx, pgPool); err != nil {
		log.Fatalf("migration error: %v", err)
	}

	rc := redisclient.Connect(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.EventsChannel, cfg.LockTTL)
	defer rc.Close()

	publisher := events.NewDispatcher(rc.Publisher, events.DefaultBufferSize, events.DefaultPublishTimeout)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := publisher.Close(ctx); err != nil {
			log.Printf("event dispatcher shutdown error: %v", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	appointments := appointment.NewService(appointment.NewPgRepository(pgPool), publisher, cfg.Scheduling,
		appointment.WithMetrics(m))
	queues := queue.NewService(queue.NewPgRepository(pgPool), publisher, cfg.Scheduling,
		queue.WithMetrics(m))

	router := api.NewRouter(api.RouterConfig{
		Appointments: appointments,
		Queues:       queues,
		PgPool:       pgPool,
		Redis:        rc.Client,
		Metrics:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Env:          cfg.Env,
		Version:      version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           telemetry.Handler(router, "booking-queue-api"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
	case err := <-errCh:
		if err != nil {
			log.Printf("http server error: %v", err)
		}
	}

	log.Println("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}
}
