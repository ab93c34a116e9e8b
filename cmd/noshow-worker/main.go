package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/booking-queue-engine/internal/appointment"
	"github.com/hackgods/booking-queue-engine/internal/config"
	"github.com/hackgods/booking-queue-engine/internal/db"
	"github.com/hackgods/booking-queue-engine/internal/events"
	redisclient "github.com/hackgods/booking-queue-engine/internal/redis"
)

const sweepLockKey = "sweep:missed-checkins"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("noshow-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running no-show worker in env=%s interval=%s grace_after=%s",
		cfg.Env, cfg.WorkerInterval, cfg.Scheduling.GraceAfter)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.WithMaxConns(cfg.PostgresMaxConn))
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

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

	repo := appointment.NewPgRepository(pgPool)
	svc := appointment.NewService(repo, publisher, cfg.Scheduling)

	// Run once at startup
	runOnce(rootCtx, rc.Locker, svc)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Println("shutdown signal received, stopping no-show worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, rc.Locker, svc)
		}
	}
}

// runOnce sweeps under a cluster-wide lock so replicas do not race on the
// same batch.
func runOnce(ctx context.Context, locker redisclient.Locker, svc *appointment.Service) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	var expired int
	err := locker.WithLock(runCtx, sweepLockKey, func(ctx context.Context) error {
		var err error
		expired, err = svc.ExpireMissedCheckIns(ctx)
		return err
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		log.Println("another worker holds the sweep lock, skipping")
		return
	}
	if err != nil {
		log.Printf("no-show run error: %v", err)
		return
	}
	log.Printf("no-show run complete in %s, expired=%d", time.Since(start), expired)
}
