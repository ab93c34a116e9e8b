package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/booking-queue-engine/internal/db"
)

var serviceNames = []string{
	"Haircut",
	"Beard Trim",
	"General Consultation",
	"Follow-up Visit",
	"Blood Test",
	"Vaccination",
	"Dental Cleaning",
	"Eye Exam",
	"Physiotherapy",
	"Document Pickup",
}

var serviceDurations = []int{10, 15, 20, 30, 45, 60}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	serviceIDs, err := seedServices(ctx, pool, faker)
	if err != nil {
		log.Fatalf("seed services: %v", err)
	}
	if err := seedQueues(ctx, pool, faker, serviceIDs, getInt("SEED_ESTABLISHMENTS", 10)); err != nil {
		log.Fatalf("seed queues: %v", err)
	}

	log.Println("seed complete")
}

func seedServices(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker) ([]uuid.UUID, error) {
	log.Printf("seeding %d services", len(serviceNames))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, len(serviceNames))
	for _, name := range serviceNames {
		id := uuid.New()
		minutes := serviceDurations[faker.Number(0, len(serviceDurations)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO services (id, name, duration_minutes, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, minutes)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("services seeded")
	return ids, nil
}

// seedQueues gives every establishment one walk-in queue per sampled service
// and one queue with no service attached.
func seedQueues(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, serviceIDs []uuid.UUID, establishments int) error {
	log.Printf("seeding queues for %d establishments", establishments)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	created := 0
	for i := 0; i < establishments; i++ {
		estID := uuid.New()
		company := faker.Company()

		for j := 0; j < 2; j++ {
			serviceID := serviceIDs[faker.Number(0, len(serviceIDs)-1)]
			if _, err := tx.Exec(ctx, `
				INSERT INTO queues (id, establishment_id, service_id, name, status, created_at, updated_at)
				VALUES ($1, $2, $3, $4, 'open', now(), now())
			`, uuid.New(), estID, serviceID, company+" "+faker.BuzzWord()); err != nil {
				return err
			}
			created++
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO queues (id, establishment_id, name, status, created_at, updated_at)
			VALUES ($1, $2, $3, 'open', now(), now())
		`, uuid.New(), estID, company+" Reception"); err != nil {
			return err
		}
		created++
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Printf("queues seeded: %d", created)
	return nil
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
