package redisclient

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/booking-queue-engine/internal/events"
)

// NewRedisClient connects and pings within ctx.
func NewRedisClient(ctx context.Context, addr, username, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Username:     username,
		Password:     password,
		DB:           0,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 1,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}

	return rdb, nil
}

// Collaborators is what the binaries need from Redis. Without a client the
// engines still run: events are dropped and the sweeper lock is process-local.
type Collaborators struct {
	Client    *redis.Client
	Publisher events.Publisher
	Locker    Locker
}

// Connect returns Redis-backed collaborators, or local fallbacks when addr is
// empty or unreachable.
func Connect(ctx context.Context, addr, username, password, channel string, lockTTL time.Duration) Collaborators {
	if addr == "" {
		log.Println("redis disabled, events will be dropped")
		return Collaborators{Publisher: events.Nop{}, Locker: LocalLocker{}}
	}

	rdb, err := NewRedisClient(ctx, addr, username, password)
	if err != nil {
		log.Printf("redis unavailable, continuing without it: %v", err)
		return Collaborators{Publisher: events.Nop{}, Locker: LocalLocker{}}
	}

	return Collaborators{
		Client:    rdb,
		Publisher: NewPublisher(rdb, channel),
		Locker:    NewRedisLocker(rdb, lockTTL),
	}
}

func (c Collaborators) Close() {
	if c.Client == nil {
		return
	}
	if err := c.Client.Close(); err != nil {
		log.Printf("error closing redis: %v", err)
	}
}
