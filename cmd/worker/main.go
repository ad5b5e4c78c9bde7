package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/relay/internal/config"
	"github.com/ignite/relay/internal/dispatch"
	"github.com/ignite/relay/internal/personalize"
	"github.com/ignite/relay/internal/queue"
	"github.com/ignite/relay/internal/store"
	"github.com/ignite/relay/internal/transport"
)

func main() {
	log.Println("Starting Relay delivery worker...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := openDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Connected to database")

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatalf("Invalid redis URL: %v", err)
	}
	redisClient := redis.NewClient(opts)
	defer redisClient.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	pingCancel()
	log.Println("Connected to redis")

	sender, err := transport.FromConfig(cfg)
	if err != nil {
		log.Fatalf("Failed to configure transport: %v", err)
	}
	log.Printf("Using %s transport", sender.Name())

	st := store.NewStore(db)
	q := queue.New(redisClient, cfg.Dispatch.EmailsPerMinute, cfg.Dispatch.MaxAttempts, cfg.Dispatch.BackoffBase())
	svc := dispatch.NewService(st, q)
	renderer := personalize.NewRenderer(cfg.Tracking.BaseURL)

	pool := dispatch.NewPool(st, q, sender, renderer, svc, dispatch.PoolConfig{
		NumWorkers:   cfg.Dispatch.Workers,
		PollInterval: cfg.Dispatch.PollInterval(),
	})
	if err := pool.Start(); err != nil {
		log.Fatalf("Failed to start worker pool: %v", err)
	}
	log.Printf("Worker pool started (%d workers, %d emails/min)",
		cfg.Dispatch.Workers, cfg.Dispatch.EmailsPerMinute)

	recovery := dispatch.NewRecoveryWorker(q, redisClient,
		cfg.Dispatch.RecoveryInterval(), cfg.Dispatch.StaleAge())
	recovery.Start()
	log.Printf("Queue recovery started (sweep every %s, stale after %s)",
		cfg.Dispatch.RecoveryInterval(), cfg.Dispatch.StaleAge())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down worker...")

	recovery.Stop()
	pool.Stop()
	log.Printf("Worker stopped (sent=%d failed=%d)", pool.Sent(), pool.Failed())
}

func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
