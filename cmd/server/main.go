package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/ignite/relay/internal/api"
	"github.com/ignite/relay/internal/config"
	"github.com/ignite/relay/internal/dispatch"
	"github.com/ignite/relay/internal/queue"
	"github.com/ignite/relay/internal/store"
)

func main() {
	log.Println("Starting Relay API server...")

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

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	q, err := queue.NewFromURL(ctx, cfg.Redis.URL,
		cfg.Dispatch.EmailsPerMinute, cfg.Dispatch.MaxAttempts, cfg.Dispatch.BackoffBase())
	cancel()
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	log.Println("Connected to redis")

	st := store.NewStore(db)
	svc := dispatch.NewService(st, q)
	srv := api.NewServer(api.NewHandlers(st, svc))

	go func() {
		log.Printf("API server listening on %s", cfg.Server.Addr())
		if err := srv.ListenAndServe(cfg.Server.Addr()); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	log.Println("API server stopped")
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
