// pentagent-server is the relay backend: it registers remote execution
// clients, queues commands for them, stores their results, and sweeps
// stale connections.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pentagent/pentagent/internal/api"
	"github.com/pentagent/pentagent/internal/auth"
	"github.com/pentagent/pentagent/internal/config"
	"github.com/pentagent/pentagent/internal/conn"
	"github.com/pentagent/pentagent/internal/db"
	"github.com/pentagent/pentagent/internal/dispatch"
	"github.com/pentagent/pentagent/internal/events"
	"github.com/pentagent/pentagent/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.JWTSecret == "" {
		log.Fatalf("PENTAGENT_JWT_SECRET is required")
	}
	if cfg.DatabaseURL == "" {
		log.Fatalf("PENTAGENT_DATABASE_URL is required")
	}

	log.Println("pentagent-server: starting...")

	ctx := context.Background()
	store, err := db.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}
	log.Println("pentagent-server: database migrations applied")

	registry, err := conn.NewRegistry(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer registry.Close()

	var publisher *events.Publisher
	var sink dispatch.EventSink
	if cfg.NATSURL != "" {
		publisher, err = events.NewPublisher(cfg.NATSURL)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		defer publisher.Close()
		sink = publisher
		log.Println("pentagent-server: NATS event publisher connected")
	}

	dispatcher := dispatch.NewDispatcher(store, sink)

	sweeper := conn.NewStaleSweeper(registry, store)
	sweeper.Start()
	defer sweeper.Stop()

	metricsSrv := metrics.StartMetricsServer(cfg.MetricsAddr)
	defer metricsSrv.Close()
	log.Printf("pentagent-server: metrics server started on %s", cfg.MetricsAddr)

	srv := api.NewServer(api.Config{
		Store:      store,
		Dispatcher: dispatcher,
		Registry:   registry,
		Tokens:     &auth.StaticTokenVerifier{Token: cfg.ConnectToken},
		JWT:        auth.NewJWTIssuer(cfg.JWTSecret),
		Events:     publisher,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	go func() {
		log.Printf("pentagent-server: relay API listening on %s", addr)
		if err := srv.Start(addr); err != nil {
			log.Printf("relay server stopped: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	log.Printf("pentagent-server: received %v, shutting down", sig)

	if err := srv.Close(); err != nil {
		log.Printf("relay server close: %v", err)
	}
}
