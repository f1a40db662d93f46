// cmd/api/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MereWhiplash/embedsync/internal/api"
	"github.com/MereWhiplash/embedsync/internal/app"
	"github.com/MereWhiplash/embedsync/internal/config"
	"github.com/MereWhiplash/embedsync/internal/events"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: ./embedsync.yaml if present)")
	addr := flag.String("addr", "", "Server address (overrides server.addr)")
	migrateOnly := flag.Bool("migrate", false, "Create tables and indexes, then exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger := config.NewLogger(cfg.Log, nil)
	if err := cfg.Server.Validate(); err != nil {
		logger.Error("invalid server configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Opening storage runs schema setup
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if *migrateOnly {
		logger.Info("migrations complete")
		return
	}

	handlers := api.NewHandlers(a.Service)
	handlers.SetLogger(logger)

	if cfg.NATS.Enabled() {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("embedsync-api"))
		if err != nil {
			logger.Error("failed to connect to nats", "url", cfg.NATS.URL, "error", err)
			os.Exit(1)
		}
		defer nc.Drain()
		handlers.SetPublisher(events.NewPublisher(nc, cfg.NATS.Subject))
		logger.Info("async message indexing enabled", "subject", cfg.NATS.Subject)
	}

	if cfg.Server.AdminToken == "" {
		logger.Warn("server.admin_token is empty; admin sync endpoints are disabled")
	}

	opts := api.RouterOptions{
		AdminToken:  cfg.Server.AdminToken,
		RateLimit:   cfg.Server.RateLimit,
		CORSOrigins: cfg.Server.CORSOrigins,
		Timeout:     cfg.Server.RequestTimeout,
		AccessLog:   cfg.Server.AccessLog,
	}
	if cfg.Server.Metrics {
		opts.Metrics = a.Metrics.Handler()
	}

	// Create server. WriteTimeout must outlast a paced bulk sync.
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewRouter(handlers, opts),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool)
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
		// async bulk syncs still hold the store
		if err := handlers.Wait(ctx); err != nil {
			logger.Warn("background syncs cancelled", "error", err)
		}

		close(done)
	}()

	logger.Info("starting API server", "addr", cfg.Server.Addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	<-done
	logger.Info("server stopped")
}
