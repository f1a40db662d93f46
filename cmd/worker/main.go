// cmd/worker/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/MereWhiplash/embedsync/internal/app"
	"github.com/MereWhiplash/embedsync/internal/config"
	"github.com/MereWhiplash/embedsync/internal/events"
	"github.com/MereWhiplash/embedsync/internal/indexer"
	"github.com/MereWhiplash/embedsync/internal/types"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	metricsAddr := flag.String("metrics-addr", "", "Serve /metrics on this address (empty to disable)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger := config.NewLogger(cfg.Log, nil).With("component", "worker")

	if !cfg.NATS.Enabled() {
		logger.Error("nats.url is required for the worker")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	nc, err := events.Connect(cfg.NATS.URL, "embedsync-worker")
	if err != nil {
		logger.Error("failed to connect to nats", "url", cfg.NATS.URL, "error", err)
		os.Exit(1)
	}
	defer nc.Close()

	handle := func(evCtx context.Context, ev events.MessageCreated) error {
		// keep the publisher's trace but stop with the process
		syncCtx := trace.ContextWithSpanContext(ctx, trace.SpanContextFromContext(evCtx))
		result, err := a.Service.IndexMessage(syncCtx, ev.MessageID)
		switch {
		case errors.Is(err, types.ErrNotFound):
			logger.Warn("message not found", "message_id", ev.MessageID)
			return nil
		case errors.Is(err, indexer.ErrSyncInProgress):
			logger.Info("message already being indexed", "message_id", ev.MessageID)
			return nil
		case err != nil:
			return err
		}
		logger.Debug("message indexed", "message_id", ev.MessageID, "chunks", result.Chunks, "failed", result.Failed)
		return nil
	}

	_, err = events.Subscribe(nc.Conn, cfg.NATS.Subject, cfg.NATS.Queue, handle, logger)
	if err != nil {
		logger.Error("failed to subscribe", "subject", cfg.NATS.Subject, "error", err)
		os.Exit(1)
	}

	var metricsSrv *http.Server
	if *metricsAddr != "" {
		r := chi.NewRouter()
		r.Method(http.MethodGet, "/metrics", a.Metrics.Handler())
		metricsSrv = &http.Server{Addr: *metricsAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	logger.Info("worker started", "subject", cfg.NATS.Subject, "queue", cfg.NATS.Queue)
	<-ctx.Done()
	logger.Info("shutting down")

	// in-flight handlers see the cancelled ctx at their next pacing wait;
	// store and embedder are closed only after they have returned
	if err := nc.DrainAndWait(30 * time.Second); err != nil {
		logger.Error("drain failed", "error", err)
	}
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsSrv.Shutdown(shutdownCtx)
	}
}
