// Command fpingest starts the fingerprint ingestion HTTP gateway.
//
// The gateway accepts batches of insert/delete/set_attribute operations
// via POST /api/v1/ops, validates them, and publishes them to Kafka for
// asynchronous application by fpindexd's index consumer. It provides a
// health endpoint at GET /health.
//
// Usage:
//
//	go run ./cmd/fpingest [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/acoustid-go/fpindex/internal/ingest"
	"github.com/acoustid-go/fpindex/pkg/config"
	"github.com/acoustid-go/fpindex/pkg/kafka"
	"github.com/acoustid-go/fpindex/pkg/logger"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting fpingest gateway", "http_addr", cfg.Server.HTTPAddr)

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.OpBatches)
	defer producer.Close()
	slog.Info("kafka producer initialized", "topic", cfg.Kafka.Topics.OpBatches)

	pub := ingest.New(producer)
	h := ingest.NewHandler(pub)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/ops", h.Ingest)
	mux.HandleFunc("GET /health", h.Health)

	server := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("fpingest gateway listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("fpingest gateway stopped")
}
