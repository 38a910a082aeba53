// Command fpindexd is the fingerprint index daemon. It opens (or creates)
// an index directory, serves the line-oriented TCP command protocol and a
// minimal HTTP façade, consumes op batches from Kafka, invalidates the Redis
// search-result cache after each commit (protocol searches query the index
// directly, not through the cache), and records committed revisions to
// PostgreSQL.
//
// Usage:
//
//	go run ./cmd/fpindexd [-config configs/development.yaml]
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

	"github.com/acoustid-go/fpindex/internal/block"
	"github.com/acoustid-go/fpindex/internal/cache"
	"github.com/acoustid-go/fpindex/internal/catalog"
	"github.com/acoustid-go/fpindex/internal/index"
	"github.com/acoustid-go/fpindex/internal/indexconsumer"
	"github.com/acoustid-go/fpindex/internal/merge"
	"github.com/acoustid-go/fpindex/internal/protocol"
	"github.com/acoustid-go/fpindex/internal/store"
	"github.com/acoustid-go/fpindex/pkg/config"
	"github.com/acoustid-go/fpindex/pkg/health"
	"github.com/acoustid-go/fpindex/pkg/kafka"
	"github.com/acoustid-go/fpindex/pkg/logger"
	"github.com/acoustid-go/fpindex/pkg/metrics"
	"github.com/acoustid-go/fpindex/pkg/postgres"
	pkgredis "github.com/acoustid-go/fpindex/pkg/redis"
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
	slog.Info("starting fpindex daemon", "data_dir", cfg.Store.DataDir, "tcp_addr", cfg.Server.TCPAddr)

	dir := store.NewFSDirectory(cfg.Store.DataDir)
	policy := merge.Policy{
		MaxMergeAtOnce:     cfg.Merge.MaxMergeAtOnce,
		MaxSegmentsPerTier: cfg.Merge.MaxSegmentsPerTier,
		FloorSegmentBlocks: cfg.Merge.FloorSegmentBlocks,
	}
	blockSize := cfg.Store.BlockSize
	if blockSize == 0 {
		blockSize = block.DefaultSize
	}
	ix, err := index.Open(dir, true, policy, blockSize, slog.Default().With("component", "index"))
	if err != nil {
		slog.Error("failed to open index", "error", err)
		os.Exit(1)
	}
	defer ix.Close()
	slog.Info("index opened", "data_dir", cfg.Store.DataDir)

	ix.SetTracingEnabled(cfg.Tracing.Enabled)
	ix.SetSearchTimeout(cfg.Search.QueryTimeout)

	var redisClient *pkgredis.Client
	var resultCache *cache.ResultCache
	redisClient, err = pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, search caching disabled", "error", err)
	} else {
		resultCache = cache.New(redisClient, cfg.Redis)
		slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	var db *postgres.Client
	var cat *catalog.Catalog
	db, err = postgres.New(cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, revision catalog disabled", "error", err)
	} else {
		defer db.Close()
		cat = catalog.New(db)
		slog.Info("revision catalog enabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.OpBatches, indexconsumer.HandleMessage(ix))
	ic := indexconsumer.New(consumer)
	go func() {
		if err := ic.Start(ctx); err != nil {
			slog.Error("index consumer stopped with error", "error", err)
		}
	}()
	slog.Info("index consumer started", "topic", cfg.Kafka.Topics.OpBatches)

	server := protocol.NewServer(ix, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)
	go func() {
		if err := server.Serve(ctx, cfg.Server.TCPAddr); err != nil {
			slog.Error("protocol server stopped with error", "error", err)
		}
	}()

	checker := health.NewChecker()
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		if db == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := db.DB.PingContext(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("kafka", func(ctx context.Context) health.ComponentHealth {
		if err := consumer.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	httpServer := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		slog.Info("http façade listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http façade error", "error", err)
		}
	}()

	var metricsShutdown func(context.Context) error
	if cfg.Metrics.Enabled {
		metrics.New()
		metricsShutdown = metrics.StartServer(cfg.Metrics.Port)
	}

	ix.OnRevisionCommitted(func(revision uint64, segmentIDs []uint64, docCount int) {
		commitCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if cat != nil {
			if err := cat.RecordRevision(commitCtx, revision, segmentIDs, int64(docCount)); err != nil {
				slog.Error("failed to record revision", "revision", revision, "error", err)
			}
		}
		if resultCache != nil {
			if err := resultCache.Invalidate(commitCtx); err != nil {
				slog.Error("failed to invalidate search cache after commit", "revision", revision, "error", err)
			}
		}
	})

	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http façade shutdown error", "error", err)
	}
	server.Close()
	if metricsShutdown != nil {
		if err := metricsShutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown error", "error", err)
		}
	}

	slog.Info("fpindex daemon stopped")
}
