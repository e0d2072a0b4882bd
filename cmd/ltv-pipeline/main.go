package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/radiusdt/ltv-pipeline/internal/config"
	"github.com/radiusdt/ltv-pipeline/internal/database"
	"github.com/radiusdt/ltv-pipeline/internal/logging"
	"github.com/radiusdt/ltv-pipeline/internal/metrics"
	"github.com/radiusdt/ltv-pipeline/internal/pipeline"
	"github.com/radiusdt/ltv-pipeline/internal/storage"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	// Every log line from this run carries the same run id.
	logger = logger.With(zap.String("run_id", uuid.New().String()))

	// Cancel the run on SIGINT/SIGTERM so a half-finished refresh rolls
	// back at the current chunk boundary.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	// run owns connection and lock cleanup; its defers execute on every
	// failure path before the process exits.
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("pipeline run failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting ltv-pipeline",
		zap.String("input", cfg.Pipeline.InputPath),
		zap.Int("chunk_size", cfg.Pipeline.ChunkSize),
	)

	db, err := database.NewPostgresDB(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		return err
	}
	if err := db.SeedCurrencyRates(ctx); err != nil {
		return err
	}

	// Redis is optional; without it runs are not serialized.
	var rdb *database.RedisDB
	if cfg.Redis.Addr != "" {
		rdb, err = database.NewRedisDB(ctx, cfg.Redis, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer rdb.Close()
	} else {
		logger.Warn("Redis not configured, concurrent runs are not serialized")
	}

	var lock *pipeline.RunLock
	if rdb != nil {
		lock = pipeline.NewRunLock(rdb.Client, cfg.Redis.LockTTL, logger)
	} else {
		lock = pipeline.NewRunLock(nil, 0, logger)
	}
	if err := lock.Acquire(ctx); err != nil {
		return err
	}
	defer lock.Release(context.Background())

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics("ltv_pipeline")
		checks := map[string]healthChecker{"postgres": db}
		if rdb != nil {
			checks["redis"] = rdb
		}
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
		mux.HandleFunc("/healthz", healthHandler(checks))
		go func() {
			addr := ":" + cfg.Metrics.Port
			logger.Info("metrics listener started", zap.String("addr", addr))
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("metrics listener failed", zap.Error(err))
			}
		}()
	}

	store := storage.NewPostgresStore(db.Pool)

	rates, err := store.LoadRates(ctx)
	if err != nil {
		return err
	}

	p := pipeline.New(pipeline.Dependencies{
		Store:   store,
		Rates:   rates,
		Config:  cfg.Pipeline,
		Logger:  logger,
		Metrics: m,
	})

	summary, err := p.Run(ctx)
	if err != nil {
		return err
	}

	logger.Info("done",
		zap.Int("events", summary.Ingest.Events),
		zap.Int("ltv_rows", summary.LTVRows),
		zap.Duration("duration", summary.Duration),
		zap.Int32("db_total_conns", db.Stats().TotalConns()),
	)
	return nil
}

type healthChecker interface {
	Health(ctx context.Context) error
}

// healthHandler reports 200 only when every backing service answers.
func healthHandler(checks map[string]healthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for name, c := range checks {
			if err := c.Health(r.Context()); err != nil {
				http.Error(w, name+": "+err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}
