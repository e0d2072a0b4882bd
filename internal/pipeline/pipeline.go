package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/radiusdt/ltv-pipeline/internal/config"
	"github.com/radiusdt/ltv-pipeline/internal/metrics"
	"github.com/radiusdt/ltv-pipeline/internal/normalize"
	"github.com/radiusdt/ltv-pipeline/internal/storage"
	"go.uber.org/zap"
)

// Store is the full persistence surface one pipeline run needs.
type Store interface {
	storage.CanonicalStore
	storage.LTVStore
	storage.RollupStore
}

// Dependencies holds everything a Pipeline needs to run.
type Dependencies struct {
	Store   Store
	Rates   normalize.RateTable
	Config  config.PipelineConfig
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Pipeline runs one full refresh: ingest, LTV aggregation, rollups.
type Pipeline struct {
	deps Dependencies
}

// Summary reports what one run produced.
type Summary struct {
	Ingest   IngestSummary
	LTVRows  int
	Duration time.Duration
}

// New creates a Pipeline from its dependencies.
func New(deps Dependencies) *Pipeline {
	return &Pipeline{deps: deps}
}

// Run executes all three stages in order. Each stage only starts if
// the previous one committed, so a failed run leaves either the old
// derived tables or fully consistent new ones.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	d := p.deps

	norm := normalize.New(d.Rates, normalize.Config{
		ContentIDKey:        d.Config.ContentIDKey,
		ProductIDColumns:    d.Config.ProductIDColumns,
		InstallTimeFallback: d.Config.InstallTimeFallback,
	})

	ingestStart := time.Now()
	ingestor := NewIngestor(d.Store, norm, d.Config, d.Logger, d.Metrics)
	ingest, err := ingestor.Run(ctx, NewCSVSource(d.Config.InputPath))
	if err != nil {
		return Summary{}, fmt.Errorf("ingest stage failed: %w", err)
	}
	d.Metrics.RecordStage("ingest", time.Since(ingestStart))

	ltvStart := time.Now()
	aggregator := NewLTVAggregator(d.Store, d.Store, d.Logger, d.Metrics)
	ltvRows, err := aggregator.Run(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("ltv stage failed: %w", err)
	}
	d.Metrics.RecordStage("ltv", time.Since(ltvStart))

	rollupStart := time.Now()
	rollups := NewRollupGenerator(d.Store, d.Store, d.Config.PurchaseEventName, d.Logger, d.Metrics)
	if err := rollups.Run(ctx); err != nil {
		return Summary{}, fmt.Errorf("rollup stage failed: %w", err)
	}
	d.Metrics.RecordStage("rollups", time.Since(rollupStart))

	users, err := d.Store.ListUsers(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to count users: %w", err)
	}
	d.Metrics.SetTotals(len(users), ltvRows)

	summary := Summary{
		Ingest:   ingest,
		LTVRows:  ltvRows,
		Duration: time.Since(start),
	}

	d.Logger.Info("pipeline run complete",
		zap.Int("rows_read", ingest.RowsRead),
		zap.Int("rows_dropped", ingest.RowsDropped),
		zap.Int("events", ingest.Events),
		zap.Int("purchases", ingest.Purchases),
		zap.Int("duplicate_purchases", ingest.DuplicatePurchases),
		zap.Int("users", len(users)),
		zap.Int("ltv_rows", ltvRows),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}
