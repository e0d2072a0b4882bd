package pipeline

import (
	"context"
	"fmt"

	"github.com/radiusdt/ltv-pipeline/internal/config"
	"github.com/radiusdt/ltv-pipeline/internal/metrics"
	"github.com/radiusdt/ltv-pipeline/internal/models"
	"github.com/radiusdt/ltv-pipeline/internal/normalize"
	"github.com/radiusdt/ltv-pipeline/internal/storage"
	"go.uber.org/zap"
)

// Ingestor normalizes raw rows and populates the canonical store,
// one committed chunk transaction at a time.
type Ingestor struct {
	store   storage.CanonicalStore
	norm    *normalize.Normalizer
	cfg     config.PipelineConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewIngestor creates an Ingestor. metrics may be nil.
func NewIngestor(store storage.CanonicalStore, norm *normalize.Normalizer, cfg config.PipelineConfig, logger *zap.Logger, m *metrics.Metrics) *Ingestor {
	return &Ingestor{
		store:   store,
		norm:    norm,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

// IngestSummary reports what one ingestion pass did.
type IngestSummary struct {
	RowsRead           int
	RowsDropped        int
	Events             int
	Purchases          int
	DuplicatePurchases int
	Chunks             int
}

// Run clears the canonical collections and repopulates them from the
// source. Each chunk commits in its own transaction; a failed chunk
// aborts the whole run with the prior chunks intact and the refresh
// incomplete, which the next run repairs by starting from a clear.
func (ing *Ingestor) Run(ctx context.Context, src *CSVSource) (IngestSummary, error) {
	var sum IngestSummary

	if err := ing.store.ClearCanonical(ctx); err != nil {
		return sum, fmt.Errorf("failed to clear canonical collections: %w", err)
	}

	err := src.Each(ing.cfg.ChunkSize, func(records []normalize.RawRecord) error {
		chunk := &storage.Chunk{}

		for _, rec := range records {
			sum.RowsRead++
			ing.metrics.RecordRead()

			row, outcome := ing.norm.Normalize(rec)
			for _, d := range outcome.Defaults {
				ing.metrics.RecordDefault(d.Field)
				ing.logger.Debug("field defaulted",
					zap.String("field", d.Field),
					zap.String("reason", d.Reason),
				)
			}
			if outcome.Dropped {
				sum.RowsDropped++
				ing.metrics.RecordDrop(outcome.DropReason)
				ing.logger.Debug("row dropped", zap.String("reason", outcome.DropReason))
				continue
			}

			chunk.Users = append(chunk.Users, userFromRow(row))
			chunk.Events = append(chunk.Events, eventFromRow(row))
			if row.EventName == ing.cfg.PurchaseEventName && row.RevenueUSD > 0 {
				chunk.Purchases = append(chunk.Purchases, purchaseFromRow(row))
			}
		}

		res, err := ing.store.CommitChunk(ctx, chunk)
		if err != nil {
			ing.metrics.RecordRollback("ingest")
			return fmt.Errorf("failed to commit chunk: %w", err)
		}

		sum.Chunks++
		sum.Events += res.Events
		sum.Purchases += res.Purchases
		sum.DuplicatePurchases += res.DuplicatePurchases
		ing.metrics.RecordChunk(res.Events, res.Purchases, res.DuplicatePurchases)

		ing.logger.Info("chunk committed",
			zap.Int("chunk", sum.Chunks),
			zap.Int("events", res.Events),
			zap.Int("purchases", res.Purchases),
			zap.Int("duplicate_purchases", res.DuplicatePurchases),
		)
		return nil
	})
	if err != nil {
		return sum, err
	}

	ing.logger.Info("ingestion complete",
		zap.Int("rows_read", sum.RowsRead),
		zap.Int("rows_dropped", sum.RowsDropped),
		zap.Int("events", sum.Events),
		zap.Int("purchases", sum.Purchases),
		zap.Int("duplicate_purchases", sum.DuplicatePurchases),
	)
	return sum, nil
}

// userFromRow builds the user candidate for one row. The store keeps
// the first candidate's attributes and only extends last_seen_date for
// later ones.
func userFromRow(row *normalize.Row) *models.User {
	return &models.User{
		UserID:         row.UserID,
		FirstSeenDate:  row.EventDate,
		LastSeenDate:   row.EventDate,
		CountryCode:    row.CountryCode,
		DeviceModel:    row.DeviceModel,
		DeviceCategory: row.DeviceCategory,
		Platform:       row.Platform,
		Source:         row.Source,
		InstallTime:    row.InstallTime,
	}
}

func eventFromRow(row *normalize.Row) *models.Event {
	return &models.Event{
		UserID:         row.UserID,
		EventName:      row.EventName,
		EventValue:     row.EventValue,
		EventDate:      row.EventDate,
		EventTime:      row.EventTime,
		CountryCode:    row.CountryCode,
		DeviceModel:    row.DeviceModel,
		DeviceCategory: row.DeviceCategory,
		AppID:          row.AppID,
		Platform:       row.Platform,
		Source:         row.Source,
		RevenueRaw:     row.RevenueRaw,
		RevenueCur:     row.RevenueCur,
		RevenueUSD:     row.RevenueUSD,
		ParamsJSON:     row.ParamsJSON,
		InstallTime:    row.InstallTime,
	}
}

func purchaseFromRow(row *normalize.Row) *models.Purchase {
	return &models.Purchase{
		UserID:         row.UserID,
		PurchaseTime:   row.EventTime,
		PurchaseDate:   row.EventDate,
		CountryCode:    row.CountryCode,
		DeviceCategory: row.DeviceCategory,
		RevenueUSD:     row.RevenueUSD,
		ProductID:      row.ProductID,
		OrderID:        row.OrderID,
	}
}
