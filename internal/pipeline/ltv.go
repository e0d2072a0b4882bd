package pipeline

import (
	"context"
	"fmt"

	"github.com/radiusdt/ltv-pipeline/internal/metrics"
	"github.com/radiusdt/ltv-pipeline/internal/models"
	"github.com/radiusdt/ltv-pipeline/internal/storage"
	"go.uber.org/zap"
)

// ltvWindows maps each cohort window to its inclusive days-elapsed
// threshold. A purchase on the first-purchase day has days elapsed 0
// and lands in every window.
var ltvWindows = []struct {
	maxDays int
	add     func(*models.UserLTV, float64)
}{
	{0, func(r *models.UserLTV, v float64) { r.LTV1D += v }},
	{6, func(r *models.UserLTV, v float64) { r.LTV7D += v }},
	{13, func(r *models.UserLTV, v float64) { r.LTV14D += v }},
	{29, func(r *models.UserLTV, v float64) { r.LTV30D += v }},
	{59, func(r *models.UserLTV, v float64) { r.LTV60D += v }},
	{89, func(r *models.UserLTV, v float64) { r.LTV90D += v }},
}

// LTVAggregator recomputes the user_ltv collection from the complete
// purchase history.
type LTVAggregator struct {
	canonical storage.CanonicalStore
	ltv       storage.LTVStore
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewLTVAggregator creates an LTVAggregator. metrics may be nil.
func NewLTVAggregator(canonical storage.CanonicalStore, ltv storage.LTVStore, logger *zap.Logger, m *metrics.Metrics) *LTVAggregator {
	return &LTVAggregator{
		canonical: canonical,
		ltv:       ltv,
		logger:    logger,
		metrics:   m,
	}
}

// Run computes windowed LTV for every paying user and replaces the
// user_ltv collection wholesale. It must run after purchase ingestion
// has completed: the windows anchor to the first purchase across the
// full history, not within any one chunk.
func (a *LTVAggregator) Run(ctx context.Context) (int, error) {
	purchases, err := a.canonical.ListPurchases(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list purchases: %w", err)
	}
	if len(purchases) == 0 {
		a.logger.Warn("no purchases found, user_ltv will be empty")
	}

	rows := ComputeUserLTV(purchases)

	if err := a.ltv.ReplaceUserLTV(ctx, rows); err != nil {
		a.metrics.RecordRollback("ltv")
		return 0, fmt.Errorf("failed to replace user_ltv: %w", err)
	}

	a.logger.Info("user LTV updated",
		zap.Int("purchases", len(purchases)),
		zap.Int("users", len(rows)),
	)
	return len(rows), nil
}

// ComputeUserLTV buckets purchase revenue into nested cohort windows.
// The input must be ordered by user id, then purchase date ascending,
// the order CanonicalStore.ListPurchases guarantees.
func ComputeUserLTV(purchases []*models.Purchase) []*models.UserLTV {
	var rows []*models.UserLTV
	var cur *models.UserLTV

	for _, p := range purchases {
		if cur == nil || cur.UserID != p.UserID {
			cur = &models.UserLTV{
				UserID:            p.UserID,
				FirstPurchaseDate: p.PurchaseDate,
			}
			rows = append(rows, cur)
		}

		daysElapsed := models.DaysBetween(cur.FirstPurchaseDate, p.PurchaseDate)
		cur.LTVTotal += p.RevenueUSD
		for _, w := range ltvWindows {
			if daysElapsed <= w.maxDays {
				w.add(cur, p.RevenueUSD)
			}
		}

		cur.PurchaseCount++
		cur.LastPurchaseDate = p.PurchaseDate
	}

	return rows
}
