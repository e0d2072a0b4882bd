package storage

import (
	"context"

	"github.com/radiusdt/ltv-pipeline/internal/models"
	"github.com/radiusdt/ltv-pipeline/internal/normalize"
)

// Chunk is one transactional unit of canonical writes. Slices are in
// input-row order; the store collapses duplicate users and purchases.
type Chunk struct {
	// Users holds one candidate per row. The first candidate for an id
	// creates the user; later candidates only extend last_seen_date.
	Users []*models.User
	// Events are appended unconditionally.
	Events []*models.Event
	// Purchases are purchase candidates. Rows whose identity key is
	// already present, in this chunk or committed by an earlier one,
	// are discarded.
	Purchases []*models.Purchase
}

// ChunkResult reports what a chunk commit actually wrote.
type ChunkResult struct {
	Events             int
	Purchases          int
	DuplicatePurchases int
}

// CanonicalStore owns the Users/Events/Purchases collections for a run.
type CanonicalStore interface {
	// ClearCanonical removes all canonical rows at the start of a full
	// refresh.
	ClearCanonical(ctx context.Context) error
	// CommitChunk persists one chunk atomically. Within the chunk,
	// users are written before events and purchases so no purchase ever
	// references an absent user. Duplicate detection consults state
	// committed by earlier chunks. Purchase timestamps persist at
	// second resolution, the precision of the identity key.
	CommitChunk(ctx context.Context, chunk *Chunk) (ChunkResult, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
	ListEvents(ctx context.Context) ([]*models.Event, error)
	// ListPurchases returns all purchases ordered by user id, then
	// purchase date, then purchase time.
	ListPurchases(ctx context.Context) ([]*models.Purchase, error)
}

// LTVStore owns the derived user_ltv collection.
type LTVStore interface {
	// ReplaceUserLTV clears and rewrites the whole collection in one
	// transaction.
	ReplaceUserLTV(ctx context.Context, rows []*models.UserLTV) error
	ListUserLTV(ctx context.Context) ([]*models.UserLTV, error)
}

// RollupStore owns the three dimensional rollup collections.
type RollupStore interface {
	// ReplaceRollups clears and rewrites all three collections in one
	// transaction.
	ReplaceRollups(ctx context.Context, daily []*models.DailyStat, country []*models.CountryStat, device []*models.DeviceStat) error
	ListDailyStats(ctx context.Context) ([]*models.DailyStat, error)
	ListCountryStats(ctx context.Context) ([]*models.CountryStat, error)
	ListDeviceStats(ctx context.Context) ([]*models.DeviceStat, error)
}

// RateRepo reads the externally seeded currency rate table.
type RateRepo interface {
	LoadRates(ctx context.Context) (normalize.StaticRates, error)
}
