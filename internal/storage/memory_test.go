package storage

import (
	"context"
	"testing"
	"time"

	"github.com/radiusdt/ltv-pipeline/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCommitChunkUserUpsert(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	_, err := s.CommitChunk(ctx, &Chunk{Users: []*models.User{
		{UserID: "u-1", FirstSeenDate: day(2024, 1, 1), LastSeenDate: day(2024, 1, 1), CountryCode: "US"},
	}})
	require.NoError(t, err)

	// A later candidate only moves last_seen_date forward.
	_, err = s.CommitChunk(ctx, &Chunk{Users: []*models.User{
		{UserID: "u-1", FirstSeenDate: day(2024, 1, 5), LastSeenDate: day(2024, 1, 5), CountryCode: "DE"},
	}})
	require.NoError(t, err)

	// An out-of-order candidate moves nothing.
	_, err = s.CommitChunk(ctx, &Chunk{Users: []*models.User{
		{UserID: "u-1", FirstSeenDate: day(2024, 1, 3), LastSeenDate: day(2024, 1, 3), CountryCode: "FR"},
	}})
	require.NoError(t, err)

	u, err := s.GetUser(ctx, "u-1")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "US", u.CountryCode)
	assert.Equal(t, day(2024, 1, 1), u.FirstSeenDate)
	assert.Equal(t, day(2024, 1, 5), u.LastSeenDate)
}

func TestCommitChunkPurchaseDedup(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	p := func(orderID string, ts time.Time) *models.Purchase {
		return &models.Purchase{
			UserID:       "u-1",
			OrderID:      orderID,
			PurchaseTime: ts,
			PurchaseDate: models.DateOf(ts),
			RevenueUSD:   1,
		}
	}
	ts := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	res, err := s.CommitChunk(ctx, &Chunk{Purchases: []*models.Purchase{
		p("ord-1", ts),
		p("ord-1", ts),
		p("ord-2", ts),
		p("", ts),
		p("", ts.Add(time.Second)),
	}})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Purchases)
	assert.Equal(t, 1, res.DuplicatePurchases)

	// The identity key survives commit boundaries.
	res, err = s.CommitChunk(ctx, &Chunk{Purchases: []*models.Purchase{p("ord-1", ts)}})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Purchases)
	assert.Equal(t, 1, res.DuplicatePurchases)
}

func TestCommitChunkPurchaseSubsecondDedup(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	p := func(nanos int) *models.Purchase {
		ts := time.Date(2024, 1, 1, 10, 0, 0, nanos, time.UTC)
		return &models.Purchase{
			UserID:       "u-1",
			OrderID:      "ord-1",
			PurchaseTime: ts,
			PurchaseDate: models.DateOf(ts),
			RevenueUSD:   1,
		}
	}

	// Same user, order and second; only the fractions differ.
	res, err := s.CommitChunk(ctx, &Chunk{Purchases: []*models.Purchase{
		p(100_000_000),
		p(200_000_000),
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Purchases)
	assert.Equal(t, 1, res.DuplicatePurchases)

	// The stored timestamp carries no sub-second component, so the
	// persisted value matches the identity key's precision too.
	got, err := s.ListPurchases(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), got[0].PurchaseTime)
}

func TestClearCanonicalResetsDedupState(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	ts := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	pur := &models.Purchase{UserID: "u-1", OrderID: "ord-1", PurchaseTime: ts, PurchaseDate: models.DateOf(ts), RevenueUSD: 1}

	_, err := s.CommitChunk(ctx, &Chunk{Purchases: []*models.Purchase{pur}})
	require.NoError(t, err)
	require.NoError(t, s.ClearCanonical(ctx))

	res, err := s.CommitChunk(ctx, &Chunk{Purchases: []*models.Purchase{pur}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Purchases)
	assert.Equal(t, 0, res.DuplicatePurchases)
}

func TestListPurchasesOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	mk := func(user string, ts time.Time) *models.Purchase {
		return &models.Purchase{UserID: user, PurchaseTime: ts, PurchaseDate: models.DateOf(ts), RevenueUSD: 1}
	}

	_, err := s.CommitChunk(ctx, &Chunk{Purchases: []*models.Purchase{
		mk("u-2", time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)),
		mk("u-1", time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)),
		mk("u-1", time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)),
		mk("u-1", time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)),
	}})
	require.NoError(t, err)

	got, err := s.ListPurchases(ctx)
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, "u-1", got[0].UserID)
	assert.Equal(t, 8, got[0].PurchaseTime.Hour())
	assert.Equal(t, 9, got[1].PurchaseTime.Hour())
	assert.Equal(t, day(2024, 1, 2), got[2].PurchaseDate)
	assert.Equal(t, "u-2", got[3].UserID)
}

func TestReplaceUserLTVIsWholesale(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	require.NoError(t, s.ReplaceUserLTV(ctx, []*models.UserLTV{
		{UserID: "u-1", LTVTotal: 10},
		{UserID: "u-2", LTVTotal: 20},
	}))
	require.NoError(t, s.ReplaceUserLTV(ctx, []*models.UserLTV{
		{UserID: "u-3", LTVTotal: 30},
	}))

	rows, err := s.ListUserLTV(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "u-3", rows[0].UserID)
}

func TestListReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	_, err := s.CommitChunk(ctx, &Chunk{Users: []*models.User{
		{UserID: "u-1", FirstSeenDate: day(2024, 1, 1), LastSeenDate: day(2024, 1, 1)},
	}})
	require.NoError(t, err)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	users[0].CountryCode = "mutated"

	again, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, again[0].CountryCode)
}
