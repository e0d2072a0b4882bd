package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/radiusdt/ltv-pipeline/internal/models"
	"github.com/radiusdt/ltv-pipeline/internal/normalize"
)

// PostgresStore implements CanonicalStore, LTVStore, RollupStore and
// RateRepo over a single PostgreSQL database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store over the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// ClearCanonical deletes all canonical rows inside one transaction.
func (s *PostgresStore) ClearCanonical(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, table := range []string{"purchases", "events", "users"} {
		if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	return tx.Commit(ctx)
}

// CommitChunk writes one chunk in a single transaction: users first,
// then events, then purchases, so a purchase never lands before the
// user row it references. User attribute capture and purchase dedup
// both consult state committed by earlier chunks via ON CONFLICT.
func (s *PostgresStore) CommitChunk(ctx context.Context, chunk *Chunk) (ChunkResult, error) {
	var res ChunkResult

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, u := range chunk.Users {
		_, err := tx.Exec(ctx, `
			INSERT INTO users (user_id, first_seen_date, last_seen_date,
				country_code, device_model, device_category,
				platform, source, install_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (user_id) DO UPDATE SET
				last_seen_date = GREATEST(users.last_seen_date, EXCLUDED.last_seen_date)
		`, u.UserID, u.FirstSeenDate, u.LastSeenDate,
			nullString(u.CountryCode), nullString(u.DeviceModel), nullString(u.DeviceCategory),
			nullString(u.Platform), nullString(u.Source), nullTime(u.InstallTime))
		if err != nil {
			return res, fmt.Errorf("failed to upsert user: %w", err)
		}
	}

	for _, e := range chunk.Events {
		_, err := tx.Exec(ctx, `
			INSERT INTO events (user_id, event_name, event_value,
				event_date, event_time, country_code,
				device_model, device_category, app_id,
				platform, source, revenue_raw,
				revenue_currency, revenue_usd, params_json, install_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		`, e.UserID, e.EventName, nullString(e.EventValue),
			nullTime(e.EventDate), nullTime(e.EventTime), nullString(e.CountryCode),
			nullString(e.DeviceModel), nullString(e.DeviceCategory), nullString(e.AppID),
			nullString(e.Platform), nullString(e.Source), e.RevenueRaw,
			nullString(e.RevenueCur), e.RevenueUSD, nullString(e.ParamsJSON), nullTime(e.InstallTime))
		if err != nil {
			return res, fmt.Errorf("failed to insert event: %w", err)
		}
		res.Events++
	}

	for _, p := range chunk.Purchases {
		// purchase_time is stored at second resolution so the unique
		// index collapses the same rows the identity key does.
		tag, err := tx.Exec(ctx, `
			INSERT INTO purchases (user_id, purchase_time, purchase_date,
				country_code, device_category, revenue_usd, product_id, order_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (user_id, order_id, purchase_time) DO NOTHING
		`, p.UserID, p.PurchaseTime.Truncate(time.Second), p.PurchaseDate,
			nullString(p.CountryCode), nullString(p.DeviceCategory), p.RevenueUSD,
			nullString(p.ProductID), p.OrderID)
		if err != nil {
			return res, fmt.Errorf("failed to insert purchase: %w", err)
		}
		if tag.RowsAffected() == 0 {
			res.DuplicatePurchases++
		} else {
			res.Purchases++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return res, fmt.Errorf("failed to commit chunk: %w", err)
	}
	return res, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var u models.User
	var country, model, category, platform, source *string
	var install *time.Time

	err := s.pool.QueryRow(ctx, `
		SELECT user_id, first_seen_date, last_seen_date, country_code,
			   device_model, device_category, platform, source, install_time
		FROM users WHERE user_id = $1
	`, userID).Scan(&u.UserID, &u.FirstSeenDate, &u.LastSeenDate, &country,
		&model, &category, &platform, &source, &install)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	assign(&u.CountryCode, country)
	assign(&u.DeviceModel, model)
	assign(&u.DeviceCategory, category)
	assign(&u.Platform, platform)
	assign(&u.Source, source)
	if install != nil {
		u.InstallTime = *install
	}

	return &u, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, first_seen_date, last_seen_date, country_code,
			   device_model, device_category, platform, source, install_time
		FROM users ORDER BY user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		var u models.User
		var country, model, category, platform, source *string
		var install *time.Time

		if err := rows.Scan(&u.UserID, &u.FirstSeenDate, &u.LastSeenDate, &country,
			&model, &category, &platform, &source, &install); err != nil {
			return nil, err
		}

		assign(&u.CountryCode, country)
		assign(&u.DeviceModel, model)
		assign(&u.DeviceCategory, category)
		assign(&u.Platform, platform)
		assign(&u.Source, source)
		if install != nil {
			u.InstallTime = *install
		}

		users = append(users, &u)
	}

	return users, rows.Err()
}

func (s *PostgresStore) ListEvents(ctx context.Context) ([]*models.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, event_name, event_value, event_date, event_time,
			   country_code, device_model, device_category, app_id, platform,
			   source, revenue_raw, revenue_currency, revenue_usd, params_json,
			   install_time
		FROM events ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var e models.Event
		var value, country, model, category, appID, platform, source, cur, params *string
		var eventDate, eventTime, install *time.Time

		if err := rows.Scan(&e.ID, &e.UserID, &e.EventName, &value, &eventDate, &eventTime,
			&country, &model, &category, &appID, &platform,
			&source, &e.RevenueRaw, &cur, &e.RevenueUSD, &params, &install); err != nil {
			return nil, err
		}

		assign(&e.EventValue, value)
		assign(&e.CountryCode, country)
		assign(&e.DeviceModel, model)
		assign(&e.DeviceCategory, category)
		assign(&e.AppID, appID)
		assign(&e.Platform, platform)
		assign(&e.Source, source)
		assign(&e.RevenueCur, cur)
		assign(&e.ParamsJSON, params)
		if eventDate != nil {
			e.EventDate = *eventDate
		}
		if eventTime != nil {
			e.EventTime = *eventTime
		}
		if install != nil {
			e.InstallTime = *install
		}

		events = append(events, &e)
	}

	return events, rows.Err()
}

func (s *PostgresStore) ListPurchases(ctx context.Context) ([]*models.Purchase, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, purchase_time, purchase_date, country_code,
			   device_category, revenue_usd, product_id, order_id
		FROM purchases ORDER BY user_id, purchase_date, purchase_time, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	defer rows.Close()

	var purchases []*models.Purchase
	for rows.Next() {
		var p models.Purchase
		var country, category, productID *string

		if err := rows.Scan(&p.ID, &p.UserID, &p.PurchaseTime, &p.PurchaseDate,
			&country, &category, &p.RevenueUSD, &productID, &p.OrderID); err != nil {
			return nil, err
		}

		assign(&p.CountryCode, country)
		assign(&p.DeviceCategory, category)
		assign(&p.ProductID, productID)

		purchases = append(purchases, &p)
	}

	return purchases, rows.Err()
}

// ReplaceUserLTV clears and rewrites user_ltv in one transaction.
func (s *PostgresStore) ReplaceUserLTV(ctx context.Context, ltvRows []*models.UserLTV) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM user_ltv"); err != nil {
		return fmt.Errorf("failed to clear user_ltv: %w", err)
	}

	for _, r := range ltvRows {
		_, err := tx.Exec(ctx, `
			INSERT INTO user_ltv (user_id, first_purchase_date, ltv_1d,
				ltv_7d, ltv_14d, ltv_30d, ltv_60d, ltv_90d,
				ltv_total, purchase_count, last_purchase_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, r.UserID, r.FirstPurchaseDate, r.LTV1D,
			r.LTV7D, r.LTV14D, r.LTV30D, r.LTV60D, r.LTV90D,
			r.LTVTotal, r.PurchaseCount, r.LastPurchaseDate)
		if err != nil {
			return fmt.Errorf("failed to insert user_ltv row: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ListUserLTV(ctx context.Context) ([]*models.UserLTV, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, first_purchase_date, ltv_1d, ltv_7d, ltv_14d,
			   ltv_30d, ltv_60d, ltv_90d, ltv_total, purchase_count,
			   last_purchase_date
		FROM user_ltv ORDER BY user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list user_ltv: %w", err)
	}
	defer rows.Close()

	var result []*models.UserLTV
	for rows.Next() {
		var r models.UserLTV
		if err := rows.Scan(&r.UserID, &r.FirstPurchaseDate, &r.LTV1D, &r.LTV7D,
			&r.LTV14D, &r.LTV30D, &r.LTV60D, &r.LTV90D, &r.LTVTotal,
			&r.PurchaseCount, &r.LastPurchaseDate); err != nil {
			return nil, err
		}
		result = append(result, &r)
	}

	return result, rows.Err()
}

// ReplaceRollups clears and rewrites the three rollup tables in one
// transaction.
func (s *PostgresStore) ReplaceRollups(ctx context.Context, daily []*models.DailyStat, country []*models.CountryStat, device []*models.DeviceStat) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, table := range []string{"daily_stats", "country_stats", "device_stats"} {
		if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for _, d := range daily {
		_, err := tx.Exec(ctx, `
			INSERT INTO daily_stats (stat_date, user_count, new_user_count,
				event_count, purchase_count, revenue_usd, device_count, country_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, d.Date, d.UserCount, d.NewUserCount, d.EventCount, d.PurchCount,
			d.RevenueUSD, d.DeviceCount, d.CountryCount)
		if err != nil {
			return fmt.Errorf("failed to insert daily stat: %w", err)
		}
	}

	for _, c := range country {
		_, err := tx.Exec(ctx, `
			INSERT INTO country_stats (stat_date, country_code, user_count, event_count, revenue_usd)
			VALUES ($1, $2, $3, $4, $5)
		`, c.Date, c.CountryCode, c.UserCount, c.EventCount, c.RevenueUSD)
		if err != nil {
			return fmt.Errorf("failed to insert country stat: %w", err)
		}
	}

	for _, d := range device {
		_, err := tx.Exec(ctx, `
			INSERT INTO device_stats (stat_date, device_category, user_count, event_count, revenue_usd)
			VALUES ($1, $2, $3, $4, $5)
		`, d.Date, d.DeviceCategory, d.UserCount, d.EventCount, d.RevenueUSD)
		if err != nil {
			return fmt.Errorf("failed to insert device stat: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ListDailyStats(ctx context.Context) ([]*models.DailyStat, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT stat_date, user_count, new_user_count, event_count,
			   purchase_count, revenue_usd, device_count, country_count
		FROM daily_stats ORDER BY stat_date
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list daily stats: %w", err)
	}
	defer rows.Close()

	var result []*models.DailyStat
	for rows.Next() {
		var d models.DailyStat
		if err := rows.Scan(&d.Date, &d.UserCount, &d.NewUserCount, &d.EventCount,
			&d.PurchCount, &d.RevenueUSD, &d.DeviceCount, &d.CountryCount); err != nil {
			return nil, err
		}
		result = append(result, &d)
	}

	return result, rows.Err()
}

func (s *PostgresStore) ListCountryStats(ctx context.Context) ([]*models.CountryStat, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT stat_date, country_code, user_count, event_count, revenue_usd
		FROM country_stats ORDER BY stat_date, country_code
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list country stats: %w", err)
	}
	defer rows.Close()

	var result []*models.CountryStat
	for rows.Next() {
		var c models.CountryStat
		if err := rows.Scan(&c.Date, &c.CountryCode, &c.UserCount, &c.EventCount, &c.RevenueUSD); err != nil {
			return nil, err
		}
		result = append(result, &c)
	}

	return result, rows.Err()
}

func (s *PostgresStore) ListDeviceStats(ctx context.Context) ([]*models.DeviceStat, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT stat_date, device_category, user_count, event_count, revenue_usd
		FROM device_stats ORDER BY stat_date, device_category
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list device stats: %w", err)
	}
	defer rows.Close()

	var result []*models.DeviceStat
	for rows.Next() {
		var d models.DeviceStat
		if err := rows.Scan(&d.Date, &d.DeviceCategory, &d.UserCount, &d.EventCount, &d.RevenueUSD); err != nil {
			return nil, err
		}
		result = append(result, &d)
	}

	return result, rows.Err()
}

// LoadRates reads the currency rate table into memory.
func (s *PostgresStore) LoadRates(ctx context.Context) (normalize.StaticRates, error) {
	rows, err := s.pool.Query(ctx, `SELECT currency_code, rate_to_usd FROM currency_rates`)
	if err != nil {
		return nil, fmt.Errorf("failed to load currency rates: %w", err)
	}
	defer rows.Close()

	rates := make(normalize.StaticRates)
	for rows.Next() {
		var code string
		var rate float64
		if err := rows.Scan(&code, &rate); err != nil {
			return nil, err
		}
		rates[code] = rate
	}

	return rates, rows.Err()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func assign(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}
