package database

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// createTablesSQL provisions every table the pipeline writes or reads.
// All statements are idempotent so the pipeline can run against a fresh
// or an already provisioned database.
const createTablesSQL = `
CREATE TABLE IF NOT EXISTS users (
	user_id          TEXT PRIMARY KEY,
	first_seen_date  DATE NOT NULL,
	last_seen_date   DATE NOT NULL,
	country_code     TEXT,
	device_model     TEXT,
	device_category  TEXT,
	platform         TEXT,
	source           TEXT,
	install_time     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS events (
	id               BIGSERIAL PRIMARY KEY,
	user_id          TEXT NOT NULL,
	event_name       TEXT NOT NULL,
	event_value      TEXT,
	event_date       DATE NOT NULL,
	event_time       TIMESTAMPTZ,
	country_code     TEXT,
	device_model     TEXT,
	device_category  TEXT,
	app_id           TEXT,
	platform         TEXT,
	source           TEXT,
	revenue_raw      DOUBLE PRECISION,
	revenue_currency TEXT,
	revenue_usd      DOUBLE PRECISION,
	params_json      TEXT,
	install_time     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS purchases (
	id               BIGSERIAL PRIMARY KEY,
	user_id          TEXT NOT NULL,
	purchase_time    TIMESTAMPTZ NOT NULL,
	purchase_date    DATE NOT NULL,
	country_code     TEXT,
	device_category  TEXT,
	revenue_usd      DOUBLE PRECISION NOT NULL,
	product_id       TEXT,
	order_id         TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS user_ltv (
	user_id             TEXT PRIMARY KEY,
	first_purchase_date DATE,
	ltv_1d              DOUBLE PRECISION DEFAULT 0,
	ltv_7d              DOUBLE PRECISION DEFAULT 0,
	ltv_14d             DOUBLE PRECISION DEFAULT 0,
	ltv_30d             DOUBLE PRECISION DEFAULT 0,
	ltv_60d             DOUBLE PRECISION DEFAULT 0,
	ltv_90d             DOUBLE PRECISION DEFAULT 0,
	ltv_total           DOUBLE PRECISION DEFAULT 0,
	purchase_count      INTEGER DEFAULT 0,
	last_purchase_date  DATE
);

CREATE TABLE IF NOT EXISTS daily_stats (
	stat_date       DATE PRIMARY KEY,
	user_count      INTEGER DEFAULT 0,
	new_user_count  INTEGER DEFAULT 0,
	event_count     INTEGER DEFAULT 0,
	purchase_count  INTEGER DEFAULT 0,
	revenue_usd     DOUBLE PRECISION DEFAULT 0,
	device_count    INTEGER DEFAULT 0,
	country_count   INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS country_stats (
	stat_date     DATE NOT NULL,
	country_code  TEXT NOT NULL,
	user_count    INTEGER DEFAULT 0,
	event_count   INTEGER DEFAULT 0,
	revenue_usd   DOUBLE PRECISION DEFAULT 0,
	PRIMARY KEY (stat_date, country_code)
);

CREATE TABLE IF NOT EXISTS device_stats (
	stat_date        DATE NOT NULL,
	device_category  TEXT NOT NULL,
	user_count       INTEGER DEFAULT 0,
	event_count      INTEGER DEFAULT 0,
	revenue_usd      DOUBLE PRECISION DEFAULT 0,
	PRIMARY KEY (stat_date, device_category)
);

CREATE TABLE IF NOT EXISTS currency_rates (
	currency_code TEXT PRIMARY KEY,
	rate_to_usd   DOUBLE PRECISION NOT NULL,
	last_updated  TIMESTAMPTZ NOT NULL
);
`

// createIndexesSQL adds the lookup indexes. The unique purchase index
// backs duplicate suppression across chunk transactions: a later row
// with an already committed identity key inserts as a no-op.
const createIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_events_event_date ON events(event_date);
CREATE INDEX IF NOT EXISTS idx_events_user_id ON events(user_id);
CREATE INDEX IF NOT EXISTS idx_events_event_name ON events(event_name);
CREATE INDEX IF NOT EXISTS idx_events_country_device ON events(country_code, device_category);

CREATE INDEX IF NOT EXISTS idx_users_country_device ON users(country_code, device_category);
CREATE INDEX IF NOT EXISTS idx_users_first_seen ON users(first_seen_date);

CREATE UNIQUE INDEX IF NOT EXISTS ux_purchases_identity ON purchases(user_id, order_id, purchase_time);
CREATE INDEX IF NOT EXISTS idx_purchases_date ON purchases(purchase_date);
CREATE INDEX IF NOT EXISTS idx_purchases_country_device ON purchases(country_code, device_category);

CREATE INDEX IF NOT EXISTS idx_country_stats_date ON country_stats(stat_date);
CREATE INDEX IF NOT EXISTS idx_device_stats_date ON device_stats(stat_date);
`

// defaultCurrencyRates is the initial rate-to-USD seed. Existing rows
// are left untouched so operator-maintained rates survive restarts.
var defaultCurrencyRates = map[string]float64{
	"USD": 1.0,
	"EUR": 1.1,
	"JPY": 0.0091,
	"GBP": 1.3,
	"AUD": 0.75,
	"CAD": 0.78,
	"CNY": 0.15,
	"HKD": 0.13,
	"TWD": 0.036,
	"KRW": 0.00084,
	"INR": 0.014,
	"SGD": 0.74,
	"MYR": 0.24,
	"THB": 0.031,
	"IDR": 0.000071,
	"PHP": 0.020,
	"VND": 0.000044,
}

// EnsureSchema creates all tables and indexes if they do not exist.
func (db *PostgresDB) EnsureSchema(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, createTablesSQL); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	if _, err := db.Pool.Exec(ctx, createIndexesSQL); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	db.logger.Info("database schema ensured")
	return nil
}

// SeedCurrencyRates inserts the default rate table entries that are
// not already present.
func (db *PostgresDB) SeedCurrencyRates(ctx context.Context) error {
	now := time.Now().UTC()
	seeded := 0
	for code, rate := range defaultCurrencyRates {
		tag, err := db.Pool.Exec(ctx, `
			INSERT INTO currency_rates (currency_code, rate_to_usd, last_updated)
			VALUES ($1, $2, $3)
			ON CONFLICT (currency_code) DO NOTHING
		`, code, rate, now)
		if err != nil {
			return fmt.Errorf("failed to seed currency rate %s: %w", code, err)
		}
		seeded += int(tag.RowsAffected())
	}
	if seeded > 0 {
		db.logger.Info("seeded currency rates", zap.Int("inserted", seeded))
	}
	return nil
}
