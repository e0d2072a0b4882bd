package models

import (
	"time"
)

// DateFormat is the canonical calendar-date layout used across the
// pipeline and in all date-keyed tables.
const DateFormat = "2006-01-02"

// TimestampFormat is the canonical layout for second-resolution
// timestamps when they participate in identity keys.
const TimestampFormat = "2006-01-02 15:04:05"

// DateOf truncates a timestamp to its calendar date (midnight UTC).
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of whole calendar days from a to b.
// Both arguments are expected to be date-truncated.
func DaysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

// ===========================================
// CANONICAL ENTITIES
// ===========================================

// User is one attributed device/user. Attributes other than
// LastSeenDate are captured from the first observed row for the id.
type User struct {
	UserID         string    `json:"user_id"`
	FirstSeenDate  time.Time `json:"first_seen_date"`
	LastSeenDate   time.Time `json:"last_seen_date"`
	CountryCode    string    `json:"country_code,omitempty"`
	DeviceModel    string    `json:"device_model,omitempty"`
	DeviceCategory string    `json:"device_category,omitempty"`
	Platform       string    `json:"platform,omitempty"`
	Source         string    `json:"source,omitempty"`
	InstallTime    time.Time `json:"install_time,omitempty"`
}

// Event is one normalized activity row. Events are immutable once
// created and are rebuilt wholesale on every pipeline run.
type Event struct {
	ID             int64     `json:"id,omitempty"`
	UserID         string    `json:"user_id"`
	EventName      string    `json:"event_name"`
	EventValue     string    `json:"event_value,omitempty"`
	EventDate      time.Time `json:"event_date"`
	EventTime      time.Time `json:"event_time"`
	CountryCode    string    `json:"country_code,omitempty"`
	DeviceModel    string    `json:"device_model,omitempty"`
	DeviceCategory string    `json:"device_category,omitempty"`
	AppID          string    `json:"app_id,omitempty"`
	Platform       string    `json:"platform,omitempty"`
	Source         string    `json:"source,omitempty"`
	RevenueRaw     float64   `json:"revenue_raw,omitempty"`
	RevenueCur     string    `json:"revenue_currency,omitempty"`
	RevenueUSD     float64   `json:"revenue_usd,omitempty"`
	ParamsJSON     string    `json:"params_json,omitempty"`
	InstallTime    time.Time `json:"install_time,omitempty"`
}

// Purchase is a purchase-type event with positive USD revenue, carried
// separately so LTV aggregation never rescans the event table.
type Purchase struct {
	ID             int64     `json:"id,omitempty"`
	UserID         string    `json:"user_id"`
	PurchaseTime   time.Time `json:"purchase_time"`
	PurchaseDate   time.Time `json:"purchase_date"`
	CountryCode    string    `json:"country_code,omitempty"`
	DeviceCategory string    `json:"device_category,omitempty"`
	RevenueUSD     float64   `json:"revenue_usd"`
	ProductID      string    `json:"product_id,omitempty"`
	OrderID        string    `json:"order_id,omitempty"`
}

// Key returns the purchase identity key. Rows sharing a key are the
// same purchase; the first occurrence in input order wins.
func (p *Purchase) Key() string {
	return p.UserID + "|" + p.OrderID + "|" + p.PurchaseTime.UTC().Format(TimestampFormat)
}

// ===========================================
// DERIVED OUTPUTS
// ===========================================

// UserLTV holds cohort-windowed revenue sums for one paying user. The
// windows are nested: each purchase contributes to every window whose
// day threshold it satisfies, so LTV1D <= LTV7D <= ... <= LTVTotal.
type UserLTV struct {
	UserID            string    `json:"user_id"`
	FirstPurchaseDate time.Time `json:"first_purchase_date"`
	LTV1D             float64   `json:"ltv_1d"`
	LTV7D             float64   `json:"ltv_7d"`
	LTV14D            float64   `json:"ltv_14d"`
	LTV30D            float64   `json:"ltv_30d"`
	LTV60D            float64   `json:"ltv_60d"`
	LTV90D            float64   `json:"ltv_90d"`
	LTVTotal          float64   `json:"ltv_total"`
	PurchaseCount     int       `json:"purchase_count"`
	LastPurchaseDate  time.Time `json:"last_purchase_date"`
}

// DailyStat is the per-date rollup of the event collection.
type DailyStat struct {
	Date         time.Time `json:"date"`
	UserCount    int       `json:"user_count"`
	NewUserCount int       `json:"new_user_count"`
	EventCount   int       `json:"event_count"`
	PurchCount   int       `json:"purchase_count"`
	RevenueUSD   float64   `json:"revenue_usd"`
	DeviceCount  int       `json:"device_count"`
	CountryCount int       `json:"country_count"`
}

// CountryStat is the per-(date, country) rollup.
type CountryStat struct {
	Date        time.Time `json:"date"`
	CountryCode string    `json:"country_code"`
	UserCount   int       `json:"user_count"`
	EventCount  int       `json:"event_count"`
	RevenueUSD  float64   `json:"revenue_usd"`
}

// DeviceStat is the per-(date, device category) rollup.
type DeviceStat struct {
	Date           time.Time `json:"date"`
	DeviceCategory string    `json:"device_category"`
	UserCount      int       `json:"user_count"`
	EventCount     int       `json:"event_count"`
	RevenueUSD     float64   `json:"revenue_usd"`
}
