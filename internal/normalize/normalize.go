package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/radiusdt/ltv-pipeline/internal/models"
)

// RateTable resolves a currency code to its rate-to-USD. Unknown codes
// resolve to 1.0.
type RateTable interface {
	Rate(code string) float64
}

// StaticRates is a fixed in-memory rate table.
type StaticRates map[string]float64

func (s StaticRates) Rate(code string) float64 {
	if r, ok := s[code]; ok {
		return r
	}
	return 1.0
}

// RawRecord is one input row as a column-name to value mapping. Missing
// columns and empty values are equivalent.
type RawRecord map[string]string

// Get returns the trimmed value for a column, or "" when absent.
func (r RawRecord) Get(col string) string {
	return strings.TrimSpace(r[col])
}

// Row is a fully normalized input row. Zero time values mean the field
// is absent and persists as NULL.
type Row struct {
	UserID         string
	EventName      string
	EventValue     string
	EventDate      time.Time
	EventTime      time.Time
	CountryCode    string
	DeviceModel    string
	DeviceCategory string
	AppID          string
	Platform       string
	Source         string
	RevenueRaw     float64
	RevenueCur     string
	RevenueUSD     float64
	ParamsJSON     string
	ProductID      string
	OrderID        string
	InstallTime    time.Time
}

// FieldDefault records one field that could not be taken from the input
// and was substituted.
type FieldDefault struct {
	Field  string
	Reason string
}

// Outcome summarizes what happened to one raw row so the caller can log
// it without any per-field control flow.
type Outcome struct {
	Dropped    bool
	DropReason string
	Defaults   []FieldDefault
}

func (o *Outcome) defaulted(field, reason string) {
	o.Defaults = append(o.Defaults, FieldDefault{Field: field, Reason: reason})
}

// Config controls normalization behavior.
type Config struct {
	// ContentIDKey is the JSON key holding the product id inside the
	// event value payload.
	ContentIDKey string
	// ProductIDColumns are fallback columns checked in order.
	ProductIDColumns []string
	// InstallTimeFallback substitutes the event time for a missing
	// install time.
	InstallTimeFallback bool
}

// DefaultConfig matches the AppsFlyer export shape.
func DefaultConfig() Config {
	return Config{
		ContentIDKey:        "af_content_id",
		ProductIDColumns:    []string{"af_content_id", "product_id", "sku"},
		InstallTimeFallback: true,
	}
}

// Normalizer cleans one raw row into canonical field values.
type Normalizer struct {
	rates RateTable
	cfg   Config
}

// New creates a Normalizer over the given rate table.
func New(rates RateTable, cfg Config) *Normalizer {
	if cfg.ContentIDKey == "" {
		cfg.ContentIDKey = "af_content_id"
	}
	if len(cfg.ProductIDColumns) == 0 {
		cfg.ProductIDColumns = []string{"af_content_id", "product_id", "sku"}
	}
	return &Normalizer{rates: rates, cfg: cfg}
}

// userIDColumns are checked in order for the attribution id.
var userIDColumns = []string{"appsflyer_id", "user_id"}

// Normalize cleans one raw row. A nil Row means the row is unusable;
// the Outcome carries the reason and any field defaults applied.
func (n *Normalizer) Normalize(rec RawRecord) (*Row, Outcome) {
	var out Outcome

	var userID string
	for _, col := range userIDColumns {
		if v := rec.Get(col); v != "" {
			userID = v
			break
		}
	}
	if userID == "" {
		out.Dropped = true
		out.DropReason = "missing user id"
		return nil, out
	}

	row := &Row{UserID: userID}

	row.EventName = rec.Get("event_name")
	if row.EventName == "" {
		row.EventName = "unknown_event"
		out.defaulted("event_name", "missing")
	}

	row.CountryCode = rec.Get("country_code")
	if row.CountryCode == "" {
		row.CountryCode = "unknown"
		out.defaulted("country_code", "missing")
	}

	model := rec.Get("device_model")
	if model == "" {
		row.DeviceModel = "unknown_device"
		row.DeviceCategory = "unknown_device_category"
		out.defaulted("device_model", "missing")
	} else {
		row.DeviceModel = model
		row.DeviceCategory = DeviceCategory(model)
	}

	// The event timestamp anchors the user's seen dates, the event's
	// calendar date and the purchase identity key; a row without one
	// cannot be placed anywhere.
	rawTime := rec.Get("event_time")
	t, ok := ParseTimestamp(rawTime)
	if !ok {
		out.Dropped = true
		if rawTime == "" {
			out.DropReason = "missing event time"
		} else {
			out.DropReason = "unparseable event time"
		}
		return nil, out
	}
	row.EventTime = t
	row.EventDate = models.DateOf(t)

	rawInstall := rec.Get("install_time")
	if t, ok := ParseTimestamp(rawInstall); ok {
		row.InstallTime = t
	} else if rawInstall != "" {
		out.defaulted("install_time", "unparseable: "+rawInstall)
	} else if n.cfg.InstallTimeFallback && !row.EventTime.IsZero() {
		row.InstallTime = row.EventTime
		out.defaulted("install_time", "defaulted to event_time")
	}
	// An install cannot be observed after the event it is attributed to.
	if !row.InstallTime.IsZero() && !row.EventTime.IsZero() && row.InstallTime.After(row.EventTime) {
		row.InstallTime = row.EventTime
	}

	row.RevenueCur = strings.ToUpper(rec.Get("event_revenue_currency"))
	if row.RevenueCur == "" {
		row.RevenueCur = "USD"
		out.defaulted("event_revenue_currency", "missing")
	}

	if v := rec.Get("event_revenue"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			row.RevenueRaw = f
		} else {
			out.defaulted("event_revenue", "unparseable: "+v)
		}
	}
	row.RevenueUSD = n.revenueUSD(row, rec)

	row.AppID = rec.Get("app_id")
	row.Platform = rec.Get("platform")
	row.Source = rec.Get("media_source")
	row.OrderID = rec.Get("order_id")
	row.EventValue = rec.Get("event_value")

	row.ParamsJSON = extractParams(rec, &out)
	row.ProductID = n.extractProductID(rec)

	return row, out
}

// revenueUSD implements the conversion policy: zero or missing raw
// revenue is zero; an explicit USD column wins over conversion; all
// results round to 4 decimal places.
func (n *Normalizer) revenueUSD(row *Row, rec RawRecord) float64 {
	if row.RevenueRaw == 0 {
		return 0
	}
	if v := rec.Get("event_revenue_usd"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return Round4(f)
		}
	}
	return Round4(row.RevenueRaw * n.rates.Rate(row.RevenueCur))
}

// extractProductID pulls the product id out of the event value payload,
// falling back to the configured columns.
func (n *Normalizer) extractProductID(rec RawRecord) string {
	if payload := parseJSONObject(rec.Get("event_value")); payload != nil {
		if id := stringValue(payload[n.cfg.ContentIDKey]); id != "" {
			return id
		}
	}
	for _, col := range n.cfg.ProductIDColumns {
		if v := rec.Get(col); v != "" {
			return v
		}
	}
	return ""
}

// extractParams carries a JSON event value payload through verbatim,
// otherwise folds any *params* columns into one object.
func extractParams(rec RawRecord, out *Outcome) string {
	ev := rec.Get("event_value")
	if strings.HasPrefix(ev, "{") {
		if parseJSONObject(ev) != nil {
			return ev
		}
		out.defaulted("event_value", "invalid JSON payload")
	}

	params := make(map[string]string)
	for col, v := range rec {
		if strings.Contains(col, "params") && strings.TrimSpace(v) != "" {
			params[col] = strings.TrimSpace(v)
		}
	}
	if len(params) == 0 {
		return ""
	}
	b, err := json.Marshal(params)
	if err != nil {
		return ""
	}
	return string(b)
}

// parseJSONObject returns the decoded object, or nil when the value is
// not a JSON object.
func parseJSONObject(v string) map[string]any {
	if !strings.HasPrefix(v, "{") {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(v), &m); err != nil {
		return nil
	}
	return m
}

// stringValue renders a decoded JSON scalar as a string id.
func stringValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}

// DeviceCategory derives the device category from a device model string.
func DeviceCategory(model string) string {
	m := strings.ToLower(model)
	switch {
	case m == "":
		return "unknown_device_category"
	case strings.Contains(m, "tablet"), strings.Contains(m, "pad"):
		return "tablet"
	case strings.Contains(m, "mobile"), strings.Contains(m, "phone"):
		return "mobile_phone"
	case strings.Contains(m, "::"):
		return strings.SplitN(m, "::", 2)[0]
	default:
		return "mobile_phone"
	}
}

// timestampLayouts are tried in order; the first match wins.
var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999-07:00",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses a raw date/time value. Values that match none
// of the known layouts are interpreted as Unix epoch seconds when
// numeric; anything else reports false.
func ParseTimestamp(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		sec, frac := math.Modf(secs)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
	}
	return time.Time{}, false
}

// Round4 rounds to 4 decimal places, the fixed-point precision used for
// all USD revenue figures.
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
