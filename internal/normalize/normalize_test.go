package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNormalizer(rates StaticRates) *Normalizer {
	return New(rates, DefaultConfig())
}

func TestNormalizeDropsRowWithoutUserID(t *testing.T) {
	n := testNormalizer(nil)

	row, out := n.Normalize(RawRecord{
		"event_name": "af_purchase",
		"event_time": "2024-03-01 10:00:00",
	})

	require.Nil(t, row)
	assert.True(t, out.Dropped)
	assert.Equal(t, "missing user id", out.DropReason)
}

func TestNormalizeUserIDColumnOrder(t *testing.T) {
	n := testNormalizer(nil)

	row, out := n.Normalize(RawRecord{
		"appsflyer_id": "af-1",
		"user_id":      "u-1",
		"event_time":   "2024-03-01 10:00:00",
	})

	require.NotNil(t, row)
	assert.False(t, out.Dropped)
	assert.Equal(t, "af-1", row.UserID)

	row, _ = n.Normalize(RawRecord{
		"user_id":    "u-1",
		"event_time": "2024-03-01 10:00:00",
	})
	require.NotNil(t, row)
	assert.Equal(t, "u-1", row.UserID)
}

func TestNormalizeDropsRowWithoutEventTime(t *testing.T) {
	n := testNormalizer(nil)

	tests := []struct {
		name   string
		value  string
		reason string
	}{
		{"missing", "", "missing event time"},
		{"garbage", "yesterday-ish", "unparseable event time"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := RawRecord{"user_id": "u-1"}
			if tt.value != "" {
				rec["event_time"] = tt.value
			}
			row, out := n.Normalize(rec)
			require.Nil(t, row)
			assert.True(t, out.Dropped)
			assert.Equal(t, tt.reason, out.DropReason)
		})
	}
}

func TestNormalizeAppliesFieldDefaults(t *testing.T) {
	n := testNormalizer(nil)

	row, out := n.Normalize(RawRecord{
		"user_id":    "u-1",
		"event_time": "2024-03-01 10:00:00",
	})

	require.NotNil(t, row)
	assert.Equal(t, "unknown_event", row.EventName)
	assert.Equal(t, "unknown", row.CountryCode)
	assert.Equal(t, "unknown_device", row.DeviceModel)
	assert.Equal(t, "unknown_device_category", row.DeviceCategory)
	assert.Equal(t, "USD", row.RevenueCur)

	fields := make([]string, 0, len(out.Defaults))
	for _, d := range out.Defaults {
		fields = append(fields, d.Field)
	}
	assert.Contains(t, fields, "event_name")
	assert.Contains(t, fields, "country_code")
	assert.Contains(t, fields, "device_model")
	assert.Contains(t, fields, "event_revenue_currency")
}

func TestDeviceCategory(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"", "unknown_device_category"},
		{"Galaxy Tablet S9", "tablet"},
		{"iPad Pro", "tablet"},
		{"Redmi Note Mobile", "mobile_phone"},
		{"Google Phone 8", "mobile_phone"},
		{"samsung::SM-G991B", "samsung"},
		{"SM-G991B", "mobile_phone"},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, DeviceCategory(tt.model))
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Time
		ok    bool
	}{
		{
			name:  "fractional with offset",
			value: "2024-03-01 10:02:03.500000+02:00",
			want:  time.Date(2024, 3, 1, 8, 2, 3, 500000000, time.UTC),
			ok:    true,
		},
		{
			name:  "fractional",
			value: "2024-03-01 10:02:03.250000",
			want:  time.Date(2024, 3, 1, 10, 2, 3, 250000000, time.UTC),
			ok:    true,
		},
		{
			name:  "offset",
			value: "2024-03-01 10:02:03-05:00",
			want:  time.Date(2024, 3, 1, 15, 2, 3, 0, time.UTC),
			ok:    true,
		},
		{
			name:  "plain",
			value: "2024-03-01 10:02:03",
			want:  time.Date(2024, 3, 1, 10, 2, 3, 0, time.UTC),
			ok:    true,
		},
		{
			name:  "date only",
			value: "2024-03-01",
			want:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			ok:    true,
		},
		{
			name:  "epoch seconds",
			value: "1709287323",
			want:  time.Date(2024, 3, 1, 10, 2, 3, 0, time.UTC),
			ok:    true,
		},
		{
			name:  "garbage",
			value: "not-a-time",
			ok:    false,
		},
		{
			name:  "empty",
			value: "",
			ok:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTimestamp(tt.value)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, got.Equal(tt.want), "got %v want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeInstallTime(t *testing.T) {
	eventTime := "2024-03-05 12:00:00"

	t.Run("parsed when present", func(t *testing.T) {
		n := testNormalizer(nil)
		row, _ := n.Normalize(RawRecord{
			"user_id":      "u-1",
			"event_time":   eventTime,
			"install_time": "2024-03-01 09:00:00",
		})
		require.NotNil(t, row)
		assert.Equal(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), row.InstallTime)
	})

	t.Run("falls back to event time", func(t *testing.T) {
		n := testNormalizer(nil)
		row, out := n.Normalize(RawRecord{
			"user_id":    "u-1",
			"event_time": eventTime,
		})
		require.NotNil(t, row)
		assert.Equal(t, row.EventTime, row.InstallTime)
		assert.NotEmpty(t, out.Defaults)
	})

	t.Run("clamped to event time", func(t *testing.T) {
		n := testNormalizer(nil)
		row, _ := n.Normalize(RawRecord{
			"user_id":      "u-1",
			"event_time":   eventTime,
			"install_time": "2024-03-09 08:00:00",
		})
		require.NotNil(t, row)
		assert.Equal(t, row.EventTime, row.InstallTime)
	})

	t.Run("fallback disabled", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.InstallTimeFallback = false
		n := New(nil, cfg)
		row, _ := n.Normalize(RawRecord{
			"user_id":    "u-1",
			"event_time": eventTime,
		})
		require.NotNil(t, row)
		assert.True(t, row.InstallTime.IsZero())
	})
}

func TestRevenueConversion(t *testing.T) {
	rates := StaticRates{"USD": 1.0, "EUR": 1.08, "XYZ": 0.15}

	tests := []struct {
		name string
		rec  RawRecord
		want float64
	}{
		{
			name: "zero raw revenue stays zero even with explicit usd",
			rec: RawRecord{
				"event_revenue":     "0",
				"event_revenue_usd": "42.50",
			},
			want: 0,
		},
		{
			name: "missing raw revenue stays zero",
			rec:  RawRecord{},
			want: 0,
		},
		{
			name: "explicit usd wins over conversion",
			rec: RawRecord{
				"event_revenue":          "100",
				"event_revenue_currency": "EUR",
				"event_revenue_usd":      "107.99",
			},
			want: 107.99,
		},
		{
			name: "converted via rate table",
			rec: RawRecord{
				"event_revenue":          "100",
				"event_revenue_currency": "XYZ",
			},
			want: 15.0,
		},
		{
			name: "unknown currency converts at 1.0",
			rec: RawRecord{
				"event_revenue":          "12.3456789",
				"event_revenue_currency": "ZZZ",
			},
			want: 12.3457,
		},
		{
			name: "lowercase currency code",
			rec: RawRecord{
				"event_revenue":          "100",
				"event_revenue_currency": "xyz",
			},
			want: 15.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := testNormalizer(rates)
			tt.rec["user_id"] = "u-1"
			tt.rec["event_time"] = "2024-03-01 10:00:00"
			row, _ := n.Normalize(tt.rec)
			require.NotNil(t, row)
			assert.InDelta(t, tt.want, row.RevenueUSD, 1e-9)
		})
	}
}

func TestExtractProductID(t *testing.T) {
	n := testNormalizer(nil)
	base := RawRecord{
		"user_id":    "u-1",
		"event_time": "2024-03-01 10:00:00",
	}

	t.Run("from json payload", func(t *testing.T) {
		rec := RawRecord{"event_value": `{"af_content_id":"sku-9","af_quantity":1}`}
		for k, v := range base {
			rec[k] = v
		}
		row, _ := n.Normalize(rec)
		require.NotNil(t, row)
		assert.Equal(t, "sku-9", row.ProductID)
	})

	t.Run("numeric content id", func(t *testing.T) {
		rec := RawRecord{"event_value": `{"af_content_id":1234}`}
		for k, v := range base {
			rec[k] = v
		}
		row, _ := n.Normalize(rec)
		require.NotNil(t, row)
		assert.Equal(t, "1234", row.ProductID)
	})

	t.Run("fallback column order", func(t *testing.T) {
		rec := RawRecord{"product_id": "p-1", "sku": "s-1"}
		for k, v := range base {
			rec[k] = v
		}
		row, _ := n.Normalize(rec)
		require.NotNil(t, row)
		assert.Equal(t, "p-1", row.ProductID)
	})

	t.Run("absent", func(t *testing.T) {
		rec := RawRecord{}
		for k, v := range base {
			rec[k] = v
		}
		row, _ := n.Normalize(rec)
		require.NotNil(t, row)
		assert.Empty(t, row.ProductID)
	})
}

func TestExtractParams(t *testing.T) {
	n := testNormalizer(nil)

	t.Run("json payload carried verbatim", func(t *testing.T) {
		row, _ := n.Normalize(RawRecord{
			"user_id":     "u-1",
			"event_time":  "2024-03-01 10:00:00",
			"event_value": `{"af_content_id":"sku-9"}`,
		})
		require.NotNil(t, row)
		assert.JSONEq(t, `{"af_content_id":"sku-9"}`, row.ParamsJSON)
	})

	t.Run("params columns folded", func(t *testing.T) {
		row, _ := n.Normalize(RawRecord{
			"user_id":       "u-1",
			"event_time":    "2024-03-01 10:00:00",
			"custom_params": "a=1",
		})
		require.NotNil(t, row)
		assert.JSONEq(t, `{"custom_params":"a=1"}`, row.ParamsJSON)
	})

	t.Run("no params at all", func(t *testing.T) {
		row, _ := n.Normalize(RawRecord{
			"user_id":    "u-1",
			"event_time": "2024-03-01 10:00:00",
		})
		require.NotNil(t, row)
		assert.Empty(t, row.ParamsJSON)
	})
}

func TestRound4(t *testing.T) {
	assert.Equal(t, 12.3457, Round4(12.34567))
	assert.Equal(t, 0.0, Round4(0))
	assert.Equal(t, -3.1416, Round4(-3.14159))
	assert.Equal(t, 15.0, Round4(100*0.15))
}
