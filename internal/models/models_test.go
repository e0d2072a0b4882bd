package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDateOf(t *testing.T) {
	ts := time.Date(2024, 3, 5, 23, 59, 59, 999, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), DateOf(ts))
}

func TestDaysBetween(t *testing.T) {
	a := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, DaysBetween(a, a))
	assert.Equal(t, 9, DaysBetween(a, a.AddDate(0, 0, 9)))
	assert.Equal(t, -1, DaysBetween(a, a.AddDate(0, 0, -1)))
	// Crosses a DST change in local time; dates are UTC so it is exact.
	assert.Equal(t, 90, DaysBetween(a, a.AddDate(0, 0, 90)))
}

func TestPurchaseKey(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 2, 3, 0, time.UTC)
	p := &Purchase{UserID: "u-1", OrderID: "ord-1", PurchaseTime: ts}
	assert.Equal(t, "u-1|ord-1|2024-03-01 10:02:03", p.Key())

	// An absent order id still forms a stable key.
	p.OrderID = ""
	assert.Equal(t, "u-1||2024-03-01 10:02:03", p.Key())
}

func TestPurchaseKeySecondResolution(t *testing.T) {
	a := &Purchase{UserID: "u-1", OrderID: "ord-1",
		PurchaseTime: time.Date(2024, 3, 1, 10, 2, 3, 100_000_000, time.UTC)}
	b := &Purchase{UserID: "u-1", OrderID: "ord-1",
		PurchaseTime: time.Date(2024, 3, 1, 10, 2, 3, 200_000_000, time.UTC)}
	assert.Equal(t, a.Key(), b.Key())
}
