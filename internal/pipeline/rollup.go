package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/radiusdt/ltv-pipeline/internal/metrics"
	"github.com/radiusdt/ltv-pipeline/internal/models"
	"github.com/radiusdt/ltv-pipeline/internal/normalize"
	"github.com/radiusdt/ltv-pipeline/internal/storage"
	"go.uber.org/zap"
)

// RollupGenerator recomputes the daily/country/device rollup tables
// from the current event snapshot.
type RollupGenerator struct {
	canonical         storage.CanonicalStore
	rollups           storage.RollupStore
	purchaseEventName string
	logger            *zap.Logger
	metrics           *metrics.Metrics
}

// NewRollupGenerator creates a RollupGenerator. metrics may be nil.
func NewRollupGenerator(canonical storage.CanonicalStore, rollups storage.RollupStore, purchaseEventName string, logger *zap.Logger, m *metrics.Metrics) *RollupGenerator {
	return &RollupGenerator{
		canonical:         canonical,
		rollups:           rollups,
		purchaseEventName: purchaseEventName,
		logger:            logger,
		metrics:           m,
	}
}

// Run rebuilds all three rollup collections from the same event
// snapshot and replaces them in one transaction.
func (g *RollupGenerator) Run(ctx context.Context) error {
	events, err := g.canonical.ListEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to list events: %w", err)
	}
	users, err := g.canonical.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	daily, country, device := ComputeRollups(events, users, g.purchaseEventName)

	if err := g.rollups.ReplaceRollups(ctx, daily, country, device); err != nil {
		g.metrics.RecordRollback("rollups")
		return fmt.Errorf("failed to replace rollups: %w", err)
	}

	g.logger.Info("rollups updated",
		zap.Int("daily", len(daily)),
		zap.Int("country", len(country)),
		zap.Int("device", len(device)),
	)
	return nil
}

type dailyAgg struct {
	stat      models.DailyStat
	users     map[string]struct{}
	newUsers  map[string]struct{}
	devices   map[string]struct{}
	countries map[string]struct{}
}

type dimAgg struct {
	users      map[string]struct{}
	eventCount int
	revenueUSD float64
}

// ComputeRollups groups the event snapshot by date, date+country and
// date+device. Revenue figures count only purchase-named events and
// round to the pipeline's fixed-point precision, so summing any
// dimension back up reproduces the daily figure exactly.
func ComputeRollups(events []*models.Event, users []*models.User, purchaseEventName string) ([]*models.DailyStat, []*models.CountryStat, []*models.DeviceStat) {
	firstSeen := make(map[string]string, len(users))
	for _, u := range users {
		firstSeen[u.UserID] = u.FirstSeenDate.Format(models.DateFormat)
	}

	dailyByDate := make(map[string]*dailyAgg)
	countryByKey := make(map[string]*dimAgg)
	deviceByKey := make(map[string]*dimAgg)

	for _, e := range events {
		date := e.EventDate.Format(models.DateFormat)
		isPurchase := e.EventName == purchaseEventName

		d, ok := dailyByDate[date]
		if !ok {
			d = &dailyAgg{
				stat:      models.DailyStat{Date: e.EventDate},
				users:     make(map[string]struct{}),
				newUsers:  make(map[string]struct{}),
				devices:   make(map[string]struct{}),
				countries: make(map[string]struct{}),
			}
			dailyByDate[date] = d
		}
		d.users[e.UserID] = struct{}{}
		if firstSeen[e.UserID] == date {
			d.newUsers[e.UserID] = struct{}{}
		}
		d.stat.EventCount++
		if isPurchase {
			d.stat.PurchCount++
			d.stat.RevenueUSD += e.RevenueUSD
		}
		if e.DeviceCategory != "" {
			d.devices[e.DeviceCategory] = struct{}{}
		}
		if e.CountryCode != "" {
			d.countries[e.CountryCode] = struct{}{}
		}

		accumulateDim(countryByKey, date+"\x00"+e.CountryCode, e, isPurchase)
		accumulateDim(deviceByKey, date+"\x00"+e.DeviceCategory, e, isPurchase)
	}

	daily := make([]*models.DailyStat, 0, len(dailyByDate))
	for _, d := range dailyByDate {
		d.stat.UserCount = len(d.users)
		d.stat.NewUserCount = len(d.newUsers)
		d.stat.DeviceCount = len(d.devices)
		d.stat.CountryCount = len(d.countries)
		d.stat.RevenueUSD = normalize.Round4(d.stat.RevenueUSD)
		stat := d.stat
		daily = append(daily, &stat)
	}
	sort.Slice(daily, func(i, j int) bool { return daily[i].Date.Before(daily[j].Date) })

	var country []*models.CountryStat
	for key, agg := range countryByKey {
		date, code := splitKey(key)
		country = append(country, &models.CountryStat{
			Date:        mustDate(date),
			CountryCode: code,
			UserCount:   len(agg.users),
			EventCount:  agg.eventCount,
			RevenueUSD:  normalize.Round4(agg.revenueUSD),
		})
	}
	sort.Slice(country, func(i, j int) bool {
		if !country[i].Date.Equal(country[j].Date) {
			return country[i].Date.Before(country[j].Date)
		}
		return country[i].CountryCode < country[j].CountryCode
	})

	var device []*models.DeviceStat
	for key, agg := range deviceByKey {
		date, category := splitKey(key)
		device = append(device, &models.DeviceStat{
			Date:           mustDate(date),
			DeviceCategory: category,
			UserCount:      len(agg.users),
			EventCount:     agg.eventCount,
			RevenueUSD:     normalize.Round4(agg.revenueUSD),
		})
	}
	sort.Slice(device, func(i, j int) bool {
		if !device[i].Date.Equal(device[j].Date) {
			return device[i].Date.Before(device[j].Date)
		}
		return device[i].DeviceCategory < device[j].DeviceCategory
	})

	return daily, country, device
}

func accumulateDim(m map[string]*dimAgg, key string, e *models.Event, isPurchase bool) {
	agg, ok := m[key]
	if !ok {
		agg = &dimAgg{users: make(map[string]struct{})}
		m[key] = agg
	}
	agg.users[e.UserID] = struct{}{}
	agg.eventCount++
	if isPurchase {
		agg.revenueUSD += e.RevenueUSD
	}
}

func splitKey(key string) (string, string) {
	for i := 0; i < len(key); i++ {
		if key[i] == 0 {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

func mustDate(s string) time.Time {
	t, _ := time.Parse(models.DateFormat, s)
	return t
}
