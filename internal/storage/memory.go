package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/radiusdt/ltv-pipeline/internal/models"
)

// InMemoryStore keeps all collections in memory with the same
// population, dedup and replacement semantics as the Postgres store.
// It is not durable and is intended for tests and dry runs.
type InMemoryStore struct {
	mu           sync.RWMutex
	users        map[string]*models.User
	events       []*models.Event
	purchases    []*models.Purchase
	purchaseKeys map[string]struct{}
	ltv          []*models.UserLTV
	daily        []*models.DailyStat
	country      []*models.CountryStat
	device       []*models.DeviceStat
	nextID       int64
}

// NewInMemoryStore constructs an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:        make(map[string]*models.User),
		purchaseKeys: make(map[string]struct{}),
	}
}

func (s *InMemoryStore) ClearCanonical(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = make(map[string]*models.User)
	s.events = nil
	s.purchases = nil
	s.purchaseKeys = make(map[string]struct{})
	return nil
}

func (s *InMemoryStore) CommitChunk(ctx context.Context, chunk *Chunk) (ChunkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res ChunkResult

	for _, u := range chunk.Users {
		if existing, ok := s.users[u.UserID]; ok {
			if u.LastSeenDate.After(existing.LastSeenDate) {
				existing.LastSeenDate = u.LastSeenDate
			}
			continue
		}
		cp := *u
		s.users[u.UserID] = &cp
	}

	for _, e := range chunk.Events {
		cp := *e
		s.nextID++
		cp.ID = s.nextID
		s.events = append(s.events, &cp)
		res.Events++
	}

	for _, p := range chunk.Purchases {
		key := p.Key()
		if _, ok := s.purchaseKeys[key]; ok {
			res.DuplicatePurchases++
			continue
		}
		s.purchaseKeys[key] = struct{}{}
		cp := *p
		// Stored at second resolution, matching the identity key.
		cp.PurchaseTime = cp.PurchaseTime.Truncate(time.Second)
		s.nextID++
		cp.ID = s.nextID
		s.purchases = append(s.purchases, &cp)
		res.Purchases++
	}

	return res, nil
}

func (s *InMemoryStore) GetUser(ctx context.Context, userID string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[userID]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (s *InMemoryStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]*models.User, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UserID < res[j].UserID })
	return res, nil
}

func (s *InMemoryStore) ListEvents(ctx context.Context) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]*models.Event, 0, len(s.events))
	for _, e := range s.events {
		cp := *e
		res = append(res, &cp)
	}
	return res, nil
}

func (s *InMemoryStore) ListPurchases(ctx context.Context) ([]*models.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]*models.Purchase, 0, len(s.purchases))
	for _, p := range s.purchases {
		cp := *p
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool {
		a, b := res[i], res[j]
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		if !a.PurchaseDate.Equal(b.PurchaseDate) {
			return a.PurchaseDate.Before(b.PurchaseDate)
		}
		if !a.PurchaseTime.Equal(b.PurchaseTime) {
			return a.PurchaseTime.Before(b.PurchaseTime)
		}
		return a.ID < b.ID
	})
	return res, nil
}

func (s *InMemoryStore) ReplaceUserLTV(ctx context.Context, rows []*models.UserLTV) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ltv = make([]*models.UserLTV, 0, len(rows))
	for _, r := range rows {
		cp := *r
		s.ltv = append(s.ltv, &cp)
	}
	return nil
}

func (s *InMemoryStore) ListUserLTV(ctx context.Context) ([]*models.UserLTV, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]*models.UserLTV, 0, len(s.ltv))
	for _, r := range s.ltv {
		cp := *r
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UserID < res[j].UserID })
	return res, nil
}

func (s *InMemoryStore) ReplaceRollups(ctx context.Context, daily []*models.DailyStat, country []*models.CountryStat, device []*models.DeviceStat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.daily = copySlice(daily)
	s.country = copySlice(country)
	s.device = copySlice(device)
	return nil
}

func (s *InMemoryStore) ListDailyStats(ctx context.Context) ([]*models.DailyStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySlice(s.daily), nil
}

func (s *InMemoryStore) ListCountryStats(ctx context.Context) ([]*models.CountryStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySlice(s.country), nil
}

func (s *InMemoryStore) ListDeviceStats(ctx context.Context) ([]*models.DeviceStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySlice(s.device), nil
}

func copySlice[T any](in []*T) []*T {
	out := make([]*T, 0, len(in))
	for _, v := range in {
		cp := *v
		out = append(out, &cp)
	}
	return out
}
