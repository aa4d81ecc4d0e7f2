// Package memory provides the default in-process device token registry.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
)

type identity struct {
	platform dispatch.Platform
	token    string
}

// Store keeps every index under a single lock so a record is never visible in
// one index and missing from another.
type Store struct {
	mu     sync.RWMutex
	byID   map[string]*dispatch.DeviceToken
	byKey  map[identity]string
	byUser map[string]map[string]struct{}
	now    func() time.Time
}

type Option func(*Store)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		byID:   make(map[string]*dispatch.DeviceToken),
		byKey:  make(map[identity]string),
		byUser: make(map[string]map[string]struct{}),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Register(ctx context.Context, userID string, platform dispatch.Platform, token string) (*dispatch.DeviceToken, error) {
	rec, _, err := s.Upsert(ctx, userID, platform, token)
	return rec, err
}

// Upsert registers the token and returns the owner it had before the write.
func (s *Store) Upsert(_ context.Context, userID string, platform dispatch.Platform, token string) (*dispatch.DeviceToken, string, error) {
	if token == "" {
		return nil, "", dispatch.Invalid("token is required")
	}
	if !platform.Concrete() {
		return nil, "", dispatch.Invalid("platform must be one of web, android, ios, fcm-web")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	key := identity{platform: platform, token: token}

	if id, ok := s.byKey[key]; ok {
		rec := s.byID[id]
		previous := rec.UserID
		if userID != "" && userID != rec.UserID {
			s.unindexUser(rec.UserID, id)
			rec.UserID = userID
			s.indexUser(userID, id)
		}
		rec.UpdatedAt = now
		out := *rec
		return &out, previous, nil
	}

	rec := &dispatch.DeviceToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		Platform:  platform,
		Token:     token,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.byID[rec.ID] = rec
	s.byKey[key] = rec.ID
	s.indexUser(userID, rec.ID)

	out := *rec
	return &out, "", nil
}

func (s *Store) Get(_ context.Context, id string) (*dispatch.DeviceToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[id]
	if !ok {
		return nil, dispatch.ErrTokenNotFound
	}
	out := *rec
	return &out, nil
}

func (s *Store) List(_ context.Context, filter dispatch.TokenFilter) ([]dispatch.DeviceToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]dispatch.DeviceToken, 0)
	if filter.UserID != "" {
		for id := range s.byUser[filter.UserID] {
			if rec := s.byID[id]; filter.Matches(*rec) {
				out = append(out, *rec)
			}
		}
	} else {
		for _, rec := range s.byID {
			if filter.Matches(*rec) {
				out = append(out, *rec)
			}
		}
	}
	sortRecords(out)
	return out, nil
}

func (s *Store) ListByUser(ctx context.Context, userID string) ([]dispatch.DeviceToken, error) {
	if userID == "" {
		return []dispatch.DeviceToken{}, nil
	}
	return s.List(ctx, dispatch.TokenFilter{UserID: userID})
}

func (s *Store) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return false, nil
	}
	s.remove(rec)
	return true, nil
}

func (s *Store) DeleteByUser(_ context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.byUser[userID]
	n := len(ids)
	for id := range ids {
		s.remove(s.byID[id])
	}
	return n, nil
}

func (s *Store) Stats(_ context.Context) (*dispatch.TokenStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &dispatch.TokenStats{
		Total:      len(s.byID),
		ByPlatform: make(map[dispatch.Platform]int, len(dispatch.ConcretePlatforms)),
		ByUser:     len(s.byUser),
	}
	for _, p := range dispatch.ConcretePlatforms {
		stats.ByPlatform[p] = 0
	}
	for _, rec := range s.byID {
		stats.ByPlatform[rec.Platform]++
	}
	return stats, nil
}

// remove must be called with mu held.
func (s *Store) remove(rec *dispatch.DeviceToken) {
	delete(s.byID, rec.ID)
	delete(s.byKey, identity{platform: rec.Platform, token: rec.Token})
	s.unindexUser(rec.UserID, rec.ID)
}

func (s *Store) indexUser(userID, id string) {
	if userID == "" {
		return
	}
	ids, ok := s.byUser[userID]
	if !ok {
		ids = make(map[string]struct{})
		s.byUser[userID] = ids
	}
	ids[id] = struct{}{}
}

func (s *Store) unindexUser(userID, id string) {
	if userID == "" {
		return
	}
	ids := s.byUser[userID]
	delete(ids, id)
	if len(ids) == 0 {
		delete(s.byUser, userID)
	}
}

func sortRecords(records []dispatch.DeviceToken) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
}

var _ dispatch.OwnerTrackingStore = (*Store)(nil)
