package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
)

// Client is the subset of cache commands the decorator needs.
type Client interface {
	// Get returns ErrMiss when the key is absent.
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// CachedTokenStore adds read-aside caching of per-user token lists to a
// registry. Every write invalidates the affected users.
type CachedTokenStore struct {
	dispatch.OwnerTrackingStore
	cache  Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedTokenStore(store dispatch.OwnerTrackingStore, cache Client, ttl time.Duration, logger *slog.Logger) *CachedTokenStore {
	return &CachedTokenStore{
		OwnerTrackingStore: store,
		cache:              cache,
		ttl:                ttl,
		logger:             logger.With("component", "CachedTokenStore"),
	}
}

// --- Read path ---

func (s *CachedTokenStore) ListByUser(ctx context.Context, userID string) ([]dispatch.DeviceToken, error) {
	key := userKey(userID)

	var cached []dispatch.DeviceToken
	err := s.cache.Get(ctx, key, &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, ErrMiss) {
		s.logger.Warn("Cache read failed, falling back to store", "user_id", userID, "err", err)
	}

	fresh, err := s.OwnerTrackingStore.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, key, fresh, s.ttl); err != nil {
		s.logger.Warn("Cache fill failed", "user_id", userID, "err", err)
	}
	return fresh, nil
}

// --- Write paths ---

func (s *CachedTokenStore) Register(ctx context.Context, userID string, platform dispatch.Platform, token string) (*dispatch.DeviceToken, error) {
	rec, _, err := s.Upsert(ctx, userID, platform, token)
	return rec, err
}

// Upsert invalidates both the new owner and the owner the store reports as
// displaced.
func (s *CachedTokenStore) Upsert(ctx context.Context, userID string, platform dispatch.Platform, token string) (*dispatch.DeviceToken, string, error) {
	rec, previous, err := s.OwnerTrackingStore.Upsert(ctx, userID, platform, token)
	if err != nil {
		return nil, "", err
	}
	if err := s.invalidate(ctx, previous, rec.UserID); err != nil {
		return nil, "", err
	}
	return rec, previous, nil
}

func (s *CachedTokenStore) Delete(ctx context.Context, id string) (bool, error) {
	rec, err := s.OwnerTrackingStore.Get(ctx, id)
	if errors.Is(err, dispatch.ErrTokenNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	ok, err := s.OwnerTrackingStore.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if err := s.invalidate(ctx, rec.UserID); err != nil {
		return false, err
	}
	return ok, nil
}

func (s *CachedTokenStore) DeleteByUser(ctx context.Context, userID string) (int, error) {
	n, err := s.OwnerTrackingStore.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	if err := s.invalidate(ctx, userID); err != nil {
		return 0, err
	}
	return n, nil
}

// invalidate drops the cached lists so the next read goes to the store.
func (s *CachedTokenStore) invalidate(ctx context.Context, userIDs ...string) error {
	keys := make([]string, 0, len(userIDs))
	seen := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		keys = append(keys, userKey(id))
	}
	if err := s.cache.Del(ctx, keys...); err != nil {
		return fmt.Errorf("failed to invalidate token cache: %w", err)
	}
	return nil
}

func userKey(userID string) string {
	return fmt.Sprintf("push:tokens:user:%s", userID)
}

var _ dispatch.OwnerTrackingStore = (*CachedTokenStore)(nil)
