package dispatch

import (
	"context"
)

// Adapter delivers a payload to one recipient of a specific platform
// (Web Push, FCM, APNs). Provider error shapes never escape Attempt.
type Adapter interface {
	Platform() Platform
	// Available reports whether credentials were configured at startup.
	Available() bool
	// Attempt makes exactly one delivery attempt.
	Attempt(ctx context.Context, token string, payload *Payload) Outcome
}

// TokenStore defines the contract for the device token registry.
type TokenStore interface {
	// Register upserts by (token, platform). Re-registration keeps the id,
	// advances UpdatedAt and only replaces UserID when userID is non-empty.
	Register(ctx context.Context, userID string, platform Platform, token string) (*DeviceToken, error)

	// Get returns ErrTokenNotFound for unknown ids.
	Get(ctx context.Context, id string) (*DeviceToken, error)

	List(ctx context.Context, filter TokenFilter) ([]DeviceToken, error)
	ListByUser(ctx context.Context, userID string) ([]DeviceToken, error)

	Delete(ctx context.Context, id string) (bool, error)
	DeleteByUser(ctx context.Context, userID string) (int, error)

	Stats(ctx context.Context) (*TokenStats, error)
}

// OwnerTrackingStore is a TokenStore that reports which user held a token
// before a registration. The previous owner is read under the same lock or
// transaction as the write, so concurrent registrations each see the owner
// they displaced.
type OwnerTrackingStore interface {
	TokenStore
	Upsert(ctx context.Context, userID string, platform Platform, token string) (rec *DeviceToken, previousOwner string, err error)
}
