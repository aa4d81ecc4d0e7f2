package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
)

const defaultCollection = "device_tokens"

// TokenStore implements dispatch.TokenStore on Google Cloud Firestore.
// Documents live in a single flat collection so tokens can be queried by
// user and by platform.
type TokenStore struct {
	client     *firestore.Client
	collection string
	now        func() time.Time
	logger     *slog.Logger
}

func NewTokenStore(client *firestore.Client, collection string, logger *slog.Logger) *TokenStore {
	if collection == "" {
		collection = defaultCollection
	}
	return &TokenStore{
		client:     client,
		collection: collection,
		now:        time.Now,
		logger:     logger.With("component", "FirestoreTokenStore"),
	}
}

// tokenRecord is the stored document shape.
type tokenRecord struct {
	UserID    string    `firestore:"user_id"`
	Platform  string    `firestore:"platform"`
	Token     string    `firestore:"token"`
	CreatedAt time.Time `firestore:"created_at"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

func (r tokenRecord) toDeviceToken(id string) dispatch.DeviceToken {
	return dispatch.DeviceToken{
		ID:        id,
		UserID:    r.UserID,
		Platform:  dispatch.Platform(r.Platform),
		Token:     r.Token,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// Register upserts the (platform, token) document inside a transaction.
// The document id is derived from the identity, so it never changes.
func (s *TokenStore) Register(ctx context.Context, userID string, platform dispatch.Platform, token string) (*dispatch.DeviceToken, error) {
	rec, _, err := s.Upsert(ctx, userID, platform, token)
	return rec, err
}

// Upsert registers the token and returns the owner read inside the same
// transaction, before the write.
func (s *TokenStore) Upsert(ctx context.Context, userID string, platform dispatch.Platform, token string) (*dispatch.DeviceToken, string, error) {
	if token == "" {
		return nil, "", dispatch.Invalid("token is required")
	}
	if !platform.Concrete() {
		return nil, "", dispatch.Invalid("platform must be one of web, android, ios, fcm-web")
	}

	id := documentID(platform, token)
	ref := s.client.Collection(s.collection).Doc(id)

	var saved tokenRecord
	var previous string
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		now := s.now().UTC()
		previous = ""
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
			saved = tokenRecord{
				UserID:    userID,
				Platform:  string(platform),
				Token:     token,
				CreatedAt: now,
				UpdatedAt: now,
			}
		case err != nil:
			return err
		default:
			if err := snap.DataTo(&saved); err != nil {
				return err
			}
			previous = saved.UserID
			if userID != "" {
				saved.UserID = userID
			}
			saved.UpdatedAt = now
		}
		return tx.Set(ref, saved)
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to register %s token: %w", platform, err)
	}

	rec := saved.toDeviceToken(id)
	return &rec, previous, nil
}

func (s *TokenStore) Get(ctx context.Context, id string) (*dispatch.DeviceToken, error) {
	snap, err := s.client.Collection(s.collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, dispatch.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token %s: %w", id, err)
	}

	var record tokenRecord
	if err := snap.DataTo(&record); err != nil {
		return nil, fmt.Errorf("failed to decode token %s: %w", id, err)
	}
	rec := record.toDeviceToken(snap.Ref.ID)
	return &rec, nil
}

func (s *TokenStore) List(ctx context.Context, filter dispatch.TokenFilter) ([]dispatch.DeviceToken, error) {
	q := s.client.Collection(s.collection).Query
	if filter.UserID != "" {
		q = q.Where("user_id", "==", filter.UserID)
	}
	if filter.Platform != "" {
		q = q.Where("platform", "==", string(filter.Platform))
	}
	return s.collect(q.Documents(ctx))
}

func (s *TokenStore) ListByUser(ctx context.Context, userID string) ([]dispatch.DeviceToken, error) {
	if userID == "" {
		return []dispatch.DeviceToken{}, nil
	}
	return s.List(ctx, dispatch.TokenFilter{UserID: userID})
}

func (s *TokenStore) Delete(ctx context.Context, id string) (bool, error) {
	ref := s.client.Collection(s.collection).Doc(id)
	var existed bool
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		_, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			existed = false
			return nil
		}
		if err != nil {
			return err
		}
		existed = true
		return tx.Delete(ref)
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete token %s: %w", id, err)
	}
	return existed, nil
}

func (s *TokenStore) DeleteByUser(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, nil
	}

	q := s.client.Collection(s.collection).Where("user_id", "==", userID)
	var removed int
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		refs, err := tx.Documents(q).GetAll()
		if err != nil {
			return err
		}
		removed = 0
		for _, snap := range refs {
			if err := tx.Delete(snap.Ref); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete tokens for user %s: %w", userID, err)
	}
	return removed, nil
}

func (s *TokenStore) Stats(ctx context.Context) (*dispatch.TokenStats, error) {
	records, err := s.collect(s.client.Collection(s.collection).Documents(ctx))
	if err != nil {
		return nil, err
	}

	stats := &dispatch.TokenStats{ByPlatform: make(map[dispatch.Platform]int, len(dispatch.ConcretePlatforms))}
	for _, p := range dispatch.ConcretePlatforms {
		stats.ByPlatform[p] = 0
	}
	users := make(map[string]struct{})
	for _, rec := range records {
		stats.Total++
		stats.ByPlatform[rec.Platform]++
		if rec.UserID != "" {
			users[rec.UserID] = struct{}{}
		}
	}
	stats.ByUser = len(users)
	return stats, nil
}

func (s *TokenStore) collect(iter *firestore.DocumentIterator) ([]dispatch.DeviceToken, error) {
	defer iter.Stop()

	out := make([]dispatch.DeviceToken, 0)
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record tokenRecord
		if err := doc.DataTo(&record); err != nil {
			s.logger.Warn("Skipping undecodable token document", "id", doc.Ref.ID, "err", err)
			continue
		}
		out = append(out, record.toDeviceToken(doc.Ref.ID))
	}
	return out, nil
}

// documentID hashes the identity to avoid hot-spotting on token prefixes.
func documentID(platform dispatch.Platform, token string) string {
	sum := sha256.Sum256([]byte(string(platform) + ":" + token))
	return hex.EncodeToString(sum[:])
}

var _ dispatch.OwnerTrackingStore = (*TokenStore)(nil)
