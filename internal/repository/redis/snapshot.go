package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/storefront/internal/domain"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

const keyPrefix = "storefront:cart:"

// snapshotVersion is bumped when the stored layout changes. Older records
// are treated as missing.
const snapshotVersion = 1

type record struct {
	Version int         `json:"v"`
	SavedAt time.Time   `json:"saved_at"`
	Cart    domain.Cart `json:"cart"`
}

// SnapshotRepository stores the last confirmed cart of each browser session
// in Redis so a restarted or rebalanced BFF can show it before the first
// fetch returns.
type SnapshotRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotRepository creates a new Redis-backed snapshot repository.
func NewSnapshotRepository(client *redis.Client, ttl time.Duration) *SnapshotRepository {
	return &SnapshotRepository{
		client: client,
		ttl:    ttl,
	}
}

// Get retrieves the snapshot for a session.
func (r *SnapshotRepository) Get(ctx context.Context, sessionID string) (domain.Cart, error) {
	key := keyPrefix + sessionID

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Cart{}, apperrors.NotFound("cart snapshot", sessionID)
		}
		return domain.Cart{}, fmt.Errorf("redis get cart snapshot: %w", err)
	}

	// Unreadable and outdated records are misses; the next save replaces them.
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil || rec.Version != snapshotVersion {
		return domain.Cart{}, apperrors.NotFound("cart snapshot", sessionID)
	}
	if rec.Cart.Items == nil {
		rec.Cart.Items = []domain.LineItem{}
	}

	return rec.Cart, nil
}

// Save persists a snapshot with the configured TTL, refreshing it.
func (r *SnapshotRepository) Save(ctx context.Context, sessionID string, cart domain.Cart) error {
	key := keyPrefix + sessionID

	data, err := json.Marshal(record{
		Version: snapshotVersion,
		SavedAt: time.Now().UTC(),
		Cart:    cart,
	})
	if err != nil {
		return fmt.Errorf("marshal cart snapshot: %w", err)
	}

	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set cart snapshot: %w", err)
	}

	return nil
}

// Delete removes the snapshot for a session. Deleting a missing snapshot
// succeeds.
func (r *SnapshotRepository) Delete(ctx context.Context, sessionID string) error {
	key := keyPrefix + sessionID

	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del cart snapshot: %w", err)
	}

	return nil
}
