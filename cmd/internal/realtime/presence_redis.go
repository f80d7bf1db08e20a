package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPresenceBackend keeps presence records in redis with a server-side
// TTL, giving all gateway processes a shared view. Redis is treated as a
// volatile, best-effort medium: every error is returned to PresenceStore,
// which logs it and degrades to the last-seen fallback.
type RedisPresenceBackend struct {
	rdb *redis.Client
}

// NewRedisPresenceBackend constructs a backend over an existing client.
// The client's lifecycle is owned by the caller.
func NewRedisPresenceBackend(rdb *redis.Client) (*RedisPresenceBackend, error) {
	if rdb == nil {
		return nil, errors.New("realtime: nil redis client")
	}
	return &RedisPresenceBackend{rdb: rdb}, nil
}

func presenceKey(userID string) string {
	return fmt.Sprintf("presence:user:%s", userID)
}

// Put stores the record as JSON under a TTL'd key.
func (b *RedisPresenceBackend) Put(ctx context.Context, rec PresenceRecord, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = presenceTTL
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.rdb.Set(ctx, presenceKey(rec.UserID), raw, ttl).Err()
}

// Get returns the user's record; a missing or expired key is a clean miss.
func (b *RedisPresenceBackend) Get(ctx context.Context, userID string) (PresenceRecord, bool, error) {
	raw, err := b.rdb.Get(ctx, presenceKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return PresenceRecord{}, false, nil
	}
	if err != nil {
		return PresenceRecord{}, false, err
	}

	var rec PresenceRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return PresenceRecord{}, false, err
	}
	return rec, true, nil
}

// GetMulti fetches several users in one MGET round trip.
func (b *RedisPresenceBackend) GetMulti(ctx context.Context, userIDs []string) (map[string]PresenceRecord, error) {
	out := make(map[string]PresenceRecord, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = presenceKey(id)
	}

	vals, err := b.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	for i, v := range vals {
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		var rec PresenceRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			// One corrupt entry must not poison the batch.
			continue
		}
		out[userIDs[i]] = rec
	}

	return out, nil
}
