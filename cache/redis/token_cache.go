// Package redis backs the access-token store with a shared Redis, for hubs
// that want issued tokens to survive a restart or be visible to more than
// one process.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hearthhome/hubauth/cache"
)

// TokenStore implements cache.TokenStore with one Redis hash per token.
type TokenStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewTokenStore creates a Redis-backed store. Keys are namespaced under
// prefix ("hubauth" when empty) and expire ttl after insertion, mirroring
// the in-memory store's growth bound.
func NewTokenStore(client *redis.Client, prefix string, ttl time.Duration) *TokenStore {
	if prefix == "" {
		prefix = "hubauth"
	}
	return &TokenStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *TokenStore) key(token string) string {
	return fmt.Sprintf("%s:access_token:%s", s.prefix, cache.HashToken(token))
}

// Put stores the entry under the hashed token and bounds its lifetime.
func (s *TokenStore) Put(ctx context.Context, token string, e cache.Entry) error {
	key := s.key(token)
	fields := map[string]any{
		"refresh_token_id": e.RefreshTokenID,
		"user_id":          e.UserID,
		"client_id":        e.ClientID,
		"created_at_ns":    e.CreatedAt.UnixNano(),
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("storing access token: %w", err)
	}
	return nil
}

// Get returns the entry for token, reporting whether one is present.
func (s *TokenStore) Get(ctx context.Context, token string) (cache.Entry, bool, error) {
	res, err := s.client.HGetAll(ctx, s.key(token)).Result()
	if err != nil {
		return cache.Entry{}, false, fmt.Errorf("loading access token: %w", err)
	}
	if len(res) == 0 {
		return cache.Entry{}, false, nil
	}

	createdNS, err := strconv.ParseInt(res["created_at_ns"], 10, 64)
	if err != nil {
		return cache.Entry{}, false, fmt.Errorf("parsing created_at_ns: %w", err)
	}

	return cache.Entry{
		RefreshTokenID: res["refresh_token_id"],
		UserID:         res["user_id"],
		ClientID:       res["client_id"],
		CreatedAt:      time.Unix(0, createdNS).UTC(),
	}, true, nil
}

// Delete removes the entry for token.
func (s *TokenStore) Delete(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil {
		return fmt.Errorf("deleting access token: %w", err)
	}
	return nil
}

// Count scans the keyspace. It is meant for health output, not hot paths.
func (s *TokenStore) Count(ctx context.Context) (int, error) {
	var (
		cursor uint64
		total  int
	)
	pattern := s.prefix + ":access_token:*"
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return 0, fmt.Errorf("scanning access tokens: %w", err)
		}
		total += len(keys)
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}

// Close is a no-op; the Redis client is owned by the caller.
func (s *TokenStore) Close() error { return nil }

var _ cache.TokenStore = (*TokenStore)(nil)
