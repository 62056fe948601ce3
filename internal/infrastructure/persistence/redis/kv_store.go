package redis

import (
	"context"
	"errors"

	"github.com/vrlab/classroom-monitor/internal/domain/activity"
)

// KeyValueStore implements activity.KeyValueStore with persistent Redis
// keys, letting several monitor instances share one help dot map.
type KeyValueStore struct {
	cache *Cache
}

// NewKeyValueStore creates a store in the cache's namespace.
func NewKeyValueStore(cache *Cache) *KeyValueStore {
	return &KeyValueStore{cache: cache}
}

// Get implements activity.KeyValueStore.
func (s *KeyValueStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.cache.GetString(ctx, s.cache.Key(PrefixKV, key))
	if errors.Is(err, ErrCacheMiss) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set implements activity.KeyValueStore.
func (s *KeyValueStore) Set(ctx context.Context, key, value string) error {
	return s.cache.SetString(ctx, s.cache.Key(PrefixKV, key), value, 0)
}

// Ping checks the underlying connection.
func (s *KeyValueStore) Ping(ctx context.Context) error {
	return s.cache.Ping(ctx)
}

// Compile-time check.
var _ activity.KeyValueStore = (*KeyValueStore)(nil)
