package settings

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/redis"
)

// RedisStore keeps the blob under a single Redis key. Updates use an
// optimistic WATCH/MULTI transaction.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Load(ctx context.Context) ([]byte, error) {
	raw, err := s.client.GetBytes(ctx, s.key)
	if redis.IsNilError(err) {
		return nil, nil
	}
	return raw, err
}

func (s *RedisStore) Update(ctx context.Context, fn func(current []byte) ([]byte, error)) error {
	return s.client.Update(ctx, s.key, fn)
}

func (s *RedisStore) Delete(ctx context.Context) error {
	return s.client.Del(ctx, s.key)
}
