package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps OAuth2 exchange state in Redis so callbacks can land on
// any node. Records carry a TTL and are deleted on redemption.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{
		client: client,
		prefix: "oauthstate:",
		ttl:    ttl,
	}, nil
}

func (s *RedisStore) key(state string) string {
	return s.prefix + state
}

func (s *RedisStore) Save(ctx context.Context, state string, record StateRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal state record: %w", err)
	}
	if err := s.client.Set(ctx, s.key(state), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save exchange state: %w", err)
	}
	return nil
}

func (s *RedisStore) Take(ctx context.Context, state string) (StateRecord, bool, error) {
	data, err := s.client.GetDel(ctx, s.key(state)).Result()
	if err == redis.Nil {
		return StateRecord{}, false, nil
	}
	if err != nil {
		return StateRecord{}, false, fmt.Errorf("take exchange state: %w", err)
	}

	var record StateRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return StateRecord{}, false, fmt.Errorf("unmarshal state record: %w", err)
	}
	return record, true, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
