package persist

import (
	"context"
	"errors"

	redis "github.com/redis/go-redis/v9"
)

// RedisKV keeps terminal state in a local redis, namespaced per shop.
type RedisKV struct {
	client *redis.Client
	prefix string
}

func NewRedisKV(addr string, password string, db int, shopID string) *RedisKV {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisKV{client: client, prefix: "pos:" + shopID + ":"}
}

func (r *RedisKV) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisKV) Close() error {
	return r.client.Close()
}

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Set stores value without expiry; order history must outlive restarts.
func (r *RedisKV) Set(ctx context.Context, key string, value []byte) error {
	return r.client.Set(ctx, r.prefix+key, value, 0).Err()
}
