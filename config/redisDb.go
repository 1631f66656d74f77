package config

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisCache is the key-value cache behind the report engine.
// A nil client turns every call into a miss/no-op so the API can run without Redis.
type RedisCache struct {
	client redis.UniversalClient
}

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

// Get decodes the JSON value of key into dest and reports whether it existed.
func (c *RedisCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	if c == nil || c.client == nil {
		return false, nil
	}
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return false, err
	}
	return true, nil
}

// Set stores obj as JSON with the given expiration.
func (c *RedisCache) Set(ctx context.Context, key string, obj any, exp time.Duration) error {
	if c == nil || c.client == nil {
		return nil
	}
	objInByte, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, objInByte, exp).Err()
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if c == nil || c.client == nil || len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func NewRedisClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     stringFromEnv("REDIS_ADDRESS", "localhost:6379"),
		Password: stringFromEnv("REDIS_PASSWORD", ""),
		DB:       intFromEnv("REDIS_DB", 0),
		PoolSize: 100,
	})
}

// ConnectRedisWithRetry pings until Redis answers or ctx is done.
// Call this from main() AFTER the HTTP server is listening.
func ConnectRedisWithRetry(ctx context.Context, logg *logrus.Logger) (*redis.Client, error) {
	var attempt int
	for {
		attempt++
		rdb := NewRedisClient()
		err := rdb.Ping(ctx).Err()
		if err == nil {
			logg.WithFields(logrus.Fields{
				"attempt": attempt,
				"addr":    rdb.Options().Addr,
			}).Info("connected to redis")
			return rdb, nil
		}
		_ = rdb.Close()

		sleep := backoff(attempt)
		logg.WithFields(logrus.Fields{
			"attempt": attempt,
			"retry":   sleep.String(),
		}).Warn("failed to connect redis: " + err.Error())

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}
