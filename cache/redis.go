// Package cache holds the shared Redis connection used for short-lived
// application caches (currently the per-user gallery listing). Redis is
// optional: when it is not configured every consumer falls back to its
// database path.
package cache

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	redisOnce   sync.Once
	redisClient *redis.Client
	redisErr    error
)

// GetRedisClient returns the process-wide Redis client. Caching is opt-in:
// when REDIS_ADDR is unset the client is nil and no error is reported.
// REDIS_PASSWORD and REDIS_DB are optional.
func GetRedisClient() (*redis.Client, error) {
	redisOnce.Do(func() {
		addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
		if addr == "" {
			return
		}

		db := 0
		if rawDB := strings.TrimSpace(os.Getenv("REDIS_DB")); rawDB != "" {
			parsed, err := strconv.Atoi(rawDB)
			if err != nil {
				redisErr = fmt.Errorf("cache: invalid REDIS_DB %q: %w", rawDB, err)
				return
			}
			db = parsed
		}

		client := redis.NewClient(&redis.Options{
			Addr:        addr,
			Password:    os.Getenv("REDIS_PASSWORD"),
			DB:          db,
			DialTimeout: 2 * time.Second,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := client.Ping(ctx).Err(); err != nil {
			redisErr = fmt.Errorf("cache: ping redis %s: %w", addr, err)
			_ = client.Close()
			return
		}

		redisClient = client
	})

	return redisClient, redisErr
}

// Enabled reports whether a usable Redis client was initialized.
func Enabled() bool {
	client, err := GetRedisClient()
	return err == nil && client != nil
}

// Close releases the cached Redis connection. Mainly useful for tests.
func Close() error {
	if redisClient == nil {
		return nil
	}
	return redisClient.Close()
}
