package database

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// defaultRedisIOTimeout keeps idempotency and cache round trips well inside
// the redemption deadline.
const defaultRedisIOTimeout = 500 * time.Millisecond

// RedisConfig describes the Redis connection used for idempotency keys and
// the merchant name cache.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int

	// IOTimeout bounds reads and writes; 0 means defaultRedisIOTimeout.
	IOTimeout time.Duration
}

// Addr returns host:port.
func (c RedisConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// NewRedisClient connects and pings Redis.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	timeout := cfg.IOTimeout
	if timeout <= 0 {
		timeout = defaultRedisIOTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", cfg.Addr(), err)
	}
	return client, nil
}
