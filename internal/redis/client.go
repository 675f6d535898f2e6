package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type ClientOptions struct {
	Addr     string
	Username string
	Password string
	PoolSize int
	// ConnectAttempts bounds how many pings are tried before giving up.
	ConnectAttempts int
}

// NewRedisClient connects and pings until Redis answers or the attempts run
// out. Containers often start before Redis accepts connections.
func NewRedisClient(ctx context.Context, opts ClientOptions) (*redis.Client, error) {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 10
	}
	if opts.ConnectAttempts <= 0 {
		opts.ConnectAttempts = 1
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Username:     opts.Username,
		Password:     opts.Password,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     opts.PoolSize,
		MinIdleConns: 1,
	})

	var err error
	backoff := 250 * time.Millisecond
	for attempt := 1; attempt <= opts.ConnectAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = rdb.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			return rdb, nil
		}
		if attempt == opts.ConnectAttempts {
			break
		}

		select {
		case <-ctx.Done():
			_ = rdb.Close()
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	_ = rdb.Close()
	return nil, fmt.Errorf("ping redis at %s after %d attempts: %w", opts.Addr, opts.ConnectAttempts, err)
}
