// Package redisbackend implements zlog.Backend on top of Redis: one hash per
// backend object holding its sealed epoch and written entries, one sorted
// set per log holding its view history, and an INCR counter for UniqueID.
package redisbackend

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Client wraps the go-redis client with the connection diagnostics used by
// NewBackend.
type Client struct {
	*redis.Client
	log *zap.Logger
}

// NewClient dials addr/db with timeouts and pool sizing suited to a backend
// serving many short per-object requests.
func NewClient(addr, username, password string, db int, log *zap.Logger) *Client {
	opts := &redis.Options{
		Addr:         addr,
		Username:     username,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     16,
		MinIdleConns: 4,
		MaxRetries:   3,
	}

	c := &Client{
		Client: redis.NewClient(opts),
		log:    log.Named("redis"),
	}
	c.ping()
	return c
}

func (c *Client) ping() {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	opts := c.Options()
	log := c.log.With(zap.String("addr", opts.Addr), zap.Int("db", opts.DB))

	start := time.Now()
	err := c.Client.Ping(ctx).Err()
	elapsed := time.Since(start)

	if err != nil {
		log.Warn("connection failed", zap.Error(err), zap.Duration("ping_rtt", elapsed))
	} else {
		log.Info("connection established", zap.Duration("ping_rtt", elapsed))
	}
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	return c.Client.Close()
}
