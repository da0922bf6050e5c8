package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wellbeing-clinic/booking/config"
)

// Client wraps the go-redis client used by the job queue and the checkout lock.
type Client struct {
	*redis.Client
	cfg config.RedisConfig
}

// NewClient creates a Redis client and verifies connectivity.
func NewClient(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	logger.Info("Redis client connected", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return &Client{Client: rdb, cfg: cfg}, nil
}

// AsynqOpt returns connection options for the asynq scheduler on the same Redis.
func (c *Client) AsynqOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.cfg.Addr, Password: c.cfg.Password, DB: c.cfg.DB}
}
