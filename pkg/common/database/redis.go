package database

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mlife-core/platform/pkg/common/config"
	"github.com/mlife-core/platform/pkg/common/logger"
)

var (
	redisClient *redis.Client
	redisOnce   sync.Once
)

func RedisOptions(cfg *config.Config) *redis.Options {
	return &redis.Options{
		Addr:         net.JoinHostPort(cfg.RedisHost, cfg.RedisPort),
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// GetRedis returns the shared run cache client. The client is returned even
// when the first ping fails so that it can reconnect later.
func GetRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	var pingErr error
	redisOnce.Do(func() {
		opts := RedisOptions(cfg)
		redisClient = redis.NewClient(opts)

		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			pingErr = fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
			logger.Log.WithError(err).Error("Failed to connect to Redis")
			return
		}
		logger.Log.WithField("addr", opts.Addr).Info("Connected to Redis")
	})

	return redisClient, pingErr
}

func CloseRedis() error {
	if redisClient != nil {
		return redisClient.Close()
	}
	return nil
}
