package database

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"kbqa-go/internal/config"
	"kbqa-go/pkg/log"
)

// NewRedis 创建 Redis 客户端并测试连接。
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}
	log.Info("Redis client connected successfully")
	return rdb, nil
}
