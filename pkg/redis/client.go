package redis

import (
	"context"
	"fmt"
	"time"

	"findout-affiliate/internal/config"

	"github.com/redis/go-redis/v9"
)

// NewClient 创建 Redis 客户端，未配置 Host 时返回 nil，调用方退回内存实现
func NewClient(cfg config.Cache) (*redis.Client, error) {
	if cfg.Host == "" {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: 20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("Redis连接失败: %w", err)
	}

	return rdb, nil
}
