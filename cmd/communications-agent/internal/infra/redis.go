package infra

import (
	"context"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// RedisConfig Redis连接配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient 创建Redis客户端并做一次连通性探测。
// 未配置地址时返回nil，上层幂等服务自行降级。
func NewRedisClient(cfg *RedisConfig, logger log.Logger) *redis.Client {
	helper := log.NewHelper(logger)
	if cfg == nil || cfg.Addr == "" {
		helper.Warn("redis not configured, request deduplication disabled")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		helper.Warnf("redis ping failed, request deduplication degraded: %v", err)
	}

	return client
}
