package biz

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

const defaultIdempotencyTTL = 2 * time.Hour

// IdempotencyService 基于Redis SETNX的请求幂等，防止同一条聊天请求
// 在重试/重放下触发两次Agent执行。Redis未配置时服务降级为不去重。
type IdempotencyService struct {
	cache *redis.Client
	ttl   time.Duration
	log   *log.Helper
}

// NewIdempotencyService 创建幂等服务；cache为nil时所有请求都视为新请求
func NewIdempotencyService(cache *redis.Client, ttl time.Duration, logger log.Logger) *IdempotencyService {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	return &IdempotencyService{cache: cache, ttl: ttl, log: log.NewHelper(logger)}
}

// CheckOrCreate 检查或创建幂等键。
// 返回 isNew 与已存在请求对应的workflowID。
func (s *IdempotencyService) CheckOrCreate(ctx context.Context, idempotencyKey, workflowID string) (bool, string, error) {
	if s.cache == nil {
		return true, "", nil
	}

	key := s.buildKey(idempotencyKey)

	ok, err := s.cache.SetNX(ctx, key, workflowID, s.ttl).Result()
	if err != nil {
		s.log.Errorf("failed to set idempotency key: %v", err)
		return false, "", fmt.Errorf("check idempotency: %w", err)
	}
	if ok {
		return true, "", nil
	}

	existing, err := s.cache.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// 键刚好过期，重试一次
			return s.CheckOrCreate(ctx, idempotencyKey, workflowID)
		}
		return false, "", fmt.Errorf("get existing workflow: %w", err)
	}

	s.log.Infof("idempotency key exists: %s -> %s", idempotencyKey, existing)
	return false, existing, nil
}

// Delete 删除幂等键，让失败的请求可以立即重试
func (s *IdempotencyService) Delete(ctx context.Context, idempotencyKey string) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Del(ctx, s.buildKey(idempotencyKey)).Err(); err != nil {
		s.log.Warnf("failed to delete idempotency key: %v", err)
		return err
	}
	return nil
}

func (s *IdempotencyService) buildKey(idempotencyKey string) string {
	return "idempotency:" + idempotencyKey
}

// GenerateIdempotencyKey 基于对话、消息内容与分钟级时间窗口生成幂等键
func GenerateIdempotencyKey(conversationID, caseID, message string) string {
	window := time.Now().Truncate(time.Minute).Unix()
	raw := fmt.Sprintf("%s:%s:%s:%d", conversationID, caseID, message, window)
	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}
