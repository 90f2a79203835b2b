package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aihub/docqa-go/internal/database"
)

// RedisService Redis缓存服务
type RedisService struct {
	client *redis.Client
}

// NewRedisService 创建Redis服务实例
func NewRedisService() *RedisService {
	return &RedisService{
		client: database.RedisClient,
	}
}

// retrievalCacheKey 按(租户,问题,文档过滤,topK)生成缓存键
func retrievalCacheKey(tenantID uint, query string, documentIDs []uint, topK int) string {
	parts := make([]string, 0, len(documentIDs))
	for _, id := range documentIDs {
		parts = append(parts, fmt.Sprintf("%d", id))
	}
	raw := fmt.Sprintf("%d|%s|%s|%d", tenantID, query, strings.Join(parts, ","), topK)
	return fmt.Sprintf("retrieval:%x", sha256.Sum256([]byte(raw)))
}

// GetRetrievalCache 读取检索结果缓存,未命中返回redis.Nil
func (s *RedisService) GetRetrievalCache(ctx context.Context, tenantID uint, query string, documentIDs []uint, topK int, out interface{}) error {
	if s == nil || s.client == nil {
		return redis.Nil
	}

	val, err := s.client.Get(ctx, retrievalCacheKey(tenantID, query, documentIDs, topK)).Result()
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(val), out)
}

// SetRetrievalCache 写入检索结果缓存
func (s *RedisService) SetRetrievalCache(ctx context.Context, tenantID uint, query string, documentIDs []uint, topK int, value interface{}, ttl time.Duration) error {
	if s == nil || s.client == nil {
		return nil // Redis未配置时静默跳过
	}

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return s.client.SetEx(ctx, retrievalCacheKey(tenantID, query, documentIDs, topK), string(data), ttl).Err()
}

// InvalidateTenantRetrievalCache 租户语料变化后清空其检索缓存。
// 缓存键经过哈希无法按租户模式匹配,这里直接记录失效代次。
func (s *RedisService) InvalidateTenantRetrievalCache(ctx context.Context, tenantID uint) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Incr(ctx, fmt.Sprintf("retrieval:gen:%d", tenantID)).Err()
}

// TenantRetrievalGeneration 读取租户缓存代次,缓存值中携带代次即可判断新旧
func (s *RedisService) TenantRetrievalGeneration(ctx context.Context, tenantID uint) int64 {
	if s == nil || s.client == nil {
		return 0
	}
	gen, err := s.client.Get(ctx, fmt.Sprintf("retrieval:gen:%d", tenantID)).Int64()
	if err != nil {
		return 0
	}
	return gen
}

// GetCache 获取缓存
func (s *RedisService) GetCache(key string) (interface{}, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("redis client not initialized")
	}

	ctx := context.Background()
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("cache not found")
	}
	if err != nil {
		return nil, err
	}

	var result interface{}
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		// 不是JSON就按字符串返回
		return val, nil
	}
	return result, nil
}

// SetCache 设置缓存
func (s *RedisService) SetCache(key string, value interface{}, ttl time.Duration) error {
	if s == nil || s.client == nil {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.SetEx(context.Background(), key, string(data), ttl).Err()
}

// DeleteCache 删除缓存
func (s *RedisService) DeleteCache(key string) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Del(context.Background(), key).Err()
}

// DeleteCachePattern 按模式删除缓存
func (s *RedisService) DeleteCachePattern(pattern string) error {
	if s == nil || s.client == nil {
		return nil
	}

	ctx := context.Background()
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}

	if len(keys) > 0 {
		return s.client.Del(ctx, keys...).Err()
	}
	return nil
}

// CheckRateLimit 检查限流
func (s *RedisService) CheckRateLimit(tenantID uint, endpoint string, limit int, window time.Duration) (bool, error) {
	if s == nil || s.client == nil {
		return true, nil // Redis未配置时允许通过
	}

	ctx := context.Background()
	key := fmt.Sprintf("rate:limit:%d:%s", tenantID, endpoint)

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}

	if count == 1 {
		s.client.Expire(ctx, key, window)
	}

	if count > int64(limit) {
		return false, nil
	}
	return true, nil
}

// AcquireLock 获取分布式锁,文档处理的跨实例单飞保护
func (s *RedisService) AcquireLock(lockKey string, ttl time.Duration) (bool, error) {
	if s == nil || s.client == nil {
		return true, nil // Redis未配置时退化为进程内保护
	}

	key := fmt.Sprintf("lock:%s", lockKey)
	result, err := s.client.SetNX(context.Background(), key, "locked", ttl).Result()
	return result, err
}

// ReleaseLock 释放分布式锁
func (s *RedisService) ReleaseLock(lockKey string) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Del(context.Background(), fmt.Sprintf("lock:%s", lockKey)).Err()
}

// GetCacheStats 获取缓存统计
func (s *RedisService) GetCacheStats() (map[string]interface{}, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("redis client not initialized")
	}

	ctx := context.Background()
	info, err := s.client.Info(ctx, "stats", "memory", "clients").Result()
	if err != nil {
		return nil, err
	}

	stats := make(map[string]interface{})
	stats["info"] = info

	dbSize, _ := s.client.DBSize(ctx).Result()
	stats["db_size"] = dbSize

	return stats, nil
}
