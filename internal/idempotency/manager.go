// Package idempotency 提供编排响应的幂等缓存。
// 相同 (user, conversation, message) 的重复请求在 TTL 内直接返回缓存响应，
// 避免重复触发后端补全与记忆写入。
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Manager 幂等性管理器接口
type Manager interface {
	// GenerateKey 根据输入生成幂等键
	GenerateKey(inputs ...any) (string, error)

	// Get 获取缓存的结果
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)

	// Set 设置缓存结果
	Set(ctx context.Context, key string, result any, ttl time.Duration) error

	// Delete 删除缓存
	Delete(ctx context.Context, key string) error
}

// redisManager 基于 Redis 的幂等性管理器实现
type redisManager struct {
	redis  *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisManager 创建基于 Redis 的幂等性管理器
func NewRedisManager(client *redis.Client, prefix string, logger *zap.Logger) Manager {
	if prefix == "" {
		prefix = "mindflow:idem:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &redisManager{
		redis:  client,
		prefix: prefix,
		logger: logger.With(zap.String("component", "idempotency")),
	}
}

// GenerateKey 实现 Manager.GenerateKey
// 使用 SHA256 生成幂等键，确保相同输入生成相同的键
func (m *redisManager) GenerateKey(inputs ...any) (string, error) {
	if len(inputs) == 0 {
		return "", errors.New("至少需要一个输入参数")
	}

	data, err := json.Marshal(inputs)
	if err != nil {
		return "", fmt.Errorf("序列化输入失败: %w", err)
	}

	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// Get 实现 Manager.Get
func (m *redisManager) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	data, err := m.redis.Get(ctx, m.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("从 Redis 获取失败: %w", err)
	}

	m.logger.Debug("幂等键命中",
		zap.String("key", key),
		zap.Int("data_size", len(data)),
	)

	return data, true, nil
}

// Set 实现 Manager.Set
func (m *redisManager) Set(ctx context.Context, key string, result any, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("序列化结果失败: %w", err)
	}

	if ttl <= 0 {
		ttl = 1 * time.Hour
	}

	if err := m.redis.Set(ctx, m.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("存储到 Redis 失败: %w", err)
	}

	m.logger.Debug("幂等键已存储",
		zap.String("key", key),
		zap.Duration("ttl", ttl),
	)

	return nil
}

// Delete 实现 Manager.Delete
func (m *redisManager) Delete(ctx context.Context, key string) error {
	if err := m.redis.Del(ctx, m.prefix+key).Err(); err != nil {
		return fmt.Errorf("从 Redis 删除失败: %w", err)
	}
	return nil
}
