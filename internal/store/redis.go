package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wfunc/trivia-game/internal/config"
	apperrors "github.com/wfunc/trivia-game/internal/errors"
	"github.com/wfunc/trivia-game/internal/logger"
	"go.uber.org/zap"
)

// RedisStore 基于Redis的共享存储实现
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore 创建Redis存储并验证连接
func NewRedisStore(cfg *config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrStoreUnavailable, "Redis连接失败")
	}

	logger.Info("Redis连接成功",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB),
	)

	return &RedisStore{
		client: client,
		prefix: cfg.KeyPrefix,
	}, nil
}

// key 拼接命名空间前缀
func (s *RedisStore) key(key string) string {
	return s.prefix + key
}

// Get 读取记录并反序列化
func (s *RedisStore) Get(ctx context.Context, key string, dest interface{}) error {
	start := time.Now()
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	logger.LogStoreOperation("get", key, time.Since(start), nil)

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrKeyNotFound
		}
		return apperrors.Wrap(err, apperrors.ErrStoreUnavailable)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return apperrors.Wrap(err, apperrors.ErrStoreSerialize, "key "+key)
	}
	return nil
}

// Set 序列化并写入记录
func (s *RedisStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrStoreSerialize, "key "+key)
	}

	start := time.Now()
	err = s.client.Set(ctx, s.key(key), data, ttl).Err()
	logger.LogStoreOperation("set", key, time.Since(start), err)

	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrStoreUnavailable)
	}
	return nil
}

// UpdateFields 合并顶层字段并续期TTL
// 读-改-写不具备跨进程原子性，调用方需持有记录级别的锁。
func (s *RedisStore) UpdateFields(ctx context.Context, key string, fields map[string]interface{}, ttl time.Duration) error {
	start := time.Now()
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		logger.LogStoreOperation("update_fields", key, time.Since(start), err)
		if errors.Is(err, redis.Nil) {
			return ErrKeyNotFound
		}
		return apperrors.Wrap(err, apperrors.ErrStoreUnavailable)
	}

	var record map[string]interface{}
	if err := json.Unmarshal(data, &record); err != nil {
		return apperrors.Wrap(err, apperrors.ErrStoreSerialize, "key "+key)
	}
	for k, v := range fields {
		record[k] = v
	}
	merged, err := json.Marshal(record)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrStoreSerialize, "key "+key)
	}

	err = s.client.Set(ctx, s.key(key), merged, ttl).Err()
	logger.LogStoreOperation("update_fields", key, time.Since(start), err)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrStoreUnavailable)
	}
	return nil
}

// Delete 删除记录
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	err := s.client.Del(ctx, s.key(key)).Err()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrStoreUnavailable)
	}
	return nil
}

// Exists 检查记录是否存在
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrStoreUnavailable)
	}
	return n > 0, nil
}

// Expire 重置记录的TTL
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	err := s.client.Expire(ctx, s.key(key), ttl).Err()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrStoreUnavailable)
	}
	return nil
}

// Close 关闭Redis连接
func (s *RedisStore) Close() error {
	return s.client.Close()
}
