package store

import (
	"context"
	"time"
)

// Store 共享键值存储接口
// 记录以整条JSON读写，字段级修改由调用方在房间锁内完成读-改-写。
type Store interface {
	// Get 读取记录并反序列化到dest，不存在时返回ErrKeyNotFound
	Get(ctx context.Context, key string, dest interface{}) error
	// Set 序列化并写入记录，ttl<=0表示不过期
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// UpdateFields 读-改-写合并顶层字段并续期TTL，不存在时返回ErrKeyNotFound
	// 调用方仍需自行持有记录级别的锁。
	UpdateFields(ctx context.Context, key string, fields map[string]interface{}, ttl time.Duration) error
	// Delete 删除记录（不存在不报错）
	Delete(ctx context.Context, key string) error
	// Exists 检查记录是否存在
	Exists(ctx context.Context, key string) (bool, error)
	// Expire 重置记录的TTL
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Close 释放底层连接
	Close() error
}
