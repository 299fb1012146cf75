package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	apperrors "github.com/wfunc/trivia-game/internal/errors"
)

// ErrKeyNotFound 记录不存在
var ErrKeyNotFound = errors.New("store: key not found")

// memoryEntry 内存存储条目
type memoryEntry struct {
	data     []byte
	expireAt time.Time // 零值表示不过期
}

// expired 判断条目是否已过期
func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && now.After(e.expireAt)
}

// MemoryStore 内存存储实现
// 单机模式（未配置Redis）和测试环境使用，与RedisStore行为一致。
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	done    chan struct{}
	once    sync.Once
}

// NewMemoryStore 创建内存存储并启动过期清理
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*memoryEntry),
		done:    make(chan struct{}),
	}
	go s.runJanitor()
	return s
}

// runJanitor 定期清理过期条目
func (s *MemoryStore) runJanitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for key, entry := range s.entries {
				if entry.expired(now) {
					delete(s.entries, key)
				}
			}
			s.mu.Unlock()
		case <-s.done:
			return
		}
	}
}

// Get 读取记录并反序列化
func (s *MemoryStore) Get(ctx context.Context, key string, dest interface{}) error {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || entry.expired(time.Now()) {
		return ErrKeyNotFound
	}

	if err := json.Unmarshal(entry.data, dest); err != nil {
		return apperrors.Wrap(err, apperrors.ErrStoreSerialize, "key "+key)
	}
	return nil
}

// Set 序列化并写入记录
func (s *MemoryStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrStoreSerialize, "key "+key)
	}

	entry := &memoryEntry{data: data}
	if ttl > 0 {
		entry.expireAt = time.Now().Add(ttl)
	}

	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
	return nil
}

// UpdateFields 合并顶层字段并续期TTL
func (s *MemoryStore) UpdateFields(ctx context.Context, key string, fields map[string]interface{}, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || entry.expired(time.Now()) {
		return ErrKeyNotFound
	}

	var record map[string]interface{}
	if err := json.Unmarshal(entry.data, &record); err != nil {
		return apperrors.Wrap(err, apperrors.ErrStoreSerialize, "key "+key)
	}
	for k, v := range fields {
		record[k] = v
	}
	data, err := json.Marshal(record)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrStoreSerialize, "key "+key)
	}

	entry.data = data
	if ttl > 0 {
		entry.expireAt = time.Now().Add(ttl)
	} else {
		entry.expireAt = time.Time{}
	}
	return nil
}

// Delete 删除记录
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Exists 检查记录是否存在
func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	return ok && !entry.expired(time.Now()), nil
}

// Expire 重置记录的TTL
func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || entry.expired(time.Now()) {
		return ErrKeyNotFound
	}

	if ttl > 0 {
		entry.expireAt = time.Now().Add(ttl)
	} else {
		entry.expireAt = time.Time{}
	}
	return nil
}

// Close 停止清理协程
func (s *MemoryStore) Close() error {
	s.once.Do(func() {
		close(s.done)
	})
	return nil
}
