package store

import (
	"context"
	"errors"
	"time"
)

const (
	connKeyPrefix = "identity:conn:"
	userKeyPrefix = "identity:user:"
)

// IdentityMap 连接与用户的双向映射
// 连接建立注册，断开删除；重连时同一用户映射到新连接。
type IdentityMap struct {
	store Store
	ttl   time.Duration
}

// NewIdentityMap 创建身份映射
func NewIdentityMap(s Store, ttl time.Duration) *IdentityMap {
	return &IdentityMap{store: s, ttl: ttl}
}

// Register 注册连接与用户的双向映射
func (m *IdentityMap) Register(ctx context.Context, connID, userID string) error {
	if err := m.store.Set(ctx, connKeyPrefix+connID, userID, m.ttl); err != nil {
		return err
	}
	return m.store.Set(ctx, userKeyPrefix+userID, connID, m.ttl)
}

// UserByConn 根据连接ID查用户ID
func (m *IdentityMap) UserByConn(ctx context.Context, connID string) (string, bool) {
	var userID string
	if err := m.store.Get(ctx, connKeyPrefix+connID, &userID); err != nil {
		return "", false
	}
	return userID, true
}

// ConnByUser 根据用户ID查当前连接ID
func (m *IdentityMap) ConnByUser(ctx context.Context, userID string) (string, bool) {
	var connID string
	if err := m.store.Get(ctx, userKeyPrefix+userID, &connID); err != nil {
		return "", false
	}
	return connID, true
}

// Unregister 删除连接映射
// 仅当用户侧仍指向该连接时才删除用户映射，避免重连后误删新连接。
func (m *IdentityMap) Unregister(ctx context.Context, connID string) error {
	var userID string
	err := m.store.Get(ctx, connKeyPrefix+connID, &userID)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil
		}
		return err
	}

	if err := m.store.Delete(ctx, connKeyPrefix+connID); err != nil {
		return err
	}

	var current string
	if err := m.store.Get(ctx, userKeyPrefix+userID, &current); err == nil && current == connID {
		return m.store.Delete(ctx, userKeyPrefix+userID)
	}
	return nil
}
