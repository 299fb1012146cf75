package game

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/wfunc/trivia-game/internal/errors"
	"github.com/wfunc/trivia-game/internal/store"
)

const roomKeyPrefix = "room:"

// RoomStore 房间记录的类型化存储边界
// 所有读写经过这里，房间以整条JSON存取。
type RoomStore struct {
	store store.Store
	ttl   time.Duration
}

// NewRoomStore 创建房间存储
func NewRoomStore(s store.Store, ttl time.Duration) *RoomStore {
	return &RoomStore{store: s, ttl: ttl}
}

// Load 读取房间，不存在时返回ErrRoomNotFound
func (rs *RoomStore) Load(ctx context.Context, code string) (*Room, error) {
	var room Room
	err := rs.store.Get(ctx, roomKeyPrefix+code, &room)
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil, apperrors.New(apperrors.ErrRoomNotFound, code)
		}
		return nil, err
	}
	return &room, nil
}

// Save 整条写回并续期TTL
func (rs *RoomStore) Save(ctx context.Context, room *Room) error {
	return rs.store.Set(ctx, roomKeyPrefix+room.Code, room, rs.ttl)
}

// Delete 删除房间
func (rs *RoomStore) Delete(ctx context.Context, code string) error {
	return rs.store.Delete(ctx, roomKeyPrefix+code)
}

// Exists 检查房间码是否占用
func (rs *RoomStore) Exists(ctx context.Context, code string) (bool, error) {
	return rs.store.Exists(ctx, roomKeyPrefix+code)
}
