package game

import "sync"

// roomLocks 按房间码串行化变更操作
// 所有读-改-写都在对应房间的锁内完成，避免整条覆盖丢失更新。
type roomLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// newRoomLocks 创建房间锁表
func newRoomLocks() *roomLocks {
	return &roomLocks{
		locks: make(map[string]*sync.Mutex),
	}
}

// Lock 获取房间锁，返回解锁函数
func (rl *roomLocks) Lock(code string) func() {
	rl.mu.Lock()
	lock, ok := rl.locks[code]
	if !ok {
		lock = &sync.Mutex{}
		rl.locks[code] = lock
	}
	rl.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Release 房间删除后释放锁条目
func (rl *roomLocks) Release(code string) {
	rl.mu.Lock()
	delete(rl.locks, code)
	rl.mu.Unlock()
}
