package game

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/wfunc/trivia-game/internal/logger"
	"go.uber.org/zap"
)

// 定时器用途
const (
	TimerCountdown = "countdown" // 开局倒计时
	TimerQuestion  = "question"  // 答题时限
	TimerResults   = "results"   // 结果展示停留
	TimerCleanup   = "cleanup"   // 空房间清理宽限
)

// GraceTimer 断线重连宽限定时器用途（按玩家区分）
func GraceTimer(userID string) string {
	return "grace:" + userID
}

// TimerRegistry 按房间管理命名定时器
// 同一房间同一用途同时最多一个，重复设置会替换旧定时器。
type TimerRegistry struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	timers map[string]clockwork.Timer
}

// NewTimerRegistry 创建定时器注册表
func NewTimerRegistry(clock clockwork.Clock) *TimerRegistry {
	return &TimerRegistry{
		clock:  clock,
		timers: make(map[string]clockwork.Timer),
	}
}

// timerKey 拼接定时器键
func timerKey(roomCode, purpose string) string {
	return roomCode + "/" + purpose
}

// Arm 设置定时器，同键已有定时器时先取消旧的
func (tr *TimerRegistry) Arm(roomCode, purpose string, d time.Duration, fn func()) {
	key := timerKey(roomCode, purpose)

	tr.mu.Lock()
	if old, ok := tr.timers[key]; ok {
		old.Stop()
	}
	tr.timers[key] = tr.clock.AfterFunc(d, func() {
		tr.mu.Lock()
		delete(tr.timers, key)
		tr.mu.Unlock()

		logger.LogTimerEvent(roomCode, purpose, "fire")

		// 回调panic不能拖垮进程
		defer func() {
			if r := recover(); r != nil {
				logger.Error("定时器回调panic",
					zap.String("room", roomCode),
					zap.String("purpose", purpose),
					zap.Any("panic", r),
				)
			}
		}()
		fn()
	})
	tr.mu.Unlock()

	logger.LogTimerEvent(roomCode, purpose, "arm")
}

// Cancel 取消定时器，返回是否取消了尚未触发的定时器
func (tr *TimerRegistry) Cancel(roomCode, purpose string) bool {
	key := timerKey(roomCode, purpose)

	tr.mu.Lock()
	timer, ok := tr.timers[key]
	if ok {
		delete(tr.timers, key)
	}
	tr.mu.Unlock()

	if !ok {
		return false
	}

	stopped := timer.Stop()
	if stopped {
		logger.LogTimerEvent(roomCode, purpose, "cancel")
	}
	return stopped
}

// CancelAll 取消房间的所有定时器
func (tr *TimerRegistry) CancelAll(roomCode string) {
	prefix := roomCode + "/"

	tr.mu.Lock()
	var cancelled []string
	for key, timer := range tr.timers {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			timer.Stop()
			delete(tr.timers, key)
			cancelled = append(cancelled, key)
		}
	}
	tr.mu.Unlock()

	for _, key := range cancelled {
		logger.LogTimerEvent(roomCode, key[len(prefix):], "cancel")
	}
}

// Stop 停止所有定时器（进程关闭时调用）
func (tr *TimerRegistry) Stop() {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	for key, timer := range tr.timers {
		timer.Stop()
		delete(tr.timers, key)
	}
}
