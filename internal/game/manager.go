package game

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/wfunc/trivia-game/internal/config"
	apperrors "github.com/wfunc/trivia-game/internal/errors"
	"github.com/wfunc/trivia-game/internal/logger"
	"github.com/wfunc/trivia-game/internal/questions"
	"github.com/wfunc/trivia-game/internal/repository"
	"go.uber.org/zap"
)

// 生成唯一房间码的最大尝试次数
const maxCodeAttempts = 10

// Manager 房间生命周期与游戏流程管理
// 同一房间的所有变更操作都在该房间的锁内串行执行。
type Manager struct {
	cfg      *config.GameConfig
	rooms    *RoomStore
	timers   *TimerRegistry
	locks    *roomLocks
	provider questions.Provider
	notifier Notifier
	users    repository.UserRepository // 为nil时跳过积分落库
	clock    clockwork.Clock
}

// NewManager 创建游戏管理器
func NewManager(
	cfg *config.GameConfig,
	rooms *RoomStore,
	provider questions.Provider,
	notifier Notifier,
	users repository.UserRepository,
	clock clockwork.Clock,
) *Manager {
	return &Manager{
		cfg:      cfg,
		rooms:    rooms,
		timers:   NewTimerRegistry(clock),
		locks:    newRoomLocks(),
		provider: provider,
		notifier: notifier,
		users:    users,
		clock:    clock,
	}
}

// Stop 停止所有定时器（进程关闭时调用）
func (m *Manager) Stop() {
	m.timers.Stop()
}

// CreateRoom 创建房间，创建者成为房主
func (m *Manager) CreateRoom(ctx context.Context, userID, nickname string) (*RoomView, error) {
	var code string
	for i := 0; i < maxCodeAttempts; i++ {
		candidate := NewRoomCode()
		exists, err := m.rooms.Exists(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if !exists {
			code = candidate
			break
		}
	}
	if code == "" {
		return nil, apperrors.New(apperrors.ErrRoomCodeExhausted)
	}

	now := m.clock.Now()
	room := &Room{
		Code:         code,
		Status:       StatusLobby,
		LeaderID:     userID,
		CurrentIndex: -1,
		Answers:      make(map[string]map[int]*Answer),
		CreatedAt:    now,
		Players: []*Player{{
			UserID:    userID,
			Nickname:  nickname,
			Connected: true,
			JoinOrder: 0,
		}},
	}

	unlock := m.locks.Lock(code)
	defer unlock()

	if err := m.rooms.Save(ctx, room); err != nil {
		return nil, err
	}

	logger.LogRoomEvent("room_created", code, map[string]interface{}{
		"leader": userID,
	})
	return room.View(), nil
}

// JoinRoom 加入房间
// 已是成员时按重连处理；大厅之外的新加入被拒绝。
func (m *Manager) JoinRoom(ctx context.Context, code, userID, nickname string) (*RoomView, error) {
	unlock := m.locks.Lock(code)
	defer unlock()

	room, err := m.rooms.Load(ctx, code)
	if err != nil {
		return nil, err
	}

	if p := room.FindPlayer(userID); p != nil {
		return m.reconnectLocked(ctx, room, p)
	}

	if room.Status != StatusLobby {
		if room.Departed[userID] {
			// 局中被移出的玩家重入，与宽限过期同等对待
			return nil, apperrors.New(apperrors.ErrGraceExpired, userID)
		}
		return nil, apperrors.New(apperrors.ErrGameInProgress, code)
	}
	if len(room.Players) >= m.cfg.MaxPlayers {
		return nil, apperrors.New(apperrors.ErrRoomFull, code)
	}

	order := 0
	for _, p := range room.Players {
		if p.JoinOrder >= order {
			order = p.JoinOrder + 1
		}
	}
	player := &Player{
		UserID:    userID,
		Nickname:  nickname,
		Connected: true,
		JoinOrder: order,
	}
	room.Players = append(room.Players, player)

	// 有人进来，空房清理作废
	m.timers.Cancel(code, TimerCleanup)

	if err := m.rooms.Save(ctx, room); err != nil {
		return nil, err
	}

	m.notifier.BroadcastToRoom(code, NewEvent(EventPlayerJoined, map[string]interface{}{
		"player": player,
		"room":   room.View(),
	}))

	logger.LogRoomEvent("player_joined", code, map[string]interface{}{
		"user_id": userID,
		"players": len(room.Players),
	})
	return room.View(), nil
}

// LeaveRoom 主动离开房间
func (m *Manager) LeaveRoom(ctx context.Context, code, userID string) error {
	unlock := m.locks.Lock(code)

	room, err := m.rooms.Load(ctx, code)
	if err != nil {
		unlock()
		return err
	}

	if !room.RemovePlayer(userID) {
		unlock()
		return apperrors.New(apperrors.ErrPlayerNotFound, userID)
	}

	allDone := m.afterPlayerGone(ctx, room, userID, "left")
	index := room.CurrentIndex
	unlock()

	if allDone && m.timers.Cancel(code, TimerQuestion) {
		m.advance(code, index)
	}
	return nil
}

// HandleDisconnect 连接断开
// 大厅中直接移除；游戏中标记离线并进入重连宽限期。
func (m *Manager) HandleDisconnect(ctx context.Context, code, userID string) {
	unlock := m.locks.Lock(code)

	room, err := m.rooms.Load(ctx, code)
	if err != nil {
		unlock()
		return
	}

	player := room.FindPlayer(userID)
	if player == nil {
		unlock()
		return
	}

	if room.Status == StatusLobby {
		room.RemovePlayer(userID)
		m.afterPlayerGone(ctx, room, userID, "disconnected")
		unlock()
		return
	}

	// 宽限期内保留房主身份，继任在玩家被移出时才发生
	player.Connected = false

	if err := m.rooms.Save(ctx, room); err != nil {
		unlock()
		logger.Error("保存房间失败", zap.String("room", code), zap.Error(err))
		return
	}

	m.notifier.BroadcastToRoom(code, NewEvent(EventPlayerDisconnected, map[string]interface{}{
		"user_id": userID,
		"grace":   m.cfg.ReconnectGrace.Seconds(),
	}))

	m.timers.Arm(code, GraceTimer(userID), m.cfg.ReconnectGrace, func() {
		m.onGraceExpired(code, userID)
	})
	if room.ConnectedCount() == 0 {
		m.timers.Arm(code, TimerCleanup, m.cfg.CleanupGrace, func() {
			m.onCleanupExpired(code)
		})
	}

	allDone := room.Status == StatusPlaying && room.AllAnswered()
	index := room.CurrentIndex
	unlock()

	logger.LogRoomEvent("player_disconnected", code, map[string]interface{}{
		"user_id": userID,
	})

	if allDone && m.timers.Cancel(code, TimerQuestion) {
		m.advance(code, index)
	}
}

// Reconnect 宽限期内重连，点对点返回完整房间状态
func (m *Manager) Reconnect(ctx context.Context, code, userID string) (*ReconnectState, error) {
	unlock := m.locks.Lock(code)
	defer unlock()

	room, err := m.rooms.Load(ctx, code)
	if err != nil {
		return nil, err
	}

	player := room.FindPlayer(userID)
	if player == nil {
		// 宽限期已过，玩家已被移出
		return nil, apperrors.New(apperrors.ErrGraceExpired, userID)
	}

	view, err := m.reconnectLocked(ctx, room, player)
	if err != nil {
		return nil, err
	}

	state := &ReconnectState{Room: view}
	if room.Status == StatusPlaying {
		state.Question = m.publicQuestion(room)
		elapsed := m.clock.Since(room.QuestionAt).Seconds()
		if remaining := m.cfg.QuestionTime.Seconds() - elapsed; remaining > 0 {
			state.Remaining = remaining
		}
		_, state.Answered = room.AnswerFor(userID, room.CurrentIndex)
	}
	return state, nil
}

// reconnectLocked 房间锁内的重连处理
func (m *Manager) reconnectLocked(ctx context.Context, room *Room, player *Player) (*RoomView, error) {
	m.timers.Cancel(room.Code, GraceTimer(player.UserID))
	m.timers.Cancel(room.Code, TimerCleanup)

	if !player.Connected {
		player.Connected = true
		if err := m.rooms.Save(ctx, room); err != nil {
			return nil, err
		}
		m.notifier.BroadcastToRoom(room.Code, NewEvent(EventPlayerReconnected, map[string]interface{}{
			"user_id": player.UserID,
		}))
		logger.LogRoomEvent("player_reconnected", room.Code, map[string]interface{}{
			"user_id": player.UserID,
		})
	}
	return room.View(), nil
}

// Snapshot 获取房间当前视图
func (m *Manager) Snapshot(ctx context.Context, code string) (*RoomView, error) {
	room, err := m.rooms.Load(ctx, code)
	if err != nil {
		return nil, err
	}
	return room.View(), nil
}

// Chat 房间内聊天转发（仅成员可发）
func (m *Manager) Chat(ctx context.Context, code, userID, text string) error {
	if text == "" {
		return apperrors.New(apperrors.ErrInvalidParam, "消息不能为空")
	}

	room, err := m.rooms.Load(ctx, code)
	if err != nil {
		return err
	}
	player := room.FindPlayer(userID)
	if player == nil {
		return apperrors.New(apperrors.ErrPlayerNotFound, userID)
	}

	m.notifier.BroadcastToRoom(code, NewEvent(EventChat, map[string]interface{}{
		"user_id":  userID,
		"nickname": player.Nickname,
		"text":     text,
		"at":       m.clock.Now().Unix(),
	}))
	return nil
}

// afterPlayerGone 锁内的玩家移除收尾
// 返回剩余在线玩家是否都已作答（需要提前揭晓）。
func (m *Manager) afterPlayerGone(ctx context.Context, room *Room, userID, reason string) bool {
	code := room.Code
	m.timers.Cancel(code, GraceTimer(userID))
	delete(room.Answers, userID)
	if room.Status != StatusLobby {
		if room.Departed == nil {
			room.Departed = make(map[string]bool)
		}
		room.Departed[userID] = true
	}
	leaderChanged := room.ElectLeader()

	if len(room.Players) == 0 {
		m.timers.Arm(code, TimerCleanup, m.cfg.CleanupGrace, func() {
			m.onCleanupExpired(code)
		})
	}

	if err := m.rooms.Save(ctx, room); err != nil {
		logger.Error("保存房间失败", zap.String("room", code), zap.Error(err))
		return false
	}

	m.notifier.BroadcastToRoom(code, NewEvent(EventPlayerLeft, map[string]interface{}{
		"user_id": userID,
		"reason":  reason,
		"room":    room.View(),
	}))
	if leaderChanged {
		m.notifier.BroadcastToRoom(code, NewEvent(EventLeaderChanged, map[string]interface{}{
			"leader_id": room.LeaderID,
		}))
	}

	logger.LogRoomEvent("player_left", code, map[string]interface{}{
		"user_id": userID,
		"reason":  reason,
		"players": len(room.Players),
	})

	return room.Status == StatusPlaying && room.AllAnswered()
}

// onGraceExpired 重连宽限期到期
// 触发时重新检查在线状态，已重连则不做任何事。
func (m *Manager) onGraceExpired(code, userID string) {
	ctx := context.Background()
	unlock := m.locks.Lock(code)

	room, err := m.rooms.Load(ctx, code)
	if err != nil {
		unlock()
		return
	}

	player := room.FindPlayer(userID)
	if player == nil || player.Connected {
		unlock()
		return
	}

	room.RemovePlayer(userID)
	allDone := m.afterPlayerGone(ctx, room, userID, "grace_expired")
	index := room.CurrentIndex
	unlock()

	if allDone && m.timers.Cancel(code, TimerQuestion) {
		m.advance(code, index)
	}
}

// onCleanupExpired 空房间清理宽限期到期
func (m *Manager) onCleanupExpired(code string) {
	ctx := context.Background()
	unlock := m.locks.Lock(code)
	defer unlock()

	room, err := m.rooms.Load(ctx, code)
	if err != nil {
		return
	}
	if room.ConnectedCount() > 0 {
		return
	}

	m.timers.CancelAll(code)
	if err := m.rooms.Delete(ctx, code); err != nil {
		logger.Error("删除房间失败", zap.String("room", code), zap.Error(err))
		return
	}
	m.locks.Release(code)

	m.notifier.BroadcastToRoom(code, NewEvent(EventRoomClosed, map[string]interface{}{
		"code": code,
	}))
	logger.LogRoomEvent("room_closed", code, nil)
}
