package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/wfunc/trivia-game/internal/errors"
	"github.com/wfunc/trivia-game/internal/game"
	"github.com/wfunc/trivia-game/internal/logger"
	"github.com/wfunc/trivia-game/internal/questions"
	"github.com/wfunc/trivia-game/internal/store"
	"go.uber.org/zap"
)

// 客户端消息类型
const (
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
	MessageTypeRegister     = "register"
	MessageTypeCreateRoom   = "create_room"
	MessageTypeJoinRoom     = "join_room"
	MessageTypeRejoinRoom   = "rejoin_room"
	MessageTypeLeaveRoom    = "leave_room"
	MessageTypeStartGame    = "start_game"
	MessageTypeSubmitAnswer = "submit_answer"
	MessageTypeChat         = "chat"
	MessageTypeRoomState    = "room_state"
)

// 昵称长度上限
const maxNicknameLen = 24

// Message 客户端上行消息
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// TriviaHandler 答题游戏消息处理器
type TriviaHandler struct {
	hub     *Hub
	manager *game.Manager
	ids     *store.IdentityMap
	logger  *zap.Logger
}

// NewTriviaHandler 创建答题消息处理器
func NewTriviaHandler(hub *Hub, manager *game.Manager, ids *store.IdentityMap, log *zap.Logger) *TriviaHandler {
	return &TriviaHandler{
		hub:     hub,
		manager: manager,
		ids:     ids,
		logger:  log,
	}
}

// HandleClientMessage 处理客户端消息
func (h *TriviaHandler) HandleClientMessage(client *Client, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Error("解析消息失败",
			zap.String("client_id", client.ID),
			zap.Error(err))
		h.sendError(client, apperrors.New(apperrors.ErrMessageFormat))
		client.Close()
		return
	}

	if msg.Type == "" {
		h.sendError(client, apperrors.New(apperrors.ErrMessageFormat, "消息类型不能为空"))
		client.Close()
		return
	}

	logger.LogWebSocketMessage(msg.Type, client.ID, len(data))

	switch msg.Type {
	case MessageTypePing:
		h.send(client, game.NewEvent(MessageTypePong, map[string]interface{}{
			"at": time.Now().Unix(),
		}))

	case MessageTypePong:
		// 客户端回应，无需处理

	case MessageTypeRegister:
		h.handleRegister(client, &msg)

	case MessageTypeCreateRoom:
		h.handleCreateRoom(client, &msg)

	case MessageTypeJoinRoom:
		h.handleJoinRoom(client, &msg)

	case MessageTypeRejoinRoom:
		h.handleRejoinRoom(client, &msg)

	case MessageTypeLeaveRoom:
		h.handleLeaveRoom(client)

	case MessageTypeStartGame:
		h.handleStartGame(client, &msg)

	case MessageTypeSubmitAnswer:
		h.handleSubmitAnswer(client, &msg)

	case MessageTypeChat:
		h.handleChat(client, &msg)

	default:
		h.sendError(client, apperrors.Newf(apperrors.ErrMessageFormat, "未知消息类型: %s", msg.Type))
	}
}

// HandleClientDisconnect 连接断开收尾
func (h *TriviaHandler) HandleClientDisconnect(client *Client) {
	ctx, cancel := h.opCtx()
	defer cancel()

	if client.UserID != "" {
		if err := h.ids.Unregister(ctx, client.ID); err != nil {
			h.logger.Warn("注销身份映射失败",
				zap.String("client_id", client.ID),
				zap.Error(err))
		}
	}

	if client.RoomCode != "" && client.UserID != "" {
		h.manager.HandleDisconnect(ctx, client.RoomCode, client.UserID)
	}
}

// handleRegister 注册身份
// 未提供用户ID时分配匿名身份。
func (h *TriviaHandler) handleRegister(client *Client, msg *Message) {
	var req struct {
		UserID   string `json:"user_id"`
		Nickname string `json:"nickname"`
	}
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		h.sendError(client, apperrors.New(apperrors.ErrMessageFormat))
		return
	}

	nickname, err := validateNickname(req.Nickname)
	if err != nil {
		h.sendError(client, err)
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = game.GuestPrefix + uuid.NewString()
	}

	ctx, cancel := h.opCtx()
	defer cancel()

	if err := h.ids.Register(ctx, client.ID, userID); err != nil {
		h.sendError(client, err)
		return
	}

	h.hub.BindUser(client, userID)
	client.Nickname = nickname

	h.send(client, game.NewEvent("registered", map[string]interface{}{
		"user_id":  userID,
		"nickname": nickname,
		"guest":    game.IsGuest(userID),
	}))
}

// handleCreateRoom 创建房间
func (h *TriviaHandler) handleCreateRoom(client *Client, msg *Message) {
	if !h.requireUser(client) {
		return
	}

	ctx, cancel := h.opCtx()
	defer cancel()

	view, err := h.manager.CreateRoom(ctx, client.UserID, client.Nickname)
	if err != nil {
		h.sendError(client, err)
		return
	}

	h.hub.JoinRoomChannel(view.Code, client)
	h.send(client, game.NewEvent(game.EventRoomCreated, view))
}

// handleJoinRoom 加入房间
func (h *TriviaHandler) handleJoinRoom(client *Client, msg *Message) {
	if !h.requireUser(client) {
		return
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(msg.Data, &req); err != nil || req.Code == "" {
		h.sendError(client, apperrors.New(apperrors.ErrInvalidParam, "缺少房间码"))
		return
	}

	ctx, cancel := h.opCtx()
	defer cancel()

	view, err := h.manager.JoinRoom(ctx, req.Code, client.UserID, client.Nickname)
	if err != nil {
		h.sendError(client, err)
		return
	}

	h.hub.JoinRoomChannel(req.Code, client)
	h.send(client, game.NewEvent(game.EventRoomJoined, view))
}

// handleRejoinRoom 断线重连
// 点对点下发完整房间状态（进行中还包含当前题目与剩余时间）。
func (h *TriviaHandler) handleRejoinRoom(client *Client, msg *Message) {
	if !h.requireUser(client) {
		return
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(msg.Data, &req); err != nil || req.Code == "" {
		h.sendError(client, apperrors.New(apperrors.ErrInvalidParam, "缺少房间码"))
		return
	}

	ctx, cancel := h.opCtx()
	defer cancel()

	state, err := h.manager.Reconnect(ctx, req.Code, client.UserID)
	if err != nil {
		h.sendError(client, err)
		return
	}

	h.hub.JoinRoomChannel(req.Code, client)
	h.send(client, game.NewEvent(MessageTypeRoomState, state))
}

// handleLeaveRoom 离开房间
func (h *TriviaHandler) handleLeaveRoom(client *Client) {
	if !h.requireUser(client) {
		return
	}
	if client.RoomCode == "" {
		h.sendError(client, apperrors.New(apperrors.ErrRoomNotFound, "未加入任何房间"))
		return
	}

	ctx, cancel := h.opCtx()
	defer cancel()

	code := client.RoomCode
	if err := h.manager.LeaveRoom(ctx, code, client.UserID); err != nil {
		h.sendError(client, err)
		return
	}

	h.hub.LeaveRoomChannel(code, client)
	h.send(client, game.NewEvent(game.EventPlayerLeft, map[string]interface{}{
		"user_id": client.UserID,
		"reason":  "left",
	}))
}

// handleStartGame 房主开始游戏
func (h *TriviaHandler) handleStartGame(client *Client, msg *Message) {
	if !h.requireUser(client) {
		return
	}
	if client.RoomCode == "" {
		h.sendError(client, apperrors.New(apperrors.ErrRoomNotFound, "未加入任何房间"))
		return
	}

	var req struct {
		Category   string `json:"category"`
		Difficulty string `json:"difficulty"`
	}
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			h.sendError(client, apperrors.New(apperrors.ErrMessageFormat))
			return
		}
	}

	// 取题走外部服务，给足超时
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	opts := questions.Options{
		Category:   req.Category,
		Difficulty: req.Difficulty,
	}
	if err := h.manager.StartGame(ctx, client.RoomCode, client.UserID, opts); err != nil {
		h.sendError(client, err)
	}
}

// handleSubmitAnswer 提交答案
func (h *TriviaHandler) handleSubmitAnswer(client *Client, msg *Message) {
	if !h.requireUser(client) {
		return
	}
	if client.RoomCode == "" {
		h.sendError(client, apperrors.New(apperrors.ErrRoomNotFound, "未加入任何房间"))
		return
	}

	var req struct {
		QuestionIndex int `json:"question_index"`
		OptionIndex   int `json:"option_index"`
	}
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		h.sendError(client, apperrors.New(apperrors.ErrMessageFormat))
		return
	}

	ctx, cancel := h.opCtx()
	defer cancel()

	answer, err := h.manager.SubmitAnswer(ctx, client.RoomCode, client.UserID, req.QuestionIndex, req.OptionIndex)
	if err != nil {
		h.sendError(client, err)
		return
	}

	// 回执只发给提交者本人，携带其对错与得分；正确选项仍在揭晓时统一广播
	h.send(client, game.NewEvent(game.EventAnswerAck, map[string]interface{}{
		"question_index": req.QuestionIndex,
		"option_index":   answer.OptionIndex,
		"correct":        answer.Correct,
		"points":         answer.Points,
	}))
}

// handleChat 房间内聊天
func (h *TriviaHandler) handleChat(client *Client, msg *Message) {
	if !h.requireUser(client) {
		return
	}
	if client.RoomCode == "" {
		h.sendError(client, apperrors.New(apperrors.ErrRoomNotFound, "未加入任何房间"))
		return
	}

	var req struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		h.sendError(client, apperrors.New(apperrors.ErrMessageFormat))
		return
	}

	ctx, cancel := h.opCtx()
	defer cancel()

	if err := h.manager.Chat(ctx, client.RoomCode, client.UserID, req.Text); err != nil {
		h.sendError(client, err)
	}
}

// requireUser 检查是否已注册身份
func (h *TriviaHandler) requireUser(client *Client) bool {
	if client.UserID == "" {
		h.sendError(client, apperrors.New(apperrors.ErrNotRegistered))
		return false
	}
	return true
}

// send 发送事件给客户端
func (h *TriviaHandler) send(client *Client, event *game.Event) {
	h.hub.sendEvent(client, event)
}

// sendError 发送错误事件
func (h *TriviaHandler) sendError(client *Client, err error) {
	code := apperrors.WireCode(err)
	message := err.Error()
	if appErr, ok := err.(*apperrors.AppError); ok {
		message = appErr.Message
	}

	h.send(client, game.NewEvent(game.EventError, map[string]interface{}{
		"code":    code,
		"message": message,
	}))
}

// opCtx 普通操作的超时上下文
func (h *TriviaHandler) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// validateNickname 校验昵称
func validateNickname(nickname string) (string, error) {
	if nickname == "" {
		return "", apperrors.New(apperrors.ErrInvalidParam, "昵称不能为空")
	}
	if len([]rune(nickname)) > maxNicknameLen {
		return "", apperrors.Newf(apperrors.ErrInvalidParam, "昵称长度不能超过%d个字符", maxNicknameLen)
	}
	return nickname, nil
}
