package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/wfunc/trivia-game/internal/game"
	"go.uber.org/zap"
)

// MessageHandler 客户端消息处理器
type MessageHandler interface {
	// HandleClientMessage 处理客户端消息
	HandleClientMessage(client *Client, data []byte)
	// HandleClientDisconnect 连接断开收尾
	HandleClientDisconnect(client *Client)
}

// Hub WebSocket连接管理中心
// 维护连接、用户、房间三层映射，实现游戏事件网关。
type Hub struct {
	// 客户端连接池
	clients   map[string]*Client
	clientsMu sync.RWMutex

	// 用户ID到客户端的映射
	userClients map[string]*Client
	userMu      sync.RWMutex

	// 房间到客户端的映射
	rooms  map[string]map[string]*Client
	roomMu sync.RWMutex

	// 注册/注销通道
	register   chan *Client
	unregister chan *Client

	// 消息处理器
	messageHandler MessageHandler

	logger *zap.Logger
}

// NewHub 创建Hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:     make(map[string]*Client),
		userClients: make(map[string]*Client),
		rooms:       make(map[string]map[string]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		logger:      logger,
	}
}

// SetMessageHandler 设置消息处理器
func (h *Hub) SetMessageHandler(handler MessageHandler) {
	h.messageHandler = handler
}

// Run 运行Hub
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)
		}
	}
}

// registerClient 注册客户端
func (h *Hub) registerClient(client *Client) {
	h.clientsMu.Lock()
	h.clients[client.ID] = client
	h.clientsMu.Unlock()

	h.logger.Info("WebSocket客户端连接",
		zap.String("client_id", client.ID))

	// 发送连接成功消息，客户端拿到连接ID后再注册身份
	h.sendEvent(client, game.NewEvent("connected", map[string]interface{}{
		"conn_id": client.ID,
	}))
}

// unregisterClient 注销客户端
func (h *Hub) unregisterClient(client *Client) {
	h.clientsMu.Lock()
	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		close(client.Send)
	} else {
		h.clientsMu.Unlock()
		return
	}
	h.clientsMu.Unlock()

	if client.UserID != "" {
		h.userMu.Lock()
		// 重连后旧连接注销不应覆盖新连接
		if current, ok := h.userClients[client.UserID]; ok && current.ID == client.ID {
			delete(h.userClients, client.UserID)
		}
		h.userMu.Unlock()
	}

	if client.RoomCode != "" {
		h.LeaveRoomChannel(client.RoomCode, client)
	}

	if h.messageHandler != nil {
		h.messageHandler.HandleClientDisconnect(client)
	}

	h.logger.Info("WebSocket客户端断开",
		zap.String("client_id", client.ID),
		zap.String("user_id", client.UserID))
}

// BindUser 绑定用户身份，同一用户重复连接时顶掉旧连接
func (h *Hub) BindUser(client *Client, userID string) {
	h.userMu.Lock()
	old, ok := h.userClients[userID]
	h.userClients[userID] = client
	h.userMu.Unlock()

	client.UserID = userID

	if ok && old.ID != client.ID {
		h.logger.Info("用户重复连接，关闭旧连接",
			zap.String("user_id", userID),
			zap.String("old_client", old.ID))
		old.Close()
	}
}

// JoinRoomChannel 客户端订阅房间广播
func (h *Hub) JoinRoomChannel(roomCode string, client *Client) {
	h.roomMu.Lock()
	members, ok := h.rooms[roomCode]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[roomCode] = members
	}
	members[client.ID] = client
	h.roomMu.Unlock()

	client.RoomCode = roomCode
}

// LeaveRoomChannel 客户端退出房间广播
func (h *Hub) LeaveRoomChannel(roomCode string, client *Client) {
	h.roomMu.Lock()
	if members, ok := h.rooms[roomCode]; ok {
		delete(members, client.ID)
		if len(members) == 0 {
			delete(h.rooms, roomCode)
		}
	}
	h.roomMu.Unlock()

	if client.RoomCode == roomCode {
		client.RoomCode = ""
	}
}

// BroadcastToRoom 房间广播（实现game.Notifier）
func (h *Hub) BroadcastToRoom(roomCode string, event *game.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("序列化事件失败", zap.Error(err))
		return
	}

	h.roomMu.RLock()
	members := make([]*Client, 0, len(h.rooms[roomCode]))
	for _, client := range h.rooms[roomCode] {
		members = append(members, client)
	}
	h.roomMu.RUnlock()

	for _, client := range members {
		h.sendRaw(client, data)
	}
}

// SendToUser 点对点发送（实现game.Notifier）
func (h *Hub) SendToUser(userID string, event *game.Event) {
	h.userMu.RLock()
	client, ok := h.userClients[userID]
	h.userMu.RUnlock()

	if !ok {
		return
	}
	h.sendEvent(client, event)
}

// sendEvent 发送事件给指定客户端
func (h *Hub) sendEvent(client *Client, event *game.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("序列化事件失败", zap.Error(err))
		return
	}
	h.sendRaw(client, data)
}

// sendRaw 写入客户端发送缓冲
func (h *Hub) sendRaw(client *Client, data []byte) {
	select {
	case client.Send <- data:
	default:
		// 发送缓冲区满，客户端视为失联
		h.logger.Warn("客户端发送缓冲区满，关闭连接",
			zap.String("client_id", client.ID))
		client.Close()
	}
}

// OnlineCount 在线连接数
func (h *Hub) OnlineCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// RoomMemberCount 房间在线连接数
func (h *Hub) RoomMemberCount(roomCode string) int {
	h.roomMu.RLock()
	defer h.roomMu.RUnlock()
	return len(h.rooms[roomCode])
}

// Register 注册客户端
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister 注销客户端
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-time.After(time.Second):
	}
}
