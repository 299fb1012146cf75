package game

// 事件类型（房间广播或点对点下发）
const (
	EventRoomCreated       = "room_created"
	EventRoomJoined        = "room_joined"
	EventPlayerJoined      = "player_joined"
	EventPlayerLeft        = "player_left"
	EventLeaderChanged     = "leader_changed"
	EventPlayerDisconnected = "player_disconnected"
	EventPlayerReconnected = "player_reconnected"
	EventRoomState         = "room_state"
	EventGameStarting      = "game_starting"
	EventQuestion          = "question"
	EventAnswerAck         = "answer_ack"
	EventAnswerReceived    = "answer_received"
	EventQuestionResults   = "question_results"
	EventGameOver          = "game_over"
	EventRoomClosed        = "room_closed"
	EventChat              = "chat"
	EventError             = "error"
)

// Event 下发给客户端的事件
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// NewEvent 创建事件
func NewEvent(eventType string, data interface{}) *Event {
	return &Event{Type: eventType, Data: data}
}

// Notifier 事件网关
// 房间广播发给房间内所有在线连接，点对点只发给指定用户的当前连接。
type Notifier interface {
	BroadcastToRoom(roomCode string, event *Event)
	SendToUser(userID string, event *Event)
}

// PlayerResult 单题揭晓时的玩家作答结果
type PlayerResult struct {
	UserID      string `json:"user_id"`
	Nickname    string `json:"nickname"`
	OptionIndex int    `json:"option_index"` // 未作答为-1
	Correct     bool   `json:"correct"`
	Points      int    `json:"points"`
}

// QuestionResults 单题结果事件载荷
type QuestionResults struct {
	Index        int            `json:"index"`
	CorrectIndex int            `json:"correct_index"`
	Tally        []int          `json:"tally"` // 各选项作答人数
	Results      []PlayerResult `json:"results"`
	Scoreboard   []ScoreEntry   `json:"scoreboard"`
	LastQuestion bool           `json:"last_question"`
}

// GameOver 整局结束事件载荷
type GameOver struct {
	Scoreboard []ScoreEntry `json:"scoreboard"`
	WinnerID   string       `json:"winner_id"`
	Round      int          `json:"round"`
}

// ReconnectState 重连时点对点下发的完整状态
type ReconnectState struct {
	Room      *RoomView       `json:"room"`
	Question  *PublicQuestion `json:"question,omitempty"`
	Remaining float64         `json:"remaining,omitempty"` // 当前题剩余秒数
	Answered  bool            `json:"answered"`
}
