package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/trivia-game/internal/config"
	"github.com/wfunc/trivia-game/internal/game"
	"github.com/wfunc/trivia-game/internal/questions"
	"github.com/wfunc/trivia-game/internal/store"
	"go.uber.org/zap"
)

// testProvider 固定题目的题库
type testProvider struct{}

func (p *testProvider) Fetch(ctx context.Context, count int, opts questions.Options) ([]questions.Question, error) {
	qs := make([]questions.Question, 0, count)
	for i := 0; i < count; i++ {
		qs = append(qs, questions.Question{
			Text:         fmt.Sprintf("question %d", i),
			Options:      []string{"a", "b", "c", "d"},
			CorrectIndex: 1,
			Difficulty:   "medium",
		})
	}
	return qs, nil
}

// setupTriviaServer 搭建完整的WebSocket测试服务
func setupTriviaServer(t *testing.T) *httptest.Server {
	log := zap.NewNop()
	hub := NewHub(log)
	go hub.Run()

	memStore := store.NewMemoryStore()
	t.Cleanup(func() { memStore.Close() })

	cfg := &config.GameConfig{
		MaxPlayers:     8,
		QuestionCount:  3,
		QuestionTime:   25 * time.Second,
		CountdownTime:  50 * time.Millisecond,
		ResultsTime:    50 * time.Millisecond,
		ReconnectGrace: 30 * time.Second,
		CleanupGrace:   time.Minute,
	}
	rooms := game.NewRoomStore(memStore, time.Hour)
	ids := store.NewIdentityMap(memStore, time.Hour)
	manager := game.NewManager(cfg, rooms, &testProvider{}, hub, nil, clockwork.NewRealClock())
	t.Cleanup(manager.Stop)

	handler := NewTriviaHandler(hub, manager, ids, log)
	hub.SetMessageHandler(handler)

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(hub, conn)
		hub.Register(client)
		go client.WritePump()
		go client.ReadPump()
	}))
	t.Cleanup(server.Close)

	return server
}

// testConn 测试客户端连接
type testConn struct {
	t    *testing.T
	conn *websocket.Conn
	buf  []*game.Event
}

// dial 连接测试服务
func dial(t *testing.T, server *httptest.Server) *testConn {
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testConn{t: t, conn: conn}
}

// send 发送消息
func (tc *testConn) send(msgType string, data interface{}) {
	payload, err := json.Marshal(data)
	require.NoError(tc.t, err)
	msg := Message{Type: msgType, Data: payload}
	require.NoError(tc.t, tc.conn.WriteJSON(msg))
}

// waitFor 等待指定类型的事件（写入批量下发按换行拆分）
func (tc *testConn) waitFor(eventType string) *game.Event {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for i, e := range tc.buf {
			if e.Type == eventType {
				tc.buf = append(tc.buf[:i], tc.buf[i+1:]...)
				return e
			}
		}

		tc.conn.SetReadDeadline(deadline)
		_, raw, err := tc.conn.ReadMessage()
		require.NoError(tc.t, err)

		for _, chunk := range bytes.Split(raw, []byte{'\n'}) {
			if len(chunk) == 0 {
				continue
			}
			var event game.Event
			require.NoError(tc.t, json.Unmarshal(chunk, &event))
			tc.buf = append(tc.buf, &event)
		}
	}
	tc.t.Fatalf("等待事件超时: %s", eventType)
	return nil
}

// register 完成身份注册
func (tc *testConn) register(userID, nickname string) {
	tc.waitFor("connected")
	tc.send(MessageTypeRegister, map[string]string{
		"user_id":  userID,
		"nickname": nickname,
	})
	tc.waitFor("registered")
}

// eventData 解析事件数据到目标结构
func eventData(t *testing.T, event *game.Event, dest interface{}) {
	raw, err := json.Marshal(event.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, dest))
}

// TestRegisterAssignsGuest 测试未提供用户ID时分配匿名身份
func TestRegisterAssignsGuest(t *testing.T) {
	server := setupTriviaServer(t)
	tc := dial(t, server)

	tc.waitFor("connected")
	tc.send(MessageTypeRegister, map[string]string{"nickname": "Anon"})

	event := tc.waitFor("registered")
	var resp struct {
		UserID string `json:"user_id"`
		Guest  bool   `json:"guest"`
	}
	eventData(t, event, &resp)
	assert.True(t, resp.Guest)
	assert.True(t, strings.HasPrefix(resp.UserID, game.GuestPrefix))
}

// TestRequireRegistration 测试未注册身份不能操作房间
func TestRequireRegistration(t *testing.T) {
	server := setupTriviaServer(t)
	tc := dial(t, server)

	tc.waitFor("connected")
	tc.send(MessageTypeCreateRoom, map[string]string{})

	event := tc.waitFor(game.EventError)
	var resp struct {
		Code string `json:"code"`
	}
	eventData(t, event, &resp)
	assert.Equal(t, "NOT_REGISTERED", resp.Code)
}

// TestCreateAndJoinRoom 测试创建并加入房间
func TestCreateAndJoinRoom(t *testing.T) {
	server := setupTriviaServer(t)

	alice := dial(t, server)
	alice.register("user-a", "Alice")
	alice.send(MessageTypeCreateRoom, map[string]string{})

	created := alice.waitFor(game.EventRoomCreated)
	var room game.RoomView
	eventData(t, created, &room)
	require.Len(t, room.Code, game.CodeLength)

	bob := dial(t, server)
	bob.register("user-b", "Bob")
	bob.send(MessageTypeJoinRoom, map[string]string{"code": room.Code})

	joined := bob.waitFor(game.EventRoomJoined)
	var joinedRoom game.RoomView
	eventData(t, joined, &joinedRoom)
	assert.Len(t, joinedRoom.Players, 2)

	// 房主收到新玩家广播
	alice.waitFor(game.EventPlayerJoined)
}

// TestJoinUnknownRoom 测试加入不存在的房间返回稳定错误码
func TestJoinUnknownRoom(t *testing.T) {
	server := setupTriviaServer(t)

	tc := dial(t, server)
	tc.register("user-a", "Alice")
	tc.send(MessageTypeJoinRoom, map[string]string{"code": "NOSUCH"})

	event := tc.waitFor(game.EventError)
	var resp struct {
		Code string `json:"code"`
	}
	eventData(t, event, &resp)
	assert.Equal(t, "ROOM_NOT_FOUND", resp.Code)
}

// TestGameFlowOverWebSocket 测试开局到出题的完整链路
func TestGameFlowOverWebSocket(t *testing.T) {
	server := setupTriviaServer(t)

	alice := dial(t, server)
	alice.register("user-a", "Alice")
	alice.send(MessageTypeCreateRoom, map[string]string{})

	created := alice.waitFor(game.EventRoomCreated)
	var room game.RoomView
	eventData(t, created, &room)

	bob := dial(t, server)
	bob.register("user-b", "Bob")
	bob.send(MessageTypeJoinRoom, map[string]string{"code": room.Code})
	bob.waitFor(game.EventRoomJoined)

	// 非房主开始被拒绝
	bob.send(MessageTypeStartGame, map[string]string{})
	errEvent := bob.waitFor(game.EventError)
	var errResp struct {
		Code string `json:"code"`
	}
	eventData(t, errEvent, &errResp)
	assert.Equal(t, "NOT_LEADER", errResp.Code)

	// 房主开始，双方收到倒计时和题目
	alice.send(MessageTypeStartGame, map[string]string{})
	alice.waitFor(game.EventGameStarting)
	bob.waitFor(game.EventGameStarting)

	questionEvent := alice.waitFor(game.EventQuestion)
	var question game.PublicQuestion
	eventData(t, questionEvent, &question)
	assert.Equal(t, 0, question.Index)
	assert.Len(t, question.Options, 4)
	bob.waitFor(game.EventQuestion)

	// 双方作答后提前揭晓，回执带本人对错和得分
	alice.send(MessageTypeSubmitAnswer, map[string]int{"question_index": 0, "option_index": 1})
	ackEvent := alice.waitFor(game.EventAnswerAck)
	var ack struct {
		QuestionIndex int  `json:"question_index"`
		OptionIndex   int  `json:"option_index"`
		Correct       bool `json:"correct"`
		Points        int  `json:"points"`
	}
	eventData(t, ackEvent, &ack)
	assert.Equal(t, 0, ack.QuestionIndex)
	assert.Equal(t, 1, ack.OptionIndex)
	assert.True(t, ack.Correct)
	assert.Greater(t, ack.Points, 0)

	bob.send(MessageTypeSubmitAnswer, map[string]int{"question_index": 0, "option_index": 2})
	bobAck := bob.waitFor(game.EventAnswerAck)
	eventData(t, bobAck, &ack)
	assert.False(t, ack.Correct)
	assert.Equal(t, 0, ack.Points)

	resultsEvent := alice.waitFor(game.EventQuestionResults)
	var results game.QuestionResults
	eventData(t, resultsEvent, &results)
	assert.Equal(t, 1, results.CorrectIndex)

	var aliceResult *game.PlayerResult
	for i := range results.Results {
		if results.Results[i].UserID == "user-a" {
			aliceResult = &results.Results[i]
		}
	}
	require.NotNil(t, aliceResult)
	assert.True(t, aliceResult.Correct)
}

// TestChatRelay 测试聊天转发
func TestChatRelay(t *testing.T) {
	server := setupTriviaServer(t)

	alice := dial(t, server)
	alice.register("user-a", "Alice")
	alice.send(MessageTypeCreateRoom, map[string]string{})
	created := alice.waitFor(game.EventRoomCreated)
	var room game.RoomView
	eventData(t, created, &room)

	bob := dial(t, server)
	bob.register("user-b", "Bob")
	bob.send(MessageTypeJoinRoom, map[string]string{"code": room.Code})
	bob.waitFor(game.EventRoomJoined)

	alice.send(MessageTypeChat, map[string]string{"text": "hello"})

	event := bob.waitFor(game.EventChat)
	var chat struct {
		UserID string `json:"user_id"`
		Text   string `json:"text"`
	}
	eventData(t, event, &chat)
	assert.Equal(t, "user-a", chat.UserID)
	assert.Equal(t, "hello", chat.Text)
}
