package game

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/wfunc/trivia-game/internal/config"
	"github.com/wfunc/trivia-game/internal/models"
	"github.com/wfunc/trivia-game/internal/questions"
	"github.com/wfunc/trivia-game/internal/repository"
	"github.com/wfunc/trivia-game/internal/store"
	"gorm.io/gorm"
)

// stubProvider 返回固定题目的题库（正确答案都是选项1）
type stubProvider struct {
	err          error
	failFiltered bool // 带过滤条件的请求一律失败

	mu    sync.Mutex
	calls int
}

func (s *stubProvider) Fetch(ctx context.Context, count int, opts questions.Options) ([]questions.Question, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	if s.failFiltered && opts != (questions.Options{}) {
		return nil, fmt.Errorf("题目不足: 需要%d道，实际0道", count)
	}
	qs := make([]questions.Question, 0, count)
	for i := 0; i < count; i++ {
		qs = append(qs, questions.Question{
			Text:         fmt.Sprintf("question %d", i),
			Options:      []string{"a", "b", "c", "d"},
			CorrectIndex: 1,
			Category:     "General Knowledge",
			Difficulty:   "medium",
		})
	}
	return qs, nil
}

// Calls 累计请求次数
func (s *stubProvider) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeUserRepo 记录落库调用的用户仓储
type fakeUserRepo struct {
	mu        sync.Mutex
	points    map[string]int
	histories []*models.PointsHistory
	games     []*models.GameRecord
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{points: make(map[string]int)}
}

func (f *fakeUserRepo) GetDB() *gorm.DB                             { return nil }
func (f *fakeUserRepo) WithTx(tx *gorm.DB) repository.BaseRepository { return f }

func (f *fakeUserRepo) Create(ctx context.Context, user *models.User) error { return nil }
func (f *fakeUserRepo) Update(ctx context.Context, user *models.User) error { return nil }

func (f *fakeUserRepo) FindByUserID(ctx context.Context, userID string) (*models.User, error) {
	return nil, nil
}

func (f *fakeUserRepo) AddPoints(ctx context.Context, userID, nickname string, points int, won bool) error {
	f.mu.Lock()
	f.points[userID] += points
	f.mu.Unlock()
	return nil
}

func (f *fakeUserRepo) RecordHistory(ctx context.Context, history *models.PointsHistory) error {
	f.mu.Lock()
	f.histories = append(f.histories, history)
	f.mu.Unlock()
	return nil
}

func (f *fakeUserRepo) RecordGame(ctx context.Context, record *models.GameRecord) error {
	f.mu.Lock()
	f.games = append(f.games, record)
	f.mu.Unlock()
	return nil
}

func (f *fakeUserRepo) GetHistory(ctx context.Context, userID string, pagination *repository.Pagination) ([]*models.PointsHistory, error) {
	return nil, nil
}

func (f *fakeUserRepo) Leaderboard(ctx context.Context, limit int) ([]*models.LeaderboardEntry, error) {
	return nil, nil
}

// recordingNotifier 记录下发事件的事件网关
type recordingNotifier struct {
	mu        sync.Mutex
	broadcast []*Event
	direct    map[string][]*Event
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{
		direct: make(map[string][]*Event),
	}
}

func (n *recordingNotifier) BroadcastToRoom(roomCode string, event *Event) {
	n.mu.Lock()
	n.broadcast = append(n.broadcast, event)
	n.mu.Unlock()
}

func (n *recordingNotifier) SendToUser(userID string, event *Event) {
	n.mu.Lock()
	n.direct[userID] = append(n.direct[userID], event)
	n.mu.Unlock()
}

// Broadcasts 按类型过滤广播事件
func (n *recordingNotifier) Broadcasts(eventType string) []*Event {
	n.mu.Lock()
	defer n.mu.Unlock()

	var matched []*Event
	for _, e := range n.broadcast {
		if e.Type == eventType {
			matched = append(matched, e)
		}
	}
	return matched
}

// testGameConfig 测试用游戏配置（真实时长）
func testGameConfig() *config.GameConfig {
	return &config.GameConfig{
		MaxPlayers:       8,
		QuestionCount:    10,
		QuestionTime:     25 * time.Second,
		CountdownTime:    3 * time.Second,
		ResultsTime:      5 * time.Second,
		ReconnectGrace:   30 * time.Second,
		CleanupGrace:     60 * time.Second,
		SinglePlayerTime: 30 * time.Second,
	}
}

// testEnv 测试环境
type testEnv struct {
	manager  *Manager
	notifier *recordingNotifier
	clock    *clockwork.FakeClock
	store    *store.MemoryStore
	rooms    *RoomStore
}

// newTestEnv 创建带假时钟和内存存储的测试环境
func newTestEnv() *testEnv {
	clock := clockwork.NewFakeClock()
	memStore := store.NewMemoryStore()
	rooms := NewRoomStore(memStore, 2*time.Hour)
	notifier := newRecordingNotifier()

	manager := NewManager(testGameConfig(), rooms, &stubProvider{}, notifier, nil, clock)

	return &testEnv{
		manager:  manager,
		notifier: notifier,
		clock:    clock,
		store:    memStore,
		rooms:    rooms,
	}
}

func (env *testEnv) close() {
	env.manager.Stop()
	env.store.Close()
}

// roomStatus 读取房间当前状态
func (env *testEnv) roomStatus(code string) RoomStatus {
	room, err := env.rooms.Load(context.Background(), code)
	if err != nil {
		return ""
	}
	return room.Status
}
