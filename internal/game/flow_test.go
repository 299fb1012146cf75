package game

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/wfunc/trivia-game/internal/errors"
	"github.com/wfunc/trivia-game/internal/questions"
)

func questionOpts() questions.Options {
	return questions.Options{}
}

// startedRoom 创建双人房间并推进到第一题
func startedRoom(t *testing.T, env *testEnv) string {
	ctx := context.Background()

	view, err := env.manager.CreateRoom(ctx, "user-a", "Alice")
	require.NoError(t, err)
	code := view.Code
	_, err = env.manager.JoinRoom(ctx, code, "user-b", "Bob")
	require.NoError(t, err)

	require.NoError(t, env.manager.StartGame(ctx, code, "user-a", questionOpts()))
	require.Equal(t, StatusCountdown, env.roomStatus(code))

	// 倒计时结束进入第一题
	env.clock.Advance(3 * time.Second)
	require.Eventually(t, func() bool {
		return env.roomStatus(code) == StatusPlaying
	}, time.Second, 10*time.Millisecond)

	return code
}

// TestCalcPoints 测试得分公式
func TestCalcPoints(t *testing.T) {
	// 瞬间答对满分
	assert.Equal(t, 350, calcPoints(true, 0, 25))
	// 剩余时间线性奖励
	assert.Equal(t, 300, calcPoints(true, 5, 25))
	assert.Equal(t, 200, calcPoints(true, 15, 25))
	// 恰好压线答对只拿基础分
	assert.Equal(t, 100, calcPoints(true, 25, 25))
	// 超时后剩余时间不为负
	assert.Equal(t, 100, calcPoints(true, 30, 25))
	// 答错0分
	assert.Equal(t, 0, calcPoints(false, 0, 25))
	// 小数秒四舍五入
	assert.Equal(t, 348, calcPoints(true, 0.25, 25))
}

// TestStartGameNotLeader 测试非房主不能开始
func TestStartGameNotLeader(t *testing.T) {
	env := newTestEnv()
	defer env.close()
	ctx := context.Background()

	view, err := env.manager.CreateRoom(ctx, "user-a", "Alice")
	require.NoError(t, err)
	_, err = env.manager.JoinRoom(ctx, view.Code, "user-b", "Bob")
	require.NoError(t, err)

	err = env.manager.StartGame(ctx, view.Code, "user-b", questionOpts())
	assert.True(t, apperrors.Is(err, apperrors.ErrNotLeader))
}

// TestStartGameWrongPhase 测试答题中不能重复开始
func TestStartGameWrongPhase(t *testing.T) {
	env := newTestEnv()
	defer env.close()
	code := startedRoom(t, env)

	err := env.manager.StartGame(context.Background(), code, "user-a", questionOpts())
	assert.True(t, apperrors.Is(err, apperrors.ErrWrongPhase))
}

// TestQuestionEventHidesAnswer 测试下发题目不包含正确答案
func TestQuestionEventHidesAnswer(t *testing.T) {
	env := newTestEnv()
	defer env.close()
	startedRoom(t, env)

	events := env.notifier.Broadcasts(EventQuestion)
	require.NotEmpty(t, events)

	q, ok := events[0].Data.(*PublicQuestion)
	require.True(t, ok)
	assert.Equal(t, 0, q.Index)
	assert.Equal(t, 10, q.Total)
	assert.Len(t, q.Options, 4)
	assert.Equal(t, float64(25), q.TimeLimit)
}

// TestSubmitAnswerScoring 测试作答计分
func TestSubmitAnswerScoring(t *testing.T) {
	env := newTestEnv()
	defer env.close()
	ctx := context.Background()
	code := startedRoom(t, env)

	// 出题即答，满分350
	answer, err := env.manager.SubmitAnswer(ctx, code, "user-a", 0, 1)
	require.NoError(t, err)
	assert.True(t, answer.Correct)
	assert.Equal(t, 350, answer.Points)

	// 5秒后作答，300分
	env.clock.Advance(5 * time.Second)
	answer, err = env.manager.SubmitAnswer(ctx, code, "user-b", 0, 1)
	require.NoError(t, err)
	assert.True(t, answer.Correct)
	assert.Equal(t, 300, answer.Points)
}

// TestSubmitAnswerWrong 测试答错0分
func TestSubmitAnswerWrong(t *testing.T) {
	env := newTestEnv()
	defer env.close()
	ctx := context.Background()
	code := startedRoom(t, env)

	answer, err := env.manager.SubmitAnswer(ctx, code, "user-a", 0, 2)
	require.NoError(t, err)
	assert.False(t, answer.Correct)
	assert.Equal(t, 0, answer.Points)
}

// TestSubmitAnswerIdempotent 测试重复提交以首次为准
func TestSubmitAnswerIdempotent(t *testing.T) {
	env := newTestEnv()
	defer env.close()
	ctx := context.Background()
	code := startedRoom(t, env)

	first, err := env.manager.SubmitAnswer(ctx, code, "user-a", 0, 1)
	require.NoError(t, err)

	env.clock.Advance(2 * time.Second)
	second, err := env.manager.SubmitAnswer(ctx, code, "user-a", 0, 3)
	require.NoError(t, err)

	assert.Equal(t, first.OptionIndex, second.OptionIndex)
	assert.Equal(t, first.Points, second.Points)
}

// TestSubmitAnswerConcurrentDuplicates 测试并发重复提交只记录一次
func TestSubmitAnswerConcurrentDuplicates(t *testing.T) {
	env := newTestEnv()
	defer env.close()
	ctx := context.Background()
	code := startedRoom(t, env)

	const workers = 8
	results := make([]*Answer, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n], errs[n] = env.manager.SubmitAnswer(ctx, code, "user-a", 0, n%4)
		}(i)
	}
	wg.Wait()

	// 所有并发调用成功且返回同一条记录
	for _, err := range errs {
		require.NoError(t, err)
	}
	first := results[0]
	for _, r := range results[1:] {
		assert.Equal(t, first.OptionIndex, r.OptionIndex)
		assert.Equal(t, first.Points, r.Points)
	}

	room, err := env.rooms.Load(ctx, code)
	require.NoError(t, err)
	require.Len(t, room.Answers["user-a"], 1)

	// 揭晓后得分只计入一次
	_, err = env.manager.SubmitAnswer(ctx, code, "user-b", 0, 0)
	require.NoError(t, err)
	require.Equal(t, StatusResults, env.roomStatus(code))

	room, err = env.rooms.Load(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, first.Points, room.FindPlayer("user-a").Score)
}

// TestAnswerHistorySurvivesReveal 测试揭晓后历史作答保留
func TestAnswerHistorySurvivesReveal(t *testing.T) {
	env := newTestEnv()
	defer env.close()
	ctx := context.Background()
	code := startedRoom(t, env)

	_, err := env.manager.SubmitAnswer(ctx, code, "user-a", 0, 1)
	require.NoError(t, err)
	_, err = env.manager.SubmitAnswer(ctx, code, "user-b", 0, 2)
	require.NoError(t, err)

	env.clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool {
		room, err := env.rooms.Load(ctx, code)
		return err == nil && room.Status == StatusPlaying && room.CurrentIndex == 1
	}, time.Second, 10*time.Millisecond)

	_, err = env.manager.SubmitAnswer(ctx, code, "user-a", 1, 3)
	require.NoError(t, err)

	// 第0题的记录没有被第1题覆盖
	room, err := env.rooms.Load(ctx, code)
	require.NoError(t, err)
	first, ok := room.AnswerFor("user-a", 0)
	require.True(t, ok)
	assert.Equal(t, 1, first.OptionIndex)
	second, ok := room.AnswerFor("user-a", 1)
	require.True(t, ok)
	assert.Equal(t, 3, second.OptionIndex)
}

// TestStartGameStrictFilter 测试过滤条件不满足时开局失败且不降级
func TestStartGameStrictFilter(t *testing.T) {
	env := newTestEnv()
	defer env.close()
	ctx := context.Background()

	provider := &stubProvider{failFiltered: true}
	env.manager.provider = provider

	view, err := env.manager.CreateRoom(ctx, "user-a", "Alice")
	require.NoError(t, err)

	err = env.manager.StartGame(ctx, view.Code, "user-a", questions.Options{Category: "9", Difficulty: "hard"})
	require.Error(t, err)
	assert.Equal(t, StatusLobby, env.roomStatus(view.Code))
	// 只请求一次，不重试无过滤条件
	assert.Equal(t, 1, provider.Calls())
}

// TestSubmitAnswerStaleIndex 测试过期题目序号被拒绝
func TestSubmitAnswerStaleIndex(t *testing.T) {
	env := newTestEnv()
	defer env.close()
	ctx := context.Background()
	code := startedRoom(t, env)

	_, err := env.manager.SubmitAnswer(ctx, code, "user-a", 3, 1)
	assert.True(t, apperrors.Is(err, apperrors.ErrStaleQuestion))
}

// TestSubmitAnswerInvalidOption 测试选项越界被拒绝
func TestSubmitAnswerInvalidOption(t *testing.T) {
	env := newTestEnv()
	defer env.close()
	ctx := context.Background()
	code := startedRoom(t, env)

	_, err := env.manager.SubmitAnswer(ctx, code, "user-a", 0, 7)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidParam))
}

// TestAllAnsweredAdvancesEarly 测试全员作答提前揭晓
func TestAllAnsweredAdvancesEarly(t *testing.T) {
	env := newTestEnv()
	defer env.close()
	ctx := context.Background()
	code := startedRoom(t, env)

	_, err := env.manager.SubmitAnswer(ctx, code, "user-a", 0, 1)
	require.NoError(t, err)
	_, err = env.manager.SubmitAnswer(ctx, code, "user-b", 0, 2)
	require.NoError(t, err)

	// 未到25秒时限即进入结果展示
	assert.Equal(t, StatusResults, env.roomStatus(code))

	events := env.notifier.Broadcasts(EventQuestionResults)
	require.Len(t, events, 1)

	payload, ok := events[0].Data.(*QuestionResults)
	require.True(t, ok)
	assert.Equal(t, 1, payload.CorrectIndex)
	assert.Equal(t, []int{0, 1, 1, 0}, payload.Tally)
	assert.False(t, payload.LastQuestion)

	// 记分板：A答对350分第一
	assert.Equal(t, "user-a", payload.Scoreboard[0].UserID)
	assert.Equal(t, 350, payload.Scoreboard[0].Score)
}

// TestTimeoutAdvances 测试时限到自动揭晓，未作答按未答处理
func TestTimeoutAdvances(t *testing.T) {
	env := newTestEnv()
	defer env.close()
	ctx := context.Background()
	code := startedRoom(t, env)

	_, err := env.manager.SubmitAnswer(ctx, code, "user-a", 0, 1)
	require.NoError(t, err)

	env.clock.Advance(25 * time.Second)
	require.Eventually(t, func() bool {
		return env.roomStatus(code) == StatusResults
	}, time.Second, 10*time.Millisecond)

	events := env.notifier.Broadcasts(EventQuestionResults)
	require.Len(t, events, 1)
	payload := events[0].Data.(*QuestionResults)

	// B未作答
	var bobResult *PlayerResult
	for i := range payload.Results {
		if payload.Results[i].UserID == "user-b" {
			bobResult = &payload.Results[i]
		}
	}
	require.NotNil(t, bobResult)
	assert.Equal(t, -1, bobResult.OptionIndex)
	assert.Equal(t, 0, bobResult.Points)

	// 结果展示后才能接受下一题作答
	_, err = env.manager.SubmitAnswer(ctx, code, "user-b", 0, 1)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotAccepting))
}

// TestResultsPauseThenNextQuestion 测试结果展示后进入下一题
func TestResultsPauseThenNextQuestion(t *testing.T) {
	env := newTestEnv()
	defer env.close()
	ctx := context.Background()
	code := startedRoom(t, env)

	_, err := env.manager.SubmitAnswer(ctx, code, "user-a", 0, 1)
	require.NoError(t, err)
	_, err = env.manager.SubmitAnswer(ctx, code, "user-b", 0, 1)
	require.NoError(t, err)
	require.Equal(t, StatusResults, env.roomStatus(code))

	env.clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool {
		room, err := env.rooms.Load(ctx, code)
		return err == nil && room.Status == StatusPlaying && room.CurrentIndex == 1
	}, time.Second, 10*time.Millisecond)
}

// playThrough 快速打完一整局（A全对，B全错）
func playThrough(t *testing.T, env *testEnv, code string) {
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := env.manager.SubmitAnswer(ctx, code, "user-a", i, 1)
		require.NoError(t, err)
		_, err = env.manager.SubmitAnswer(ctx, code, "user-b", i, 0)
		require.NoError(t, err)
		require.Equal(t, StatusResults, env.roomStatus(code))

		env.clock.Advance(5 * time.Second)
		if i < 9 {
			require.Eventually(t, func() bool {
				room, err := env.rooms.Load(ctx, code)
				return err == nil && room.Status == StatusPlaying && room.CurrentIndex == i+1
			}, time.Second, 10*time.Millisecond)
		}
	}

	require.Eventually(t, func() bool {
		return env.roomStatus(code) == StatusFinished
	}, time.Second, 10*time.Millisecond)
}

// TestFullGameFinishes 测试整局流程到结束
func TestFullGameFinishes(t *testing.T) {
	env := newTestEnv()
	defer env.close()
	code := startedRoom(t, env)

	playThrough(t, env, code)

	events := env.notifier.Broadcasts(EventGameOver)
	require.Len(t, events, 1)
	payload := events[0].Data.(*GameOver)

	assert.Equal(t, "user-a", payload.WinnerID)
	assert.Equal(t, 3500, payload.Scoreboard[0].Score) // 10题全对每题350
	assert.Equal(t, 0, payload.Scoreboard[1].Score)
}

// TestPlayAgain 测试结束后再来一局
func TestPlayAgain(t *testing.T) {
	env := newTestEnv()
	defer env.close()
	ctx := context.Background()
	code := startedRoom(t, env)

	playThrough(t, env, code)

	require.NoError(t, env.manager.StartGame(ctx, code, "user-a", questionOpts()))

	room, err := env.rooms.Load(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, StatusCountdown, room.Status)
	assert.Equal(t, 2, room.Round)
	// 分数清零
	for _, p := range room.Players {
		assert.Equal(t, 0, p.Score)
	}
}

// TestPlayAgainCancelsStaleTimers 测试再来一局作废上一局残留的定时器
func TestPlayAgainCancelsStaleTimers(t *testing.T) {
	env := newTestEnv()
	defer env.close()
	ctx := context.Background()
	code := startedRoom(t, env)

	playThrough(t, env, code)

	var fired int32
	env.manager.timers.Arm(code, TimerCleanup, time.Second, func() {
		atomic.StoreInt32(&fired, 1)
	})

	require.NoError(t, env.manager.StartGame(ctx, code, "user-a", questionOpts()))

	env.clock.Advance(2 * time.Second)
	require.Never(t, func() bool {
		return atomic.LoadInt32(&fired) == 1
	}, 200*time.Millisecond, 50*time.Millisecond)
	assert.Equal(t, StatusCountdown, env.roomStatus(code))
}

// TestPersistSkipsGuestsAndZeroScores 测试匿名与零分玩家不落库
func TestPersistSkipsGuestsAndZeroScores(t *testing.T) {
	env := newTestEnv()
	defer env.close()

	repo := newFakeUserRepo()
	env.manager.users = repo

	room := &Room{
		Code:   "ABCD",
		Status: StatusFinished,
		Players: []*Player{
			{UserID: "user-a", Nickname: "Alice", Score: 350},
			{UserID: "guest_1", Nickname: "Guest", Score: 200},
			{UserID: "user-b", Nickname: "Bob", Score: 0},
		},
		Questions: make([]questions.Question, 10),
	}
	board := room.Scoreboard()

	env.manager.persistResults(room, board, "user-a")

	// 只有有分的注册用户产生积分记录
	assert.Equal(t, map[string]int{"user-a": 350}, repo.points)
	require.Len(t, repo.histories, 1)
	assert.Equal(t, "user-a", repo.histories[0].UserID)

	// 对局归档不受影响
	require.Len(t, repo.games, 1)
	assert.Equal(t, "user-a", repo.games[0].WinnerUserID)
	assert.Equal(t, 3, repo.games[0].PlayerCount)
}

// TestScoreboardTieBreak 测试同分按入房顺序排名
func TestScoreboardTieBreak(t *testing.T) {
	room := &Room{
		Players: []*Player{
			{UserID: "user-a", Score: 200, JoinOrder: 0},
			{UserID: "user-b", Score: 200, JoinOrder: 1},
			{UserID: "user-c", Score: 500, JoinOrder: 2},
		},
	}

	board := room.Scoreboard()
	assert.Equal(t, "user-c", board[0].UserID)
	assert.Equal(t, "user-a", board[1].UserID)
	assert.Equal(t, "user-b", board[2].UserID)
	assert.Equal(t, 2, board[1].Rank)
}

// TestQuestionSourceFailureKeepsLobby 测试题库失败时留在大厅
func TestQuestionSourceFailureKeepsLobby(t *testing.T) {
	env := newTestEnv()
	defer env.close()
	ctx := context.Background()

	env.manager.provider = &stubProvider{err: apperrors.New(apperrors.ErrQuestionSource)}

	view, err := env.manager.CreateRoom(ctx, "user-a", "Alice")
	require.NoError(t, err)

	err = env.manager.StartGame(ctx, view.Code, "user-a", questionOpts())
	assert.True(t, apperrors.Is(err, apperrors.ErrQuestionSource))
	assert.Equal(t, StatusLobby, env.roomStatus(view.Code))
}
