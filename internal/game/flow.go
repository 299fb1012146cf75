package game

import (
	"context"
	"math"
	"time"

	apperrors "github.com/wfunc/trivia-game/internal/errors"
	"github.com/wfunc/trivia-game/internal/logger"
	"github.com/wfunc/trivia-game/internal/models"
	"github.com/wfunc/trivia-game/internal/questions"
	"go.uber.org/zap"
)

// 答对基础分
const basePoints = 100

// calcPoints 计算得分：答对得基础分加剩余时间奖励，答错或超时得0分
// 恰好在时限上提交按剩余0秒计。
func calcPoints(correct bool, elapsed, limit float64) int {
	if !correct {
		return 0
	}
	remaining := limit - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return basePoints + int(math.Round(remaining*10))
}

// StartGame 房主开始游戏（大厅或结束后再来一局）
func (m *Manager) StartGame(ctx context.Context, code, userID string, opts questions.Options) error {
	unlock := m.locks.Lock(code)
	defer unlock()

	room, err := m.rooms.Load(ctx, code)
	if err != nil {
		return err
	}

	if room.LeaderID != userID {
		return apperrors.New(apperrors.ErrNotLeader, userID)
	}
	if room.Status != StatusLobby && room.Status != StatusFinished {
		return apperrors.Newf(apperrors.ErrWrongPhase, "当前状态 %s", room.Status)
	}

	qs, err := m.provider.Fetch(ctx, m.cfg.QuestionCount, opts)
	if err != nil {
		return err
	}

	// 再来一局从零开始，上一局残留的定时器全部作废（宽限计时除外）
	m.timers.Cancel(code, TimerCountdown)
	m.timers.Cancel(code, TimerQuestion)
	m.timers.Cancel(code, TimerResults)
	m.timers.Cancel(code, TimerCleanup)
	for _, p := range room.Players {
		p.Score = 0
	}
	room.Questions = qs
	room.CurrentIndex = -1
	room.Answers = make(map[string]map[int]*Answer)
	room.Departed = nil
	room.Status = StatusCountdown
	room.StartedAt = m.clock.Now()
	room.Round++

	if err := m.rooms.Save(ctx, room); err != nil {
		return err
	}

	m.notifier.BroadcastToRoom(code, NewEvent(EventGameStarting, map[string]interface{}{
		"countdown": m.cfg.CountdownTime.Seconds(),
		"questions": len(qs),
		"round":     room.Round,
	}))

	m.timers.Arm(code, TimerCountdown, m.cfg.CountdownTime, func() {
		m.beginQuestion(code, 0)
	})

	logger.LogRoomEvent("game_starting", code, map[string]interface{}{
		"round":   room.Round,
		"players": len(room.Players),
	})
	return nil
}

// publicQuestion 当前题目的对外视图
func (m *Manager) publicQuestion(room *Room) *PublicQuestion {
	q := room.CurrentQuestion()
	if q == nil {
		return nil
	}
	return &PublicQuestion{
		Index:      room.CurrentIndex,
		Total:      len(room.Questions),
		Text:       q.Text,
		Options:    q.Options,
		Category:   q.Category,
		Difficulty: q.Difficulty,
		TimeLimit:  m.cfg.QuestionTime.Seconds(),
	}
}

// beginQuestion 出题（倒计时或结果停留结束后由定时器触发）
func (m *Manager) beginQuestion(code string, index int) {
	ctx := context.Background()
	unlock := m.locks.Lock(code)

	room, err := m.rooms.Load(ctx, code)
	if err != nil {
		unlock()
		return
	}

	// 只在倒计时和结果展示之后推进
	if room.Status != StatusCountdown && room.Status != StatusResults {
		unlock()
		return
	}
	if index >= len(room.Questions) {
		unlock()
		return
	}

	room.Status = StatusPlaying
	room.CurrentIndex = index
	room.QuestionAt = m.clock.Now()

	if err := m.rooms.Save(ctx, room); err != nil {
		unlock()
		logger.Error("保存房间失败", zap.String("room", code), zap.Error(err))
		return
	}

	question := m.publicQuestion(room)
	unlock()

	m.notifier.BroadcastToRoom(code, NewEvent(EventQuestion, question))

	m.timers.Arm(code, TimerQuestion, m.cfg.QuestionTime, func() {
		m.advance(code, index)
	})

	logger.LogRoomEvent("question", code, map[string]interface{}{
		"index": index,
	})
}

// SubmitAnswer 提交答案
// 首次提交生效，重复提交返回已记录的结果而不报错。
func (m *Manager) SubmitAnswer(ctx context.Context, code, userID string, questionIndex, optionIndex int) (*Answer, error) {
	unlock := m.locks.Lock(code)

	room, err := m.rooms.Load(ctx, code)
	if err != nil {
		unlock()
		return nil, err
	}

	if room.Status != StatusPlaying {
		unlock()
		return nil, apperrors.New(apperrors.ErrNotAccepting)
	}
	if questionIndex != room.CurrentIndex {
		unlock()
		return nil, apperrors.Newf(apperrors.ErrStaleQuestion, "当前第%d题，提交第%d题", room.CurrentIndex, questionIndex)
	}

	player := room.FindPlayer(userID)
	if player == nil {
		unlock()
		return nil, apperrors.New(apperrors.ErrPlayerNotFound, userID)
	}

	if existing, ok := room.AnswerFor(userID, questionIndex); ok {
		unlock()
		return existing, nil
	}

	q := room.CurrentQuestion()
	if optionIndex < 0 || optionIndex >= len(q.Options) {
		unlock()
		return nil, apperrors.Newf(apperrors.ErrInvalidParam, "选项 %d 越界", optionIndex)
	}

	elapsed := m.clock.Since(room.QuestionAt).Seconds()
	limit := m.cfg.QuestionTime.Seconds()
	onTime := elapsed <= limit
	correct := onTime && optionIndex == q.CorrectIndex

	answer := &Answer{
		OptionIndex: optionIndex,
		Elapsed:     elapsed,
		Correct:     correct,
		Points:      calcPoints(correct, elapsed, limit),
		SubmittedAt: m.clock.Now(),
	}
	room.SetAnswer(userID, questionIndex, answer)

	if err := m.rooms.Save(ctx, room); err != nil {
		unlock()
		return nil, err
	}

	// 广播作答进度，不透露对错
	answered := room.AnsweredCount(questionIndex)
	total := room.ConnectedCount()
	allDone := room.AllAnswered()
	unlock()

	m.notifier.BroadcastToRoom(code, NewEvent(EventAnswerReceived, map[string]interface{}{
		"user_id":  userID,
		"answered": answered,
		"total":    total,
	}))

	// 所有在线玩家都已作答，提前揭晓
	if allDone && m.timers.Cancel(code, TimerQuestion) {
		m.advance(code, questionIndex)
	}

	return answer, nil
}

// advance 揭晓当前题结果并安排下一步
// 携带期望的题目序号，过期的定时器触发不会重复推进。
func (m *Manager) advance(code string, expectedIndex int) {
	ctx := context.Background()
	unlock := m.locks.Lock(code)

	room, err := m.rooms.Load(ctx, code)
	if err != nil {
		unlock()
		return
	}

	if room.Status != StatusPlaying || room.CurrentIndex != expectedIndex {
		unlock()
		return
	}

	q := room.CurrentQuestion()

	// 记分并汇总作答分布
	tally := make([]int, len(q.Options))
	results := make([]PlayerResult, 0, len(room.Players))
	for _, p := range room.Players {
		result := PlayerResult{
			UserID:      p.UserID,
			Nickname:    p.Nickname,
			OptionIndex: -1,
		}
		if a, ok := room.AnswerFor(p.UserID, expectedIndex); ok {
			p.Score += a.Points
			result.OptionIndex = a.OptionIndex
			result.Correct = a.Correct
			result.Points = a.Points
			if a.OptionIndex >= 0 && a.OptionIndex < len(tally) {
				tally[a.OptionIndex]++
			}
		}
		results = append(results, result)
	}

	room.Status = StatusResults
	last := expectedIndex == len(room.Questions)-1

	if err := m.rooms.Save(ctx, room); err != nil {
		unlock()
		logger.Error("保存房间失败", zap.String("room", code), zap.Error(err))
		return
	}

	payload := &QuestionResults{
		Index:        expectedIndex,
		CorrectIndex: q.CorrectIndex,
		Tally:        tally,
		Results:      results,
		Scoreboard:   room.Scoreboard(),
		LastQuestion: last,
	}
	unlock()

	m.notifier.BroadcastToRoom(code, NewEvent(EventQuestionResults, payload))

	if last {
		m.timers.Arm(code, TimerResults, m.cfg.ResultsTime, func() {
			m.finishGame(code)
		})
	} else {
		m.timers.Arm(code, TimerResults, m.cfg.ResultsTime, func() {
			m.beginQuestion(code, expectedIndex+1)
		})
	}

	logger.LogRoomEvent("question_results", code, map[string]interface{}{
		"index": expectedIndex,
		"last":  last,
	})
}

// finishGame 整局结束
func (m *Manager) finishGame(code string) {
	ctx := context.Background()
	unlock := m.locks.Lock(code)

	room, err := m.rooms.Load(ctx, code)
	if err != nil {
		unlock()
		return
	}
	if room.Status != StatusResults {
		unlock()
		return
	}

	room.Status = StatusFinished
	if err := m.rooms.Save(ctx, room); err != nil {
		unlock()
		logger.Error("保存房间失败", zap.String("room", code), zap.Error(err))
		return
	}

	scoreboard := room.Scoreboard()
	winnerID := ""
	if len(scoreboard) > 0 {
		winnerID = scoreboard[0].UserID
	}
	payload := &GameOver{
		Scoreboard: scoreboard,
		WinnerID:   winnerID,
		Round:      room.Round,
	}
	snapshot := *room
	unlock()

	m.notifier.BroadcastToRoom(code, NewEvent(EventGameOver, payload))

	logger.LogRoomEvent("game_over", code, map[string]interface{}{
		"winner": winnerID,
	})

	// 积分落库不阻塞游戏流程，失败只记日志
	if m.users != nil {
		go m.persistResults(&snapshot, scoreboard, winnerID)
	}
}

// persistResults 将最终得分写入数据库（匿名与零分玩家不产生积分记录）
func (m *Manager) persistResults(room *Room, scoreboard []ScoreEntry, winnerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	scores := models.JSONMap{}
	for _, entry := range scoreboard {
		scores[entry.UserID] = entry.Score
	}

	for _, entry := range scoreboard {
		if IsGuest(entry.UserID) || entry.Score <= 0 {
			continue
		}

		won := entry.UserID == winnerID
		if err := m.users.AddPoints(ctx, entry.UserID, entry.Nickname, entry.Score, won); err != nil {
			logger.Error("积分落库失败",
				zap.String("room", room.Code),
				zap.String("user_id", entry.UserID),
				zap.Error(err),
			)
			continue
		}

		history := &models.PointsHistory{
			UserID:   entry.UserID,
			RoomCode: room.Code,
			Mode:     "multiplayer",
			Points:   entry.Score,
			Rank:     entry.Rank,
		}
		if err := m.users.RecordHistory(ctx, history); err != nil {
			logger.Error("积分记录写入失败",
				zap.String("room", room.Code),
				zap.String("user_id", entry.UserID),
				zap.Error(err),
			)
		}
	}

	winnerScore := 0
	if len(scoreboard) > 0 {
		winnerScore = scoreboard[0].Score
	}
	record := &models.GameRecord{
		RoomCode:      room.Code,
		PlayerCount:   len(room.Players),
		QuestionCount: len(room.Questions),
		WinnerUserID:  winnerID,
		WinnerScore:   winnerScore,
		Scores:        scores,
		StartedAt:     room.StartedAt,
		FinishedAt:    m.clock.Now(),
	}
	if err := m.users.RecordGame(ctx, record); err != nil {
		logger.Error("对局归档失败",
			zap.String("room", room.Code),
			zap.Error(err),
		)
	}
}
