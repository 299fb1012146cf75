package single

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/wfunc/trivia-game/internal/config"
	apperrors "github.com/wfunc/trivia-game/internal/errors"
	"github.com/wfunc/trivia-game/internal/game"
	"github.com/wfunc/trivia-game/internal/logger"
	"github.com/wfunc/trivia-game/internal/models"
	"github.com/wfunc/trivia-game/internal/questions"
	"github.com/wfunc/trivia-game/internal/repository"
	"github.com/wfunc/trivia-game/internal/store"
	"go.uber.org/zap"
)

const sessionKeyPrefix = "single:"

// 难度对应的固定分值
const (
	pointsEasy   = 25
	pointsMedium = 50
	pointsHard   = 100
)

// pointsFor 按难度取分值（未知难度按中等）
func pointsFor(difficulty string) int {
	switch difficulty {
	case "easy":
		return pointsEasy
	case "hard":
		return pointsHard
	default:
		return pointsMedium
	}
}

// Session 单人答题会话（整条JSON存入共享存储）
type Session struct {
	ID           string               `json:"id"`
	UserID       string               `json:"user_id"`
	Nickname     string               `json:"nickname"`
	Questions    []questions.Question `json:"questions"`
	CurrentIndex int                  `json:"current_index"`
	Score        int                  `json:"score"`
	CorrectCount int                  `json:"correct_count"`
	QuestionAt   time.Time            `json:"question_at"`
	StartedAt    time.Time            `json:"started_at"`
	Finished     bool                 `json:"finished"`
}

// currentQuestion 当前题目，越界返回nil
func (s *Session) currentQuestion() *questions.Question {
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Questions) {
		return nil
	}
	return &s.Questions[s.CurrentIndex]
}

// StartResult 开始会话的响应
type StartResult struct {
	SessionID string               `json:"session_id"`
	Question  *game.PublicQuestion `json:"question"`
}

// AnswerResult 作答响应（单人模式即时揭晓）
type AnswerResult struct {
	Correct      bool                 `json:"correct"`
	CorrectIndex int                  `json:"correct_index"`
	Points       int                  `json:"points"`
	Score        int                  `json:"score"`
	Done         bool                 `json:"done"`
	Next         *game.PublicQuestion `json:"next,omitempty"`
	Summary      *Summary             `json:"summary,omitempty"`
}

// Summary 整局总结
type Summary struct {
	Score        int     `json:"score"`
	CorrectCount int     `json:"correct_count"`
	Total        int     `json:"total"`
	Duration     float64 `json:"duration"` // 秒
}

// Service 单人模式服务
type Service struct {
	cfg      *config.GameConfig
	store    store.Store
	provider questions.Provider
	users    repository.UserRepository
	clock    clockwork.Clock
	ttl      time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService 创建单人模式服务
func NewService(
	cfg *config.GameConfig,
	s store.Store,
	provider questions.Provider,
	users repository.UserRepository,
	clock clockwork.Clock,
	ttl time.Duration,
) *Service {
	return &Service{
		cfg:      cfg,
		store:    s,
		provider: provider,
		users:    users,
		clock:    clock,
		ttl:      ttl,
		locks:    make(map[string]*sync.Mutex),
	}
}

// lock 按会话串行化
func (svc *Service) lock(sessionID string) func() {
	svc.mu.Lock()
	l, ok := svc.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		svc.locks[sessionID] = l
	}
	svc.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// release 会话结束后释放锁条目
func (svc *Service) release(sessionID string) {
	svc.mu.Lock()
	delete(svc.locks, sessionID)
	svc.mu.Unlock()
}

// Start 开始新会话并返回第一题
// 过滤条件下题目不足时降级为无过滤重试，单人练习不因冷门分类开不了局。
func (svc *Service) Start(ctx context.Context, userID, nickname string, opts questions.Options) (*StartResult, error) {
	qs, err := svc.provider.Fetch(ctx, svc.cfg.QuestionCount, opts)
	if err != nil && opts != (questions.Options{}) {
		logger.Warn("过滤条件下题目不足，降级为无过滤重试",
			zap.String("category", opts.Category),
			zap.String("difficulty", opts.Difficulty),
			zap.Error(err),
		)
		qs, err = svc.provider.Fetch(ctx, svc.cfg.QuestionCount, questions.Options{})
	}
	if err != nil {
		return nil, err
	}

	session := &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		Nickname:     nickname,
		Questions:    qs,
		CurrentIndex: 0,
		QuestionAt:   svc.clock.Now(),
		StartedAt:    svc.clock.Now(),
	}

	if err := svc.save(ctx, session); err != nil {
		return nil, err
	}

	logger.LogRoomEvent("single_started", session.ID, map[string]interface{}{
		"user_id": userID,
	})
	return &StartResult{
		SessionID: session.ID,
		Question:  svc.publicQuestion(session),
	}, nil
}

// Answer 作答当前题目，立即揭晓对错并推进下一题
func (svc *Service) Answer(ctx context.Context, sessionID, userID string, questionIndex, optionIndex int) (*AnswerResult, error) {
	unlock := svc.lock(sessionID)
	defer unlock()

	session, err := svc.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, apperrors.New(apperrors.ErrPermissionDenied)
	}
	if session.Finished {
		return nil, apperrors.New(apperrors.ErrSessionEnded)
	}
	if questionIndex != session.CurrentIndex {
		return nil, apperrors.Newf(apperrors.ErrStaleQuestion, "当前第%d题，提交第%d题", session.CurrentIndex, questionIndex)
	}

	q := session.currentQuestion()
	if optionIndex < 0 || optionIndex >= len(q.Options) {
		return nil, apperrors.Newf(apperrors.ErrInvalidParam, "选项 %d 越界", optionIndex)
	}

	// 超时作答不得分（压线提交算有效）
	elapsed := svc.clock.Since(session.QuestionAt).Seconds()
	onTime := elapsed <= svc.cfg.SinglePlayerTime.Seconds()
	correct := onTime && optionIndex == q.CorrectIndex

	points := 0
	if correct {
		points = pointsFor(q.Difficulty)
		session.Score += points
		session.CorrectCount++
	}

	result := &AnswerResult{
		Correct:      correct,
		CorrectIndex: q.CorrectIndex,
		Points:       points,
		Score:        session.Score,
	}

	session.CurrentIndex++
	if session.CurrentIndex >= len(session.Questions) {
		session.Finished = true
		result.Done = true
		result.Summary = &Summary{
			Score:        session.Score,
			CorrectCount: session.CorrectCount,
			Total:        len(session.Questions),
			Duration:     svc.clock.Since(session.StartedAt).Seconds(),
		}
	} else {
		session.QuestionAt = svc.clock.Now()
		result.Next = svc.publicQuestion(session)
	}

	if err := svc.save(ctx, session); err != nil {
		return nil, err
	}

	if session.Finished {
		svc.finalize(session)
	}
	return result, nil
}

// Skip 跳过当前题目（计0分并揭晓答案）
func (svc *Service) Skip(ctx context.Context, sessionID, userID string, questionIndex int) (*AnswerResult, error) {
	unlock := svc.lock(sessionID)
	defer unlock()

	session, err := svc.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, apperrors.New(apperrors.ErrPermissionDenied)
	}
	if session.Finished {
		return nil, apperrors.New(apperrors.ErrSessionEnded)
	}
	if questionIndex != session.CurrentIndex {
		return nil, apperrors.Newf(apperrors.ErrStaleQuestion, "当前第%d题，跳过第%d题", session.CurrentIndex, questionIndex)
	}

	q := session.currentQuestion()
	result := &AnswerResult{
		Correct:      false,
		CorrectIndex: q.CorrectIndex,
		Points:       0,
		Score:        session.Score,
	}

	session.CurrentIndex++
	if session.CurrentIndex >= len(session.Questions) {
		session.Finished = true
		result.Done = true
		result.Summary = &Summary{
			Score:        session.Score,
			CorrectCount: session.CorrectCount,
			Total:        len(session.Questions),
			Duration:     svc.clock.Since(session.StartedAt).Seconds(),
		}
	} else {
		session.QuestionAt = svc.clock.Now()
		result.Next = svc.publicQuestion(session)
	}

	if err := svc.save(ctx, session); err != nil {
		return nil, err
	}

	if session.Finished {
		svc.finalize(session)
	}
	return result, nil
}

// Get 查询会话状态（不含正确答案）
func (svc *Service) Get(ctx context.Context, sessionID, userID string) (*StartResult, error) {
	session, err := svc.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, apperrors.New(apperrors.ErrPermissionDenied)
	}
	if session.Finished {
		return nil, apperrors.New(apperrors.ErrSessionEnded)
	}
	return &StartResult{
		SessionID: session.ID,
		Question:  svc.publicQuestion(session),
	}, nil
}

// Abandon 放弃会话
func (svc *Service) Abandon(ctx context.Context, sessionID, userID string) error {
	unlock := svc.lock(sessionID)
	defer unlock()

	session, err := svc.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.UserID != userID {
		return apperrors.New(apperrors.ErrPermissionDenied)
	}

	if err := svc.store.Delete(ctx, sessionKeyPrefix+sessionID); err != nil {
		return err
	}
	svc.release(sessionID)
	return nil
}

// finalize 整局结束后积分落库（匿名玩家跳过，失败只记日志）
func (svc *Service) finalize(session *Session) {
	svc.release(session.ID)

	if svc.users == nil || game.IsGuest(session.UserID) {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := svc.users.AddPoints(ctx, session.UserID, session.Nickname, session.Score, false); err != nil {
			logger.Error("单人积分落库失败",
				zap.String("session", session.ID),
				zap.String("user_id", session.UserID),
				zap.Error(err),
			)
			return
		}

		history := &models.PointsHistory{
			UserID: session.UserID,
			Mode:   "single",
			Points: session.Score,
			Detail: models.JSONMap{
				"session_id":    session.ID,
				"correct_count": session.CorrectCount,
				"total":         len(session.Questions),
			},
		}
		if err := svc.users.RecordHistory(ctx, history); err != nil {
			logger.Error("单人积分记录写入失败",
				zap.String("session", session.ID),
				zap.Error(err),
			)
		}
	}()
}

// publicQuestion 当前题目的对外视图
func (svc *Service) publicQuestion(session *Session) *game.PublicQuestion {
	q := session.currentQuestion()
	if q == nil {
		return nil
	}
	return &game.PublicQuestion{
		Index:      session.CurrentIndex,
		Total:      len(session.Questions),
		Text:       q.Text,
		Options:    q.Options,
		Category:   q.Category,
		Difficulty: q.Difficulty,
		TimeLimit:  svc.cfg.SinglePlayerTime.Seconds(),
	}
}

// load 读取会话
func (svc *Service) load(ctx context.Context, sessionID string) (*Session, error) {
	var session Session
	err := svc.store.Get(ctx, sessionKeyPrefix+sessionID, &session)
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil, apperrors.New(apperrors.ErrSessionNotFound, sessionID)
		}
		return nil, err
	}
	return &session, nil
}

// save 整条写回并续期TTL
func (svc *Service) save(ctx context.Context, session *Session) error {
	return svc.store.Set(ctx, sessionKeyPrefix+session.ID, session, svc.ttl)
}
