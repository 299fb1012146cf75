package game

import (
	"sort"
	"strings"
	"time"

	"github.com/wfunc/trivia-game/internal/questions"
)

// RoomStatus 房间状态枚举
type RoomStatus string

const (
	StatusLobby     RoomStatus = "lobby"     // 等待开始
	StatusCountdown RoomStatus = "countdown" // 开局倒计时
	StatusPlaying   RoomStatus = "playing"   // 答题中
	StatusResults   RoomStatus = "results"   // 本题结果展示
	StatusFinished  RoomStatus = "finished"  // 整局结束
)

// GuestPrefix 匿名用户ID前缀（积分不落库）
const GuestPrefix = "guest_"

// IsGuest 判断是否为匿名用户
func IsGuest(userID string) bool {
	return strings.HasPrefix(userID, GuestPrefix)
}

// Player 房间内玩家
type Player struct {
	UserID    string `json:"user_id"`
	Nickname  string `json:"nickname"`
	Score     int    `json:"score"`
	Connected bool   `json:"connected"`
	JoinOrder int    `json:"join_order"` // 入房顺序，房主继任依据
}

// Answer 单题作答记录（首次提交生效）
type Answer struct {
	OptionIndex int       `json:"option_index"`
	Elapsed     float64   `json:"elapsed"` // 从出题到提交的秒数
	Correct     bool      `json:"correct"`
	Points      int       `json:"points"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Room 房间记录（整条JSON存入共享存储）
type Room struct {
	Code         string                      `json:"code"`
	Status       RoomStatus                  `json:"status"`
	LeaderID     string                      `json:"leader_id"`
	Players      []*Player                   `json:"players"` // 按入房顺序
	Questions    []questions.Question        `json:"questions,omitempty"`
	CurrentIndex int                         `json:"current_index"`
	Answers      map[string]map[int]*Answer  `json:"answers"` // userID -> 题号 -> 作答
	Departed     map[string]bool             `json:"departed,omitempty"` // 局中被移除的玩家，重入按宽限过期处理
	QuestionAt   time.Time                   `json:"question_at"` // 当前题出题时间
	Round        int                         `json:"round"` // 再来一局计数
	CreatedAt    time.Time                   `json:"created_at"`
	StartedAt    time.Time                   `json:"started_at"`
}

// AnswerFor 指定玩家在指定题号的作答记录
func (r *Room) AnswerFor(userID string, index int) (*Answer, bool) {
	byIndex, ok := r.Answers[userID]
	if !ok {
		return nil, false
	}
	a, ok := byIndex[index]
	return a, ok
}

// SetAnswer 记录玩家在指定题号的作答
func (r *Room) SetAnswer(userID string, index int, a *Answer) {
	if r.Answers == nil {
		r.Answers = make(map[string]map[int]*Answer)
	}
	if r.Answers[userID] == nil {
		r.Answers[userID] = make(map[int]*Answer)
	}
	r.Answers[userID][index] = a
}

// AnsweredCount 指定题号的已作答人数
func (r *Room) AnsweredCount(index int) int {
	count := 0
	for _, byIndex := range r.Answers {
		if _, ok := byIndex[index]; ok {
			count++
		}
	}
	return count
}

// FindPlayer 查找玩家，不存在返回nil
func (r *Room) FindPlayer(userID string) *Player {
	for _, p := range r.Players {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

// RemovePlayer 移除玩家，返回是否移除成功
func (r *Room) RemovePlayer(userID string) bool {
	for i, p := range r.Players {
		if p.UserID == userID {
			r.Players = append(r.Players[:i], r.Players[i+1:]...)
			return true
		}
	}
	return false
}

// ConnectedCount 在线玩家数
func (r *Room) ConnectedCount() int {
	count := 0
	for _, p := range r.Players {
		if p.Connected {
			count++
		}
	}
	return count
}

// ElectLeader 房主继任：仅在房主已不在玩家列表时触发。
// 优先入房最早的在线玩家，全员离线时退而取入房最早者，
// 保证房间非空时leader_id始终指向列表内玩家。返回房主是否变更。
func (r *Room) ElectLeader() bool {
	if len(r.Players) == 0 {
		return false
	}
	if r.FindPlayer(r.LeaderID) != nil {
		return false
	}

	var next, fallback *Player
	for _, p := range r.Players {
		if fallback == nil || p.JoinOrder < fallback.JoinOrder {
			fallback = p
		}
		if !p.Connected {
			continue
		}
		if next == nil || p.JoinOrder < next.JoinOrder {
			next = p
		}
	}
	if next == nil {
		next = fallback
	}
	r.LeaderID = next.UserID
	return true
}

// AllAnswered 当前题是否所有在线玩家都已作答
func (r *Room) AllAnswered() bool {
	for _, p := range r.Players {
		if !p.Connected {
			continue
		}
		if _, ok := r.AnswerFor(p.UserID, r.CurrentIndex); !ok {
			return false
		}
	}
	return r.ConnectedCount() > 0
}

// CurrentQuestion 当前题目，越界返回nil
func (r *Room) CurrentQuestion() *questions.Question {
	if r.CurrentIndex < 0 || r.CurrentIndex >= len(r.Questions) {
		return nil
	}
	return &r.Questions[r.CurrentIndex]
}

// PublicQuestion 对外题目视图（在结果揭晓前不包含正确答案）
type PublicQuestion struct {
	Index      int      `json:"index"`
	Total      int      `json:"total"`
	Text       string   `json:"text"`
	Options    []string `json:"options"`
	Category   string   `json:"category"`
	Difficulty string   `json:"difficulty"`
	TimeLimit  float64  `json:"time_limit"` // 秒
}

// ScoreEntry 记分板条目
type ScoreEntry struct {
	UserID    string `json:"user_id"`
	Nickname  string `json:"nickname"`
	Score     int    `json:"score"`
	Rank      int    `json:"rank"`
	Connected bool   `json:"connected"`
}

// Scoreboard 记分板（得分降序，同分按入房顺序）
func (r *Room) Scoreboard() []ScoreEntry {
	entries := make([]ScoreEntry, 0, len(r.Players))
	for _, p := range r.Players {
		entries = append(entries, ScoreEntry{
			UserID:    p.UserID,
			Nickname:  p.Nickname,
			Score:     p.Score,
			Connected: p.Connected,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// RoomView 对外房间视图（不含题目与正确答案）
type RoomView struct {
	Code        string       `json:"code"`
	Status      RoomStatus   `json:"status"`
	LeaderID    string       `json:"leader_id"`
	Players     []*Player    `json:"players"`
	CurrentIdx  int          `json:"current_index"`
	TotalCount  int          `json:"total_questions"`
	Scoreboard  []ScoreEntry `json:"scoreboard,omitempty"`
	Round       int          `json:"round"`
}

// View 生成对外房间视图
func (r *Room) View() *RoomView {
	view := &RoomView{
		Code:       r.Code,
		Status:     r.Status,
		LeaderID:   r.LeaderID,
		Players:    r.Players,
		CurrentIdx: r.CurrentIndex,
		TotalCount: len(r.Questions),
		Round:      r.Round,
	}
	if r.Status != StatusLobby {
		view.Scoreboard = r.Scoreboard()
	}
	return view
}
