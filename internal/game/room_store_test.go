package game

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/wfunc/trivia-game/internal/errors"
	"github.com/wfunc/trivia-game/internal/questions"
	"github.com/wfunc/trivia-game/internal/store"
)

// TestRoomStoreRoundTrip 测试房间整条JSON存取不丢字段
func TestRoomStoreRoundTrip(t *testing.T) {
	memStore := store.NewMemoryStore()
	defer memStore.Close()
	rooms := NewRoomStore(memStore, time.Hour)
	ctx := context.Background()

	created := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	room := &Room{
		Code:     "ABCD",
		Status:   StatusPlaying,
		LeaderID: "user-a",
		Players: []*Player{
			{UserID: "user-a", Nickname: "Alice", Score: 650, Connected: true, JoinOrder: 0},
			{UserID: "user-b", Nickname: "Bob", Score: 300, Connected: false, JoinOrder: 1},
		},
		Questions: []questions.Question{
			{Text: "q0", Options: []string{"a", "b", "c", "d"}, CorrectIndex: 1, Category: "History", Difficulty: "easy"},
			{Text: "q1", Options: []string{"a", "b", "c", "d"}, CorrectIndex: 2, Category: "Science", Difficulty: "hard"},
		},
		CurrentIndex: 1,
		Answers: map[string]map[int]*Answer{
			"user-a": {
				0: {OptionIndex: 1, Elapsed: 2.5, Correct: true, Points: 325, SubmittedAt: created.Add(10 * time.Second)},
				1: {OptionIndex: 2, Elapsed: 0.5, Correct: true, Points: 345, SubmittedAt: created.Add(40 * time.Second)},
			},
			"user-b": {
				0: {OptionIndex: 3, Elapsed: 9, Correct: false, Points: 0, SubmittedAt: created.Add(15 * time.Second)},
			},
		},
		Departed:   map[string]bool{"user-c": true},
		QuestionAt: created.Add(30 * time.Second),
		Round:      2,
		CreatedAt:  created,
		StartedAt:  created.Add(5 * time.Second),
	}

	require.NoError(t, rooms.Save(ctx, room))

	loaded, err := rooms.Load(ctx, "ABCD")
	require.NoError(t, err)
	assert.Equal(t, room, loaded)

	// 题号作为JSON键经过字符串往返后仍可按整数索引
	a, ok := loaded.AnswerFor("user-a", 1)
	require.True(t, ok)
	assert.Equal(t, 345, a.Points)
	assert.Equal(t, 1, loaded.AnsweredCount(1))
}

// TestRoomStoreNotFound 测试读取不存在的房间
func TestRoomStoreNotFound(t *testing.T) {
	memStore := store.NewMemoryStore()
	defer memStore.Close()
	rooms := NewRoomStore(memStore, time.Hour)

	_, err := rooms.Load(context.Background(), "NOPE")
	assert.True(t, apperrors.Is(err, apperrors.ErrRoomNotFound))
}
