package models

import (
	"time"
)

// User 用户积分账户表
// 匿名玩家（guest_前缀）不会写入该表。
type User struct {
	BaseModel
	UserID      string     `gorm:"uniqueIndex;size:64;not null" json:"user_id"`
	Nickname    string     `gorm:"size:100" json:"nickname"`
	TotalPoints int64      `gorm:"default:0" json:"total_points"`
	GamesPlayed int        `gorm:"default:0" json:"games_played"`
	GamesWon    int        `gorm:"default:0" json:"games_won"`
	BestScore   int        `gorm:"default:0" json:"best_score"`
	LastPlayAt  *time.Time `json:"last_play_at,omitempty"`

	History []PointsHistory `gorm:"foreignKey:UserID;references:UserID" json:"-"`
}

// PointsHistory 积分变动记录表
type PointsHistory struct {
	BaseModel
	UserID   string  `gorm:"index;size:64;not null" json:"user_id"`
	RoomCode string  `gorm:"size:10" json:"room_code"` // 单人模式为空
	Mode     string  `gorm:"size:20;not null" json:"mode"` // multiplayer, single
	Points   int     `gorm:"not null" json:"points"`
	Rank     int     `gorm:"default:0" json:"rank"` // 本局名次，单人模式为0
	Detail   JSONMap `gorm:"type:json" json:"detail,omitempty"`
}

// GameRecord 对局归档表（游戏结束后写入）
type GameRecord struct {
	BaseModel
	RoomCode      string  `gorm:"index;size:10;not null" json:"room_code"`
	PlayerCount   int     `gorm:"not null" json:"player_count"`
	QuestionCount int     `gorm:"not null" json:"question_count"`
	WinnerUserID  string  `gorm:"size:64" json:"winner_user_id"`
	WinnerScore   int     `gorm:"default:0" json:"winner_score"`
	Scores        JSONMap `gorm:"type:json" json:"scores"` // userId -> 最终得分
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// LeaderboardEntry 排行榜条目（查询结果，非表）
type LeaderboardEntry struct {
	UserID      string `json:"user_id"`
	Nickname    string `json:"nickname"`
	TotalPoints int64  `json:"total_points"`
	GamesPlayed int    `json:"games_played"`
	Rank        int    `json:"rank"`
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}

// TableName 指定表名
func (PointsHistory) TableName() string {
	return "points_history"
}

// TableName 指定表名
func (GameRecord) TableName() string {
	return "game_records"
}
