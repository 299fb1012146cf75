package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wfunc/trivia-game/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB 为测试套件设置测试数据库
func SetupTestDB() *gorm.DB {
	// 使用内存数据库进行测试（更快，不需要文件系统，在所有环境中都能工作）
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		panic(err)
	}

	err = db.AutoMigrate(
		&models.User{},
		&models.PointsHistory{},
		&models.GameRecord{},
	)
	if err != nil {
		panic(err)
	}

	return db
}

// CleanupTestDB 清理测试数据库
func CleanupTestDB(db *gorm.DB) {
	sqlDB, _ := db.DB()
	if sqlDB != nil {
		sqlDB.Close()
	}
}

// SeedTestData 创建测试数据
func SeedTestData(t *testing.T, db *gorm.DB) {
	now := time.Now()
	users := []models.User{
		{
			UserID:      "user-alice",
			Nickname:    "Alice",
			TotalPoints: 1200,
			GamesPlayed: 5,
			GamesWon:    3,
			BestScore:   350,
			LastPlayAt:  &now,
		},
		{
			UserID:      "user-bob",
			Nickname:    "Bob",
			TotalPoints: 800,
			GamesPlayed: 4,
			GamesWon:    1,
			BestScore:   300,
			LastPlayAt:  &now,
		},
		{
			UserID:      "user-carol",
			Nickname:    "Carol",
			TotalPoints: 800,
			GamesPlayed: 2,
			GamesWon:    1,
			BestScore:   325,
			LastPlayAt:  &now,
		},
	}
	err := db.Create(&users).Error
	require.NoError(t, err)
}
