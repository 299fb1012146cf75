package repository

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/wfunc/trivia-game/internal/errors"
	"github.com/wfunc/trivia-game/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepository 用户积分仓储接口
type UserRepository interface {
	BaseRepository
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	FindByUserID(ctx context.Context, userID string) (*models.User, error)
	// AddPoints 累加积分并更新对局统计（用户不存在时自动创建）
	AddPoints(ctx context.Context, userID, nickname string, points int, won bool) error
	RecordHistory(ctx context.Context, history *models.PointsHistory) error
	RecordGame(ctx context.Context, record *models.GameRecord) error
	GetHistory(ctx context.Context, userID string, pagination *Pagination) ([]*models.PointsHistory, error)
	Leaderboard(ctx context.Context, limit int) ([]*models.LeaderboardEntry, error)
}

// userRepo 用户积分仓储实现
type userRepo struct {
	*BaseRepo
}

// NewUserRepository 创建用户积分仓储
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepo{
		BaseRepo: &BaseRepo{db: db},
	}
}

// Create 创建用户
func (r *userRepo) Create(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// Update 更新用户
func (r *userRepo) Update(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Save(user).Error
}

// FindByUserID 根据用户ID查找
func (r *userRepo) FindByUserID(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.ErrNotFound, "用户不存在: "+userID)
		}
		return nil, err
	}
	return &user, nil
}

// AddPoints 累加积分并更新对局统计
func (r *userRepo) AddPoints(ctx context.Context, userID, nickname string, points int, won bool) error {
	now := time.Now()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			user = models.User{
				UserID:   userID,
				Nickname: nickname,
			}
			if err := tx.Create(&user).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		user.TotalPoints += int64(points)
		user.GamesPlayed++
		if won {
			user.GamesWon++
		}
		if points > user.BestScore {
			user.BestScore = points
		}
		if nickname != "" {
			user.Nickname = nickname
		}
		user.LastPlayAt = &now

		return tx.Save(&user).Error
	})
}

// RecordHistory 记录积分变动
func (r *userRepo) RecordHistory(ctx context.Context, history *models.PointsHistory) error {
	return r.db.WithContext(ctx).Create(history).Error
}

// RecordGame 归档对局
func (r *userRepo) RecordGame(ctx context.Context, record *models.GameRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// GetHistory 获取积分变动记录（分页）
func (r *userRepo) GetHistory(ctx context.Context, userID string, pagination *Pagination) ([]*models.PointsHistory, error) {
	var records []*models.PointsHistory
	query := r.db.WithContext(ctx).Model(&models.PointsHistory{}).
		Where("user_id = ?", userID)

	var total int64
	query.Count(&total)
	pagination.Total = total

	err := query.
		Scopes(Paginate(pagination)).
		Order("created_at DESC").
		Find(&records).Error
	return records, err
}

// Leaderboard 按累计积分获取排行榜
func (r *userRepo) Leaderboard(ctx context.Context, limit int) ([]*models.LeaderboardEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	var users []*models.User
	err := r.db.WithContext(ctx).
		Order("total_points DESC, games_played ASC").
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, err
	}

	entries := make([]*models.LeaderboardEntry, 0, len(users))
	for i, u := range users {
		entries = append(entries, &models.LeaderboardEntry{
			UserID:      u.UserID,
			Nickname:    u.Nickname,
			TotalPoints: u.TotalPoints,
			GamesPlayed: u.GamesPlayed,
			Rank:        i + 1,
		})
	}
	return entries, nil
}
