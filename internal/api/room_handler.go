package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
	apperrors "github.com/wfunc/trivia-game/internal/errors"
	"github.com/wfunc/trivia-game/internal/game"
	"github.com/wfunc/trivia-game/internal/repository"
)

// RoomHandler 房间与排行查询处理器
type RoomHandler struct {
	manager *game.Manager
	users   repository.UserRepository
}

// NewRoomHandler 创建查询处理器
func NewRoomHandler(manager *game.Manager, users repository.UserRepository) *RoomHandler {
	return &RoomHandler{
		manager: manager,
		users:   users,
	}
}

// Snapshot 查询房间当前状态
func (h *RoomHandler) Snapshot(c *gin.Context) {
	view, err := h.manager.Snapshot(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, view)
}

// Leaderboard 查询总积分排行榜
func (h *RoomHandler) Leaderboard(c *gin.Context) {
	if h.users == nil {
		respondError(c, apperrors.New(apperrors.ErrPersistence))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	entries, err := h.users.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// History 查询用户积分历史
func (h *RoomHandler) History(c *gin.Context) {
	if h.users == nil {
		respondError(c, apperrors.New(apperrors.ErrPersistence))
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	pagination := &repository.Pagination{Page: page, PageSize: pageSize}

	history, err := h.users.GetHistory(c.Request.Context(), c.Param("id"), pagination)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{
		"history":    history,
		"pagination": pagination,
	})
}
