package api

import (
	"github.com/gin-gonic/gin"
	apperrors "github.com/wfunc/trivia-game/internal/errors"
	"github.com/wfunc/trivia-game/internal/game/single"
	"github.com/wfunc/trivia-game/internal/questions"
)

// SingleHandler 单人答题处理器
type SingleHandler struct {
	service *single.Service
}

// NewSingleHandler 创建单人答题处理器
func NewSingleHandler(service *single.Service) *SingleHandler {
	return &SingleHandler{service: service}
}

// StartRequest 开始会话请求
type StartRequest struct {
	UserID     string `json:"user_id" binding:"required"`
	Nickname   string `json:"nickname" binding:"required"`
	Category   string `json:"category"`
	Difficulty string `json:"difficulty"`
}

// AnswerRequest 作答请求
type AnswerRequest struct {
	UserID        string `json:"user_id" binding:"required"`
	QuestionIndex int    `json:"question_index"`
	OptionIndex   int    `json:"option_index"`
}

// Start 开始单人会话
func (h *SingleHandler) Start(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Wrap(err, apperrors.ErrInvalidParam))
		return
	}

	result, err := h.service.Start(c.Request.Context(), req.UserID, req.Nickname, questions.Options{
		Category:   req.Category,
		Difficulty: req.Difficulty,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, result)
}

// Answer 提交作答
func (h *SingleHandler) Answer(c *gin.Context) {
	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Wrap(err, apperrors.ErrInvalidParam))
		return
	}

	result, err := h.service.Answer(c.Request.Context(), c.Param("id"), req.UserID, req.QuestionIndex, req.OptionIndex)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, result)
}

// SkipRequest 跳过请求
type SkipRequest struct {
	UserID        string `json:"user_id" binding:"required"`
	QuestionIndex int    `json:"question_index"`
}

// Skip 跳过当前题目
func (h *SingleHandler) Skip(c *gin.Context) {
	var req SkipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Wrap(err, apperrors.ErrInvalidParam))
		return
	}

	result, err := h.service.Skip(c.Request.Context(), c.Param("id"), req.UserID, req.QuestionIndex)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, result)
}

// Get 查询会话当前题目
func (h *SingleHandler) Get(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		respondError(c, apperrors.New(apperrors.ErrInvalidParam))
		return
	}

	result, err := h.service.Get(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, result)
}

// Abandon 放弃会话
func (h *SingleHandler) Abandon(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		respondError(c, apperrors.New(apperrors.ErrInvalidParam))
		return
	}

	if err := h.service.Abandon(c.Request.Context(), c.Param("id"), userID); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"abandoned": true})
}
