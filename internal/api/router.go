package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	apperrors "github.com/wfunc/trivia-game/internal/errors"
	"github.com/wfunc/trivia-game/internal/game"
	"github.com/wfunc/trivia-game/internal/game/single"
	"github.com/wfunc/trivia-game/internal/repository"
	ws "github.com/wfunc/trivia-game/internal/websocket"
	"go.uber.org/zap"
)

// Router API路由器
type Router struct {
	engine        *gin.Engine
	wsHandler     *WebSocketHandler
	singleHandler *SingleHandler
	roomHandler   *RoomHandler
	log           *zap.Logger
}

// NewRouter 创建路由器
func NewRouter(
	hub *ws.Hub,
	manager *game.Manager,
	singleService *single.Service,
	users repository.UserRepository,
	log *zap.Logger,
) *Router {
	engine := gin.New()

	// 全局中间件
	engine.Use(gin.Recovery())
	engine.Use(gin.Logger())

	router := &Router{
		engine:        engine,
		wsHandler:     NewWebSocketHandler(hub, log),
		singleHandler: NewSingleHandler(singleService),
		roomHandler:   NewRoomHandler(manager, users),
		log:           log,
	}

	router.setupRoutes()
	return router
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	// 健康检查
	r.engine.GET("/health", r.healthCheck)

	// 多人对战走WebSocket
	r.engine.GET("/ws", r.wsHandler.TriviaWebSocket)

	// API v1路由组
	v1 := r.engine.Group("/api/v1")
	{
		// 单人答题
		singlePlayer := v1.Group("/single")
		{
			singlePlayer.POST("/sessions", r.singleHandler.Start)
			singlePlayer.GET("/sessions/:id", r.singleHandler.Get)
			singlePlayer.POST("/sessions/:id/answers", r.singleHandler.Answer)
			singlePlayer.POST("/sessions/:id/skip", r.singleHandler.Skip)
			singlePlayer.DELETE("/sessions/:id", r.singleHandler.Abandon)
		}

		// 房间查询
		rooms := v1.Group("/rooms")
		{
			rooms.GET("/:code", r.roomHandler.Snapshot)
		}

		// 排行榜与历史
		v1.GET("/leaderboard", r.roomHandler.Leaderboard)
		v1.GET("/users/:id/history", r.roomHandler.History)
	}

	// 404处理
	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "接口不存在",
		})
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// Engine 获取Gin引擎
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// respondError 统一错误响应
func respondError(c *gin.Context, err error) {
	appErr, ok := err.(*apperrors.AppError)
	if !ok {
		appErr = apperrors.Wrap(err, apperrors.ErrUnknown)
	}

	c.JSON(appErr.HTTPStatus(), gin.H{
		"success": false,
		"error": gin.H{
			"code":    appErr.WireCode(),
			"message": appErr.Message,
		},
	})
}

// respondOK 统一成功响应
func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
