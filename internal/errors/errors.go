package errors

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode 错误码类型
type ErrorCode int

// 错误码定义（按模块分组）
const (
	// 通用错误 (1000-1999)
	ErrUnknown          ErrorCode = 1000
	ErrInvalidParam     ErrorCode = 1001
	ErrNotFound         ErrorCode = 1002
	ErrAlreadyExists    ErrorCode = 1003
	ErrPermissionDenied ErrorCode = 1004
	ErrTimeout          ErrorCode = 1005

	// 房间错误 (2000-2999)
	ErrRoomNotFound     ErrorCode = 2000
	ErrRoomFull         ErrorCode = 2001
	ErrGameInProgress   ErrorCode = 2002
	ErrGraceExpired     ErrorCode = 2003
	ErrNotLeader        ErrorCode = 2004
	ErrPlayerNotFound   ErrorCode = 2005
	ErrRoomCodeExhausted ErrorCode = 2006

	// 游戏流程错误 (3000-3999)
	ErrWrongPhase    ErrorCode = 3000
	ErrStaleQuestion ErrorCode = 3001
	ErrNotAccepting  ErrorCode = 3002
	ErrNoQuestions   ErrorCode = 3003

	// 单人会话错误 (4000-4999)
	ErrSessionNotFound ErrorCode = 4000
	ErrSessionEnded    ErrorCode = 4001

	// 上游服务错误 (5000-5999)
	ErrQuestionSource ErrorCode = 5000
	ErrPersistence    ErrorCode = 5001

	// 共享存储错误 (6000-6999)
	ErrStoreUnavailable ErrorCode = 6000
	ErrStoreSerialize   ErrorCode = 6001

	// 通信错误 (7000-7999)
	ErrWebSocketSend  ErrorCode = 7000
	ErrMessageFormat  ErrorCode = 7001
	ErrNotRegistered  ErrorCode = 7002

	// 基础设施错误 (8000-8999)
	ErrConfigLoad      ErrorCode = 8000
	ErrDatabaseConnect ErrorCode = 8001
	ErrDatabaseQuery   ErrorCode = 8002
)

// 错误码消息映射
var errorMessages = map[ErrorCode]string{
	// 通用错误
	ErrUnknown:          "未知错误",
	ErrInvalidParam:     "无效的参数",
	ErrNotFound:         "资源未找到",
	ErrAlreadyExists:    "资源已存在",
	ErrPermissionDenied: "权限不足",
	ErrTimeout:          "操作超时",

	// 房间错误
	ErrRoomNotFound:      "房间不存在",
	ErrRoomFull:          "房间已满",
	ErrGameInProgress:    "游戏正在进行中",
	ErrGraceExpired:      "重连宽限期已过",
	ErrNotLeader:         "只有房主可以执行此操作",
	ErrPlayerNotFound:    "玩家不在房间中",
	ErrRoomCodeExhausted: "无法生成唯一房间码",

	// 游戏流程错误
	ErrWrongPhase:    "当前游戏阶段不允许此操作",
	ErrStaleQuestion: "题目序号已过期",
	ErrNotAccepting:  "当前不接受答案",
	ErrNoQuestions:   "题目列表为空",

	// 单人会话错误
	ErrSessionNotFound: "会话不存在或已过期",
	ErrSessionEnded:    "会话已结束",

	// 上游服务错误
	ErrQuestionSource: "题库服务请求失败",
	ErrPersistence:    "积分持久化失败",

	// 共享存储错误
	ErrStoreUnavailable: "共享存储不可用",
	ErrStoreSerialize:   "存储记录序列化失败",

	// 通信错误
	ErrWebSocketSend: "WebSocket发送失败",
	ErrMessageFormat: "消息格式错误",
	ErrNotRegistered: "连接未注册身份",

	// 基础设施错误
	ErrConfigLoad:      "配置加载失败",
	ErrDatabaseConnect: "数据库连接失败",
	ErrDatabaseQuery:   "数据库查询失败",
}

// 对外事件使用的稳定错误码字符串
var wireCodes = map[ErrorCode]string{
	ErrUnknown:           "INTERNAL",
	ErrInvalidParam:      "INVALID_PARAM",
	ErrNotFound:          "NOT_FOUND",
	ErrAlreadyExists:     "ALREADY_EXISTS",
	ErrPermissionDenied:  "FORBIDDEN",
	ErrTimeout:           "TIMEOUT",
	ErrRoomNotFound:      "ROOM_NOT_FOUND",
	ErrRoomFull:          "ROOM_FULL",
	ErrGameInProgress:    "GAME_IN_PROGRESS",
	ErrGraceExpired:      "GRACE_EXPIRED",
	ErrNotLeader:         "NOT_LEADER",
	ErrPlayerNotFound:    "PLAYER_NOT_FOUND",
	ErrRoomCodeExhausted: "ROOM_CODE_EXHAUSTED",
	ErrWrongPhase:        "WRONG_PHASE",
	ErrStaleQuestion:     "STALE_QUESTION",
	ErrNotAccepting:      "NOT_ACCEPTING",
	ErrNoQuestions:       "NO_QUESTIONS",
	ErrSessionNotFound:   "SESSION_NOT_FOUND",
	ErrSessionEnded:      "SESSION_ENDED",
	ErrQuestionSource:    "UPSTREAM_QUESTIONS",
	ErrPersistence:       "UPSTREAM_PERSISTENCE",
	ErrStoreUnavailable:  "STORE_UNAVAILABLE",
	ErrStoreSerialize:    "STORE_SERIALIZE",
	ErrWebSocketSend:     "WS_SEND_FAILED",
	ErrMessageFormat:     "BAD_MESSAGE",
	ErrNotRegistered:     "NOT_REGISTERED",
	ErrConfigLoad:        "CONFIG_LOAD",
	ErrDatabaseConnect:   "DB_CONNECT",
	ErrDatabaseQuery:     "DB_QUERY",
}

// AppError 应用错误结构
type AppError struct {
	Code    ErrorCode    `json:"code"`    // 错误码
	Message string       `json:"message"` // 错误消息
	Details string       `json:"details"` // 详细信息
	Cause   error        `json:"-"`       // 原始错误
	Stack   []StackFrame `json:"stack,omitempty"` // 调用栈
}

// StackFrame 调用栈帧
type StackFrame struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%d] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 返回原始错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails 添加详细信息
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithCause 添加原因错误
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	if cause != nil && e.Details == "" {
		e.Details = cause.Error()
	}
	return e
}

// WireCode 返回对外事件使用的稳定错误码字符串
func (e *AppError) WireCode() string {
	if code, ok := wireCodes[e.Code]; ok {
		return code
	}
	return wireCodes[ErrUnknown]
}

// New 创建新的应用错误
func New(code ErrorCode, details ...string) *AppError {
	message, ok := errorMessages[code]
	if !ok {
		message = errorMessages[ErrUnknown]
	}

	err := &AppError{
		Code:    code,
		Message: message,
	}

	if len(details) > 0 {
		err.Details = strings.Join(details, "; ")
	}

	// 捕获调用栈
	err.captureStack(2)

	return err
}

// Newf 创建格式化的应用错误
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	details := fmt.Sprintf(format, args...)
	return New(code, details)
}

// Wrap 包装错误
func Wrap(err error, code ErrorCode, details ...string) *AppError {
	if err == nil {
		return nil
	}

	// 如果已经是AppError，保留原始错误码
	if appErr, ok := err.(*AppError); ok {
		if len(details) > 0 {
			appErr.Details = strings.Join(details, "; ") + "; " + appErr.Details
		}
		return appErr
	}

	appErr := New(code, details...)
	appErr.Cause = err
	if appErr.Details == "" {
		appErr.Details = err.Error()
	}

	return appErr
}

// Wrapf 包装格式化错误
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *AppError {
	details := fmt.Sprintf(format, args...)
	return Wrap(err, code, details)
}

// Is 判断错误是否为指定错误码
func Is(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}

	appErr, ok := err.(*AppError)
	return ok && appErr.Code == code
}

// GetCode 获取错误码
func GetCode(err error) ErrorCode {
	if err == nil {
		return 0
	}

	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}

	return ErrUnknown
}

// WireCode 获取任意错误的稳定错误码字符串
func WireCode(err error) string {
	if appErr, ok := err.(*AppError); ok {
		return appErr.WireCode()
	}
	return wireCodes[ErrUnknown]
}

// captureStack 捕获调用栈
func (e *AppError) captureStack(skip int) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)

	if n > 0 {
		frames := runtime.CallersFrames(pcs[:n])
		for {
			frame, more := frames.Next()

			// 跳过runtime和本包的调用
			if strings.Contains(frame.Function, "runtime.") ||
				strings.Contains(frame.Function, "github.com/wfunc/trivia-game/internal/errors") {
				if !more {
					break
				}
				continue
			}

			e.Stack = append(e.Stack, StackFrame{
				Function: frame.Function,
				File:     frame.File,
				Line:     frame.Line,
			})

			if !more {
				break
			}

			// 只保留前10个栈帧
			if len(e.Stack) >= 10 {
				break
			}
		}
	}
}

// GetStack 获取格式化的调用栈
func (e *AppError) GetStack() string {
	if len(e.Stack) == 0 {
		return ""
	}

	var builder strings.Builder
	for i, frame := range e.Stack {
		builder.WriteString(fmt.Sprintf("%d. %s\n   %s:%d\n",
			i+1, frame.Function, frame.File, frame.Line))
	}

	return builder.String()
}

// HTTPStatus 返回对应的HTTP状态码
func (e *AppError) HTTPStatus() int {
	switch {
	case e.Code == ErrInvalidParam || e.Code == ErrMessageFormat:
		return 400 // Bad Request
	case e.Code == ErrNotFound || e.Code == ErrRoomNotFound ||
		e.Code == ErrSessionNotFound || e.Code == ErrPlayerNotFound:
		return 404 // Not Found
	case e.Code == ErrPermissionDenied || e.Code == ErrNotLeader:
		return 403 // Forbidden
	case e.Code == ErrRoomFull || e.Code == ErrGameInProgress ||
		e.Code == ErrGraceExpired || e.Code == ErrWrongPhase ||
		e.Code == ErrStaleQuestion || e.Code == ErrNotAccepting ||
		e.Code == ErrSessionEnded || e.Code == ErrAlreadyExists:
		return 409 // Conflict
	case e.Code == ErrTimeout:
		return 408 // Request Timeout
	case e.Code >= 5000 && e.Code <= 6999:
		return 503 // Service Unavailable
	default:
		return 500 // Internal Server Error
	}
}

// IsRetryable 判断错误是否可重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	code := GetCode(err)
	switch code {
	case ErrTimeout,
		ErrQuestionSource,
		ErrPersistence,
		ErrStoreUnavailable,
		ErrDatabaseConnect:
		return true
	default:
		return false
	}
}

// IsCritical 判断是否为严重错误
func IsCritical(err error) bool {
	if err == nil {
		return false
	}

	code := GetCode(err)
	switch code {
	case ErrDatabaseConnect,
		ErrConfigLoad,
		ErrStoreUnavailable:
		return true
	default:
		return false
	}
}

// ErrorResponse API错误响应结构
type ErrorResponse struct {
	Success   bool      `json:"success"`
	Error     *AppError `json:"error,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(err *AppError, requestID string) *ErrorResponse {
	return &ErrorResponse{
		Success:   false,
		Error:     err,
		RequestID: requestID,
		Timestamp: time.Now().Unix(),
	}
}
