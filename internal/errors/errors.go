package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorCode 错误码类型
type ErrorCode int

// 错误码定义（按模块分组）
const (
	// 通用错误 (1000-1999)
	ErrUnknown        ErrorCode = 1000
	ErrInvalidParam   ErrorCode = 1001
	ErrNotFound       ErrorCode = 1002
	ErrTimeout        ErrorCode = 1005
	ErrCanceled       ErrorCode = 1006
	ErrNotImplemented ErrorCode = 1007

	// 会话错误 (2000-2999)
	ErrPrecondition   ErrorCode = 2000
	ErrNoGame         ErrorCode = 2001
	ErrSlotOutOfRange ErrorCode = 2002
	ErrEmptyChat      ErrorCode = 2003
	ErrRejected       ErrorCode = 2004
	ErrSessionState   ErrorCode = 2005

	// 通信错误 (4000-4999)
	ErrWebSocketConnect ErrorCode = 4000
	ErrWebSocketSend    ErrorCode = 4001
	ErrWebSocketReceive ErrorCode = 4002
	ErrWebSocketClosed  ErrorCode = 4003
	ErrNotConnected     ErrorCode = 4004
	ErrReconnectGiveUp  ErrorCode = 4005
	ErrMessageFormat    ErrorCode = 4007

	// 本地存储错误 (5000-5999)
	ErrDatabaseConnect ErrorCode = 5000
	ErrDatabaseQuery   ErrorCode = 5001
	ErrDatabaseInsert  ErrorCode = 5002
	ErrDatabaseDelete  ErrorCode = 5004
	ErrDataIntegrity   ErrorCode = 5006

	// 配置错误 (6000-6999)
	ErrConfigLoad     ErrorCode = 6000
	ErrConfigParse    ErrorCode = 6001
	ErrConfigValidate ErrorCode = 6002
	ErrConfigMissing  ErrorCode = 6003

	// 认证错误 (7000-7999)
	ErrAuthentication ErrorCode = 7000
	ErrOriginMismatch ErrorCode = 7001
	ErrTokenExpired   ErrorCode = 7002
	ErrTokenInvalid   ErrorCode = 7003
)

// 错误码消息映射
var errorMessages = map[ErrorCode]string{
	// 通用错误
	ErrUnknown:        "未知错误",
	ErrInvalidParam:   "无效的参数",
	ErrNotFound:       "资源未找到",
	ErrTimeout:        "操作超时",
	ErrCanceled:       "操作已取消",
	ErrNotImplemented: "功能未实现",

	// 会话错误
	ErrPrecondition:   "操作前置条件不满足",
	ErrNoGame:         "未进入游戏",
	ErrSlotOutOfRange: "座位索引超出范围",
	ErrEmptyChat:      "聊天内容为空",
	ErrRejected:       "服务器拒绝了请求",
	ErrSessionState:   "会话状态错误",

	// 通信错误
	ErrWebSocketConnect: "WebSocket连接失败",
	ErrWebSocketSend:    "WebSocket发送失败",
	ErrWebSocketReceive: "WebSocket接收失败",
	ErrWebSocketClosed:  "WebSocket连接已关闭",
	ErrNotConnected:     "连接未建立",
	ErrReconnectGiveUp:  "重连次数已用尽",
	ErrMessageFormat:    "消息格式错误",

	// 本地存储错误
	ErrDatabaseConnect: "数据库连接失败",
	ErrDatabaseQuery:   "数据库查询失败",
	ErrDatabaseInsert:  "数据库写入失败",
	ErrDatabaseDelete:  "数据库删除失败",
	ErrDataIntegrity:   "数据完整性错误",

	// 配置错误
	ErrConfigLoad:     "配置加载失败",
	ErrConfigParse:    "配置解析失败",
	ErrConfigValidate: "配置验证失败",
	ErrConfigMissing:  "配置项缺失",

	// 认证错误
	ErrAuthentication: "认证失败",
	ErrOriginMismatch: "消息来源不可信",
	ErrTokenExpired:   "令牌已过期",
	ErrTokenInvalid:   "无效的令牌",
}

// AppError 应用错误结构
type AppError struct {
	Code    ErrorCode    `json:"code"`            // 错误码
	Message string       `json:"message"`         // 错误消息
	Details string       `json:"details"`         // 详细信息
	Cause   error        `json:"-"`               // 原始错误
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

// WithCause 添加原因错误
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	if cause != nil && e.Details == "" {
		e.Details = cause.Error()
	}
	return e
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

	err.captureStack(2)

	return err
}

// Newf 创建格式化的应用错误
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap 包装错误
func Wrap(err error, code ErrorCode, details ...string) *AppError {
	if err == nil {
		return nil
	}

	// 如果已经是AppError，保留原始错误码
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		if len(details) > 0 {
			appErr.Details = strings.Join(details, "; ") + "; " + appErr.Details
		}
		return appErr
	}

	wrapped := New(code, details...)
	wrapped.Cause = err
	if wrapped.Details == "" {
		wrapped.Details = err.Error()
	}
	return wrapped
}

// Wrapf 包装格式化错误
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *AppError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// Is 判断错误是否为指定错误码
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Code == code
}

// GetCode 获取错误码
func GetCode(err error) ErrorCode {
	if err == nil {
		return 0
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrUnknown
}

// captureStack 捕获调用栈
func (e *AppError) captureStack(skip int) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	if n == 0 {
		return
	}

	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()

		// 跳过runtime和本包的调用
		if strings.HasPrefix(frame.Function, "runtime.") ||
			strings.Contains(frame.Function, "tabletop-client/internal/errors.") {
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

		if !more || len(e.Stack) >= 10 {
			break
		}
	}
}

// HTTPStatus 返回对应的HTTP状态码（OAuth回调服务使用）
func (e *AppError) HTTPStatus() int {
	switch {
	case e.Code == ErrInvalidParam:
		return 400
	case e.Code == ErrNotFound:
		return 404
	case e.Code == ErrOriginMismatch:
		return 403
	case e.Code >= 7000 && e.Code <= 7999:
		return 401
	case e.Code == ErrNotConnected, e.Code == ErrWebSocketClosed:
		return 503
	default:
		return 500
	}
}

// IsRetryable 判断错误是否可重试
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case ErrTimeout,
		ErrWebSocketConnect,
		ErrWebSocketReceive,
		ErrWebSocketClosed,
		ErrDatabaseConnect:
		return true
	default:
		return false
	}
}
