// Package errs 定义携带 HTTP 状态码的业务错误。
// 服务层返回 *InternalError，API 层统一翻译为响应。
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// InternalError 带状态码的错误
type InternalError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *InternalError) Error() string {
	if e.Err != nil && e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return http.StatusText(e.StatusCode)
}

func (e *InternalError) Unwrap() error { return e.Err }

// New 创建错误
func New(status int, msg string) *InternalError {
	return &InternalError{StatusCode: status, Message: msg}
}

// Newf 格式化创建错误
func Newf(status int, format string, args ...any) *InternalError {
	return &InternalError{StatusCode: status, Message: fmt.Sprintf(format, args...)}
}

// Wrap 包装底层错误。err 已是 *InternalError 时保留其状态码，仅补充上下文。
func Wrap(status int, err error, msg string) *InternalError {
	if err == nil {
		return New(status, msg)
	}
	var ie *InternalError
	if errors.As(err, &ie) {
		return &InternalError{StatusCode: ie.StatusCode, Message: msg, Err: err}
	}
	return &InternalError{StatusCode: status, Message: msg, Err: err}
}

func BadRequest(format string, args ...any) *InternalError {
	return Newf(http.StatusBadRequest, format, args...)
}

func Unauthorized(format string, args ...any) *InternalError {
	return Newf(http.StatusUnauthorized, format, args...)
}

func Forbidden(format string, args ...any) *InternalError {
	return Newf(http.StatusForbidden, format, args...)
}

func NotFound(format string, args ...any) *InternalError {
	return Newf(http.StatusNotFound, format, args...)
}

func Conflict(format string, args ...any) *InternalError {
	return Newf(http.StatusConflict, format, args...)
}

func TooManyRequests(msg string) *InternalError {
	return New(http.StatusTooManyRequests, msg)
}

// StatusOf 返回错误对应的状态码，非 InternalError 视为 500
func StatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var ie *InternalError
	if errors.As(err, &ie) && ie.StatusCode > 0 {
		return ie.StatusCode
	}
	return http.StatusInternalServerError
}

// Is 判断错误是否为指定状态码
func Is(err error, status int) bool {
	return err != nil && StatusOf(err) == status
}

// PublicMessage 返回可以展示给调用方的信息。5xx 只暴露 Message，底层原因只进日志。
func PublicMessage(err error) string {
	var ie *InternalError
	if !errors.As(err, &ie) {
		return http.StatusText(http.StatusInternalServerError)
	}
	status := StatusOf(err)
	if status < http.StatusInternalServerError {
		return ie.Error()
	}
	if ie.Message != "" {
		return ie.Message
	}
	return http.StatusText(status)
}
