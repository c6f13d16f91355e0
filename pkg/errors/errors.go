package errors

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/haierkeys/fast-content-sync-service/internal/middleware"
	"github.com/haierkeys/fast-content-sync-service/pkg/code"
)

// AppError 统一应用错误结构体
// AppError unified error body: code, message, details, trace id, timestamp
type AppError struct {
	// Code 错误码
	Code int `json:"code"`
	// Status 是否成功，错误时恒为 false
	Status bool `json:"status"`
	// Message 错误消息
	Message string `json:"message"`
	// Details 错误详情（可选）
	Details []string `json:"details,omitempty"`
	// TraceID 请求追踪ID
	TraceID string `json:"traceId,omitempty"`
	// Cause 原始错误（不序列化到JSON）
	Cause error `json:"-"`
	// Timestamp 错误发生时间
	Timestamp time.Time `json:"timestamp"`

	httpStatus int
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	return e.Message
}

// Unwrap 支持错误链路追踪
func (e *AppError) Unwrap() error {
	return e.Cause
}

// HTTPStatus HTTP status written for this error
// HTTPStatus 该错误对应的 HTTP 状态码
func (e *AppError) HTTPStatus() int {
	if e.httpStatus == 0 {
		return http.StatusInternalServerError
	}
	return e.httpStatus
}

// NewAppError 从 Code 对象创建 AppError
func NewAppError(c *code.Code, cause error) *AppError {
	return &AppError{
		Code:       c.Code(),
		Message:    c.Msg(),
		Details:    c.Details(),
		Cause:      cause,
		Timestamp:  time.Now(),
		httpStatus: c.StatusCode(),
	}
}

// WithDetails 设置详情并返回自身（链式调用）
func (e *AppError) WithDetails(details ...string) *AppError {
	e.Details = details
	return e
}

// ErrorResponse 统一错误响应处理
// Converts err to AppError, stamps the trace id and writes it with the code's HTTP status
// 将错误转换为 AppError，写入 TraceID 并按错误码的 HTTP 状态返回
func ErrorResponse(c *gin.Context, err error) {
	traceID := middleware.GetTraceIDFromGin(c)

	var appErr *AppError
	if errors.As(err, &appErr) {
		appErr.TraceID = traceID
		c.Set("status_code", appErr.HTTPStatus())
		c.JSON(appErr.HTTPStatus(), appErr)
		return
	}

	var codeErr *code.Code
	if errors.As(err, &codeErr) {
		ErrorResponseWithCode(c, codeErr, err)
		return
	}

	ErrorResponseWithCode(c, code.ErrorServerInternal, err)
}

// ErrorResponseWithCode 使用指定的 Code 对象返回错误响应
func ErrorResponseWithCode(c *gin.Context, codeErr *code.Code, cause error) {
	response := NewAppError(codeErr, cause)
	response.TraceID = middleware.GetTraceIDFromGin(c)
	if cause != nil {
		_ = c.Error(cause)
	}
	c.Set("status_code", response.HTTPStatus())
	c.JSON(response.HTTPStatus(), response)
}

// GetAppError 从错误链中获取 AppError
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}
