// Package api_router 提供 HTTP API 路由处理器
package api_router

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/haierkeys/fast-content-sync-service/internal/app"
	"github.com/haierkeys/fast-content-sync-service/internal/domain"
	"github.com/haierkeys/fast-content-sync-service/internal/middleware"
	pkgapp "github.com/haierkeys/fast-content-sync-service/pkg/app"
	"github.com/haierkeys/fast-content-sync-service/pkg/code"
	apperrors "github.com/haierkeys/fast-content-sync-service/pkg/errors"
	"github.com/haierkeys/fast-content-sync-service/pkg/logger"
	"go.uber.org/zap"
)

// Handler 基础 Handler 结构体，封装 App Container
// 所有 API Handler 都应该嵌入此结构体以获得依赖注入能力
type Handler struct {
	App *app.App
}

// NewHandler 创建基础 Handler 实例
func NewHandler(a *app.App) *Handler {
	return &Handler{App: a}
}

// pagination 分页配置
func (h *Handler) pagination() pkgapp.PaginationConfig {
	cfg := h.App.Config().App
	return pkgapp.PaginationConfig{
		DefaultPageSize: cfg.DefaultPageSize,
		MaxPageSize:     cfg.MaxPageSize,
	}
}

// logError 记录错误日志，包含 Trace ID
func (h *Handler) logError(ctx context.Context, method string, err error) {
	h.App.Logger().Error(method,
		zap.Error(err),
		zap.String(logger.FieldTraceID, middleware.GetTraceID(ctx)),
	)
}

// invalidParams 参数校验失败响应
func (h *Handler) invalidParams(c *gin.Context, method string, errs pkgapp.ValidErrors) {
	h.App.Logger().Warn(method+".BindAndValid err",
		zap.Error(errs),
		zap.String(logger.FieldTraceID, middleware.GetTraceIDFromGin(c)),
	)
	apperrors.ErrorResponseWithCode(c, code.ErrorInvalidParams.WithDetails(errs.Errors()...), errs)
}

// pathDomain parses the :domain route parameter, writing the error response when unknown
// pathDomain 解析 :domain 路由参数，未知内容域时直接写错误响应
func pathDomain(c *gin.Context) (domain.ContentDomain, bool) {
	d, err := domain.ParseDomain(c.Param("domain"))
	if err != nil {
		apperrors.ErrorResponseWithCode(c, code.ErrorInvalidDomain.WithDetails(c.Param("domain")), err)
		return "", false
	}
	return d, true
}

// errorCode maps a domain error onto its response code, fallback covers storage failures
// errorCode 将领域错误映射为响应码，fallback 用于存储层失败
func errorCode(err error, fallback *code.Code) *code.Code {
	switch {
	case errors.Is(err, domain.ErrInvalidDomain):
		return code.ErrorInvalidDomain.WithDetails(err.Error())
	case errors.Is(err, domain.ErrInvalidTarget):
		return code.ErrorInvalidTarget.WithDetails(err.Error())
	case errors.Is(err, domain.ErrInvalidPayload):
		return code.ErrorInvalidPayload.WithDetails(err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return code.ErrorVersionNotFound.WithDetails(err.Error())
	case errors.Is(err, domain.ErrVersionNotInGroup):
		return code.ErrorVersionConflict.WithDetails(err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return code.ErrorRequestTimeout
	}
	return fallback
}

// respondError 记录并输出错误响应
func (h *Handler) respondError(c *gin.Context, method string, err error, fallback *code.Code) {
	codeObj := errorCode(err, fallback)
	if codeObj.StatusCode() >= 500 {
		h.logError(c.Request.Context(), method, err)
	}
	apperrors.ErrorResponseWithCode(c, codeObj, err)
}
