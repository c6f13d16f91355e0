package api_router

import (
	"time"

	"github.com/haierkeys/fast-content-sync-service/internal/app"
	"github.com/haierkeys/fast-content-sync-service/internal/dto"
	pkgapp "github.com/haierkeys/fast-content-sync-service/pkg/app"
	"github.com/haierkeys/fast-content-sync-service/pkg/code"

	"github.com/gin-gonic/gin"
)

// ClientCounter 中继在线连接数
type ClientCounter interface {
	ClientCount() int
}

// HealthHandler 健康检查处理器
type HealthHandler struct {
	*Handler
	relay ClientCounter
}

// NewHealthHandler 创建健康检查处理器实例
func NewHealthHandler(a *app.App, relay ClientCounter) *HealthHandler {
	return &HealthHandler{Handler: NewHandler(a), relay: relay}
}

// Check 健康检查接口
// @Summary 健康检查
// @Description 检查服务健康状态，包括数据库连接与中继连接数
// @Tags 系统
// @Produce json
// @Success 200 {object} dto.HealthResponse
// @Router /api/health [get]
func (h *HealthHandler) Check(c *gin.Context) {
	response := dto.HealthResponse{
		Status:   "healthy",
		Version:  h.App.Version().Version,
		Uptime:   time.Since(h.App.StartTime).Seconds(),
		Database: "connected",
	}
	if h.relay != nil {
		response.Clients = h.relay.ClientCount()
	}

	// 检查数据库连接
	if err := h.App.DB.WithContext(c.Request.Context()).Exec("SELECT 1").Error; err != nil {
		h.logError(c.Request.Context(), "HealthHandler.Check", err)
		response.Status = "unhealthy"
		response.Database = "error"
		pkgapp.NewResponse(c).ToResponse(code.ErrorServerBusy.WithData(response))
		return
	}

	pkgapp.NewResponse(c).ToResponse(code.Success.WithData(response))
}
