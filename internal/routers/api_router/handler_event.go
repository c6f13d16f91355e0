package api_router

import (
	"github.com/gin-gonic/gin"
	"github.com/haierkeys/fast-content-sync-service/internal/app"
	"github.com/haierkeys/fast-content-sync-service/internal/domain"
	"github.com/haierkeys/fast-content-sync-service/internal/dto"
	pkgapp "github.com/haierkeys/fast-content-sync-service/pkg/app"
	"github.com/haierkeys/fast-content-sync-service/pkg/code"
)

// EventHandler 同步审计事件 API 路由处理器
type EventHandler struct {
	*Handler
}

// NewEventHandler 创建 EventHandler 实例
func NewEventHandler(a *app.App) *EventHandler {
	return &EventHandler{Handler: NewHandler(a)}
}

// List 分页查询审计事件
// @Summary 查询同步事件
// @Description 分页查询只追加的同步审计日志，按时间倒序
// @Tags 同步事件
// @Produce json
// @Param domain query string false "内容域"
// @Param targetId query string false "目标标识"
// @Param action query string false "动作 create/update/delete/rollback"
// @Param since query string false "起始时间 RFC3339"
// @Param until query string false "结束时间 RFC3339"
// @Param page query int false "页码"
// @Param pageSize query int false "每页数量"
// @Success 200 {object} pkgapp.Res{data=pkgapp.ListRes{list=[]domain.SyncEvent}} "成功"
// @Router /api/v1/events [get]
func (h *EventHandler) List(c *gin.Context) {
	response := pkgapp.NewResponse(c)
	params := &dto.EventListRequest{}
	if valid, errs := pkgapp.BindAndValid(c, params); !valid {
		h.invalidParams(c, "EventHandler.List", errs)
		return
	}

	filter := params.ToDomain()
	filter.Page = max(filter.Page, 1)
	filter.PageSize = pkgapp.ClampPageSize(filter.PageSize, h.pagination())

	list, total, err := h.App.VersionService.ListEvents(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, "EventHandler.List", err, code.ErrorEventListFailed)
		return
	}
	if list == nil {
		list = []*domain.SyncEvent{}
	}

	response.ToResponse(code.Success.WithData(pkgapp.ListRes{
		List: list,
		Pager: pkgapp.Pager{
			Page:      filter.Page,
			PageSize:  filter.PageSize,
			TotalRows: int(total),
		},
	}))
}
