package api_router

import (
	"github.com/gin-gonic/gin"
	"github.com/haierkeys/fast-content-sync-service/internal/app"
	"github.com/haierkeys/fast-content-sync-service/internal/domain"
	"github.com/haierkeys/fast-content-sync-service/internal/dto"
	pkgapp "github.com/haierkeys/fast-content-sync-service/pkg/app"
	"github.com/haierkeys/fast-content-sync-service/pkg/code"
)

// VersionHandler content version API router handler
// VersionHandler 内容版本 API 路由处理器
// Uses App Container to inject dependencies
// 使用 App Container 注入依赖
type VersionHandler struct {
	*Handler
}

// NewVersionHandler creates VersionHandler instance
// NewVersionHandler 创建 VersionHandler 实例
func NewVersionHandler(a *app.App) *VersionHandler {
	return &VersionHandler{
		Handler: NewHandler(a),
	}
}

// Create inserts the next version of a group and makes it current
// @Summary 保存新版本
// @Description 为 (domain, targetId) 分配下一个版本号并设为当前版本
// @Tags 版本
// @Accept json
// @Produce json
// @Param domain path string true "内容域"
// @Param params body dto.VersionCreateRequest true "版本内容"
// @Success 201 {object} pkgapp.Res{data=domain.VersionRecord} "成功"
// @Router /api/v1/versions/{domain} [post]
func (h *VersionHandler) Create(c *gin.Context) {
	response := pkgapp.NewResponse(c)
	d, ok := pathDomain(c)
	if !ok {
		return
	}

	params := &dto.VersionCreateRequest{}
	if valid, errs := pkgapp.BindAndValid(c, params); !valid {
		h.invalidParams(c, "VersionHandler.Create", errs)
		return
	}

	rec, err := h.App.VersionService.InsertVersion(c.Request.Context(), params.ToDomain(d))
	if err != nil {
		h.respondError(c, "VersionHandler.Create", err, code.ErrorVersionInsertFailed)
		return
	}

	response.ToResponse(code.SuccessCreate.WithData(rec))
}

// List queries versions of a domain, newest version first
// @Summary 查询版本列表
// @Description 按目标、作者、时间范围分页查询版本，按版本号倒序
// @Tags 版本
// @Produce json
// @Param domain path string true "内容域"
// @Param targetId query string false "目标标识，缺省时匹配全部目标"
// @Param authorId query string false "作者"
// @Param since query string false "起始时间 RFC3339"
// @Param until query string false "结束时间 RFC3339"
// @Param current query bool false "只返回当前版本"
// @Param page query int false "页码"
// @Param pageSize query int false "每页数量"
// @Success 200 {object} pkgapp.Res{data=pkgapp.ListRes{list=[]domain.VersionRecord}} "成功"
// @Router /api/v1/versions/{domain} [get]
func (h *VersionHandler) List(c *gin.Context) {
	response := pkgapp.NewResponse(c)
	d, ok := pathDomain(c)
	if !ok {
		return
	}

	params := &dto.VersionListRequest{}
	if valid, errs := pkgapp.BindAndValid(c, params); !valid {
		h.invalidParams(c, "VersionHandler.List", errs)
		return
	}

	filter := params.ToDomain(d)
	filter.Page = max(filter.Page, 1)
	filter.PageSize = pkgapp.ClampPageSize(filter.PageSize, h.pagination())

	list, total, err := h.App.VersionService.ListVersions(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, "VersionHandler.List", err, code.ErrorVersionListFailed)
		return
	}
	if list == nil {
		list = []*domain.VersionRecord{}
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

// SetCurrent moves the current pointer of a group to an existing version
// @Summary 设置当前版本（回滚）
// @Description 将分组的当前版本指向已有版本，并记录回滚事件
// @Tags 版本
// @Accept json
// @Produce json
// @Param domain path string true "内容域"
// @Param params body dto.VersionSetCurrentRequest true "目标版本"
// @Success 200 {object} pkgapp.Res{data=domain.VersionRecord} "成功"
// @Router /api/v1/versions/{domain}/current [put]
func (h *VersionHandler) SetCurrent(c *gin.Context) {
	response := pkgapp.NewResponse(c)
	d, ok := pathDomain(c)
	if !ok {
		return
	}

	params := &dto.VersionSetCurrentRequest{}
	if valid, errs := pkgapp.BindAndValid(c, params); !valid {
		h.invalidParams(c, "VersionHandler.SetCurrent", errs)
		return
	}

	rec, err := h.App.VersionService.SetCurrent(c.Request.Context(), params.ToDomain(d))
	if err != nil {
		h.respondError(c, "VersionHandler.SetCurrent", err, code.ErrorSetCurrentFailed)
		return
	}

	response.ToResponse(code.Success.WithData(rec))
}

// ServerVersion retrieves server version information
// @Summary Get server version info
// @Description Get current server software version, Git tag, and build time
// @Tags System
// @Produce json
// @Success 200 {object} pkgapp.Res{data=pkgapp.VersionInfo} "Success"
// @Router /api/version [get]
func (h *VersionHandler) ServerVersion(c *gin.Context) {
	pkgapp.NewResponse(c).ToResponse(code.Success.WithData(h.App.Version()))
}
