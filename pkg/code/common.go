package code

import "net/http"

var (
	Success       = NewSuss(200, http.StatusOK, lang{en: "Success", zh_cn: "成功"})
	SuccessCreate = NewSuss(201, http.StatusCreated, lang{en: "Created", zh_cn: "创建成功"})

	ErrorInvalidParams   = NewError(400, http.StatusBadRequest, lang{en: "Invalid parameters", zh_cn: "参数错误"})
	ErrorNotFoundAPI     = NewError(404, http.StatusNotFound, lang{en: "API not found", zh_cn: "接口不存在"})
	ErrorTooManyRequests = NewError(429, http.StatusTooManyRequests, lang{en: "Too many requests", zh_cn: "请求过多"})
	ErrorServerInternal  = NewError(500, http.StatusInternalServerError, lang{en: "Internal server error", zh_cn: "服务器内部错误"})
	ErrorServerBusy      = NewError(503, http.StatusServiceUnavailable, lang{en: "Server busy, retry later", zh_cn: "服务繁忙，请稍后重试"})
	ErrorRequestTimeout  = NewError(504, http.StatusGatewayTimeout, lang{en: "Request timeout", zh_cn: "请求超时"})
)

// content domain and version errors
// 内容域与版本错误
var (
	ErrorInvalidDomain   = NewError(4001, http.StatusBadRequest, lang{en: "Unknown content domain", zh_cn: "未知的内容域"})
	ErrorInvalidTarget   = NewError(4002, http.StatusBadRequest, lang{en: "Invalid target id for domain", zh_cn: "内容域的目标标识无效"})
	ErrorInvalidPayload  = NewError(4003, http.StatusBadRequest, lang{en: "Payload must be valid JSON", zh_cn: "内容必须是合法的 JSON"})
	ErrorVersionNotFound = NewError(4004, http.StatusNotFound, lang{en: "Version not found", zh_cn: "版本不存在"})
	ErrorVersionConflict = NewError(4009, http.StatusConflict, lang{en: "Version does not belong to group", zh_cn: "版本不属于该分组"})

	ErrorVersionInsertFailed = NewError(5001, http.StatusInternalServerError, lang{en: "Failed to save version", zh_cn: "保存版本失败"})
	ErrorVersionListFailed   = NewError(5002, http.StatusInternalServerError, lang{en: "Failed to list versions", zh_cn: "获取版本列表失败"})
	ErrorSetCurrentFailed    = NewError(5003, http.StatusInternalServerError, lang{en: "Failed to set current version", zh_cn: "设置当前版本失败"})
	ErrorEventListFailed     = NewError(5004, http.StatusInternalServerError, lang{en: "Failed to list sync events", zh_cn: "获取同步事件失败"})
)
