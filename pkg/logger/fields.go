package logger

// 统一的日志字段命名常量
// Shared log field names, keep queries over logs consistent
const (
	// FieldTraceID 追踪 ID 字段
	FieldTraceID = "traceId"

	// FieldDomain 内容域字段
	FieldDomain = "domain"

	// FieldTargetID 目标标识字段
	FieldTargetID = "targetId"

	// FieldGroup 分组键字段 (domain/target)
	FieldGroup = "group"

	// FieldVersion 版本号字段
	FieldVersion = "version"

	// FieldVersionID 版本记录 ID 字段
	FieldVersionID = "versionId"

	// FieldEventID 同步事件 ID 字段
	FieldEventID = "eventId"

	// FieldAction 操作类型字段
	FieldAction = "action"

	// FieldAuthor 作者字段
	FieldAuthor = "author"

	// FieldSessionID 会话 ID 字段
	FieldSessionID = "sessionId"

	// FieldState 连接状态字段
	FieldState = "state"

	// FieldAttempt 重连次数字段
	FieldAttempt = "attempt"

	// FieldTopic 事件总线主题字段
	FieldTopic = "topic"

	// FieldDuration 耗时字段
	FieldDuration = "duration"

	// FieldMethod 方法名称字段
	FieldMethod = "method"

	// FieldError 错误信息字段
	FieldError = "error"
)
