package routers

import (
	"time"

	"github.com/haierkeys/fast-content-sync-service/internal/app"
	"github.com/haierkeys/fast-content-sync-service/internal/middleware"
	"github.com/haierkeys/fast-content-sync-service/internal/routers/api_router"
	"github.com/haierkeys/fast-content-sync-service/internal/routers/websocket_router"
	pkgapp "github.com/haierkeys/fast-content-sync-service/pkg/app"
	"github.com/haierkeys/fast-content-sync-service/pkg/limiter"

	"github.com/gin-gonic/gin"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/lxzan/gws"
)

const (
	versionsPath = "/api/v1/versions/:domain"
	currentPath  = "/api/v1/versions/:domain/current"
)

// writeLimiter token buckets of the write routes, rate is writes per second and 0 disables limiting
// writeLimiter 写接口的令牌桶，rate 为每秒写入数，0 表示不限制
func writeLimiter(rate int64) limiter.Face {
	if rate <= 0 {
		return limiter.NewMethodLimiter()
	}
	return limiter.NewMethodLimiter().AddBuckets(
		limiter.BucketRule{Key: versionsPath, FillInterval: time.Second, Capacity: rate, Quantum: rate},
		limiter.BucketRule{Key: currentPath, FillInterval: time.Second, Capacity: rate, Quantum: rate},
	)
}

// NewRouter builds the public router and wires the websocket relay as the change notifier
// NewRouter 构建对外路由，并将 WebSocket 中继注册为变更通知器
// validate is used by websocket message binding, nil skips validation
// validate 用于 WebSocket 消息绑定校验，为 nil 时跳过
func NewRouter(appContainer *app.App, uni *ut.UniversalTranslator, validate *validator.Validate) (*gin.Engine, *pkgapp.WebsocketServer) {

	// 获取配置
	cfg := appContainer.Config()

	var relay *websocket_router.Relay
	wss := pkgapp.NewWebsocketServer(pkgapp.WebsocketServerConfig{
		GWSOption: gws.ServerOption{
			CheckUtf8Enabled:    true,
			ParallelEnabled:     true,         // 开启并行消息处理
			Recovery:            gws.Recovery, // 开启异常恢复
			PermessageDeflate:   gws.PermessageDeflate{Enabled: true},
			ParallelGolimit:     8,
			ReadMaxPayloadSize:  1024 * 1024 * 16,
			WriteMaxPayloadSize: 1024 * 1024 * 16,
		},
		Validate: validate,
		OnClientsChanged: func(count int) {
			if relay != nil {
				relay.UpdateClients(count)
			}
		},
	}, appContainer.Logger())

	relay = websocket_router.NewRelay(wss, appContainer.Metrics, appContainer.Logger())
	appContainer.VersionService.SetNotifier(relay)

	r := gin.New()

	api := r.Group("/api")
	{
		api.Use(middleware.AppInfoWithConfig(app.Name, appContainer.Version().Version))
		api.Use(middleware.TraceMiddlewareWithConfig(cfg.Tracer.Enabled, cfg.Tracer.Header)) // Trace ID 中间件
		api.Use(middleware.ContextTimeout(time.Duration(cfg.App.DefaultContextTimeout) * time.Second))
		api.Use(middleware.LangWithTranslator(uni))
		api.Use(middleware.AccessLogWithLogger(appContainer.Logger()))
		api.Use(middleware.RecoveryWithLogger(appContainer.Logger()))

		// 创建 Handlers（注入 App Container）
		versionHandler := api_router.NewVersionHandler(appContainer)
		eventHandler := api_router.NewEventHandler(appContainer)
		healthHandler := api_router.NewHealthHandler(appContainer, relay)

		api.GET("/health", healthHandler.Check)
		api.GET("/version", versionHandler.ServerVersion)

		// 推送订阅
		api.GET("/v1/ws", wss.Run())

		limit := middleware.RateLimiter(writeLimiter(cfg.App.WriteRateLimit))
		v1 := api.Group("/v1")
		{
			v1.POST("/versions/:domain", limit, versionHandler.Create)
			v1.GET("/versions/:domain", versionHandler.List)
			v1.PUT("/versions/:domain/current", limit, versionHandler.SetCurrent)
			v1.GET("/events", eventHandler.List)
		}
	}

	r.NoRoute(middleware.NoFound())

	return r, wss
}
