package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	internalApp "github.com/haierkeys/fast-content-sync-service/internal/app"
	"github.com/haierkeys/fast-content-sync-service/internal/dao"
	"github.com/haierkeys/fast-content-sync-service/internal/dto"
	"github.com/haierkeys/fast-content-sync-service/internal/routers"
	"github.com/haierkeys/fast-content-sync-service/internal/task"
	"github.com/haierkeys/fast-content-sync-service/internal/upgrade"
	pkgapp "github.com/haierkeys/fast-content-sync-service/pkg/app"
	"github.com/haierkeys/fast-content-sync-service/pkg/logger"
	"github.com/haierkeys/fast-content-sync-service/pkg/safe_close"
	"github.com/haierkeys/fast-content-sync-service/pkg/validator"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// referenceVersionFile 记录上一次运行的程序版本，升级管理器据此判断需要执行的脚本
const referenceVersionFile = "config/lastVersion"

type Server struct {
	logger            *zap.Logger            // Logger // 日志对象
	config            *internalApp.AppConfig // App configuration // 应用配置
	db                *gorm.DB               // Database connection // 数据库连接
	httpServer        *http.Server
	privateHttpServer *http.Server
	wss               *pkgapp.WebsocketServer
	sc                *safe_close.SafeClose
	app               *internalApp.App // App Container
}

// NewServer loads the config and starts every listener of the authoritative server
// NewServer 加载配置并启动权威服务端的所有监听
func NewServer(runEnv *runFlags) (*Server, error) {

	appConfig, configRealpath, err := internalApp.LoadConfig(runEnv.config)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if runEnv.port != "" {
		appConfig.Server.HttpPort = runEnv.port
	}

	// Determine run mode
	// 确定运行模式
	runMode := runEnv.runMode
	if len(runMode) <= 0 {
		runMode = appConfig.Server.RunMode
	}
	if len(runMode) > 0 {
		gin.SetMode(runMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config: appConfig,
		sc:     safe_close.NewSafeClose(),
	}

	lg, err := logger.NewLogger(appConfig.Log.LoggerConfig())
	if err != nil {
		return nil, fmt.Errorf("initLogger: %w", err)
	}
	s.logger = lg

	if err := initStorageWithConfig(appConfig); err != nil {
		return nil, fmt.Errorf("initStorage: %w", err)
	}

	db, err := dao.NewDBEngine(appConfig.Database, lg)
	if err != nil {
		return nil, fmt.Errorf("initDatabase: %w", err)
	}
	s.db = db

	app, err := internalApp.NewApp(appConfig, lg, db)
	if err != nil {
		return nil, fmt.Errorf("failed to create app container: %w", err)
	}
	s.app = app

	// Auto-execute data migrations
	// 自动执行数据升级
	if _, err := upgrade.NewMigrationManager(db, lg, internalApp.Version, referenceVersionFile).Run(context.Background()); err != nil {
		return nil, fmt.Errorf("upgrade: %w", err)
	}

	v, uni, err := validator.Install(dto.Rules)
	if err != nil {
		return nil, fmt.Errorf("initValidator: %w", err)
	}

	initServerScheduler(s)

	banner := `
    ______           __     ______            __             __     _____
   / ____/___ ______/ /_   / ____/___  ____  / /____  ____  / /_   / ___/__  ______  _____
  / /_  / __ '/ ___/ __/  / /   / __ \/ __ \/ __/ _ \/ __ \/ __/   \__ \/ / / / __ \/ ___/
 / __/ / /_/ (__  ) /_   / /___/ /_/ / / / / /_/  __/ / / / /_    ___/ / /_/ / / / / /__
/_/    \__,_/____/\__/   \____/\____/_/ /_/\__/\___/_/ /_/\__/   /____/\__, /_/ /_/\___/
                                                                      /____/`
	lg.Warn(fmt.Sprintf("%s\n\n%s v%s\nGit: %s\nBuildTime: %s\n", banner, internalApp.Name, internalApp.Version, internalApp.GitTag, internalApp.BuildTime))
	lg.Warn("config loaded", zap.String("path", configRealpath))

	// Start HTTP API server
	// 启动 HTTP API 服务器
	if httpAddr := appConfig.Server.HttpPort; len(httpAddr) > 0 {
		handler, wss := routers.NewRouter(app, uni, v.Validate())
		s.wss = wss
		s.httpServer = &http.Server{
			Addr:           httpAddr,
			Handler:        handler,
			ReadTimeout:    time.Duration(appConfig.Server.ReadTimeout) * time.Second,
			WriteTimeout:   time.Duration(appConfig.Server.WriteTimeout) * time.Second,
			MaxHeaderBytes: 1 << 20,
		}
		lg.Warn("api_router", zap.String("config.server.HttpPort", httpAddr))
		s.serve("api service", s.httpServer, func() {
			// 中继连接不受 http.Server.Shutdown 管理，需要单独关闭
			s.wss.Close()
		})
	}

	if httpAddr := appConfig.Server.PrivateHttpListen; len(httpAddr) > 0 {
		s.privateHttpServer = &http.Server{
			Addr:           httpAddr,
			Handler:        routers.NewPrivateRouterWithLogger(runMode, app.Metrics.Registry, lg),
			ReadTimeout:    time.Duration(appConfig.Server.ReadTimeout) * time.Second,
			WriteTimeout:   time.Duration(appConfig.Server.WriteTimeout) * time.Second,
			MaxHeaderBytes: 1 << 20,
		}
		lg.Info("api_router", zap.String("config.server.PrivateHttpListen", httpAddr))
		s.serve("private api service", s.privateHttpServer, nil)
	}

	// Register App Container graceful shutdown
	// 注册 App Container 的优雅关闭
	s.sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer done()
		<-closeSignal
		ctx, cancel := context.WithTimeout(context.Background(), internalApp.DefaultShutdownTimeout)
		defer cancel()

		if err := s.app.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown app container", zap.Error(err))
		} else {
			s.logger.Info("App container shutdown gracefully")
		}
	})

	return s, nil
}

// serve runs srv until it fails or the close signal fires
// serve 运行 srv，直到出错或收到关闭信号
func (s *Server) serve(name string, srv *http.Server, beforeShutdown func()) {
	s.sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer done()
		errChan := make(chan error, 1)
		go func() {
			errChan <- srv.ListenAndServe()
		}()
		select {
		case err := <-errChan:
			s.logger.Error(name+" err", zap.Error(err))
			s.sc.SendCloseSignal(err)
		case <-closeSignal:
			if beforeShutdown != nil {
				beforeShutdown()
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				s.logger.Error(name+" shutdown error", zap.Error(err))
			}
		}
	})
}

func initServerScheduler(s *Server) {
	manager := task.NewManager(s.logger, s.sc)

	// Register all tasks (business layer control)
	// 注册所有任务(业务层控制)
	if err := manager.RegisterServerTasks(s.app); err != nil {
		s.logger.Error("failed to register tasks", zap.Error(err))
		return
	}
	manager.Start()
}

// initStorageWithConfig creates the directories of the log and sqlite files
// initStorageWithConfig 创建日志与 sqlite 文件所在目录
func initStorageWithConfig(cfg *internalApp.AppConfig) error {
	dirs := []string{filepath.Dir(cfg.Log.File)}
	if cfg.Database.Type == "" || cfg.Database.Type == "sqlite" {
		dirs = append(dirs, filepath.Dir(cfg.Database.Path))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0754); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// GetApp gets App Container
// GetApp 获取 App Container
func (s *Server) GetApp() *internalApp.App {
	return s.app
}

// GetConfig gets app configuration
// GetConfig 获取应用配置
func (s *Server) GetConfig() *internalApp.AppConfig {
	return s.config
}
