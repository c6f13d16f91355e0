package cmd

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/radovskyb/watcher"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type runFlags struct {
	dir     string // Project root directory // 项目根目录
	port    string // Startup port // 启动端口
	runMode string // Startup mode // 启动模式
	config  string // Specified configuration file path // 指定要使用的配置文件路径
}

func init() {
	runEnv := new(runFlags)

	var runCommand = &cobra.Command{
		Use:   "run [-c config_file] [-d working_dir] [-p port]",
		Short: "Run the authoritative server",
		Run: func(cmd *cobra.Command, args []string) {
			changeDir(runEnv.dir)

			configPath, err := resolveConfig(runEnv.config)
			if err != nil {
				bootstrapLogger.Error("config file auto create error", zap.Error(err))
				return
			}
			runEnv.config = configPath

			s, err := NewServer(runEnv)
			if err != nil {
				bootstrapLogger.Error("api service start err", zap.Error(err))
				return
			}

			// current 当前运行的 server，配置热重载时被替换
			var mu sync.Mutex
			current := func() *Server {
				mu.Lock()
				defer mu.Unlock()
				return s
			}

			w := watcher.New()
			// 每个监听周期至多接收 1 个事件
			w.SetMaxEvents(1)
			// 只通知写入事件
			w.FilterOps(watcher.Write)

			go func() {
				for {
					select {
					case event := <-w.Event:
						old := current()
						old.logger.Info("config watcher change", zap.String("event", event.Op.String()), zap.String("file", event.Path))

						// 旧实例释放端口与数据库后再重新初始化
						old.sc.SendCloseSignal(nil)
						if err := old.sc.WaitClosed(); err != nil {
							old.logger.Warn("previous server closed with error", zap.Error(err))
						}

						next, err := NewServer(runEnv)
						if err != nil {
							bootstrapLogger.Error("service restart err", zap.Error(err))
							continue
						}
						mu.Lock()
						s = next
						mu.Unlock()

					case err := <-w.Error:
						current().logger.Error("config watcher error", zap.Error(err))
					case <-w.Closed:
						bootstrapLogger.Info("config watcher closed")
						return
					}
				}
			}()

			if err := w.Add(runEnv.config); err != nil {
				current().logger.Error("config watcher file error", zap.Error(err))
			} else {
				go func() {
					if err := w.Start(time.Second * 5); err != nil {
						current().logger.Error("config watcher start error", zap.Error(err))
					}
				}()
			}

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			w.Close()
			srv := current()
			srv.logger.Info("Received shutdown signal, initiating graceful shutdown...")
			srv.sc.SendCloseSignal(nil)

			// Wait for all shutdown handlers to complete (including App Container graceful shutdown)
			// 等待所有关闭处理器完成（包括 App Container 的优雅关闭）
			if err := srv.sc.WaitClosed(); err != nil {
				srv.logger.Error("Shutdown completed with error", zap.Error(err))
			} else {
				srv.logger.Info("Service has been shut down gracefully.")
			}
			_ = srv.logger.Sync()
		},
	}

	rootCmd.AddCommand(runCommand)
	fs := runCommand.Flags()
	fs.StringVarP(&runEnv.dir, "dir", "d", "", "run dir")
	fs.StringVarP(&runEnv.port, "port", "p", "", "run port")
	fs.StringVarP(&runEnv.runMode, "mode", "m", "", "run mode")
	fs.StringVarP(&runEnv.config, "config", "c", "", "config file")
}
