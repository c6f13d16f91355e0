package cmd

import (
	"os"

	"github.com/haierkeys/fast-content-sync-service/pkg/fileurl"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// bootstrapLogger bootstrap stage logger
// bootstrapLogger 启动阶段日志器
// Used before the configured logger exists
// 用于在主日志器初始化之前记录启动过程中的日志
var bootstrapLogger *zap.Logger

// configCandidates 未指定配置文件时依次查找
var configCandidates = []string{
	"config/config-dev.yaml",
	"config.yaml",
	"config/config.yaml",
}

func init() {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	// Set log level based on DEBUG environment variable
	// 根据 DEBUG 环境变量设置日志级别
	level := zapcore.InfoLevel
	if os.Getenv("DEBUG") != "" {
		level = zapcore.DebugLevel
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(os.Stderr), level)
	bootstrapLogger = zap.New(core, zap.AddCaller())
}

// BootstrapLogger gets the bootstrap stage logger
// BootstrapLogger 获取启动阶段日志器
func BootstrapLogger() *zap.Logger {
	return bootstrapLogger
}

// changeDir 切换工作目录
func changeDir(dir string) {
	if dir == "" {
		return
	}
	if err := os.Chdir(dir); err != nil {
		bootstrapLogger.Error("failed to change the current working directory", zap.Error(err))
		return
	}
	bootstrapLogger.Info("working directory changed", zap.String("dir", dir))
}

// resolveConfig returns the config file to use, writing the embedded default when none exists
// resolveConfig 返回要使用的配置文件，不存在时写入内嵌的默认配置
func resolveConfig(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	for _, p := range configCandidates {
		if fileurl.IsExist(p) {
			return p, nil
		}
	}

	path = configCandidates[len(configCandidates)-1]
	bootstrapLogger.Warn("config file not found, creating default config", zap.String("path", path))
	if _, err := fileurl.WriteIfAbsent(path, []byte(configDefault)); err != nil {
		return "", err
	}
	return path, nil
}
