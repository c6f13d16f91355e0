package task

import (
	"sync"

	"github.com/haierkeys/fast-content-sync-service/internal/app"
)

// ServerTaskFactory 服务端任务工厂，返回 nil 任务表示该任务未启用
type ServerTaskFactory func(a *app.App) (Task, error)

// ClientTaskFactory 客户端任务工厂，返回 nil 任务表示该任务未启用
type ClientTaskFactory func(c *app.Client) (Task, error)

// 全局任务注册表
var (
	serverRegistry []ServerTaskFactory
	clientRegistry []ClientTaskFactory
	registryMutex  sync.RWMutex
)

// RegisterServer 注册服务端任务工厂
// 通常在各个任务文件的 init() 函数中调用
func RegisterServer(factory ServerTaskFactory) {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	serverRegistry = append(serverRegistry, factory)
}

// RegisterClient 注册客户端任务工厂
func RegisterClient(factory ClientTaskFactory) {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	clientRegistry = append(clientRegistry, factory)
}

// ServerFactories 获取所有已注册的服务端任务工厂
func ServerFactories() []ServerTaskFactory {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	// 返回副本,避免外部修改
	factories := make([]ServerTaskFactory, len(serverRegistry))
	copy(factories, serverRegistry)
	return factories
}

// ClientFactories 获取所有已注册的客户端任务工厂
func ClientFactories() []ClientTaskFactory {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	factories := make([]ClientTaskFactory, len(clientRegistry))
	copy(factories, clientRegistry)
	return factories
}
