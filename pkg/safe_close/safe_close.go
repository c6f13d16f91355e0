// Package safe_close coordinates shutdown of long running goroutines
// Package safe_close 协调长时间运行 goroutine 的关闭
package safe_close

import (
	"sync"
)

// SafeClose broadcasts one close signal to every attached worker and waits for them
// SafeClose 向所有挂载的 worker 广播一次关闭信号并等待它们退出
type SafeClose struct {
	closeSignal chan struct{}
	once        sync.Once
	wg          sync.WaitGroup

	mu  sync.Mutex
	err error
}

// NewSafeClose creates a SafeClose
// NewSafeClose 创建 SafeClose
func NewSafeClose() *SafeClose {
	return &SafeClose{closeSignal: make(chan struct{})}
}

// Attach starts fn in a goroutine, fn must call done when it returns
// Attach 在 goroutine 中启动 fn，fn 退出时必须调用 done
func (s *SafeClose) Attach(fn func(done func(), closeSignal <-chan struct{})) {
	s.wg.Add(1)
	go fn(s.wg.Done, s.closeSignal)
}

// SendCloseSignal closes the signal channel once, the first non nil err is kept
// SendCloseSignal 只关闭一次信号通道，保留第一个非空错误
func (s *SafeClose) SendCloseSignal(err error) {
	if err != nil {
		s.mu.Lock()
		if s.err == nil {
			s.err = err
		}
		s.mu.Unlock()
	}
	s.once.Do(func() {
		close(s.closeSignal)
	})
}

// CloseSignal returns the channel closed on shutdown
// CloseSignal 返回关闭时被关闭的通道
func (s *SafeClose) CloseSignal() <-chan struct{} {
	return s.closeSignal
}

// WaitClosed waits for all attached workers and returns the first close error
// WaitClosed 等待所有挂载的 worker 退出，返回第一个关闭错误
func (s *SafeClose) WaitClosed() error {
	s.wg.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
