// Package eventbus is the in-process publish/subscribe hub of the client
// Package eventbus 客户端进程内的发布订阅中心
// Delivery is synchronous and in subscription order; a panicking handler is recovered
// and the remaining handlers still receive the message.
// 投递是同步的并按订阅顺序进行；处理函数 panic 会被恢复，其余处理函数仍会收到消息。
package eventbus

import (
	"fmt"
	"sync"

	"github.com/haierkeys/fast-content-sync-service/internal/domain"
	"github.com/haierkeys/fast-content-sync-service/internal/metrics"
	"github.com/haierkeys/fast-content-sync-service/pkg/logger"
	"go.uber.org/zap"
)

// Origin 变更来源
type Origin string

const (
	// OriginSelf change made by this session // 本会话产生的变更
	OriginSelf Origin = "self"
	// OriginRemote change received from another session // 来自其他会话的变更
	OriginRemote Origin = "remote"
)

// Message 一条变更通知
type Message struct {
	Domain    domain.ContentDomain `json:"domain"`
	TargetID  string               `json:"targetId"`
	Payload   domain.Payload       `json:"payload"`
	Version   int64                `json:"version"`
	VersionID string               `json:"versionId,omitempty"`
	EventID   string               `json:"eventId,omitempty"`
	Pending   bool                 `json:"pending,omitempty"`
	Origin    Origin               `json:"origin"`
}

// Topic 消息所属主题
func (m Message) Topic() string {
	return m.Domain.Topic()
}

// Handler 消息处理函数
type Handler func(topic string, msg Message)

type subscription struct {
	id      string
	topics  map[string]struct{}
	handler Handler
}

func (s *subscription) wants(topic string) bool {
	if len(s.topics) == 0 {
		return true
	}
	_, ok := s.topics[topic]
	return ok
}

// Bus 事件总线
type Bus struct {
	mu      sync.RWMutex
	subs    []*subscription
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New 创建事件总线
func New(logger *zap.Logger, m *metrics.Metrics) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{logger: logger, metrics: m}
}

// Subscribe registers handler under id for topics, no topics means every topic.
// Subscribing an existing id replaces its handler in place.
// Subscribe 以 id 注册处理函数，未指定主题时接收所有主题；重复的 id 原位替换
func (b *Bus) Subscribe(id string, handler Handler, topics ...string) {
	sub := &subscription{id: id, handler: handler}
	if len(topics) > 0 {
		sub.topics = make(map[string]struct{}, len(topics))
		for _, t := range topics {
			sub.topics[t] = struct{}{}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs[i] = sub
			return
		}
	}
	b.subs = append(b.subs, sub)
}

// Unsubscribe 取消订阅，返回是否存在该订阅
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Len 订阅数
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers msg to every subscriber of topic and returns how many handlers completed
// Publish 将消息投递给主题的所有订阅者，返回正常完成的处理函数数量
func (b *Bus) Publish(topic string, msg Message) int {
	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(topic) {
			subs = append(subs, s)
		}
	}
	b.mu.RUnlock()

	delivered := 0
	for _, s := range subs {
		if b.deliver(s, topic, msg) {
			delivered++
		}
	}
	if b.metrics != nil {
		b.metrics.BusDeliveries.WithLabelValues(topic, string(msg.Origin)).Add(float64(delivered))
	}
	return delivered
}

// PublishChange 发布到消息内容域对应的主题
func (b *Bus) PublishChange(msg Message) int {
	return b.Publish(msg.Topic(), msg)
}

func (b *Bus) deliver(s *subscription, topic string, msg Message) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			b.logger.Error("event bus handler panic",
				zap.String("subscriber", s.id),
				zap.String(logger.FieldTopic, topic),
				zap.String(logger.FieldError, fmt.Sprint(r)),
			)
			if b.metrics != nil {
				b.metrics.BusPanics.WithLabelValues(topic).Inc()
			}
		}
	}()
	s.handler(topic, msg)
	return true
}
