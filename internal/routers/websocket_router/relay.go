// Package websocket_router 提供 WebSocket 路由处理器
package websocket_router

import (
	"context"
	"strings"

	"github.com/haierkeys/fast-content-sync-service/internal/domain"
	"github.com/haierkeys/fast-content-sync-service/internal/dto"
	"github.com/haierkeys/fast-content-sync-service/internal/metrics"
	pkgapp "github.com/haierkeys/fast-content-sync-service/pkg/app"
	"github.com/haierkeys/fast-content-sync-service/pkg/code"
	"github.com/haierkeys/fast-content-sync-service/pkg/logger"
	"go.uber.org/zap"
)

// Relay fans change events out to the sessions subscribed to a domain topic
// Relay 将变更事件分发给订阅了内容域主题的会话
type Relay struct {
	wss     *pkgapp.WebsocketServer
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewRelay registers the relay message handlers on wss
// NewRelay 在 wss 上注册中继消息处理函数
func NewRelay(wss *pkgapp.WebsocketServer, m *metrics.Metrics, log *zap.Logger) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Relay{wss: wss, metrics: m, logger: log}
	wss.Use(dto.WSSubscribe, r.Subscribe)
	wss.Use(dto.WSBroadcast, r.Broadcast)
	return r
}

// ClientCount 当前连接数
func (r *Relay) ClientCount() int {
	return r.wss.ClientCount()
}

// Subscribe replaces the topics of the connection, no domains means every domain
// Subscribe 替换连接的订阅主题，未指定内容域时订阅全部
func (r *Relay) Subscribe(c *pkgapp.WebsocketClient, msg *pkgapp.WebSocketMessage) {
	params := &dto.SubscribeRequest{}
	if valid, errs := c.BindAndValid(msg.Data, params); !valid {
		r.respondError(c, code.ErrorInvalidParams, errs.Errors()...)
		return
	}

	domains := domain.Domains()
	if len(params.Domains) > 0 {
		domains = domains[:0:0]
		for _, s := range params.Domains {
			d, err := domain.ParseDomain(s)
			if err != nil {
				r.respondError(c, code.ErrorInvalidDomain, s)
				return
			}
			domains = append(domains, d)
		}
	}

	topics := make([]string, 0, len(domains))
	for _, d := range domains {
		topics = append(topics, d.Topic())
	}
	r.wss.Subscribe(c, params.SessionID, topics)

	r.logger.Info("relay subscribe",
		zap.String(logger.FieldSessionID, params.SessionID),
		zap.Strings(logger.FieldTopic, topics),
	)
	if err := c.Send(dto.WSSubscribed, dto.SubscribedResponse{SessionID: params.SessionID, Topics: topics}); err != nil {
		r.logSendError(c, "Relay.Subscribe", err)
	}
}

// Broadcast relays a client event to the other subscribers of its domain topic
// Broadcast 将客户端事件转发给同一内容域主题的其他订阅者
func (r *Relay) Broadcast(c *pkgapp.WebsocketClient, msg *pkgapp.WebSocketMessage) {
	if c.SessionID() == "" {
		r.respondError(c, code.ErrorInvalidParams, "subscribe before broadcast")
		return
	}

	event := &domain.SyncEvent{}
	if valid, errs := c.BindAndValid(msg.Data, event); !valid {
		r.respondError(c, code.ErrorInvalidParams, errs.Errors()...)
		return
	}
	if !event.Domain.Valid() {
		r.respondError(c, code.ErrorInvalidDomain, string(event.Domain))
		return
	}
	if event.SessionID == "" {
		event.SessionID = c.SessionID()
	}

	topic := event.Domain.Topic()
	n := c.Broadcast(topic, dto.WSEvent, event)
	r.published(topic, n)

	r.logger.Debug("relay broadcast",
		zap.String(logger.FieldSessionID, event.SessionID),
		zap.String(logger.FieldEventID, event.ID),
		zap.String(logger.FieldTopic, topic),
		zap.Int("delivered", n),
	)
}

// NotifyChange pushes a committed change to every subscriber of its domain topic
// NotifyChange 将已提交的变更推送给内容域主题的所有订阅者
func (r *Relay) NotifyChange(event *domain.SyncEvent) {
	topic := event.Domain.Topic()
	n := r.wss.Publish(topic, dto.WSEvent, event, nil)
	r.published(topic, n)
}

// UpdateClients 更新在线连接数指标
func (r *Relay) UpdateClients(count int) {
	if r.metrics != nil {
		r.metrics.RelayClients.Set(float64(count))
	}
}

func (r *Relay) published(topic string, n int) {
	if r.metrics != nil && n > 0 {
		r.metrics.RelayPublished.WithLabelValues(topic).Add(float64(n))
	}
}

// respondError 发送 Error 消息给客户端
func (r *Relay) respondError(c *pkgapp.WebsocketClient, codeErr *code.Code, details ...string) {
	r.logger.Warn("relay rejected message",
		zap.String(logger.FieldSessionID, c.SessionID()),
		zap.Int("code", codeErr.Code()),
		zap.Strings("details", details),
	)
	err := c.Send(dto.WSError, dto.ErrorMessage{
		Code:    codeErr.Code(),
		Message: codeErr.Msg(),
		Details: details,
	})
	if err != nil {
		r.logSendError(c, "Relay.respondError", err)
	}
}

func (r *Relay) logSendError(c *pkgapp.WebsocketClient, method string, err error) {
	// 连接关闭导致的写失败降级为 Debug
	if isNetworkClosedError(err) {
		r.logger.Debug(method, zap.String(logger.FieldSessionID, c.SessionID()), zap.Error(err))
		return
	}
	r.logger.Error(method, zap.String(logger.FieldSessionID, c.SessionID()), zap.Error(err))
}

// isNetworkClosedError 检查是否为网络关闭相关的错误
func isNetworkClosedError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "broken pipe") ||
		err == context.Canceled
}
