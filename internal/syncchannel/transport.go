package syncchannel

import (
	"context"

	"github.com/haierkeys/fast-content-sync-service/internal/domain"
	"github.com/haierkeys/fast-content-sync-service/internal/versionstore"
)

// Transport opens push subscriptions to the relay
// Transport 向中继建立推送订阅
type Transport interface {
	// Subscribe dials the relay and subscribes sessionID to the change topics of domains.
	// ctx bounds the attempt only, not the subscription.
	// Subscribe 连接中继并为 sessionID 订阅内容域的变更主题；ctx 只限制建立过程
	Subscribe(ctx context.Context, sessionID string, domains []domain.ContentDomain) (Subscription, error)
}

// Subscription 一个已建立的推送订阅
type Subscription interface {
	// Events 推送的变更事件
	Events() <-chan *domain.SyncEvent
	// Done is closed when the subscription is lost or closed
	// Done 订阅断开或关闭时关闭
	Done() <-chan struct{}
	// Err 断开原因
	Err() error
	// Publish 向其他会话广播事件
	Publish(ctx context.Context, event *domain.SyncEvent) error
	// Close 关闭订阅
	Close() error
}

// Store is the part of the version store the channel drives
// Store 同步通道所驱动的版本存储接口
type Store interface {
	Refresh(ctx context.Context, d domain.ContentDomain, targetID string) (*domain.VersionRecord, bool, error)
	ApplyRemote(ctx context.Context, rec *domain.VersionRecord) (bool, error)
	ListCurrent(ctx context.Context, d domain.ContentDomain) ([]*domain.VersionRecord, error)
	FlushPending(ctx context.Context, domains ...domain.ContentDomain) (*versionstore.FlushReport, error)
}
