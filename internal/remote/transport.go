package remote

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/haierkeys/fast-content-sync-service/internal/domain"
	"github.com/haierkeys/fast-content-sync-service/internal/dto"
	"github.com/haierkeys/fast-content-sync-service/internal/syncchannel"
	pkgapp "github.com/haierkeys/fast-content-sync-service/pkg/app"
	"github.com/haierkeys/fast-content-sync-service/pkg/logger"
	"github.com/lxzan/gws"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	syncPath = apiPrefix + "/ws"
	// eventBuffer 推送事件缓冲区大小
	eventBuffer = 64
	// defaultHandshakeTimeout ctx 没有截止时间时的握手超时
	defaultHandshakeTimeout = 10 * time.Second
)

// ErrSubscriptionClosed 订阅已关闭
var ErrSubscriptionClosed = errors.New("subscription closed")

// Transport websocket implementation of syncchannel.Transport
// Transport syncchannel.Transport 的 WebSocket 实现
type Transport struct {
	addr   string
	header http.Header
	logger *zap.Logger
}

var _ syncchannel.Transport = (*Transport)(nil)

// NewTransport derives the relay address from the http base url of the server
// NewTransport 从服务端 http 地址推导中继地址
func NewTransport(baseURL string, logger *zap.Logger) (*Transport, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse server url")
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, errors.Errorf("unsupported relay scheme %q", u.Scheme)
	}
	u = u.JoinPath(syncPath)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{addr: u.String(), header: http.Header{}, logger: logger}, nil
}

// Addr 中继地址
func (t *Transport) Addr() string {
	return t.addr
}

type dialResult struct {
	conn *gws.Conn
	err  error
}

// Subscribe dials the relay, sends Subscribe and waits for Subscribed
// Subscribe 连接中继，发送 Subscribe 并等待 Subscribed 确认
func (t *Transport) Subscribe(ctx context.Context, sessionID string, domains []domain.ContentDomain) (syncchannel.Subscription, error) {
	timeout := defaultHandshakeTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return nil, domain.NewTransient("subscribe", context.DeadlineExceeded)
		}
	}

	sub := newSubscription(sessionID, t.logger)
	dialed := make(chan dialResult, 1)
	go func() {
		conn, _, err := gws.NewClient(sub, &gws.ClientOption{
			Addr:             t.addr,
			RequestHeader:    t.header.Clone(),
			HandshakeTimeout: timeout,
		})
		dialed <- dialResult{conn: conn, err: err}
	}()

	var conn *gws.Conn
	select {
	case <-ctx.Done():
		// 握手完成后再关闭，避免泄漏连接
		go func() {
			if r := <-dialed; r.conn != nil {
				_ = r.conn.WriteClose(1000, nil)
			}
		}()
		return nil, domain.NewTransient("subscribe", ctx.Err())
	case r := <-dialed:
		if r.err != nil {
			return nil, domain.NewTransient("subscribe", r.err)
		}
		conn = r.conn
	}

	sub.attach(conn)
	go conn.ReadLoop()

	names := make([]string, 0, len(domains))
	for _, d := range domains {
		names = append(names, string(d))
	}
	frame, err := pkgapp.EncodeMessage(dto.WSSubscribe, dto.SubscribeRequest{SessionID: sessionID, Domains: names})
	if err != nil {
		_ = sub.Close()
		return nil, errors.Wrap(err, "encode subscribe")
	}
	if err := conn.WriteMessage(gws.OpcodeText, frame); err != nil {
		_ = sub.Close()
		return nil, domain.NewTransient("subscribe", err)
	}

	select {
	case <-sub.acked:
		t.logger.Info("relay subscribed",
			zap.String(logger.FieldSessionID, sessionID),
			zap.Strings(logger.FieldTopic, sub.topics),
		)
		return sub, nil
	case <-sub.done:
		return nil, domain.NewTransient("subscribe", sub.Err())
	case <-ctx.Done():
		_ = sub.Close()
		return nil, domain.NewTransient("subscribe", ctx.Err())
	}
}

// subscription one relay connection, also its gws event handler
// subscription 一条中继连接，同时作为 gws 事件处理器
type subscription struct {
	gws.BuiltinEventHandler

	sessionID string
	logger    *zap.Logger
	events    chan *domain.SyncEvent
	acked     chan struct{}
	done      chan struct{}

	mu        sync.Mutex
	conn      *gws.Conn
	topics    []string
	err       error
	ackOnce   sync.Once
	closeOnce sync.Once
}

func newSubscription(sessionID string, log *zap.Logger) *subscription {
	return &subscription{
		sessionID: sessionID,
		logger:    log,
		events:    make(chan *domain.SyncEvent, eventBuffer),
		acked:     make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (s *subscription) attach(conn *gws.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
}

func (s *subscription) Events() <-chan *domain.SyncEvent { return s.events }

func (s *subscription) Done() <-chan struct{} { return s.done }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Publish 发送 Broadcast 消息
func (s *subscription) Publish(ctx context.Context, event *domain.SyncEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-s.done:
		return ErrSubscriptionClosed
	default:
	}
	frame, err := pkgapp.EncodeMessage(dto.WSBroadcast, event)
	if err != nil {
		return errors.Wrap(err, "encode broadcast")
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrSubscriptionClosed
	}
	return conn.WriteMessage(gws.OpcodeText, frame)
}

// Close 关闭订阅
func (s *subscription) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	s.finish(ErrSubscriptionClosed)
	if conn != nil {
		_ = conn.WriteClose(1000, []byte("bye"))
	}
	return nil
}

func (s *subscription) finish(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *subscription) OnClose(socket *gws.Conn, err error) {
	if err == nil {
		err = ErrSubscriptionClosed
	}
	s.finish(err)
}

func (s *subscription) OnPing(socket *gws.Conn, payload []byte) {
	_ = socket.WritePong(payload)
}

func (s *subscription) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()
	if message.Opcode != gws.OpcodeText {
		return
	}
	msg, ok := pkgapp.DecodeMessage(message.Data.String())
	if !ok {
		s.logger.Warn("relay sent illegal frame", zap.String(logger.FieldSessionID, s.sessionID))
		return
	}

	switch msg.Type {
	case dto.WSSubscribed:
		var ack dto.SubscribedResponse
		if err := sonic.Unmarshal(msg.Data, &ack); err == nil {
			s.mu.Lock()
			s.topics = ack.Topics
			s.mu.Unlock()
		}
		s.ackOnce.Do(func() { close(s.acked) })

	case dto.WSEvent:
		event := &domain.SyncEvent{}
		if err := sonic.Unmarshal(msg.Data, event); err != nil {
			s.logger.Warn("relay sent malformed event", zap.Error(err))
			return
		}
		select {
		case s.events <- event:
		case <-s.done:
		}

	case dto.WSError:
		var e dto.ErrorMessage
		_ = sonic.Unmarshal(msg.Data, &e)
		s.logger.Warn("relay rejected message",
			zap.String(logger.FieldSessionID, s.sessionID),
			zap.Int("code", e.Code),
			zap.String("message", e.Message),
			zap.Strings("details", e.Details),
		)
		// 订阅确认前的错误视为订阅失败
		select {
		case <-s.acked:
		default:
			_ = socket.WriteClose(1000, nil)
			s.finish(errors.Errorf("relay refused subscribe: %s %v", e.Message, e.Details))
		}
	}
}
