package app

import (
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/lxzan/gws"
	"go.uber.org/zap"
)

const (
	WebSocketServerPingInterval = 25 * time.Second
	WebSocketServerPingWait     = 40 * time.Second
)

// WebSocketMessage a "Type|json" frame split into its parts
// WebSocketMessage 拆分后的 "Type|json" 消息帧
type WebSocketMessage struct {
	Type string // 消息类型，例如 "Subscribe", "Broadcast"
	Data []byte // JSON 数据
}

// EncodeMessage builds a "Type|json" frame
// EncodeMessage 构建 "Type|json" 消息帧
func EncodeMessage(msgType string, content any) ([]byte, error) {
	body, err := sonic.Marshal(content)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, len(msgType)+1+len(body))
	frame = append(frame, msgType...)
	frame = append(frame, '|')
	return append(frame, body...), nil
}

// DecodeMessage splits a "Type|json" frame, ok is false when the separator is missing
// DecodeMessage 拆分 "Type|json" 消息帧，缺少分隔符时 ok 为 false
func DecodeMessage(frame string) (msg WebSocketMessage, ok bool) {
	index := strings.Index(frame, "|")
	if index == -1 {
		return msg, false
	}
	msg.Type = frame[:index]
	msg.Data = []byte(frame[index+1:])
	return msg, true
}

type WebsocketServerConfig struct {
	GWSOption    gws.ServerOption
	PingInterval time.Duration
	PingWait     time.Duration
	// Validate validator used by BindAndValid, nil skips validation
	// Validate BindAndValid 使用的校验器，为 nil 时跳过校验
	Validate *validator.Validate
	// OnClientsChanged called with the connection count after a client joins or leaves
	// OnClientsChanged 客户端加入或离开后以当前连接数回调
	OnClientsChanged func(count int)
}

// WebsocketClient one websocket connection and its subscriptions
// WebsocketClient 单个 WebSocket 连接及其订阅
type WebsocketClient struct {
	conn      *gws.Conn
	done      chan struct{}
	closeOnce sync.Once
	Ctx       *gin.Context
	server    *WebsocketServer

	mu        sync.RWMutex
	sessionID string
	topics    map[string]struct{}
}

// SessionID session id declared by the client on Subscribe
// SessionID 客户端订阅时声明的会话 ID
func (c *WebsocketClient) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Topics returns the subscribed topics
// Topics 返回已订阅的主题
func (c *WebsocketClient) Topics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	topics := make([]string, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, t)
	}
	return topics
}

// IsSubscribed reports whether the client listens on topic
// IsSubscribed 返回客户端是否订阅了 topic
func (c *WebsocketClient) IsSubscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.topics[topic]
	return ok
}

// BindAndValid decodes data into obj and validates it
// BindAndValid 将 data 解码到 obj 并进行参数校验
func (c *WebsocketClient) BindAndValid(data []byte, obj any) (bool, ValidErrors) {
	var errs ValidErrors

	if err := sonic.Unmarshal(data, obj); err != nil {
		errs = append(errs, &ValidError{Key: "body", Message: "Invalid message format"})
		return false, errs
	}

	v := c.server.config.Validate
	if v == nil {
		return true, nil
	}
	if err := v.Struct(obj); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			errs = append(errs, &ValidError{Key: "body", Message: err.Error()})
			return false, errs
		}
		var trans ut.Translator
		if c.Ctx != nil {
			trans = translatorFromGin(c.Ctx)
		}
		for _, e := range verrs {
			msg := e.Error()
			if trans != nil {
				msg = e.Translate(trans)
			}
			errs = append(errs, &ValidError{Key: e.Field(), Message: msg})
		}
		return false, errs
	}
	return true, nil
}

// Send writes one "Type|json" frame to this client
// Send 向当前客户端写入一个 "Type|json" 消息帧
func (c *WebsocketClient) Send(msgType string, content any) error {
	frame, err := EncodeMessage(msgType, content)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(gws.OpcodeText, frame)
}

// Broadcast relays a frame to every other subscriber of topic
// Broadcast 将消息帧转发给 topic 的其他订阅者（排除自己）
func (c *WebsocketClient) Broadcast(topic, msgType string, content any) int {
	return c.server.Publish(topic, msgType, content, c.conn)
}

// PingLoop sends pings until the client leaves
// PingLoop 定期发送 Ping，直到客户端离开
func (c *WebsocketClient) PingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WritePing(nil); err != nil {
				c.server.logger.Debug("websocket ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (c *WebsocketClient) stop() {
	c.closeOnce.Do(func() { close(c.done) })
}

// ------------------------------------> WebsocketServer

type ConnStorage = map[*gws.Conn]*WebsocketClient

// WebsocketServer topic based websocket relay
// WebsocketServer 基于主题的 WebSocket 中继
type WebsocketServer struct {
	handlers map[string]func(*WebsocketClient, *WebSocketMessage)
	clients  ConnStorage
	topics   map[string]ConnStorage
	mu       sync.RWMutex
	up       *gws.Upgrader
	config   *WebsocketServerConfig
	logger   *zap.Logger
}

func NewWebsocketServer(c WebsocketServerConfig, logger *zap.Logger) *WebsocketServer {
	if c.PingInterval == 0 {
		c.PingInterval = WebSocketServerPingInterval
	}
	if c.PingWait == 0 {
		c.PingWait = WebSocketServerPingWait
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &WebsocketServer{
		handlers: make(map[string]func(*WebsocketClient, *WebSocketMessage)),
		clients:  make(ConnStorage),
		topics:   make(map[string]ConnStorage),
		config:   &c,
		logger:   logger,
	}
	w.up = gws.NewUpgrader(w, &w.config.GWSOption)
	return w
}

// Run gin handler upgrading the request to a websocket
// Run 将请求升级为 WebSocket 的 gin 处理函数
func (w *WebsocketServer) Run() gin.HandlerFunc {
	return func(c *gin.Context) {
		socket, err := w.up.Upgrade(c.Writer, c.Request)
		if err != nil {
			w.logger.Error("websocket upgrade failed", zap.Error(err))
			return
		}
		client := &WebsocketClient{
			conn:   socket,
			done:   make(chan struct{}),
			Ctx:    c.Copy(),
			server: w,
			topics: make(map[string]struct{}),
		}
		w.addClient(client)
		go client.PingLoop(w.config.PingInterval)
		go socket.ReadLoop()
	}
}

// Use registers the handler of a message type
// Use 注册消息类型的处理函数
func (w *WebsocketServer) Use(action string, handler func(*WebsocketClient, *WebSocketMessage)) {
	w.handlers[action] = handler
}

// Subscribe replaces the subscriptions of a client
// Subscribe 替换客户端的订阅
func (w *WebsocketServer) Subscribe(c *WebsocketClient, sessionID string, topics []string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	c.mu.Lock()
	for t := range c.topics {
		delete(w.topics[t], c.conn)
	}
	c.sessionID = sessionID
	c.topics = make(map[string]struct{}, len(topics))
	for _, t := range topics {
		c.topics[t] = struct{}{}
		if w.topics[t] == nil {
			w.topics[t] = make(ConnStorage)
		}
		w.topics[t][c.conn] = c
	}
	c.mu.Unlock()
}

// Publish sends a frame to all subscribers of topic except exclude, returns delivered count
// Publish 向 topic 的所有订阅者发送消息帧（排除 exclude），返回送达数量
func (w *WebsocketServer) Publish(topic, msgType string, content any, exclude *gws.Conn) int {
	frame, err := EncodeMessage(msgType, content)
	if err != nil {
		w.logger.Error("websocket encode failed", zap.String("type", msgType), zap.Error(err))
		return 0
	}

	w.mu.RLock()
	targets := make([]*gws.Conn, 0, len(w.topics[topic]))
	for conn := range w.topics[topic] {
		if exclude != nil && conn == exclude {
			continue
		}
		targets = append(targets, conn)
	}
	w.mu.RUnlock()

	if len(targets) == 0 {
		return 0
	}

	b := gws.NewBroadcaster(gws.OpcodeText, frame)
	defer b.Close()

	delivered := 0
	for _, conn := range targets {
		if err := b.Broadcast(conn); err != nil {
			w.logger.Debug("websocket broadcast failed", zap.String("topic", topic), zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered
}

// ClientCount number of connected clients
// ClientCount 当前连接的客户端数量
func (w *WebsocketServer) ClientCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.clients)
}

// Close closes every connection
// Close 关闭所有连接
func (w *WebsocketServer) Close() {
	w.mu.RLock()
	conns := make([]*gws.Conn, 0, len(w.clients))
	for conn := range w.clients {
		conns = append(conns, conn)
	}
	w.mu.RUnlock()

	for _, conn := range conns {
		conn.WriteClose(1001, []byte("ServerShutdown"))
	}
}

func (w *WebsocketServer) getClient(conn *gws.Conn) *WebsocketClient {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.clients[conn]
}

func (w *WebsocketServer) addClient(c *WebsocketClient) {
	w.mu.Lock()
	w.clients[c.conn] = c
	count := len(w.clients)
	w.mu.Unlock()
	w.clientsChanged(count)
}

func (w *WebsocketServer) clientsChanged(count int) {
	if w.config.OnClientsChanged != nil {
		w.config.OnClientsChanged(count)
	}
}

func (w *WebsocketServer) removeClient(conn *gws.Conn) *WebsocketClient {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.clients[conn]
	if !ok {
		return nil
	}
	delete(w.clients, conn)
	c.mu.RLock()
	for t := range c.topics {
		delete(w.topics[t], conn)
	}
	c.mu.RUnlock()
	return c
}

func (w *WebsocketServer) OnOpen(conn *gws.Conn) {
	_ = conn.SetDeadline(time.Now().Add(w.config.PingWait))
	w.logger.Debug("websocket client connect")
}

func (w *WebsocketServer) OnClose(conn *gws.Conn, err error) {
	if c := w.removeClient(conn); c != nil {
		c.stop()
		w.clientsChanged(w.ClientCount())
		w.logger.Debug("websocket client leave",
			zap.String("sessionId", c.SessionID()),
			zap.Int("count", w.ClientCount()),
			zap.NamedError("reason", err))
	}
}

func (w *WebsocketServer) OnPing(socket *gws.Conn, payload []byte) {
	_ = socket.SetDeadline(time.Now().Add(w.config.PingWait))
	_ = socket.WritePong(nil)
}

func (w *WebsocketServer) OnPong(socket *gws.Conn, payload []byte) {
	_ = socket.SetDeadline(time.Now().Add(w.config.PingWait))
}

func (w *WebsocketServer) OnMessage(conn *gws.Conn, message *gws.Message) {
	defer message.Close()
	if message.Opcode != gws.OpcodeText {
		return
	}
	_ = conn.SetDeadline(time.Now().Add(w.config.PingWait))

	c := w.getClient(conn)
	if c == nil {
		return
	}

	msg, ok := DecodeMessage(message.Data.String())
	if !ok {
		w.logger.Warn("websocket illegal message", zap.String("sessionId", c.SessionID()))
		return
	}

	handler, exists := w.handlers[msg.Type]
	if !exists {
		w.logger.Warn("websocket unknown message type", zap.String("type", msg.Type))
		return
	}
	handler(c, &msg)
}
