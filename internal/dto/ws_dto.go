package dto

// WebSocketAction WebSocket 文本消息类型，帧格式为 "Type|json"
type WebSocketAction = string

const (
	// WSSubscribe client → server, replaces the subscriptions of the connection
	// WSSubscribe 客户端 → 服务端，替换连接的订阅
	WSSubscribe WebSocketAction = "Subscribe"
	// WSSubscribed server → client, acknowledges Subscribe
	// WSSubscribed 服务端 → 客户端，订阅确认
	WSSubscribed WebSocketAction = "Subscribed"
	// WSEvent server → client, a change of a subscribed topic
	// WSEvent 服务端 → 客户端，已订阅主题的变更
	WSEvent WebSocketAction = "Event"
	// WSBroadcast client → server, relays a change to the other sessions
	// WSBroadcast 客户端 → 服务端，把变更转发给其他会话
	WSBroadcast WebSocketAction = "Broadcast"
	// WSError server → client, a rejected message
	// WSError 服务端 → 客户端，消息被拒绝
	WSError WebSocketAction = "Error"
)

// SubscribeRequest 订阅请求
type SubscribeRequest struct {
	SessionID string   `json:"sessionId" binding:"required,max=128"`
	Domains   []string `json:"domains" binding:"dive,content_domain"`
}

// SubscribedResponse 订阅确认
type SubscribedResponse struct {
	SessionID string   `json:"sessionId"`
	Topics    []string `json:"topics"`
}

// ErrorMessage WebSocket 错误消息
type ErrorMessage struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}
