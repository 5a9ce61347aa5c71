package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// 事件类型
const (
	EventStepStarted   = "step_started"
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"
	EventTaskCompleted = "task_completed"
	EventPublishStatus = "publish_status"
)

// Event 任务进度事件
type Event struct {
	Type      string    `json:"type"`
	TaskID    string    `json:"task_id"`
	UserID    string    `json:"-"`
	Step      string    `json:"step,omitempty"`
	Status    string    `json:"status,omitempty"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type envelope struct {
	event Event
	data  []byte
}

// Hub 管理所有 WebSocket 连接
type Hub struct {
	// 已注册的客户端
	clients map[*Client]bool

	// 待广播的事件
	broadcast chan envelope

	// 注册新客户端
	Register chan *Client

	// 注销客户端
	Unregister chan *Client

	// 互斥锁，保护 clients map
	mu sync.RWMutex

	// Run 退出后关闭
	done chan struct{}

	logger *logrus.Logger
}

// NewHub 创建新的 Hub
func NewHub(logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run 运行 Hub,ctx 取消后关闭全部连接
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.Send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.Register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.Unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// register 注册客户端,Hub 已停止时返回 false
func (h *Hub) register(client *Client) bool {
	select {
	case h.Register <- client:
		return true
	case <-h.done:
		return false
	}
}

// unregister 注销客户端
func (h *Hub) unregister(client *Client) {
	select {
	case h.Unregister <- client:
	case <-h.done:
	}
}

// Subscribe 注册不经过 WebSocket 连接的订阅者,例如 SSE 流
func (h *Hub) Subscribe(client *Client) bool {
	return h.register(client)
}

// Unsubscribe 注销订阅者
func (h *Hub) Unsubscribe(client *Client) {
	h.unregister(client)
}

// NotifyTask 发布任务事件,队列满时丢弃
func (h *Hub) NotifyTask(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to encode websocket event")
		return
	}

	select {
	case h.broadcast <- envelope{event: event, data: data}:
	default:
		h.logger.WithFields(logrus.Fields{
			"task_id": event.TaskID,
			"type":    event.Type,
		}).Warn("Websocket broadcast queue full, event dropped")
	}
}

// deliver 按订阅关系投递
func (h *Hub) deliver(msg envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if !client.Subscribed(msg.event) {
			continue
		}
		if !client.deliver(msg.data) {
			h.logger.WithFields(logrus.Fields{
				"client_id": client.ID,
				"task_id":   msg.event.TaskID,
			}).Warn("Subscriber too slow, dropping subscription")
			close(client.Send)
			delete(h.clients, client)
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.Send)
	}
}

// HasClient 检查客户端是否存在
func (h *Hub) HasClient(clientID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client.ID == clientID {
			return true
		}
	}
	return false
}

// GetClientCount 获取客户端数量
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}
