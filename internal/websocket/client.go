package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // 必须小于 pongWait
	maxMessageSize = 4 * 1024            // 客户端只发送控制帧
	sendBuffer     = 64
)

// Client 任务进度订阅者
// Conn 为空时表示非 WebSocket 订阅者(SSE),由调用方自己消费 Send
type Client struct {
	ID     string
	UserID string
	// TaskID 订阅的任务,为空时订阅该用户的全部任务
	TaskID string
	Hub    *Hub
	Conn   *websocket.Conn
	Send   chan []byte
}

// NewClient 创建订阅者
func NewClient(id string, userID string, taskID string, hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		ID:     id,
		UserID: userID,
		TaskID: taskID,
		Hub:    hub,
		Conn:   conn,
		Send:   make(chan []byte, sendBuffer),
	}
}

// Subscribed 是否订阅了该事件
func (c *Client) Subscribed(event Event) bool {
	if c.TaskID != "" {
		return c.TaskID == event.TaskID
	}
	return event.UserID == "" || event.UserID == c.UserID
}

// deliver 非阻塞投递,缓冲区满返回 false
func (c *Client) deliver(data []byte) bool {
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// ReadPump 读取控制帧维持心跳,连接断开后注销
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.WithError(err).WithField("client_id", c.ID).Warn("Websocket read error")
			}
			return
		}
	}
}

// WritePump 每条事件写一帧,定期发送 ping
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if !ok {
				// Hub 已停止或订阅者过慢被移除
				_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "subscription closed"))
				return
			}
			if err := c.write(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.Conn.WriteMessage(messageType, data)
}
