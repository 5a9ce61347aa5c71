package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mautops/report-gin/internal/auth"
	"github.com/mautops/report-gin/internal/websocket"
)

// sseHeartbeat 心跳间隔
const sseHeartbeat = 30 * time.Second

// SSEHandler 通过 Server-Sent Events 推送任务进度
// 与 WebSocket 共用 Hub 和订阅规则,适用于无法建立 WebSocket 的客户端
func SSEHandler(hub *websocket.Hub, validator *auth.KeycloakTokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := websocket.Identify(c, validator)
		if !ok {
			return
		}
		taskID := c.Param("id")

		flusher, ok := c.Writer.(http.Flusher)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
			return
		}

		client := websocket.NewClient(uuid.New().String(), userID, taskID, hub, nil)
		if !hub.Subscribe(client) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "notification hub stopped"})
			return
		}
		defer hub.Unsubscribe(client)

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no") // 禁用 Nginx 缓冲
		c.Status(http.StatusOK)

		connected, _ := json.Marshal(map[string]interface{}{
			"type":    "connected",
			"task_id": taskID,
			"time":    time.Now().Unix(),
		})
		if err := sendSSEMessage(c.Writer, connected); err != nil {
			return
		}
		flusher.Flush()

		ticker := time.NewTicker(sseHeartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-c.Request.Context().Done():
				return
			case <-ticker.C:
				if _, err := io.WriteString(c.Writer, ": heartbeat\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case message, ok := <-client.Send:
				if !ok {
					// Hub 已关闭该订阅
					return
				}
				if err := sendSSEMessage(c.Writer, message); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

// sendSSEMessage 发送 SSE 消息
func sendSSEMessage(w io.Writer, data []byte) error {
	// SSE 格式: data: <json>\n\n
	_, err := fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
