package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaWS "github.com/gorilla/websocket"
	"github.com/mautops/report-gin/internal/auth"
)

var upgrader = gorillaWS.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Identify 解析订阅者身份
// 配置了 validator 时通过 query 参数 token 认证,否则使用开发环境请求头身份
func Identify(c *gin.Context, validator *auth.KeycloakTokenValidator) (string, bool) {
	if validator != nil {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return "", false
		}
		claims, err := validator.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return "", false
		}
		return claims.Sub, true
	}

	userID := c.GetHeader(auth.HeaderUserID)
	if userID == "" {
		userID = c.Query("user_id")
	}
	if userID == "" {
		userID = "anonymous"
	}
	return userID, true
}

// Handler 任务进度推送处理器
func Handler(hub *Hub, validator *auth.KeycloakTokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := Identify(c, validator)
		if !ok {
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade 已写入错误响应
			return
		}

		client := NewClient(uuid.New().String(), userID, c.Param("id"), hub, conn)
		if !hub.register(client) {
			conn.Close()
			return
		}

		go client.ReadPump()
		go client.WritePump()
	}
}
