package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mautops/report-gin/internal/database"
	"gorm.io/gorm"
)

// Pinger 可探活的外部依赖
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthController 健康检查控制器
type HealthController struct {
	db     *gorm.DB
	engine Pinger
}

// NewHealthController 创建健康检查控制器
func NewHealthController(db *gorm.DB, engine Pinger) *HealthController {
	return &HealthController{
		db:     db,
		engine: engine,
	}
}

// Check 健康检查
// 数据库不可用时返回 503,生成引擎不可用只标记为 degraded
func (c *HealthController) Check(ctx *gin.Context) {
	status := "healthy"
	checks := make(map[string]string)

	reqCtx, cancel := context.WithTimeout(ctx.Request.Context(), 5*time.Second)
	defer cancel()

	if c.db != nil {
		if err := database.CheckHealth(reqCtx, c.db); err != nil {
			status = "unhealthy"
			checks["database"] = "unhealthy: " + err.Error()
		} else {
			checks["database"] = "healthy"
		}
	} else {
		checks["database"] = "not configured"
	}

	if c.engine != nil {
		if err := c.engine.Ping(reqCtx); err != nil {
			if status == "healthy" {
				status = "degraded"
			}
			checks["engine"] = "unhealthy: " + err.Error()
		} else {
			checks["engine"] = "healthy"
		}
	} else {
		checks["engine"] = "not configured"
	}

	httpStatus := http.StatusOK
	if status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}

	ctx.JSON(httpStatus, gin.H{
		"status":    status,
		"timestamp": time.Now().Unix(),
		"checks":    checks,
	})
}
