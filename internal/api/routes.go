package api

import (
	"github.com/gin-gonic/gin"
	"github.com/mautops/report-gin/internal/auth"
	"github.com/mautops/report-gin/internal/config"
	"github.com/mautops/report-gin/internal/service"
	"github.com/mautops/report-gin/internal/websocket"
	"gorm.io/gorm"
)

// RouterDeps 路由依赖,Hub 和 Validator 可以为空
type RouterDeps struct {
	Config             *config.Config
	DB                 *gorm.DB
	Engine             Pinger
	Hub                *websocket.Hub
	Validator          *auth.KeycloakTokenValidator
	WorkflowService    service.WorkflowService
	PublicationService service.PublicationService
	AuditLogService    service.AuditLogService
}

// SetupRoutes 配置路由
func SetupRoutes(deps RouterDeps) *gin.Engine {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}

	router := gin.New()

	// 中间件
	router.Use(gin.Recovery())
	if TracingEnabled() {
		router.Use(TracingMiddleware())
	}
	router.Use(RequestIDMiddleware())
	router.Use(RequestLogMiddleware())
	router.Use(SecurityHeadersMiddleware(config.IsProduction(cfg)))
	router.Use(I18nMiddleware())
	router.Use(CORSMiddleware(cfg.CORS))
	router.Use(ErrorHandlerMiddleware())

	// 健康检查
	healthController := NewHealthController(deps.DB, deps.Engine)
	router.GET("/health", healthController.Check)

	// Prometheus 指标端点
	router.GET("/metrics", MetricsHandler)

	// 进度推送
	if deps.Hub != nil {
		router.GET("/ws/reports", websocket.Handler(deps.Hub, deps.Validator))
		router.GET("/ws/reports/:id", websocket.Handler(deps.Hub, deps.Validator))
		router.GET("/sse/reports/:id", SSEHandler(deps.Hub, deps.Validator))
	}

	// API v1 路由组
	v1 := router.Group("/api/v1")
	if cfg.RateLimit.Enabled {
		v1.Use(RateLimitMiddleware(cfg.RateLimit))
	}
	if deps.Validator != nil {
		v1.Use(auth.KeycloakAuthMiddleware(deps.Validator))
	} else {
		v1.Use(auth.HeaderIdentityMiddleware())
	}

	reportController := NewReportController(deps.WorkflowService, deps.AuditLogService)
	publicationController := NewPublicationController(deps.PublicationService)

	reports := v1.Group("/reports")
	{
		reports.POST("", reportController.Create)
		reports.GET("", reportController.List)
		reports.POST("/batch/archive", publicationController.BatchArchive)

		reports.GET("/:taskId", reportController.Get)
		reports.DELETE("/:taskId", reportController.Delete)
		reports.GET("/:taskId/status", reportController.GetStatus)
		reports.GET("/:taskId/content", reportController.GetContent)
		reports.GET("/:taskId/history", reportController.GetHistory)
		reports.GET("/:taskId/audit-logs", reportController.GetAuditLogs)

		// 步骤
		reports.POST("/:taskId/steps/:step/execute", reportController.ExecuteStep)
		reports.POST("/:taskId/steps/:step/rerun", reportController.Rerun)
		reports.GET("/:taskId/steps/:step", reportController.GetStepResult)
		reports.GET("/:taskId/steps/:step/history", reportController.GetStepHistory)
		reports.GET("/:taskId/steps/:step/versions/:version", reportController.Rollback)
		reports.POST("/:taskId/steps/:step/versions/:version/rollback", reportController.ApplyRollback)

		// 文件
		reports.POST("/:taskId/export", reportController.Export)
		reports.GET("/:taskId/download/:filename", reportController.Download)
		reports.DELETE("/:taskId/cleanup", reportController.Cleanup)

		// 发布
		reports.POST("/:taskId/publish", publicationController.Publish)
		reports.POST("/:taskId/unpublish", publicationController.Unpublish)
		reports.POST("/:taskId/archive", publicationController.Archive)
		reports.POST("/:taskId/restore", publicationController.Restore)
		reports.GET("/:taskId/artifact", publicationController.ArtifactURL)
	}

	return router
}
