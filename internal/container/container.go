package container

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mautops/report-gin/internal/api"
	"github.com/mautops/report-gin/internal/auth"
	"github.com/mautops/report-gin/internal/config"
	"github.com/mautops/report-gin/internal/database"
	"github.com/mautops/report-gin/internal/engine"
	"github.com/mautops/report-gin/internal/metrics"
	"github.com/mautops/report-gin/internal/repository"
	"github.com/mautops/report-gin/internal/service"
	"github.com/mautops/report-gin/internal/storage"
	"github.com/mautops/report-gin/internal/websocket"
	"github.com/mautops/report-gin/internal/worker"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Container 依赖注入容器
// 管理所有应用依赖,包括数据库、生成引擎客户端、后台执行器、服务等
type Container struct {
	cfg               *config.Config
	logger            *logrus.Logger
	db                *gorm.DB
	engineClient      *engine.Client
	objects           storage.ObjectStorage
	backend           worker.Backend
	hub               *websocket.Hub
	collector         *metrics.Collector
	keycloakValidator *auth.KeycloakTokenValidator
	auditLogSvc       service.AuditLogService
	workflowSvc       service.WorkflowService
	publicationSvc    service.PublicationService
	started           bool
}

// NewContainer 创建依赖注入容器
// 根据配置初始化所有依赖组件,不启动任何后台协程
func NewContainer(cfg *config.Config) (*Container, error) {
	// 1. 日志
	logger, err := api.NewLoggerFromConfig(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	api.SetLogger(logger)

	// 2. 数据库（带重试机制）
	// 默认重试 3 次，初始间隔 1 秒，指数退避
	db, err := database.ConnectWithRetry(cfg.Database, 3, time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	// 3. 对象存储
	objects, err := newObjectStorage(cfg.Storage, logger)
	if err != nil {
		_ = database.Close(db)
		return nil, err
	}

	// 4. 后台执行器
	backend, err := worker.New(cfg.Worker, logger)
	if err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("failed to initialize worker: %w", err)
	}

	taskRepo := repository.NewTaskRepository(db)
	historyRepo := repository.NewStepHistoryRepository(db)
	engineClient := engine.NewClient(cfg.Engine, logger)
	hub := websocket.NewHub(logger)
	auditLogSvc := service.NewAuditLogService(repository.NewAuditLogRepository(db))

	workflowSvc := service.NewWorkflowService(service.WorkflowDeps{
		TaskRepo:    taskRepo,
		HistoryRepo: historyRepo,
		Engine:      engineClient,
		Storage:     objects,
		Runner:      backend,
		Notifier:    hub,
		AuditLogSvc: auditLogSvc,
		Logger:      logger,
	})
	publicationSvc := service.NewPublicationService(service.PublicationDeps{
		TaskRepo:    taskRepo,
		Renderer:    service.NewEngineRenderer(engineClient, cfg.Publish.Format),
		Engine:      engineClient,
		Storage:     objects,
		PathPrefix:  cfg.Storage.PathPrefix,
		Notifier:    hub,
		AuditLogSvc: auditLogSvc,
		Logger:      logger,
	})

	// 只有进程内队列能报告积压数
	var depth metrics.QueueDepth
	if d, ok := backend.(metrics.QueueDepth); ok {
		depth = d
	}
	collector := metrics.NewCollector(db, taskRepo, depth, cfg.Metrics.CollectInterval, logger)

	// 5. Keycloak Token 验证器,未配置 issuer 时使用请求头身份
	var validator *auth.KeycloakTokenValidator
	if cfg.Keycloak.Issuer != "" {
		validator = auth.NewKeycloakTokenValidator(cfg.Keycloak.Issuer, cfg.Keycloak.JWKSURL)
	} else {
		logger.Warn("Keycloak issuer not configured, falling back to X-User-Id header identity")
	}

	return &Container{
		cfg:               cfg,
		logger:            logger,
		db:                db,
		engineClient:      engineClient,
		objects:           objects,
		backend:           backend,
		hub:               hub,
		collector:         collector,
		keycloakValidator: validator,
		auditLogSvc:       auditLogSvc,
		workflowSvc:       workflowSvc,
		publicationSvc:    publicationSvc,
	}, nil
}

// newObjectStorage 创建对象存储,未启用时使用内存存储
func newObjectStorage(cfg config.StorageConfig, logger *logrus.Logger) (storage.ObjectStorage, error) {
	if !cfg.Enabled {
		logger.Warn("Object storage disabled, published artifacts are kept in memory")
		return storage.NewMemoryStorage(""), nil
	}

	objects, err := storage.NewMinioStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize object storage: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := objects.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket %s: %w", cfg.Bucket, err)
	}
	return objects, nil
}

// Router 创建 HTTP 路由
func (c *Container) Router() *gin.Engine {
	return api.SetupRoutes(api.RouterDeps{
		Config:             c.cfg,
		DB:                 c.db,
		Engine:             c.engineClient,
		Hub:                c.hub,
		Validator:          c.keycloakValidator,
		WorkflowService:    c.workflowSvc,
		PublicationService: c.publicationSvc,
		AuditLogService:    c.auditLogSvc,
	})
}

// Start 启动后台组件: 通知 Hub、后台执行器和指标收集器
func (c *Container) Start(ctx context.Context) error {
	go c.hub.Run(ctx)
	if err := c.backend.Start(c.workflowSvc.RunPipeline); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	c.collector.Start()
	c.started = true
	return nil
}

// Config 获取配置
func (c *Container) Config() *config.Config {
	return c.cfg
}

// Logger 获取日志记录器
func (c *Container) Logger() *logrus.Logger {
	return c.logger
}

// DB 获取数据库连接
func (c *Container) DB() *gorm.DB {
	return c.db
}

// WorkflowService 获取报告生成流程服务
func (c *Container) WorkflowService() service.WorkflowService {
	return c.workflowSvc
}

// PublicationService 获取发布服务
func (c *Container) PublicationService() service.PublicationService {
	return c.publicationSvc
}

// Close 关闭容器,等待后台流水线退出后释放数据库连接
func (c *Container) Close(ctx context.Context) error {
	if c.started {
		c.collector.Stop()
	}

	var firstErr error
	if err := c.backend.Stop(ctx); err != nil {
		c.logger.WithError(err).Warn("Worker did not stop cleanly")
		firstErr = err
	}
	if err := database.Close(c.db); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
