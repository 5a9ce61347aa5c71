package service

import (
	"bytes"
	"context"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/report-gin/internal/engine"
	"github.com/mautops/report-gin/internal/fault"
	"github.com/mautops/report-gin/internal/metrics"
	"github.com/mautops/report-gin/internal/model"
	"github.com/mautops/report-gin/internal/repository"
	"github.com/mautops/report-gin/internal/storage"
	"github.com/mautops/report-gin/internal/websocket"
	"github.com/sirupsen/logrus"
)

// PublicationService 报告发布生命周期服务接口
type PublicationService interface {
	Publish(ctx context.Context, taskID string) (*PublishResult, error)
	Unpublish(ctx context.Context, taskID string) error
	Archive(ctx context.Context, taskID string) error
	Restore(ctx context.Context, taskID string) error
	// BatchArchive 批量归档,单个失败不影响其他任务
	BatchArchive(ctx context.Context, taskIDs []string) (int, []BatchOperationResult)
	ArtifactURL(ctx context.Context, taskID string) (string, error)
}

// BatchArchiveRequest 批量归档请求
// @Description 批量归档的请求参数
type BatchArchiveRequest struct {
	TaskIDs []string `json:"task_ids" binding:"required"` // 任务 ID 列表
}

// PublishResult 发布结果
type PublishResult struct {
	TaskID      string    `json:"task_id"`
	OSSFilePath string    `json:"oss_file_path"`
	URL         string    `json:"url"`
	PublishTime time.Time `json:"publish_time"`
}

// ArtifactRenderer 生成待发布的文件
type ArtifactRenderer interface {
	Render(ctx context.Context, task *model.ReportTaskModel) (*engine.File, error)
}

// engineRenderer 通过生成引擎导出并下载文件
type engineRenderer struct {
	engine GenerationEngine
	format string
}

// NewEngineRenderer 创建基于生成引擎的文件渲染器
func NewEngineRenderer(eng GenerationEngine, format string) ArtifactRenderer {
	if format == "" {
		format = "pdf"
	}
	return &engineRenderer{engine: eng, format: format}
}

// Render 导出并下载文件
func (r *engineRenderer) Render(ctx context.Context, task *model.ReportTaskModel) (*engine.File, error) {
	exported, err := r.engine.Export(ctx, task.EngineID(), r.format, false)
	if err != nil {
		return nil, err
	}
	filename := exported.Filename
	if filename == "" {
		filename = task.TaskID + "." + r.format
	}
	return r.engine.Download(ctx, task.EngineID(), filename)
}

type publicationService struct {
	taskRepo    repository.TaskRepository
	renderer    ArtifactRenderer
	engine      GenerationEngine
	storage     storage.ObjectStorage
	pathPrefix  string
	notifier    Notifier
	auditLogSvc AuditLogService
	logger      *logrus.Logger
	now         func() time.Time
}

// PublicationDeps 发布服务依赖
type PublicationDeps struct {
	TaskRepo    repository.TaskRepository
	Renderer    ArtifactRenderer
	Engine      GenerationEngine // 发布后清理临时文件,可以为空
	Storage     storage.ObjectStorage
	PathPrefix  string
	Notifier    Notifier
	AuditLogSvc AuditLogService
	Logger      *logrus.Logger
}

// NewPublicationService 创建发布服务
func NewPublicationService(deps PublicationDeps) PublicationService {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &publicationService{
		taskRepo:    deps.TaskRepo,
		renderer:    deps.Renderer,
		engine:      deps.Engine,
		storage:     deps.Storage,
		pathPrefix:  deps.PathPrefix,
		notifier:    deps.Notifier,
		auditLogSvc: deps.AuditLogSvc,
		logger:      logger,
		now:         time.Now,
	}
}

var (
	msgNotCompleted     = fault.Msg("任务未完成", "task not completed")
	msgAlreadyPublished = fault.Msg("报告已发布", "already published")
	msgNotPublished     = fault.Msg("报告未发布", "report is not published")
	msgNotArchived      = fault.Msg("报告未归档", "report is not archived")
)

// Publish 发布报告: 渲染文件,上传对象存储,再切换发布状态
func (s *publicationService) Publish(ctx context.Context, taskID string) (result *PublishResult, err error) {
	op := fault.OpPublish
	defer func() { metrics.RecordPublishOperation(model.AuditActionPublish, err == nil) }()

	task, err := loadTask(ctx, s.taskRepo, op, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != model.TaskStatusCompleted {
		return nil, fault.Precondition(op, msgNotCompleted)
	}
	if task.PublishStatus != model.PublishStatusDraft {
		return nil, fault.Precondition(op, msgAlreadyPublished)
	}

	file, err := s.renderer.Render(ctx, task)
	if err != nil {
		recordEngineFault(err)
		return nil, err
	}

	now := s.now()
	// 每次发布使用独立的对象名,并发发布失败的一方只删除自己上传的文件
	objectPath := storage.ObjectPath(s.pathPrefix, artifactName(task.TaskID), artifactExt(file), now)
	url, err := s.storage.Upload(ctx, bytes.NewReader(file.Data), int64(len(file.Data)), objectPath, file.ContentType)
	if err != nil {
		return nil, fault.Storage(op, err)
	}
	if url == "" {
		return nil, fault.Storage(op, storage.ErrEmptyURL)
	}

	updated, err := s.taskRepo.UpdateIf(ctx, taskID,
		map[string]interface{}{"status": model.TaskStatusCompleted, "publish_status": model.PublishStatusDraft},
		map[string]interface{}{
			"publish_status": model.PublishStatusPublished,
			"oss_file_path":  objectPath,
			"publish_time":   now,
		},
	)
	if err != nil || !updated {
		s.removeArtifact(ctx, taskID, objectPath)
		if err != nil {
			return nil, fault.Internal(op, err)
		}
		return nil, fault.Precondition(op, msgAlreadyPublished)
	}

	s.cleanupEngine(ctx, task)
	s.notifyPublish(task, model.PublishStatusPublished)
	recordAudit(ctx, s.auditLogSvc, s.logger, model.AuditActionPublish, taskID, map[string]string{
		"oss_file_path": objectPath,
		"url":           url,
	})
	s.logger.WithFields(logrus.Fields{
		"task_id":       taskID,
		"oss_file_path": objectPath,
	}).Info("Report published")

	return &PublishResult{
		TaskID:      taskID,
		OSSFilePath: objectPath,
		URL:         url,
		PublishTime: now,
	}, nil
}

// artifactName 生成对象名: <taskID>_<随机后缀>
func artifactName(taskID string) string {
	return taskID + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Unpublish 取消发布,对象存储删除失败只记录日志
func (s *publicationService) Unpublish(ctx context.Context, taskID string) (err error) {
	op := fault.OpUnpublish
	defer func() { metrics.RecordPublishOperation(model.AuditActionUnpublish, err == nil) }()

	task, err := loadTask(ctx, s.taskRepo, op, taskID)
	if err != nil {
		return err
	}
	if task.PublishStatus != model.PublishStatusPublished {
		return fault.Precondition(op, msgNotPublished)
	}

	if err := s.transition(ctx, op, taskID, model.PublishStatusPublished, msgNotPublished, map[string]interface{}{
		"publish_status": model.PublishStatusDraft,
		"oss_file_path":  nil,
		"publish_time":   nil,
	}); err != nil {
		return err
	}

	if task.OSSFilePath != nil && *task.OSSFilePath != "" {
		s.removeArtifact(ctx, taskID, *task.OSSFilePath)
	}
	s.notifyPublish(task, model.PublishStatusDraft)
	recordAudit(ctx, s.auditLogSvc, s.logger, model.AuditActionUnpublish, taskID, nil)
	return nil
}

// Archive 归档已发布的报告,不改动已发布文件
func (s *publicationService) Archive(ctx context.Context, taskID string) (err error) {
	op := fault.OpArchive
	defer func() { metrics.RecordPublishOperation(model.AuditActionArchive, err == nil) }()

	task, err := loadTask(ctx, s.taskRepo, op, taskID)
	if err != nil {
		return err
	}
	if task.PublishStatus != model.PublishStatusPublished {
		return fault.Precondition(op, msgNotPublished)
	}

	if err := s.transition(ctx, op, taskID, model.PublishStatusPublished, msgNotPublished, map[string]interface{}{
		"publish_status": model.PublishStatusArchived,
		"archive_time":   s.now(),
	}); err != nil {
		return err
	}

	s.notifyPublish(task, model.PublishStatusArchived)
	recordAudit(ctx, s.auditLogSvc, s.logger, model.AuditActionArchive, taskID, nil)
	return nil
}

// Restore 将归档的报告恢复为已发布
func (s *publicationService) Restore(ctx context.Context, taskID string) (err error) {
	op := fault.OpRestore
	defer func() { metrics.RecordPublishOperation(model.AuditActionRestore, err == nil) }()

	task, err := loadTask(ctx, s.taskRepo, op, taskID)
	if err != nil {
		return err
	}
	if task.PublishStatus != model.PublishStatusArchived {
		return fault.Precondition(op, msgNotArchived)
	}

	if err := s.transition(ctx, op, taskID, model.PublishStatusArchived, msgNotArchived, map[string]interface{}{
		"publish_status": model.PublishStatusPublished,
		"archive_time":   nil,
	}); err != nil {
		return err
	}

	s.notifyPublish(task, model.PublishStatusPublished)
	recordAudit(ctx, s.auditLogSvc, s.logger, model.AuditActionRestore, taskID, nil)
	return nil
}

// BatchArchive 批量归档
func (s *publicationService) BatchArchive(ctx context.Context, taskIDs []string) (int, []BatchOperationResult) {
	results := make([]BatchOperationResult, 0, len(taskIDs))
	successCount := 0

	for _, taskID := range taskIDs {
		err := s.Archive(ctx, taskID)
		result := BatchOperationResult{
			TaskID:  taskID,
			Success: err == nil,
		}
		if err != nil {
			result.Error = errorMessage(err)
		} else {
			successCount++
		}
		results = append(results, result)
	}

	return successCount, results
}

// ArtifactURL 返回已发布文件的访问地址
func (s *publicationService) ArtifactURL(ctx context.Context, taskID string) (string, error) {
	op := fault.OpQuery
	task, err := loadTask(ctx, s.taskRepo, op, taskID)
	if err != nil {
		return "", err
	}
	if task.PublishStatus == model.PublishStatusDraft || task.OSSFilePath == nil || *task.OSSFilePath == "" {
		return "", fault.Precondition(op, msgNotPublished)
	}
	return s.storage.FileURL(*task.OSSFilePath), nil
}

// transition 条件更新发布状态,并发修改导致条件不满足时返回前置条件错误
func (s *publicationService) transition(ctx context.Context, op fault.Op, taskID string, from model.PublishStatus, onConflict fault.Message, fields map[string]interface{}) error {
	updated, err := s.taskRepo.UpdateIf(ctx, taskID, map[string]interface{}{"publish_status": from}, fields)
	if err != nil {
		return fault.Internal(op, err)
	}
	if !updated {
		return fault.Precondition(op, onConflict)
	}
	return nil
}

func (s *publicationService) removeArtifact(ctx context.Context, taskID string, objectPath string) {
	if err := s.storage.Delete(ctx, objectPath); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"task_id":       taskID,
			"oss_file_path": objectPath,
		}).Warn("Failed to delete published artifact")
	}
}

// cleanupEngine 发布后清理生成引擎的临时文件
func (s *publicationService) cleanupEngine(ctx context.Context, task *model.ReportTaskModel) {
	if s.engine == nil || !task.HasEngineTask() {
		return
	}
	if _, err := s.engine.Cleanup(ctx, task.EngineID()); err != nil {
		s.logger.WithError(err).WithField("task_id", task.TaskID).Debug("Engine cleanup after publish failed")
	}
}

func (s *publicationService) notifyPublish(task *model.ReportTaskModel, status model.PublishStatus) {
	if s.notifier == nil {
		return
	}
	s.notifier.NotifyTask(websocket.Event{
		Type:     websocket.EventPublishStatus,
		TaskID:   task.TaskID,
		UserID:   task.UserID,
		Status:   status.String(),
		Progress: task.Progress,
	})
}

// artifactExt 文件扩展名,优先使用文件名,否则按内容类型推断
func artifactExt(file *engine.File) string {
	if ext := strings.ToLower(path.Ext(file.Filename)); ext != "" {
		return ext
	}
	if strings.Contains(file.ContentType, "pdf") {
		return ".pdf"
	}
	return ".docx"
}
