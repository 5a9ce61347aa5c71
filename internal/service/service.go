package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mautops/report-gin/internal/engine"
	"github.com/mautops/report-gin/internal/fault"
	"github.com/mautops/report-gin/internal/model"
	"github.com/mautops/report-gin/internal/repository"
	"github.com/mautops/report-gin/internal/websocket"
	"github.com/sirupsen/logrus"
)

// GenerationEngine 生成引擎,由 engine.Client 实现
type GenerationEngine interface {
	CreateTask(ctx context.Context, req *engine.Step1Request) (*engine.Step1Result, error)
	ExecuteStep(ctx context.Context, engineTaskID string, step model.Step) (json.RawMessage, error)
	Rerun(ctx context.Context, engineTaskID string, step model.Step) (json.RawMessage, error)
	Rollback(ctx context.Context, engineTaskID string, step model.Step, version int) (json.RawMessage, error)
	GetTask(ctx context.Context, engineTaskID string) (json.RawMessage, error)
	Export(ctx context.Context, engineTaskID string, format string, uploadToOSS bool) (*engine.ExportResult, error)
	Download(ctx context.Context, engineTaskID string, filename string) (*engine.File, error)
	Cleanup(ctx context.Context, engineTaskID string) (bool, error)
}

// Notifier 任务进度通知,由 websocket.Hub 实现
type Notifier interface {
	NotifyTask(event websocket.Event)
}

// BatchOperationResult 批量操作结果
// @Description 批量操作的结果
type BatchOperationResult struct {
	TaskID  string `json:"task_id"`         // 任务 ID
	Success bool   `json:"success"`         // 是否成功
	Error   string `json:"error,omitempty"` // 错误信息(如果失败)
}

var (
	msgTaskNotFound    = fault.Msg("任务不存在", "task not found")
	msgHistoryNotFound = fault.Msg("历史版本不存在", "history version not found")
	msgNotDraft        = fault.Msg("报告已发布或归档，请先取消发布", "report is published or archived, unpublish it first")
	msgNoEngineTask    = fault.Msg("任务尚未在生成引擎中创建", "task has not been created in the generation engine")
)

// loadTask 读取任务,不存在时返回 not-found 错误
func loadTask(ctx context.Context, repo repository.TaskRepository, op fault.Op, taskID string) (*model.ReportTaskModel, error) {
	task, err := repo.FindByID(ctx, taskID)
	if errors.Is(err, repository.ErrTaskNotFound) {
		return nil, fault.NotFound(op, msgTaskNotFound)
	}
	if err != nil {
		return nil, fault.Internal(op, err)
	}
	return task, nil
}

// errorMessage 写入任务的错误信息
func errorMessage(err error) string {
	if f, ok := fault.As(err); ok {
		return f.Message()
	}
	return err.Error()
}

// recordAudit 记录审计日志,失败只记录警告
func recordAudit(ctx context.Context, svc AuditLogService, logger *logrus.Logger, action string, taskID string, details interface{}) {
	if svc == nil {
		return
	}
	if err := svc.RecordAction(ctx, action, model.AuditResourceReport, taskID, details); err != nil {
		logger.WithError(err).WithFields(logrus.Fields{
			"task_id": taskID,
			"action":  action,
		}).Warn("Failed to record audit log")
	}
}
