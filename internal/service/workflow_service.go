package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/report-gin/internal/auth"
	"github.com/mautops/report-gin/internal/engine"
	"github.com/mautops/report-gin/internal/fault"
	"github.com/mautops/report-gin/internal/metrics"
	"github.com/mautops/report-gin/internal/model"
	"github.com/mautops/report-gin/internal/repository"
	"github.com/mautops/report-gin/internal/storage"
	"github.com/mautops/report-gin/internal/utils"
	"github.com/mautops/report-gin/internal/websocket"
	"github.com/mautops/report-gin/internal/worker"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// WorkflowService 报告生成流程服务接口
type WorkflowService interface {
	Create(ctx context.Context, req *CreateReportRequest) (string, error)
	Get(ctx context.Context, taskID string) (*model.ReportTaskModel, error)
	List(ctx context.Context, filter *repository.TaskFilter) ([]*model.ReportTaskModel, error)
	GetStatus(ctx context.Context, taskID string) (*TaskStatusView, error)
	GetContent(ctx context.Context, taskID string) (json.RawMessage, error)
	ExecuteStep(ctx context.Context, taskID string, step model.Step) (json.RawMessage, error)
	Rerun(ctx context.Context, taskID string, step model.Step) (json.RawMessage, error)
	Rollback(ctx context.Context, taskID string, step model.Step, version int) (*model.StepHistoryModel, error)
	ApplyRollback(ctx context.Context, taskID string, step model.Step, version int) (*TaskStatusView, error)
	GetStepResult(ctx context.Context, taskID string, step model.Step) (*model.StepHistoryModel, error)
	GetStepHistory(ctx context.Context, taskID string, step model.Step) ([]*model.StepHistoryModel, error)
	GetHistory(ctx context.Context, taskID string) ([]*model.StepHistoryModel, error)
	Export(ctx context.Context, taskID string, format string, uploadToOSS bool) (*engine.ExportResult, error)
	Download(ctx context.Context, taskID string, filename string) (*engine.File, error)
	Cleanup(ctx context.Context, taskID string) (bool, error)
	Delete(ctx context.Context, taskID string) error
	// RunPipeline 后台依次执行 step2 到 step5
	RunPipeline(ctx context.Context, taskID string) error
}

// CreateReportRequest 创建报告任务请求
// @Description 创建报告生成任务的请求参数
type CreateReportRequest struct {
	Title        string          `json:"title" binding:"required"`        // 报告标题
	CompanyName  string          `json:"company_name" binding:"required"` // 公司名称
	Topic        string          `json:"topic"`                           // 研究主题
	Description  string          `json:"description"`                     // 研究内容
	ConfigParams json.RawMessage `json:"config_params,omitempty"`         // 生成参数(JSON 格式)
}

// TaskStatusView 任务状态快照
type TaskStatusView struct {
	TaskID        string              `json:"task_id"`
	Status        model.TaskStatus    `json:"status"`
	CurrentStep   model.Step          `json:"current_step"`
	Progress      int                 `json:"progress"`
	ErrorMessage  string              `json:"error_message,omitempty"`
	StartTime     time.Time           `json:"start_time"`
	EndTime       *time.Time          `json:"end_time,omitempty"`
	PublishStatus model.PublishStatus `json:"publish_status"`
}

// NewTaskStatusView 从任务生成状态快照
func NewTaskStatusView(task *model.ReportTaskModel) *TaskStatusView {
	view := &TaskStatusView{
		TaskID:        task.TaskID,
		Status:        task.Status,
		CurrentStep:   task.CurrentStep,
		Progress:      task.Progress,
		StartTime:     task.StartTime,
		EndTime:       task.EndTime,
		PublishStatus: task.PublishStatus,
	}
	if task.ErrorMessage != nil {
		view.ErrorMessage = *task.ErrorMessage
	}
	return view
}

// 导出格式
var exportFormats = map[string]bool{"pdf": true, "docx": true}

// staleInProgress 超过该时间没有更新的生成中任务视为已中断,允许删除
const staleInProgress = 30 * time.Minute

type workflowService struct {
	taskRepo    repository.TaskRepository
	historyRepo repository.StepHistoryRepository
	engine      GenerationEngine
	storage     storage.ObjectStorage
	runner      worker.Runner
	notifier    Notifier
	auditLogSvc AuditLogService
	logger      *logrus.Logger
}

// WorkflowDeps 流程服务依赖,notifier 和 auditLogSvc 可以为空
type WorkflowDeps struct {
	TaskRepo    repository.TaskRepository
	HistoryRepo repository.StepHistoryRepository
	Engine      GenerationEngine
	Storage     storage.ObjectStorage
	Runner      worker.Runner
	Notifier    Notifier
	AuditLogSvc AuditLogService
	Logger      *logrus.Logger
}

// NewWorkflowService 创建报告生成流程服务
func NewWorkflowService(deps WorkflowDeps) WorkflowService {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &workflowService{
		taskRepo:    deps.TaskRepo,
		historyRepo: deps.HistoryRepo,
		engine:      deps.Engine,
		storage:     deps.Storage,
		runner:      deps.Runner,
		notifier:    deps.Notifier,
		auditLogSvc: deps.AuditLogSvc,
		logger:      logger,
	}
}

// Create 创建任务并同步执行步骤一,成功后提交后台流水线
func (s *workflowService) Create(ctx context.Context, req *CreateReportRequest) (string, error) {
	op := fault.OpCreate
	if err := validateCreateRequest(op, req); err != nil {
		return "", err
	}

	user, _ := auth.UserFromContext(ctx)
	now := time.Now()
	task := &model.ReportTaskModel{
		TaskID:        newTaskID(),
		Title:         strings.TrimSpace(req.Title),
		CompanyName:   strings.TrimSpace(req.CompanyName),
		Topic:         strings.TrimSpace(req.Topic),
		Description:   strings.TrimSpace(req.Description),
		ConfigParams:  datatypes.JSON(req.ConfigParams),
		Status:        model.TaskStatusInProgress,
		CurrentStep:   model.Step1,
		Progress:      0,
		StartTime:     now,
		PublishStatus: model.PublishStatusDraft,
		UserID:        user.ID,
		UserName:      user.Name,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.taskRepo.Create(ctx, task); err != nil {
		metrics.RecordTaskCreated(false)
		return "", fault.Internal(op, fmt.Errorf("failed to create task: %w", err))
	}

	var engineTaskID string
	output, err := s.runStep(ctx, task, model.Step1, func(ctx context.Context, _ string) (json.RawMessage, error) {
		result, err := s.engine.CreateTask(ctx, &engine.Step1Request{
			TaskID:          task.TaskID,
			ProjectName:     task.Title,
			CompanyName:     task.CompanyName,
			ResearchContent: researchContent(task),
			Topic:           task.Topic,
			ConfigParams:    req.ConfigParams,
		})
		if err != nil {
			return nil, err
		}
		engineTaskID = result.EngineTaskID
		return result.Output, nil
	})
	if err != nil {
		s.markFailed(ctx, task.TaskID, err)
		metrics.RecordTaskCreated(false)
		return "", err
	}

	if err := s.taskRepo.Update(ctx, task.TaskID, map[string]interface{}{
		"engine_task_id": engineTaskID,
		"current_step":   model.Step1,
		"progress":       model.Step1.Progress(),
		"content":        datatypes.JSON(output),
	}); err != nil {
		wrapped := fault.Internal(op, err)
		s.markFailed(ctx, task.TaskID, wrapped)
		metrics.RecordTaskCreated(false)
		return "", wrapped
	}
	s.notify(websocket.EventStepCompleted, task, model.Step1, model.TaskStatusInProgress, "")

	if err := s.runner.Submit(ctx, task.TaskID); err != nil {
		wrapped := fault.Internal(op, fmt.Errorf("failed to schedule pipeline: %w", err))
		s.markFailed(ctx, task.TaskID, wrapped)
		metrics.RecordTaskCreated(false)
		return "", wrapped
	}

	metrics.RecordTaskCreated(true)
	recordAudit(ctx, s.auditLogSvc, s.logger, model.AuditActionCreate, task.TaskID, map[string]string{
		"title":          task.Title,
		"company_name":   task.CompanyName,
		"engine_task_id": engineTaskID,
	})
	s.logger.WithFields(logrus.Fields{
		"task_id":        task.TaskID,
		"engine_task_id": engineTaskID,
	}).Info("Report task created")

	return task.TaskID, nil
}

// RunPipeline 后台流水线,从当前步骤的下一步执行到 step5
func (s *workflowService) RunPipeline(ctx context.Context, taskID string) (err error) {
	entry := s.logger.WithField("task_id", taskID)
	defer func() {
		if r := recover(); r != nil {
			err = fault.Internal(fault.OpExecuteStep("pipeline"), fmt.Errorf("pipeline panic: %v", r))
		}
		if err != nil {
			entry.WithError(err).Warn("Pipeline aborted")
			s.markFailed(ctx, taskID, err)
		}
	}()

	task, err := s.taskRepo.FindByID(ctx, taskID)
	if errors.Is(err, repository.ErrTaskNotFound) {
		entry.Info("Task deleted before pipeline started")
		return nil
	}
	if err != nil {
		return fault.Internal(fault.OpQuery, err)
	}
	if task.Status != model.TaskStatusInProgress {
		entry.WithField("status", task.Status).Info("Task is not in progress, pipeline skipped")
		return nil
	}
	if !task.HasEngineTask() {
		return fault.Precondition(fault.OpExecuteStep(model.Step2.String()), msgNoEngineTask)
	}

	for step, ok := task.CurrentStep.Next(); ok; step, ok = step.Next() {
		if _, err := s.advance(ctx, task, step, s.engine.ExecuteStep); err != nil {
			return err
		}
		task.CurrentStep = step
	}

	entry.Info("Pipeline completed")
	return nil
}

// ExecuteStep 手动执行单个步骤,不允许跳步
func (s *workflowService) ExecuteStep(ctx context.Context, taskID string, step model.Step) (json.RawMessage, error) {
	op := fault.OpExecuteStep(step.String())
	if !step.IsBackground() {
		return nil, fault.InvalidInput(op, fault.Msg("只能单独执行 step2 到 step5", "only step2 to step5 can be executed individually"))
	}

	task, err := loadTask(ctx, s.taskRepo, op, taskID)
	if err != nil {
		return nil, err
	}
	if task.PublishStatus != model.PublishStatusDraft {
		return nil, fault.Precondition(op, msgNotDraft)
	}
	if !task.HasEngineTask() {
		return nil, fault.Precondition(op, msgNoEngineTask)
	}
	if next, ok := task.CurrentStep.Next(); step > task.CurrentStep && (!ok || step != next) {
		return nil, fault.Precondition(op, fault.Msg(
			fmt.Sprintf("请先完成 %s", task.CurrentStep.String()),
			fmt.Sprintf("complete steps up to %s first", task.CurrentStep.String()),
		))
	}

	output, err := s.advance(ctx, task, step, s.engine.ExecuteStep)
	if err != nil {
		s.markFailed(ctx, taskID, err)
		return nil, err
	}
	recordAudit(ctx, s.auditLogSvc, s.logger, model.AuditActionExecuteStep, taskID, map[string]string{"step": step.String()})
	return output, nil
}

// Rerun 重新执行某个步骤并追加新版本,不会继续执行后续步骤
// 只更新当前步骤、进度和内容,任务状态与结束时间保持不变
// 失败只记录在历史中,不把任务标记为失败
func (s *workflowService) Rerun(ctx context.Context, taskID string, step model.Step) (json.RawMessage, error) {
	op := fault.OpRerun(step.String())
	if !step.Valid() {
		return nil, fault.InvalidInput(op, fault.Msg("步骤名称无效", "invalid step"))
	}

	task, err := loadTask(ctx, s.taskRepo, op, taskID)
	if err != nil {
		return nil, err
	}
	if task.PublishStatus != model.PublishStatusDraft {
		return nil, fault.Precondition(op, msgNotDraft)
	}
	if !task.HasEngineTask() {
		return nil, fault.Precondition(op, msgNoEngineTask)
	}

	output, err := s.runStep(ctx, task, step, func(ctx context.Context, engineTaskID string) (json.RawMessage, error) {
		return s.engine.Rerun(ctx, engineTaskID, step)
	})
	if err != nil {
		s.notifyTask(websocket.Event{
			Type:     websocket.EventStepFailed,
			TaskID:   taskID,
			UserID:   task.UserID,
			Step:     step.String(),
			Status:   string(task.Status),
			Progress: task.Progress,
			Message:  errorMessage(err),
		})
		return nil, err
	}

	if err := s.taskRepo.Update(ctx, taskID, map[string]interface{}{
		"current_step":  step,
		"progress":      step.Progress(),
		"content":       datatypes.JSON(output),
		"error_message": nil,
	}); err != nil {
		return nil, fault.Internal(op, err)
	}
	s.notify(websocket.EventStepCompleted, task, step, task.Status, "")
	recordAudit(ctx, s.auditLogSvc, s.logger, model.AuditActionRerun, taskID, map[string]string{"step": step.String()})
	return output, nil
}

// Rollback 读取历史版本,不修改任务和历史
func (s *workflowService) Rollback(ctx context.Context, taskID string, step model.Step, version int) (*model.StepHistoryModel, error) {
	op := fault.OpRollback
	if !step.Valid() || version <= 0 {
		return nil, fault.InvalidInput(op, fault.Msg("步骤或版本号无效", "invalid step or version"))
	}

	entry, err := s.historyRepo.Rollback(ctx, taskID, step, version)
	if errors.Is(err, repository.ErrHistoryNotFound) {
		return nil, fault.NotFound(op, msgHistoryNotFound)
	}
	if err != nil {
		return nil, fault.Internal(op, err)
	}
	return entry, nil
}

// ApplyRollback 将任务内容切换到某个成功的历史版本,不新增历史
func (s *workflowService) ApplyRollback(ctx context.Context, taskID string, step model.Step, version int) (*TaskStatusView, error) {
	op := fault.OpApplyRollback
	entry, err := s.Rollback(ctx, taskID, step, version)
	if err != nil {
		return nil, err
	}
	if !entry.Succeeded() {
		return nil, fault.Precondition(op, fault.Msg("只能回滚到执行成功的版本", "only successful versions can be applied"))
	}

	task, err := loadTask(ctx, s.taskRepo, op, taskID)
	if err != nil {
		return nil, err
	}
	if task.PublishStatus != model.PublishStatusDraft {
		return nil, fault.Precondition(op, msgNotDraft)
	}
	if task.HasEngineTask() {
		if _, err := s.engine.Rollback(ctx, task.EngineID(), step, version); err != nil {
			recordEngineFault(err)
			return nil, err
		}
	}

	if err := s.taskRepo.Update(ctx, taskID, map[string]interface{}{
		"current_step":  step,
		"progress":      step.Progress(),
		"content":       entry.OutputJSON,
		"error_message": nil,
	}); err != nil {
		return nil, fault.Internal(op, err)
	}
	recordAudit(ctx, s.auditLogSvc, s.logger, model.AuditActionApplyRollback, taskID, map[string]interface{}{
		"step":    step.String(),
		"version": version,
	})

	task, err = loadTask(ctx, s.taskRepo, op, taskID)
	if err != nil {
		return nil, err
	}
	return NewTaskStatusView(task), nil
}

// Get 获取任务详情
func (s *workflowService) Get(ctx context.Context, taskID string) (*model.ReportTaskModel, error) {
	return loadTask(ctx, s.taskRepo, fault.OpQuery, taskID)
}

// List 按条件查询任务
func (s *workflowService) List(ctx context.Context, filter *repository.TaskFilter) ([]*model.ReportTaskModel, error) {
	tasks, err := s.taskRepo.FindByFilter(ctx, filter)
	if err != nil {
		return nil, fault.Internal(fault.OpQuery, err)
	}
	return tasks, nil
}

// GetStatus 获取任务状态
func (s *workflowService) GetStatus(ctx context.Context, taskID string) (*TaskStatusView, error) {
	task, err := loadTask(ctx, s.taskRepo, fault.OpQuery, taskID)
	if err != nil {
		return nil, err
	}
	return NewTaskStatusView(task), nil
}

// GetContent 获取报告内容,本地没有时从生成引擎读取
func (s *workflowService) GetContent(ctx context.Context, taskID string) (json.RawMessage, error) {
	op := fault.OpGetContent
	task, err := loadTask(ctx, s.taskRepo, op, taskID)
	if err != nil {
		return nil, err
	}
	if len(task.Content) > 0 {
		return json.RawMessage(task.Content), nil
	}
	if !task.HasEngineTask() {
		return nil, fault.NotFound(op, fault.Msg("报告内容尚未生成", "report content is not generated yet"))
	}

	content, err := s.engine.GetTask(ctx, task.EngineID())
	if err != nil {
		recordEngineFault(err)
		return nil, err
	}
	return content, nil
}

// GetStepResult 获取步骤最近一次成功的结果
func (s *workflowService) GetStepResult(ctx context.Context, taskID string, step model.Step) (*model.StepHistoryModel, error) {
	entry, err := s.historyRepo.LatestSuccess(ctx, taskID, step)
	if errors.Is(err, repository.ErrHistoryNotFound) {
		return nil, fault.NotFound(fault.OpQuery, fault.Msg("步骤尚无成功结果", "step has no successful result"))
	}
	if err != nil {
		return nil, fault.Internal(fault.OpQuery, err)
	}
	return entry, nil
}

// GetStepHistory 获取步骤全部版本,新版本在前
func (s *workflowService) GetStepHistory(ctx context.Context, taskID string, step model.Step) ([]*model.StepHistoryModel, error) {
	if _, err := loadTask(ctx, s.taskRepo, fault.OpQuery, taskID); err != nil {
		return nil, err
	}
	entries, err := s.historyRepo.FindByTaskAndStep(ctx, taskID, step)
	if err != nil {
		return nil, fault.Internal(fault.OpQuery, err)
	}
	return entries, nil
}

// GetHistory 获取任务全部历史
func (s *workflowService) GetHistory(ctx context.Context, taskID string) ([]*model.StepHistoryModel, error) {
	if _, err := loadTask(ctx, s.taskRepo, fault.OpQuery, taskID); err != nil {
		return nil, err
	}
	entries, err := s.historyRepo.FindByTaskID(ctx, taskID)
	if err != nil {
		return nil, fault.Internal(fault.OpQuery, err)
	}
	return entries, nil
}

// Export 导出报告,返回下载地址
func (s *workflowService) Export(ctx context.Context, taskID string, format string, uploadToOSS bool) (*engine.ExportResult, error) {
	op := fault.OpExport
	format = strings.ToLower(strings.TrimSpace(format))
	if !exportFormats[format] {
		return nil, fault.InvalidInput(op, fault.Msg("导出格式只支持 pdf 或 docx", "format must be pdf or docx"))
	}

	task, err := loadTask(ctx, s.taskRepo, op, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != model.TaskStatusCompleted {
		return nil, fault.Precondition(op, fault.Msg("任务未完成", "task not completed"))
	}

	result, err := s.engine.Export(ctx, task.EngineID(), format, uploadToOSS)
	if err != nil {
		recordEngineFault(err)
		return nil, err
	}
	return result, nil
}

// Download 下载导出的文件
func (s *workflowService) Download(ctx context.Context, taskID string, filename string) (*engine.File, error) {
	op := fault.OpDownload
	if err := utils.ValidateFilename(filename); err != nil {
		return nil, fault.InvalidInput(op, fault.Msg("文件名无效", "invalid filename"))
	}

	task, err := loadTask(ctx, s.taskRepo, op, taskID)
	if err != nil {
		return nil, err
	}
	if !task.HasEngineTask() {
		return nil, fault.Precondition(op, msgNoEngineTask)
	}

	file, err := s.engine.Download(ctx, task.EngineID(), filename)
	if err != nil {
		recordEngineFault(err)
		return nil, err
	}
	return file, nil
}

// Cleanup 清理生成引擎中的临时文件
func (s *workflowService) Cleanup(ctx context.Context, taskID string) (bool, error) {
	op := fault.OpCleanup
	task, err := loadTask(ctx, s.taskRepo, op, taskID)
	if err != nil {
		return false, err
	}
	if !task.HasEngineTask() {
		return false, nil
	}

	ok, err := s.engine.Cleanup(ctx, task.EngineID())
	if err != nil {
		recordEngineFault(err)
		return false, err
	}
	return ok, nil
}

// Delete 删除任务及其历史,生成中的任务不能删除
func (s *workflowService) Delete(ctx context.Context, taskID string) error {
	op := fault.OpDelete
	task, err := loadTask(ctx, s.taskRepo, op, taskID)
	if err != nil {
		return err
	}
	if task.Status == model.TaskStatusInProgress && time.Since(task.UpdatedAt) < staleInProgress {
		return fault.Precondition(op, fault.Msg("任务正在生成中，无法删除", "task is still in progress"))
	}

	entry := s.logger.WithField("task_id", taskID)
	if task.OSSFilePath != nil && *task.OSSFilePath != "" && s.storage != nil {
		if err := s.storage.Delete(ctx, *task.OSSFilePath); err != nil {
			entry.WithError(err).Warn("Failed to delete published artifact")
		}
	}
	if task.HasEngineTask() {
		if _, err := s.engine.Cleanup(ctx, task.EngineID()); err != nil {
			entry.WithError(err).Debug("Engine cleanup failed")
		}
	}

	if err := s.taskRepo.DeleteCascade(ctx, taskID); err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			return fault.NotFound(op, msgTaskNotFound)
		}
		return fault.Internal(op, err)
	}
	recordAudit(ctx, s.auditLogSvc, s.logger, model.AuditActionDelete, taskID, map[string]string{"title": task.Title})
	return nil
}

type stepCall func(ctx context.Context, engineTaskID string, step model.Step) (json.RawMessage, error)

// advance 执行步骤并在成功后推进任务,status 在 step5 成功时变为 completed
func (s *workflowService) advance(ctx context.Context, task *model.ReportTaskModel, step model.Step, call stepCall) (json.RawMessage, error) {
	output, err := s.runStep(ctx, task, step, func(ctx context.Context, engineTaskID string) (json.RawMessage, error) {
		return call(ctx, engineTaskID, step)
	})
	if err != nil {
		return nil, err
	}

	status := model.TaskStatusInProgress
	fields := map[string]interface{}{
		"current_step":  step,
		"progress":      step.Progress(),
		"content":       datatypes.JSON(output),
		"error_message": nil,
		"end_time":      nil,
	}
	if step == model.LastStep {
		status = model.TaskStatusCompleted
		fields["end_time"] = time.Now()
	}
	fields["status"] = status

	if err := s.taskRepo.Update(ctx, task.TaskID, fields); err != nil {
		return nil, fault.Internal(fault.OpExecuteStep(step.String()), err)
	}

	eventType := websocket.EventStepCompleted
	if status == model.TaskStatusCompleted {
		eventType = websocket.EventTaskCompleted
	}
	s.notify(eventType, task, step, status, "")
	return output, nil
}

// runStep 调用生成引擎并追加一条历史记录
func (s *workflowService) runStep(ctx context.Context, task *model.ReportTaskModel, step model.Step, call func(ctx context.Context, engineTaskID string) (json.RawMessage, error)) (json.RawMessage, error) {
	s.notify(websocket.EventStepStarted, task, step, model.TaskStatusInProgress, "")

	start := time.Now()
	output, callErr := call(ctx, task.EngineID())
	elapsed := time.Since(start)

	entry := &model.StepHistoryModel{
		TaskID:        task.TaskID,
		Step:          step,
		ExecutionTime: int(elapsed.Seconds()),
		CreatedAt:     time.Now(),
	}
	if callErr != nil {
		msg := errorMessage(callErr)
		entry.Status = model.HistoryStatusFailure
		entry.ErrorMessage = &msg
	} else {
		entry.Status = model.HistoryStatusSuccess
		entry.OutputJSON = datatypes.JSON(output)
	}

	metrics.RecordStepExecution(step.String(), callErr == nil, elapsed.Seconds())
	recordEngineFault(callErr)

	version, err := s.historyRepo.Append(ctx, entry)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"task_id": task.TaskID,
			"step":    step.String(),
		}).Error("Failed to append step history")
		if callErr != nil {
			return nil, callErr
		}
		return nil, fault.Internal(fault.OpExecuteStep(step.String()), err)
	}

	s.logger.WithFields(logrus.Fields{
		"task_id": task.TaskID,
		"step":    step.String(),
		"version": version,
		"status":  entry.Status,
		"elapsed": elapsed.String(),
	}).Debug("Step executed")

	if callErr != nil {
		return nil, callErr
	}
	return output, nil
}

// markFailed 将任务标记为失败,ctx 已取消时仍然写入
func (s *workflowService) markFailed(ctx context.Context, taskID string, cause error) {
	msg := errorMessage(cause)
	err := s.taskRepo.Update(context.WithoutCancel(ctx), taskID, map[string]interface{}{
		"status":        model.TaskStatusFailed,
		"error_message": msg,
		"end_time":      time.Now(),
	})
	if err != nil {
		s.logger.WithError(err).WithField("task_id", taskID).Error("Failed to mark task as failed")
		return
	}
	s.notifyTask(websocket.Event{
		Type:    websocket.EventStepFailed,
		TaskID:  taskID,
		Status:  string(model.TaskStatusFailed),
		Message: msg,
	})
}

func (s *workflowService) notify(eventType string, task *model.ReportTaskModel, step model.Step, status model.TaskStatus, message string) {
	progress := step.Progress()
	if eventType == websocket.EventStepStarted {
		progress = task.Progress
	}
	s.notifyTask(websocket.Event{
		Type:     eventType,
		TaskID:   task.TaskID,
		UserID:   task.UserID,
		Step:     step.String(),
		Status:   string(status),
		Progress: progress,
		Message:  message,
	})
}

func (s *workflowService) notifyTask(event websocket.Event) {
	if s.notifier != nil {
		s.notifier.NotifyTask(event)
	}
}

// recordEngineFault 统计生成引擎错误
func recordEngineFault(err error) {
	if f, ok := fault.As(err); ok && f.Kind == fault.KindEngine {
		metrics.RecordEngineFault(f.Code)
	}
}

// validateCreateRequest 校验创建请求并清理文本字段
func validateCreateRequest(op fault.Op, req *CreateReportRequest) error {
	if req == nil {
		return fault.InvalidInput(op, fault.Msg("请求不能为空", "request body is required"))
	}
	var err error
	if req.Title, err = utils.TrimAndValidate(req.Title, 255); err != nil {
		return fault.InvalidInput(op, fault.Msg("标题无效: "+err.Error(), "invalid title: "+err.Error()))
	}
	if req.CompanyName, err = utils.TrimAndValidate(req.CompanyName, 255); err != nil {
		return fault.InvalidInput(op, fault.Msg("公司名称无效: "+err.Error(), "invalid company name: "+err.Error()))
	}
	if strings.TrimSpace(req.Topic) == "" && strings.TrimSpace(req.Description) == "" {
		return fault.InvalidInput(op, fault.Msg("研究主题和研究内容不能同时为空", "topic or description is required"))
	}
	if len(req.ConfigParams) > 0 {
		if err := utils.ValidateJSON(string(req.ConfigParams)); err != nil {
			return fault.InvalidInput(op, fault.Msg("生成参数不是合法的 JSON", "config params must be valid JSON"))
		}
	}
	return nil
}

// researchContent 研究内容,没有描述时使用主题
func researchContent(task *model.ReportTaskModel) string {
	if task.Description != "" {
		return task.Description
	}
	return task.Topic
}

func newTaskID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
