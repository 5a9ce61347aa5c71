package api

import (
	"errors"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mautops/report-gin/internal/model"
	"github.com/mautops/report-gin/internal/repository"
	"github.com/mautops/report-gin/internal/service"
	"github.com/mautops/report-gin/internal/utils"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

var (
	errInvalidStatus        = errors.New("status must be one of pending, in_progress, completed, failed")
	errInvalidPublishStatus = errors.New("publish_status must be 0, 1 or 2")
	errInvalidLimit         = errors.New("limit must be a positive integer")
)

// ReportController 报告任务控制器
type ReportController struct {
	workflowService service.WorkflowService
	auditLogService service.AuditLogService
}

// NewReportController 创建报告任务控制器
func NewReportController(workflowService service.WorkflowService, auditLogService service.AuditLogService) *ReportController {
	return &ReportController{
		workflowService: workflowService,
		auditLogService: auditLogService,
	}
}

// ExportRequest 导出请求
// @Description 导出报告的请求参数
type ExportRequest struct {
	Format      string `json:"format"`        // 导出格式: pdf, docx
	UploadToOSS bool   `json:"upload_to_oss"` // 是否由生成引擎上传到对象存储
}

// taskID 读取并校验路径中的任务 ID
func taskID(ctx *gin.Context) (string, bool) {
	id := ctx.Param("taskId")
	if err := utils.ValidateTaskID(id); err != nil {
		Error(ctx, http.StatusBadRequest, T(ctx, "error.invalid_task_id"), err.Error())
		return "", false
	}
	return id, true
}

// stepParam 读取路径中的步骤名称
func stepParam(ctx *gin.Context) (model.Step, bool) {
	step, err := model.ParseStep(ctx.Param("step"))
	if err != nil {
		Error(ctx, http.StatusBadRequest, T(ctx, "error.invalid_step"), err.Error())
		return 0, false
	}
	return step, true
}

// Create 创建报告任务
// @Summary      创建报告任务
// @Description  创建任务并同步执行步骤一,步骤二到五在后台执行
// @Tags         报告任务
// @Accept       json
// @Produce      json
// @Param        request body service.CreateReportRequest true "任务信息"
// @Success      200  {object}  Response
// @Failure      400  {object}  ErrorResponse
// @Failure      502  {object}  ErrorResponse
// @Router       /reports [post]
func (c *ReportController) Create(ctx *gin.Context) {
	var req service.CreateReportRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, T(ctx, "error.invalid_request"), err.Error())
		return
	}

	id, err := c.workflowService.Create(ctx.Request.Context(), &req)
	if err != nil {
		FaultError(ctx, err)
		return
	}

	Success(ctx, gin.H{
		"task_id": id,
		"status":  model.TaskStatusInProgress,
	})
}

// List 查询任务列表
// @Summary      查询任务列表
// @Tags         报告任务
// @Produce      json
// @Param        status query string false "生成状态"
// @Param        publish_status query int false "发布状态"
// @Param        user_id query string false "创建人"
// @Param        start_time query string false "创建时间起始(RFC3339)"
// @Param        end_time query string false "创建时间结束(RFC3339)"
// @Param        limit query int false "返回条数" default(50)
// @Success      200  {object}  ListResponse
// @Router       /reports [get]
func (c *ReportController) List(ctx *gin.Context) {
	filter, err := parseTaskFilter(ctx)
	if err != nil {
		Error(ctx, http.StatusBadRequest, T(ctx, "error.invalid_query"), err.Error())
		return
	}

	tasks, err := c.workflowService.List(ctx.Request.Context(), filter)
	if err != nil {
		FaultError(ctx, err)
		return
	}

	List(ctx, tasks, len(tasks))
}

// Get 获取任务详情
// @Summary      获取任务详情
// @Tags         报告任务
// @Produce      json
// @Param        taskId path string true "任务 ID"
// @Success      200  {object}  Response
// @Failure      404  {object}  ErrorResponse
// @Router       /reports/{taskId} [get]
func (c *ReportController) Get(ctx *gin.Context) {
	id, ok := taskID(ctx)
	if !ok {
		return
	}

	task, err := c.workflowService.Get(ctx.Request.Context(), id)
	if err != nil {
		FaultError(ctx, err)
		return
	}

	Success(ctx, task)
}

// GetStatus 获取任务状态,客户端轮询该接口获取进度
func (c *ReportController) GetStatus(ctx *gin.Context) {
	id, ok := taskID(ctx)
	if !ok {
		return
	}

	view, err := c.workflowService.GetStatus(ctx.Request.Context(), id)
	if err != nil {
		FaultError(ctx, err)
		return
	}

	Success(ctx, view)
}

// GetContent 获取报告内容
func (c *ReportController) GetContent(ctx *gin.Context) {
	id, ok := taskID(ctx)
	if !ok {
		return
	}

	content, err := c.workflowService.GetContent(ctx.Request.Context(), id)
	if err != nil {
		FaultError(ctx, err)
		return
	}

	Success(ctx, content)
}

// ExecuteStep 手动执行步骤
// @Summary      执行步骤
// @Description  只能执行已完成步骤或下一个步骤,不允许跳步
// @Tags         步骤
// @Produce      json
// @Param        taskId path string true "任务 ID"
// @Param        step path string true "步骤" Enums(step2, step3, step4, step5)
// @Success      200  {object}  Response
// @Failure      409  {object}  ErrorResponse
// @Failure      502  {object}  ErrorResponse
// @Router       /reports/{taskId}/steps/{step}/execute [post]
func (c *ReportController) ExecuteStep(ctx *gin.Context) {
	id, ok := taskID(ctx)
	if !ok {
		return
	}
	step, ok := stepParam(ctx)
	if !ok {
		return
	}

	output, err := c.workflowService.ExecuteStep(ctx.Request.Context(), id, step)
	if err != nil {
		FaultError(ctx, err)
		return
	}

	Success(ctx, gin.H{
		"task_id": id,
		"step":    step,
		"output":  output,
	})
}

// Rerun 重新执行步骤
// @Summary      重跑步骤
// @Description  重新执行步骤并生成新版本,不会继续执行后续步骤
// @Tags         步骤
// @Produce      json
// @Param        taskId path string true "任务 ID"
// @Param        step path string true "步骤" Enums(step1, step2, step3, step4, step5)
// @Success      200  {object}  Response
// @Failure      409  {object}  ErrorResponse
// @Failure      502  {object}  ErrorResponse
// @Router       /reports/{taskId}/steps/{step}/rerun [post]
func (c *ReportController) Rerun(ctx *gin.Context) {
	id, ok := taskID(ctx)
	if !ok {
		return
	}
	step, ok := stepParam(ctx)
	if !ok {
		return
	}

	output, err := c.workflowService.Rerun(ctx.Request.Context(), id, step)
	if err != nil {
		FaultError(ctx, err)
		return
	}

	Success(ctx, gin.H{
		"task_id": id,
		"step":    step,
		"output":  output,
	})
}

// GetStepResult 获取步骤最近一次成功的结果
func (c *ReportController) GetStepResult(ctx *gin.Context) {
	id, ok := taskID(ctx)
	if !ok {
		return
	}
	step, ok := stepParam(ctx)
	if !ok {
		return
	}

	entry, err := c.workflowService.GetStepResult(ctx.Request.Context(), id, step)
	if err != nil {
		FaultError(ctx, err)
		return
	}

	Success(ctx, entry)
}

// GetStepHistory 获取步骤全部版本
func (c *ReportController) GetStepHistory(ctx *gin.Context) {
	id, ok := taskID(ctx)
	if !ok {
		return
	}
	step, ok := stepParam(ctx)
	if !ok {
		return
	}

	entries, err := c.workflowService.GetStepHistory(ctx.Request.Context(), id, step)
	if err != nil {
		FaultError(ctx, err)
		return
	}

	List(ctx, entries, len(entries))
}

// GetHistory 获取任务全部步骤历史
func (c *ReportController) GetHistory(ctx *gin.Context) {
	id, ok := taskID(ctx)
	if !ok {
		return
	}

	entries, err := c.workflowService.GetHistory(ctx.Request.Context(), id)
	if err != nil {
		FaultError(ctx, err)
		return
	}

	List(ctx, entries, len(entries))
}

// Rollback 读取历史版本
// @Summary      读取历史版本
// @Description  只读取,不修改任务和历史
// @Tags         步骤
// @Produce      json
// @Param        taskId path string true "任务 ID"
// @Param        step path string true "步骤"
// @Param        version path int true "版本号"
// @Success      200  {object}  Response
// @Failure      404  {object}  ErrorResponse
// @Router       /reports/{taskId}/steps/{step}/versions/{version} [get]
func (c *ReportController) Rollback(ctx *gin.Context) {
	id, step, version, ok := c.versionParams(ctx)
	if !ok {
		return
	}

	entry, err := c.workflowService.Rollback(ctx.Request.Context(), id, step, version)
	if err != nil {
		FaultError(ctx, err)
		return
	}

	Success(ctx, entry)
}

// ApplyRollback 应用历史版本
// @Summary      应用历史版本
// @Description  将任务当前步骤和内容切换到指定的成功版本
// @Tags         步骤
// @Produce      json
// @Param        taskId path string true "任务 ID"
// @Param        step path string true "步骤"
// @Param        version path int true "版本号"
// @Success      200  {object}  Response
// @Failure      404  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse
// @Router       /reports/{taskId}/steps/{step}/versions/{version}/rollback [post]
func (c *ReportController) ApplyRollback(ctx *gin.Context) {
	id, step, version, ok := c.versionParams(ctx)
	if !ok {
		return
	}

	view, err := c.workflowService.ApplyRollback(ctx.Request.Context(), id, step, version)
	if err != nil {
		FaultError(ctx, err)
		return
	}

	Success(ctx, view)
}

func (c *ReportController) versionParams(ctx *gin.Context) (string, model.Step, int, bool) {
	id, ok := taskID(ctx)
	if !ok {
		return "", 0, 0, false
	}
	step, ok := stepParam(ctx)
	if !ok {
		return "", 0, 0, false
	}
	version, err := strconv.Atoi(ctx.Param("version"))
	if err != nil || version <= 0 {
		Error(ctx, http.StatusBadRequest, T(ctx, "error.invalid_version"), ctx.Param("version"))
		return "", 0, 0, false
	}
	return id, step, version, true
}

// Export 导出报告
// @Summary      导出报告
// @Tags         文件
// @Accept       json
// @Produce      json
// @Param        taskId path string true "任务 ID"
// @Param        request body ExportRequest false "导出参数"
// @Success      200  {object}  Response
// @Failure      409  {object}  ErrorResponse
// @Router       /reports/{taskId}/export [post]
func (c *ReportController) Export(ctx *gin.Context) {
	id, ok := taskID(ctx)
	if !ok {
		return
	}

	req := ExportRequest{Format: ctx.DefaultQuery("format", "pdf")}
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			Error(ctx, http.StatusBadRequest, T(ctx, "error.invalid_request"), err.Error())
			return
		}
	}

	result, err := c.workflowService.Export(ctx.Request.Context(), id, req.Format, req.UploadToOSS)
	if err != nil {
		FaultError(ctx, err)
		return
	}

	Success(ctx, result)
}

// Download 下载导出的文件
func (c *ReportController) Download(ctx *gin.Context) {
	id, ok := taskID(ctx)
	if !ok {
		return
	}

	file, err := c.workflowService.Download(ctx.Request.Context(), id, ctx.Param("filename"))
	if err != nil {
		FaultError(ctx, err)
		return
	}

	ctx.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": file.Filename}))
	ctx.Data(http.StatusOK, file.ContentType, file.Data)
}

// Cleanup 清理生成引擎的临时文件
func (c *ReportController) Cleanup(ctx *gin.Context) {
	id, ok := taskID(ctx)
	if !ok {
		return
	}

	cleaned, err := c.workflowService.Cleanup(ctx.Request.Context(), id)
	if err != nil {
		FaultError(ctx, err)
		return
	}

	Success(ctx, gin.H{"cleaned": cleaned})
}

// Delete 删除任务
// @Summary      删除任务
// @Description  删除任务、步骤历史和已发布文件,生成中的任务不能删除
// @Tags         报告任务
// @Produce      json
// @Param        taskId path string true "任务 ID"
// @Success      200  {object}  Response
// @Failure      404  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse
// @Router       /reports/{taskId} [delete]
func (c *ReportController) Delete(ctx *gin.Context) {
	id, ok := taskID(ctx)
	if !ok {
		return
	}

	if err := c.workflowService.Delete(ctx.Request.Context(), id); err != nil {
		FaultError(ctx, err)
		return
	}

	Success(ctx, nil)
}

// GetAuditLogs 获取任务的审计日志
func (c *ReportController) GetAuditLogs(ctx *gin.Context) {
	id, ok := taskID(ctx)
	if !ok {
		return
	}

	logs, err := c.auditLogService.ListByResource(ctx.Request.Context(), model.AuditResourceReport, id)
	if err != nil {
		Error(ctx, http.StatusInternalServerError, T(ctx, "error.internal_error"), err.Error())
		return
	}

	List(ctx, logs, len(logs))
}

// parseTaskFilter 解析列表查询参数
func parseTaskFilter(ctx *gin.Context) (*repository.TaskFilter, error) {
	filter := &repository.TaskFilter{Limit: defaultListLimit}

	if status := ctx.Query("status"); status != "" {
		s := model.TaskStatus(status)
		if !validStatus(s) {
			return nil, errInvalidStatus
		}
		filter.Status = &s
	}
	if raw := ctx.Query("publish_status"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < int(model.PublishStatusDraft) || n > int(model.PublishStatusArchived) {
			return nil, errInvalidPublishStatus
		}
		ps := model.PublishStatus(n)
		filter.PublishStatus = &ps
	}
	if userID := ctx.Query("user_id"); userID != "" {
		filter.UserID = &userID
	}
	for key, target := range map[string]**time.Time{"start_time": &filter.StartTime, "end_time": &filter.EndTime} {
		raw := ctx.Query(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, err
		}
		*target = &t
	}
	if raw := ctx.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, errInvalidLimit
		}
		if n > maxListLimit {
			n = maxListLimit
		}
		filter.Limit = n
	}
	return filter, nil
}

func validStatus(s model.TaskStatus) bool {
	for _, status := range model.AllTaskStatuses {
		if status == s {
			return true
		}
	}
	return false
}
