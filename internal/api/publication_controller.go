package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/report-gin/internal/service"
	"github.com/mautops/report-gin/internal/utils"
)

// maxBatchSize 单次批量操作的任务数上限
const maxBatchSize = 100

// PublicationController 报告发布控制器
type PublicationController struct {
	publicationService service.PublicationService
}

// NewPublicationController 创建报告发布控制器
func NewPublicationController(publicationService service.PublicationService) *PublicationController {
	return &PublicationController{
		publicationService: publicationService,
	}
}

// Publish 发布报告
// @Summary      发布报告
// @Description  导出报告并上传对象存储,只有已完成的草稿可以发布
// @Tags         发布
// @Produce      json
// @Param        taskId path string true "任务 ID"
// @Success      200  {object}  Response
// @Failure      409  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /reports/{taskId}/publish [post]
func (c *PublicationController) Publish(ctx *gin.Context) {
	id, ok := taskID(ctx)
	if !ok {
		return
	}

	result, err := c.publicationService.Publish(ctx.Request.Context(), id)
	if err != nil {
		FaultError(ctx, err)
		return
	}

	Success(ctx, result)
}

// Unpublish 取消发布
func (c *PublicationController) Unpublish(ctx *gin.Context) {
	c.transition(ctx, c.publicationService.Unpublish)
}

// Archive 归档报告
func (c *PublicationController) Archive(ctx *gin.Context) {
	c.transition(ctx, c.publicationService.Archive)
}

// Restore 恢复归档的报告
func (c *PublicationController) Restore(ctx *gin.Context) {
	c.transition(ctx, c.publicationService.Restore)
}

func (c *PublicationController) transition(ctx *gin.Context, action func(ctx context.Context, taskID string) error) {
	id, ok := taskID(ctx)
	if !ok {
		return
	}

	if err := action(ctx.Request.Context(), id); err != nil {
		FaultError(ctx, err)
		return
	}

	Success(ctx, gin.H{"task_id": id})
}

// BatchArchive 批量归档
// @Summary      批量归档
// @Description  逐个归档,单个失败不影响其他任务
// @Tags         发布
// @Accept       json
// @Produce      json
// @Param        request body service.BatchArchiveRequest true "任务 ID 列表"
// @Success      200  {object}  Response
// @Failure      400  {object}  ErrorResponse
// @Router       /reports/batch/archive [post]
func (c *PublicationController) BatchArchive(ctx *gin.Context) {
	var req service.BatchArchiveRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, T(ctx, "error.invalid_request"), err.Error())
		return
	}
	if len(req.TaskIDs) == 0 || len(req.TaskIDs) > maxBatchSize {
		Error(ctx, http.StatusBadRequest, T(ctx, "error.invalid_request"), "task_ids must contain 1 to 100 items")
		return
	}
	for _, id := range req.TaskIDs {
		if err := utils.ValidateTaskID(id); err != nil {
			Error(ctx, http.StatusBadRequest, T(ctx, "error.invalid_task_id"), id)
			return
		}
	}

	successCount, results := c.publicationService.BatchArchive(ctx.Request.Context(), req.TaskIDs)
	Success(ctx, gin.H{
		"success_count": successCount,
		"failed_count":  len(results) - successCount,
		"results":       results,
	})
}

// ArtifactURL 获取已发布文件的访问地址
func (c *PublicationController) ArtifactURL(ctx *gin.Context) {
	id, ok := taskID(ctx)
	if !ok {
		return
	}

	url, err := c.publicationService.ArtifactURL(ctx.Request.Context(), id)
	if err != nil {
		FaultError(ctx, err)
		return
	}

	Success(ctx, gin.H{
		"task_id": id,
		"url":     url,
	})
}
