package repository_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/report-gin/internal/config"
	"github.com/mautops/report-gin/internal/database"
	"github.com/mautops/report-gin/internal/model"
	"github.com/mautops/report-gin/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// setupTestDB 创建内存 SQLite 数据库
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Connect(config.DatabaseConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

func newTask() *model.ReportTaskModel {
	return &model.ReportTaskModel{
		TaskID:      uuid.New().String(),
		Title:       "行业研究报告",
		CompanyName: "示例科技",
		Topic:       "新能源",
		Status:      model.TaskStatusInProgress,
		CurrentStep: model.Step1,
		StartTime:   time.Now(),
		UserID:      "user-1",
		UserName:    "张三",
	}
}

// TestTaskRepository_CreateAndFind 测试创建和查询任务
func TestTaskRepository_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewTaskRepository(setupTestDB(t))

	task := newTask()
	task.ConfigParams = datatypes.JSON(`{"pages":10}`)
	require.NoError(t, repo.Create(ctx, task))

	found, err := repo.FindByID(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.Title, found.Title)
	assert.Equal(t, model.Step1, found.CurrentStep)
	assert.Equal(t, model.PublishStatusDraft, found.PublishStatus)
	assert.JSONEq(t, `{"pages":10}`, string(found.ConfigParams))
	assert.Nil(t, found.EngineTaskID)
	assert.Nil(t, found.ErrorMessage)

	_, err = repo.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrTaskNotFound)
}

// TestTaskRepository_CreateInvalid 测试非法任务被拒绝
func TestTaskRepository_CreateInvalid(t *testing.T) {
	repo := repository.NewTaskRepository(setupTestDB(t))
	task := newTask()
	task.Title = ""
	assert.Error(t, repo.Create(context.Background(), task))
}

// TestTaskRepository_Update 测试按列更新,包括置空
func TestTaskRepository_Update(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewTaskRepository(setupTestDB(t))
	task := newTask()
	require.NoError(t, repo.Create(ctx, task))

	msg := "执行step2失败：编排器服务内部错误"
	require.NoError(t, repo.Update(ctx, task.TaskID, map[string]interface{}{
		"status":        model.TaskStatusFailed,
		"current_step":  model.Step2,
		"progress":      model.Step2.Progress(),
		"error_message": msg,
		"content":       datatypes.JSON(`{"summary":"ok"}`),
	}))

	found, err := repo.FindByID(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, found.Status)
	assert.Equal(t, model.Step2, found.CurrentStep)
	assert.Equal(t, 40, found.Progress)
	require.NotNil(t, found.ErrorMessage)
	assert.Equal(t, msg, *found.ErrorMessage)
	assert.JSONEq(t, `{"summary":"ok"}`, string(found.Content))
	// 未更新的列保持不变
	assert.Equal(t, task.Title, found.Title)

	require.NoError(t, repo.Update(ctx, task.TaskID, map[string]interface{}{"error_message": nil}))
	found, err = repo.FindByID(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Nil(t, found.ErrorMessage)

	err = repo.Update(ctx, "missing", map[string]interface{}{"progress": 20})
	assert.ErrorIs(t, err, repository.ErrTaskNotFound)
}

// TestTaskRepository_UpdateIf 测试条件更新
func TestTaskRepository_UpdateIf(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewTaskRepository(setupTestDB(t))
	task := newTask()
	require.NoError(t, repo.Create(ctx, task))

	ok, err := repo.UpdateIf(ctx, task.TaskID,
		map[string]interface{}{"publish_status": model.PublishStatusPublished},
		map[string]interface{}{"publish_status": model.PublishStatusArchived})
	require.NoError(t, err)
	assert.False(t, ok, "draft task must not be archived")

	ok, err = repo.UpdateIf(ctx, task.TaskID,
		map[string]interface{}{"publish_status": model.PublishStatusDraft},
		map[string]interface{}{"publish_status": model.PublishStatusPublished})
	require.NoError(t, err)
	assert.True(t, ok)

	found, err := repo.FindByID(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.PublishStatusPublished, found.PublishStatus)
}

// TestTaskRepository_FindByFilterAndCount 测试过滤查询和状态统计
func TestTaskRepository_FindByFilterAndCount(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewTaskRepository(setupTestDB(t))

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, newTask()))
	}
	failed := newTask()
	failed.Status = model.TaskStatusFailed
	failed.UserID = "user-2"
	require.NoError(t, repo.Create(ctx, failed))

	status := model.TaskStatusFailed
	tasks, err := repo.FindByFilter(ctx, &repository.TaskFilter{Status: &status})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, failed.TaskID, tasks[0].TaskID)

	userID := "user-1"
	tasks, err = repo.FindByFilter(ctx, &repository.TaskFilter{UserID: &userID, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[model.TaskStatusInProgress])
	assert.Equal(t, int64(1), counts[model.TaskStatusFailed])
	assert.Equal(t, int64(0), counts[model.TaskStatusCompleted])
}

// TestTaskRepository_DeleteCascade 测试删除任务时级联删除历史
func TestTaskRepository_DeleteCascade(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	tasks := repository.NewTaskRepository(db)
	histories := repository.NewStepHistoryRepository(db)

	task := newTask()
	require.NoError(t, tasks.Create(ctx, task))
	for _, step := range []model.Step{model.Step1, model.Step2} {
		_, err := histories.Append(ctx, &model.StepHistoryModel{TaskID: task.TaskID, Step: step, Status: model.HistoryStatusSuccess})
		require.NoError(t, err)
	}
	other := newTask()
	require.NoError(t, tasks.Create(ctx, other))
	_, err := histories.Append(ctx, &model.StepHistoryModel{TaskID: other.TaskID, Step: model.Step1, Status: model.HistoryStatusSuccess})
	require.NoError(t, err)

	require.NoError(t, tasks.DeleteCascade(ctx, task.TaskID))

	_, err = tasks.FindByID(ctx, task.TaskID)
	assert.ErrorIs(t, err, repository.ErrTaskNotFound)
	remaining, err := histories.FindByTaskID(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	// 其他任务的历史不受影响
	kept, err := histories.FindByTaskID(ctx, other.TaskID)
	require.NoError(t, err)
	assert.Len(t, kept, 1)

	assert.ErrorIs(t, tasks.DeleteCascade(ctx, task.TaskID), repository.ErrTaskNotFound)
}

// TestStepHistoryRepository_AppendVersions 测试版本号从 1 开始连续递增
func TestStepHistoryRepository_AppendVersions(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewStepHistoryRepository(setupTestDB(t))

	for i := 1; i <= 4; i++ {
		status := model.HistoryStatusSuccess
		if i%2 == 0 {
			status = model.HistoryStatusFailure
		}
		entry := &model.StepHistoryModel{TaskID: "task-1", Step: model.Step3, Status: status, ExecutionTime: i}
		version, err := repo.Append(ctx, entry)
		require.NoError(t, err)
		assert.Equal(t, i, version)
		assert.Equal(t, i, entry.Version)
		assert.NotZero(t, entry.ID)
	}

	// 其他步骤从 1 开始
	version, err := repo.Append(ctx, &model.StepHistoryModel{TaskID: "task-1", Step: model.Step4, Status: model.HistoryStatusSuccess})
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	histories, err := repo.FindByTaskAndStep(ctx, "task-1", model.Step3)
	require.NoError(t, err)
	require.Len(t, histories, 4)
	for i, h := range histories {
		assert.Equal(t, 4-i, h.Version, "versions are ordered newest first")
	}
}

// TestStepHistoryRepository_ConcurrentAppend 测试并发追加不产生重复或缺失的版本号
func TestStepHistoryRepository_ConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewStepHistoryRepository(setupTestDB(t))

	const writers = 20
	var wg sync.WaitGroup
	versions := make(chan int, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := repo.Append(ctx, &model.StepHistoryModel{TaskID: "task-c", Step: model.Step2, Status: model.HistoryStatusSuccess})
			assert.NoError(t, err)
			versions <- v
		}()
	}
	wg.Wait()
	close(versions)

	seen := make(map[int]bool)
	for v := range versions {
		assert.False(t, seen[v], "duplicate version %d", v)
		seen[v] = true
	}
	for v := 1; v <= writers; v++ {
		assert.True(t, seen[v], "missing version %d", v)
	}
}

// TestStepHistoryRepository_FindByVersion 测试按版本查询
func TestStepHistoryRepository_FindByVersion(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewStepHistoryRepository(setupTestDB(t))

	_, err := repo.Append(ctx, &model.StepHistoryModel{
		TaskID:     "task-v",
		Step:       model.Step2,
		Status:     model.HistoryStatusSuccess,
		OutputJSON: datatypes.JSON(`{"chapter":"市场分析"}`),
	})
	require.NoError(t, err)

	h, err := repo.FindByVersion(ctx, "task-v", model.Step2, 1)
	require.NoError(t, err)
	assert.JSONEq(t, `{"chapter":"市场分析"}`, string(h.OutputJSON))

	_, err = repo.FindByVersion(ctx, "task-v", model.Step2, 2)
	assert.ErrorIs(t, err, repository.ErrHistoryNotFound)
	_, err = repo.FindByVersion(ctx, "task-v", model.Step3, 1)
	assert.ErrorIs(t, err, repository.ErrHistoryNotFound)
}

// TestStepHistoryRepository_RollbackIsPureRead 测试回滚只读且结果稳定
func TestStepHistoryRepository_RollbackIsPureRead(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewStepHistoryRepository(setupTestDB(t))

	for i := 0; i < 2; i++ {
		_, err := repo.Append(ctx, &model.StepHistoryModel{
			TaskID:     "task-r",
			Step:       model.Step1,
			Status:     model.HistoryStatusSuccess,
			OutputJSON: datatypes.JSON(fmt.Sprintf(`{"n":%d}`, i+1)),
		})
		require.NoError(t, err)
	}

	first, err := repo.Rollback(ctx, "task-r", model.Step1, 1)
	require.NoError(t, err)
	second, err := repo.Rollback(ctx, "task-r", model.Step1, 1)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, string(first.OutputJSON), string(second.OutputJSON))
	assert.JSONEq(t, `{"n":1}`, string(first.OutputJSON))

	all, err := repo.FindByTaskAndStep(ctx, "task-r", model.Step1)
	require.NoError(t, err)
	assert.Len(t, all, 2, "rollback must not add or remove rows")

	_, err = repo.Rollback(ctx, "task-r", model.Step1, 9)
	assert.ErrorIs(t, err, repository.ErrHistoryNotFound)
}

// TestStepHistoryRepository_LatestSuccess 测试查询最近一次成功记录
func TestStepHistoryRepository_LatestSuccess(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewStepHistoryRepository(setupTestDB(t))

	_, err := repo.LatestSuccess(ctx, "task-l", model.Step2)
	assert.ErrorIs(t, err, repository.ErrHistoryNotFound)

	statuses := []model.HistoryStatus{model.HistoryStatusSuccess, model.HistoryStatusSuccess, model.HistoryStatusFailure}
	for _, status := range statuses {
		_, err := repo.Append(ctx, &model.StepHistoryModel{TaskID: "task-l", Step: model.Step2, Status: status})
		require.NoError(t, err)
	}

	latest, err := repo.LatestSuccess(ctx, "task-l", model.Step2)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
}

// TestAuditLogRepository 测试审计日志读写
func TestAuditLogRepository(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewAuditLogRepository(setupTestDB(t))

	log := &model.AuditLogModel{
		ID:           uuid.New().String(),
		UserID:       "user-1",
		Action:       model.AuditActionPublish,
		ResourceType: model.AuditResourceReport,
		ResourceID:   "task-a",
		Details:      datatypes.JSON(`{"format":"pdf"}`),
		CreatedAt:    time.Now(),
	}
	require.NoError(t, repo.Save(ctx, log))

	byUser, err := repo.FindByUserID(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, model.AuditActionPublish, byUser[0].Action)

	byResource, err := repo.FindByResource(ctx, model.AuditResourceReport, "task-a")
	require.NoError(t, err)
	assert.Len(t, byResource, 1)

	assert.Error(t, repo.Save(ctx, &model.AuditLogModel{}))
}
