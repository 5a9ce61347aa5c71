package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mautops/report-gin/internal/model"
	"gorm.io/gorm"
)

// ErrTaskNotFound 任务不存在
var ErrTaskNotFound = errors.New("task not found")

// TaskRepository 报告任务仓储接口
type TaskRepository interface {
	Create(ctx context.Context, task *model.ReportTaskModel) error
	FindByID(ctx context.Context, taskID string) (*model.ReportTaskModel, error)
	FindByFilter(ctx context.Context, filter *TaskFilter) ([]*model.ReportTaskModel, error)
	// Update 按列原子更新,值为 nil 时写入 NULL
	Update(ctx context.Context, taskID string, fields map[string]interface{}) error
	// UpdateIf 仅当 expected 中的列全部匹配时更新,返回是否更新成功
	UpdateIf(ctx context.Context, taskID string, expected map[string]interface{}, fields map[string]interface{}) (bool, error)
	CountByStatus(ctx context.Context) (map[model.TaskStatus]int64, error)
	// DeleteCascade 在同一事务中删除任务及其全部步骤历史
	DeleteCascade(ctx context.Context, taskID string) error
}

// TaskFilter 任务查询过滤器
type TaskFilter struct {
	Status        *model.TaskStatus
	PublishStatus *model.PublishStatus
	UserID        *string
	StartTime     *time.Time
	EndTime       *time.Time
	Limit         int
}

// taskRepository 任务仓储实现
type taskRepository struct {
	db *gorm.DB
}

// NewTaskRepository 创建任务仓储
func NewTaskRepository(db *gorm.DB) TaskRepository {
	return &taskRepository{db: db}
}

// Create 插入任务
func (r *taskRepository) Create(ctx context.Context, task *model.ReportTaskModel) error {
	if err := task.Validate(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(task).Error
}

// FindByID 根据 ID 查找任务
func (r *taskRepository) FindByID(ctx context.Context, taskID string) (*model.ReportTaskModel, error) {
	var task model.ReportTaskModel
	err := r.db.WithContext(ctx).Where("task_id = ?", taskID).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// FindByFilter 根据过滤器查找任务
func (r *taskRepository) FindByFilter(ctx context.Context, filter *TaskFilter) ([]*model.ReportTaskModel, error) {
	var tasks []*model.ReportTaskModel
	query := r.db.WithContext(ctx).Model(&model.ReportTaskModel{})

	if filter != nil {
		if filter.Status != nil {
			query = query.Where("status = ?", *filter.Status)
		}
		if filter.PublishStatus != nil {
			query = query.Where("publish_status = ?", *filter.PublishStatus)
		}
		if filter.UserID != nil {
			query = query.Where("user_id = ?", *filter.UserID)
		}
		if filter.StartTime != nil {
			query = query.Where("created_at >= ?", *filter.StartTime)
		}
		if filter.EndTime != nil {
			query = query.Where("created_at <= ?", *filter.EndTime)
		}
		if filter.Limit > 0 {
			query = query.Limit(filter.Limit)
		}
	}

	err := query.Order("created_at DESC").Find(&tasks).Error
	return tasks, err
}

// Update 更新指定列
func (r *taskRepository) Update(ctx context.Context, taskID string, fields map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&model.ReportTaskModel{}).
		Where("task_id = ?", taskID).
		Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("failed to update task %s: %w", taskID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// UpdateIf 条件更新
func (r *taskRepository) UpdateIf(ctx context.Context, taskID string, expected map[string]interface{}, fields map[string]interface{}) (bool, error) {
	query := r.db.WithContext(ctx).
		Model(&model.ReportTaskModel{}).
		Where("task_id = ?", taskID)
	for column, value := range expected {
		query = query.Where(column+" = ?", value)
	}
	result := query.Updates(fields)
	if result.Error != nil {
		return false, fmt.Errorf("failed to update task %s: %w", taskID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// CountByStatus 统计各状态任务数
func (r *taskRepository) CountByStatus(ctx context.Context) (map[model.TaskStatus]int64, error) {
	var rows []struct {
		Status model.TaskStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).
		Model(&model.ReportTaskModel{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[model.TaskStatus]int64, len(model.AllTaskStatuses))
	for _, status := range model.AllTaskStatuses {
		counts[status] = 0
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// DeleteCascade 删除任务及其历史
func (r *taskRepository) DeleteCascade(ctx context.Context, taskID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("task_id = ?", taskID).Delete(&model.StepHistoryModel{}).Error; err != nil {
			return fmt.Errorf("failed to delete step history: %w", err)
		}
		result := tx.Where("task_id = ?", taskID).Delete(&model.ReportTaskModel{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete task: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrTaskNotFound
		}
		return nil
	})
}
