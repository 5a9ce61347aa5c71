package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mautops/report-gin/internal/model"
	"gorm.io/gorm"
)

// ErrHistoryNotFound 步骤历史版本不存在
var ErrHistoryNotFound = errors.New("step history not found")

// maxAppendAttempts 版本号冲突时的最大尝试次数
const maxAppendAttempts = 3

// StepHistoryRepository 步骤历史仓储接口
type StepHistoryRepository interface {
	// Append 追加一条执行记录并返回分配的版本号
	Append(ctx context.Context, entry *model.StepHistoryModel) (int, error)
	FindByTaskID(ctx context.Context, taskID string) ([]*model.StepHistoryModel, error)
	// FindByTaskAndStep 按版本号倒序返回
	FindByTaskAndStep(ctx context.Context, taskID string, step model.Step) ([]*model.StepHistoryModel, error)
	FindByVersion(ctx context.Context, taskID string, step model.Step, version int) (*model.StepHistoryModel, error)
	LatestSuccess(ctx context.Context, taskID string, step model.Step) (*model.StepHistoryModel, error)
	// Rollback 只读取历史版本,不修改任务和历史
	Rollback(ctx context.Context, taskID string, step model.Step, version int) (*model.StepHistoryModel, error)
}

// stepHistoryRepository 步骤历史仓储实现
type stepHistoryRepository struct {
	db    *gorm.DB
	locks *keyedMutex
}

// NewStepHistoryRepository 创建步骤历史仓储
func NewStepHistoryRepository(db *gorm.DB) StepHistoryRepository {
	return &stepHistoryRepository{
		db:    db,
		locks: newKeyedMutex(),
	}
}

// Append 读取当前最大版本号并在 max+1 处插入
// 同进程内按 (task, step) 串行化,跨进程由唯一索引兜底并重试
func (r *stepHistoryRepository) Append(ctx context.Context, entry *model.StepHistoryModel) (int, error) {
	if err := entry.Validate(); err != nil {
		return 0, err
	}

	unlock := r.locks.Lock(entry.TaskID + "/" + entry.Step.String())
	defer unlock()

	var lastErr error
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		row := *entry
		row.ID = 0
		if row.CreatedAt.IsZero() {
			row.CreatedAt = time.Now()
		}

		err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var maxVersion int
			if err := tx.Model(&model.StepHistoryModel{}).
				Where("task_id = ? AND step = ?", row.TaskID, row.Step).
				Select("COALESCE(MAX(version), 0)").
				Scan(&maxVersion).Error; err != nil {
				return err
			}
			row.Version = maxVersion + 1
			return tx.Create(&row).Error
		})
		if err == nil {
			*entry = row
			return row.Version, nil
		}
		if !isDuplicateKey(err) {
			return 0, fmt.Errorf("failed to append step history: %w", err)
		}
		lastErr = err
	}

	return 0, fmt.Errorf("failed to append step history after %d attempts: %w", maxAppendAttempts, lastErr)
}

// FindByTaskID 查找任务的全部历史
func (r *stepHistoryRepository) FindByTaskID(ctx context.Context, taskID string) ([]*model.StepHistoryModel, error) {
	var histories []*model.StepHistoryModel
	err := r.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("step ASC").
		Order("version ASC").
		Find(&histories).Error
	return histories, err
}

// FindByTaskAndStep 查找某步骤的全部版本
func (r *stepHistoryRepository) FindByTaskAndStep(ctx context.Context, taskID string, step model.Step) ([]*model.StepHistoryModel, error) {
	var histories []*model.StepHistoryModel
	err := r.db.WithContext(ctx).
		Where("task_id = ? AND step = ?", taskID, step).
		Order("version DESC").
		Find(&histories).Error
	return histories, err
}

// FindByVersion 查找指定版本,不存在时返回 ErrHistoryNotFound
func (r *stepHistoryRepository) FindByVersion(ctx context.Context, taskID string, step model.Step, version int) (*model.StepHistoryModel, error) {
	var history model.StepHistoryModel
	err := r.db.WithContext(ctx).
		Where("task_id = ? AND step = ? AND version = ?", taskID, step, version).
		First(&history).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrHistoryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &history, nil
}

// LatestSuccess 查找某步骤最近一次成功的记录
func (r *stepHistoryRepository) LatestSuccess(ctx context.Context, taskID string, step model.Step) (*model.StepHistoryModel, error) {
	var history model.StepHistoryModel
	err := r.db.WithContext(ctx).
		Where("task_id = ? AND step = ? AND status = ?", taskID, step, model.HistoryStatusSuccess).
		Order("version DESC").
		First(&history).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrHistoryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &history, nil
}

// Rollback 读取历史版本
func (r *stepHistoryRepository) Rollback(ctx context.Context, taskID string, step model.Step, version int) (*model.StepHistoryModel, error) {
	return r.FindByVersion(ctx, taskID, step, version)
}

// isDuplicateKey 判断是否为唯一约束冲突
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
