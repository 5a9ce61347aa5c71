package model

import (
	"errors"
	"time"

	"gorm.io/datatypes"
)

// StepHistoryModel 步骤执行历史数据模型,只追加不修改
type StepHistoryModel struct {
	ID            uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	TaskID        string         `gorm:"type:varchar(64);not null;uniqueIndex:idx_step_history_version,priority:1" json:"task_id"`
	Step          Step           `gorm:"type:varchar(16);not null;uniqueIndex:idx_step_history_version,priority:2" json:"step"`
	Version       int            `gorm:"not null;uniqueIndex:idx_step_history_version,priority:3" json:"version"`
	OutputJSON    datatypes.JSON `gorm:"column:output_json;type:jsonb" json:"output_json,omitempty"`
	ExecutionTime int            `gorm:"not null;default:0" json:"execution_time"` // 秒
	Status        HistoryStatus  `gorm:"type:varchar(16);not null" json:"status"`
	ErrorMessage  *string        `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt     time.Time      `gorm:"not null;index" json:"created_at"`
}

// TableName 指定表名
func (StepHistoryModel) TableName() string {
	return "report_step_history"
}

// Validate 验证步骤历史模型
func (h *StepHistoryModel) Validate() error {
	if h.TaskID == "" {
		return errors.New("task ID is required")
	}
	if !h.Step.Valid() {
		return errors.New("step is invalid")
	}
	if h.Status != HistoryStatusSuccess && h.Status != HistoryStatusFailure {
		return errors.New("history status must be success or failure")
	}
	if h.ExecutionTime < 0 {
		return errors.New("execution time must not be negative")
	}
	return nil
}

// Succeeded 是否执行成功
func (h *StepHistoryModel) Succeeded() bool {
	return h.Status == HistoryStatusSuccess
}
