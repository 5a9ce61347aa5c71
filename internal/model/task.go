package model

import (
	"errors"
	"time"

	"gorm.io/datatypes"
)

// ReportTaskModel 报告生成任务数据模型
type ReportTaskModel struct {
	TaskID        string         `gorm:"column:task_id;primaryKey;type:varchar(64)" json:"task_id"`
	EngineTaskID  *string        `gorm:"column:engine_task_id;type:varchar(64)" json:"engine_task_id,omitempty"` // 生成引擎分配的 ID
	Title         string         `gorm:"type:varchar(255);not null" json:"title"`
	CompanyName   string         `gorm:"type:varchar(255);not null" json:"company_name"`
	Topic         string         `gorm:"type:varchar(255)" json:"topic"`
	Description   string         `gorm:"type:text" json:"description"`
	ConfigParams  datatypes.JSON `gorm:"type:jsonb" json:"config_params,omitempty"`
	Status        TaskStatus     `gorm:"type:varchar(32);not null;index" json:"status"`
	CurrentStep   Step           `gorm:"type:varchar(16);not null" json:"current_step"`
	Progress      int            `gorm:"not null;default:0" json:"progress"`
	Content       datatypes.JSON `gorm:"type:jsonb" json:"content,omitempty"` // 最近一次成功步骤的输出
	ErrorMessage  *string        `gorm:"type:text" json:"error_message,omitempty"`
	StartTime     time.Time      `gorm:"not null" json:"start_time"`
	EndTime       *time.Time     `json:"end_time,omitempty"`
	PublishStatus PublishStatus  `gorm:"not null;default:0;index" json:"publish_status"`
	OSSFilePath   *string        `gorm:"column:oss_file_path;type:varchar(512)" json:"oss_file_path,omitempty"`
	PublishTime   *time.Time     `json:"publish_time,omitempty"`
	ArchiveTime   *time.Time     `json:"archive_time,omitempty"`
	UserID        string         `gorm:"type:varchar(64);index" json:"user_id"`
	UserName      string         `gorm:"type:varchar(128)" json:"user_name"`
	CreatedAt     time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null" json:"updated_at"`
}

// TableName 指定表名
func (ReportTaskModel) TableName() string {
	return "report_tasks"
}

// Validate 验证任务模型
func (t *ReportTaskModel) Validate() error {
	if t.TaskID == "" {
		return errors.New("task ID is required")
	}
	if t.Title == "" {
		return errors.New("title is required")
	}
	if t.CompanyName == "" {
		return errors.New("company name is required")
	}
	if t.Status == "" {
		return errors.New("task status is required")
	}
	if !t.CurrentStep.Valid() {
		return errors.New("current step is invalid")
	}
	return nil
}

// HasEngineTask 是否已获得引擎任务 ID
func (t *ReportTaskModel) HasEngineTask() bool {
	return t.EngineTaskID != nil && *t.EngineTaskID != ""
}

// EngineID 返回引擎任务 ID,未分配时为空串
func (t *ReportTaskModel) EngineID() string {
	if t.EngineTaskID == nil {
		return ""
	}
	return *t.EngineTaskID
}
