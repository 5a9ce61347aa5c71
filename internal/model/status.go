package model

// TaskStatus 任务生成状态
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// AllTaskStatuses 全部任务状态,用于指标统计
var AllTaskStatuses = []TaskStatus{
	TaskStatusPending,
	TaskStatusInProgress,
	TaskStatusCompleted,
	TaskStatusFailed,
}

// IsTerminal 是否为终态
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// PublishStatus 发布状态
type PublishStatus int

const (
	PublishStatusDraft     PublishStatus = 0
	PublishStatusPublished PublishStatus = 1
	PublishStatusArchived  PublishStatus = 2
)

// String 返回发布状态名称
func (s PublishStatus) String() string {
	switch s {
	case PublishStatusDraft:
		return "draft"
	case PublishStatusPublished:
		return "published"
	case PublishStatusArchived:
		return "archived"
	default:
		return "unknown"
	}
}

// HistoryStatus 步骤执行结果
type HistoryStatus string

const (
	HistoryStatusSuccess HistoryStatus = "success"
	HistoryStatusFailure HistoryStatus = "failure"
)
