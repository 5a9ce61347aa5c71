// Package worker 后台步骤执行
package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/mautops/report-gin/internal/config"
	"github.com/sirupsen/logrus"
)

var (
	// ErrQueueFull 队列已满
	ErrQueueFull = errors.New("worker queue is full")
	// ErrStopped 执行器已停止
	ErrStopped = errors.New("worker is stopped")
)

// Handler 处理单个报告任务的后台流水线
type Handler func(ctx context.Context, taskID string) error

// Runner 提交后台任务
type Runner interface {
	Submit(ctx context.Context, taskID string) error
}

// RunnerFunc 函数形式的 Runner
type RunnerFunc func(ctx context.Context, taskID string) error

// Submit 实现 Runner
func (f RunnerFunc) Submit(ctx context.Context, taskID string) error {
	return f(ctx, taskID)
}

// Backend 后台执行器
type Backend interface {
	Runner
	Start(handler Handler) error
	Stop(ctx context.Context) error
}

// New 根据配置创建后台执行器
func New(cfg config.WorkerConfig, logger *logrus.Logger) (Backend, error) {
	switch cfg.Backend {
	case "", "pool":
		return NewPool(cfg, logger), nil
	case "asynq":
		return NewQueue(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported worker backend: %s", cfg.Backend)
	}
}
