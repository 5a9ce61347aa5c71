package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/mautops/report-gin/internal/config"
	"github.com/sirupsen/logrus"
)

// TypeReportPipeline 报告后台流水线任务类型
const TypeReportPipeline = "report:pipeline"

const pipelineTimeout = 30 * time.Minute

type pipelinePayload struct {
	TaskID string `json:"task_id"`
}

// Queue 基于 Redis 队列的后台执行器,任务不自动重试
type Queue struct {
	client *asynq.Client
	server *asynq.Server
	queue  string
	logger *logrus.Logger

	mu      sync.Mutex
	stopped bool
}

// NewQueue 创建 Redis 队列执行器
func NewQueue(cfg config.WorkerConfig, logger *logrus.Logger) *Queue {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "default"
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queue: 1},
		Logger:      logger.WithField("component", "asynq"),
		LogLevel:    asynq.WarnLevel,
	})

	return &Queue{
		client: asynq.NewClient(redisOpt),
		server: server,
		queue:  queue,
		logger: logger,
	}
}

// Submit 入队
func (q *Queue) Submit(ctx context.Context, taskID string) error {
	q.mu.Lock()
	stopped := q.stopped
	q.mu.Unlock()
	if stopped {
		return ErrStopped
	}

	payload, err := json.Marshal(pipelinePayload{TaskID: taskID})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TypeReportPipeline, payload)
	info, err := q.client.EnqueueContext(ctx, task,
		asynq.Queue(q.queue),
		asynq.MaxRetry(0),
		asynq.Timeout(pipelineTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue pipeline for %s: %w", taskID, err)
	}

	q.logger.WithFields(logrus.Fields{
		"task_id": taskID,
		"job_id":  info.ID,
		"queue":   info.Queue,
	}).Debug("Pipeline enqueued")
	return nil
}

// Start 注册处理函数并启动消费者
func (q *Queue) Start(handler Handler) error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeReportPipeline, func(ctx context.Context, t *asynq.Task) error {
		var p pipelinePayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("invalid pipeline payload: %v: %w", err, asynq.SkipRetry)
		}
		return handler(ctx, p.TaskID)
	})

	if err := q.server.Start(mux); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}
	q.logger.WithField("queue", q.queue).Info("Queue consumer started")
	return nil
}

// Stop 停止消费者并关闭客户端
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.server.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("queue stop: %w", ctx.Err())
	}
	return q.client.Close()
}
