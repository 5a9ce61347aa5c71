package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/mautops/report-gin/internal/config"
	"github.com/sirupsen/logrus"
)

// Pool 进程内协程池
type Pool struct {
	concurrency int
	jobs        chan string
	logger      *logrus.Logger

	mu      sync.RWMutex
	started bool
	stopped bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPool 创建协程池
func NewPool(cfg config.WorkerConfig, logger *logrus.Logger) *Pool {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		concurrency: concurrency,
		jobs:        make(chan string, queueSize),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start 启动工作协程
func (p *Pool) Start(handler Handler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	if p.started {
		return fmt.Errorf("worker pool already started")
	}
	p.started = true

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.loop(i, handler)
	}
	p.logger.WithField("concurrency", p.concurrency).Info("Worker pool started")
	return nil
}

// Submit 提交任务,队列满时立即返回 ErrQueueFull
func (p *Pool) Submit(ctx context.Context, taskID string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.jobs <- taskID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Pending 排队中的任务数
func (p *Pool) Pending() int {
	return len(p.jobs)
}

// Stop 停止接收新任务并等待已排队任务完成,ctx 超时后取消正在执行的任务
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info("Worker pool stopped")
		return nil
	case <-ctx.Done():
		p.cancel()
		return fmt.Errorf("worker pool stop: %w", ctx.Err())
	}
}

func (p *Pool) loop(id int, handler Handler) {
	defer p.wg.Done()
	for taskID := range p.jobs {
		p.run(id, handler, taskID)
	}
}

func (p *Pool) run(id int, handler Handler, taskID string) {
	entry := p.logger.WithFields(logrus.Fields{
		"worker":  id,
		"task_id": taskID,
	})
	defer func() {
		if r := recover(); r != nil {
			entry.WithField("panic", r).Error("Pipeline panicked")
		}
	}()

	if err := handler(p.ctx, taskID); err != nil {
		entry.WithError(err).Warn("Pipeline finished with error")
	}
}
