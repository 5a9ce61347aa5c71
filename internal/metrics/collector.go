package metrics

import (
	"context"
	"time"

	"github.com/mautops/report-gin/internal/model"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// StatusCounter 按状态统计任务数
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[model.TaskStatus]int64, error)
}

// QueueDepth 返回后台队列积压数
type QueueDepth interface {
	Pending() int
}

// Collector 指标收集器
type Collector struct {
	db       *gorm.DB
	counter  StatusCounter
	queue    QueueDepth
	interval time.Duration
	logger   *logrus.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewCollector 创建指标收集器,counter 和 queue 可以为 nil
func NewCollector(db *gorm.DB, counter StatusCounter, queue QueueDepth, interval time.Duration, logger *logrus.Logger) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Collector{
		db:       db,
		counter:  counter,
		queue:    queue,
		interval: interval,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start 启动指标收集器
func (c *Collector) Start() {
	go c.collect()
}

// Stop 停止指标收集器
func (c *Collector) Stop() {
	c.cancel()
	<-c.done
}

// CollectOnce 立即收集一次
func (c *Collector) CollectOnce(ctx context.Context) {
	if c.db != nil {
		if err := UpdateDatabaseConnections(c.db); err != nil {
			c.logger.WithError(err).Debug("Failed to collect database connection metrics")
		}
	}

	if c.counter != nil {
		counts, err := c.counter.CountByStatus(ctx)
		if err != nil {
			c.logger.WithError(err).Warn("Failed to count tasks by status")
		} else {
			for status, count := range counts {
				UpdateTasksByStatus(string(status), float64(count))
			}
		}
	}

	if c.queue != nil {
		UpdateWorkerQueueDepth(c.queue.Pending())
	}
}

// collect 定期收集指标
func (c *Collector) collect() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	defer close(c.done)

	c.CollectOnce(c.ctx)
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.CollectOnce(c.ctx)
		}
	}
}
