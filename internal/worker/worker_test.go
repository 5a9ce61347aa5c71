package worker_test

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/mautops/report-gin/internal/config"
	"github.com/mautops/report-gin/internal/worker"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// TestPool_ProcessesAllTasks 测试协程池执行全部任务
func TestPool_ProcessesAllTasks(t *testing.T) {
	pool := worker.NewPool(config.WorkerConfig{Concurrency: 3, QueueSize: 20}, quietLogger())

	var mu sync.Mutex
	seen := make(map[string]int)
	require.NoError(t, pool.Start(func(ctx context.Context, taskID string) error {
		mu.Lock()
		seen[taskID]++
		mu.Unlock()
		return nil
	}))

	ids := []string{"a", "b", "c", "d", "e", "f"}
	for _, id := range ids {
		require.NoError(t, pool.Submit(context.Background(), id))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, pool.Stop(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, len(ids))
	for _, id := range ids {
		assert.Equal(t, 1, seen[id])
	}
}

// TestPool_QueueFull 测试队列满时拒绝
func TestPool_QueueFull(t *testing.T) {
	pool := worker.NewPool(config.WorkerConfig{Concurrency: 1, QueueSize: 1}, quietLogger())

	require.NoError(t, pool.Submit(context.Background(), "a"))
	assert.ErrorIs(t, pool.Submit(context.Background(), "b"), worker.ErrQueueFull)
	assert.Equal(t, 1, pool.Pending())
}

// TestPool_SubmitAfterStop 测试停止后提交
func TestPool_SubmitAfterStop(t *testing.T) {
	pool := worker.NewPool(config.WorkerConfig{}, quietLogger())
	require.NoError(t, pool.Start(func(ctx context.Context, taskID string) error { return nil }))
	require.NoError(t, pool.Stop(context.Background()))

	assert.ErrorIs(t, pool.Submit(context.Background(), "a"), worker.ErrStopped)
	assert.NoError(t, pool.Stop(context.Background()))
}

// TestPool_RecoversPanic 测试处理函数 panic 不影响后续任务
func TestPool_RecoversPanic(t *testing.T) {
	pool := worker.NewPool(config.WorkerConfig{Concurrency: 1, QueueSize: 4}, quietLogger())

	var processed int32
	require.NoError(t, pool.Start(func(ctx context.Context, taskID string) error {
		if taskID == "boom" {
			panic("boom")
		}
		atomic.AddInt32(&processed, 1)
		return nil
	}))

	require.NoError(t, pool.Submit(context.Background(), "boom"))
	require.NoError(t, pool.Submit(context.Background(), "ok"))
	require.NoError(t, pool.Stop(context.Background()))

	assert.Equal(t, int32(1), atomic.LoadInt32(&processed))
}

// TestPool_StopTimeoutCancelsRunning 测试停止超时后取消执行中的任务
func TestPool_StopTimeoutCancelsRunning(t *testing.T) {
	pool := worker.NewPool(config.WorkerConfig{Concurrency: 1, QueueSize: 1}, quietLogger())

	started := make(chan struct{})
	cancelled := make(chan struct{})
	require.NoError(t, pool.Start(func(ctx context.Context, taskID string) error {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}))
	require.NoError(t, pool.Submit(context.Background(), "slow"))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pool.Stop(ctx), context.DeadlineExceeded)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("running task was not cancelled")
	}
}

// TestNew 测试按配置选择执行器
func TestNew(t *testing.T) {
	backend, err := worker.New(config.WorkerConfig{Backend: "pool"}, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &worker.Pool{}, backend)

	backend, err = worker.New(config.WorkerConfig{Backend: "asynq", RedisAddr: "127.0.0.1:0"}, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &worker.Queue{}, backend)

	_, err = worker.New(config.WorkerConfig{Backend: "kafka"}, quietLogger())
	assert.Error(t, err)
}

// TestRunnerFunc 测试函数形式的 Runner
func TestRunnerFunc(t *testing.T) {
	var got string
	var runner worker.Runner = worker.RunnerFunc(func(ctx context.Context, taskID string) error {
		got = taskID
		return nil
	})
	require.NoError(t, runner.Submit(context.Background(), "t-1"))
	assert.Equal(t, "t-1", got)
}

// TestQueue_Integration 测试 Redis 队列入队与消费
func TestQueue_Integration(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	q := worker.NewQueue(config.WorkerConfig{
		Backend:     "asynq",
		Concurrency: 2,
		RedisAddr:   s.Addr(),
		Queue:       "reports",
	}, quietLogger())

	received := make(chan string, 2)
	require.NoError(t, q.Start(func(ctx context.Context, taskID string) error {
		received <- taskID
		return nil
	}))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = q.Stop(ctx)
	}()

	require.NoError(t, q.Submit(context.Background(), "task-1"))
	require.NoError(t, q.Submit(context.Background(), "task-2"))

	got := map[string]bool{}
	for len(got) < 2 {
		select {
		case id := <-received:
			got[id] = true
		case <-time.After(5 * time.Second):
			t.Fatalf("pipeline tasks not consumed, got %v", got)
		}
	}
	assert.True(t, got["task-1"])
	assert.True(t, got["task-2"])
}
