package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/mautops/report-gin/internal/auth"
	"github.com/mautops/report-gin/internal/config"
	"github.com/mautops/report-gin/internal/database"
	"github.com/mautops/report-gin/internal/engine"
	"github.com/mautops/report-gin/internal/model"
	"github.com/mautops/report-gin/internal/repository"
	"github.com/mautops/report-gin/internal/service"
	"github.com/mautops/report-gin/internal/storage"
	"github.com/mautops/report-gin/internal/websocket"
	"github.com/mautops/report-gin/internal/worker"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeEngine 可配置失败步骤的生成引擎
type fakeEngine struct {
	mu        sync.Mutex
	createErr error
	stepErrs  map[model.Step]error
	exportErr error
	calls     []string
	runs      int
	rollbacks int
	cleanups  int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{stepErrs: map[model.Step]error{}}
}

func (e *fakeEngine) record(call string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, call)
	e.runs++
	return e.runs
}

func (e *fakeEngine) stepErr(step model.Step) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stepErrs[step]
}

func (e *fakeEngine) CreateTask(ctx context.Context, req *engine.Step1Request) (*engine.Step1Result, error) {
	e.record("step1")
	if e.createErr != nil {
		return nil, e.createErr
	}
	return &engine.Step1Result{
		EngineTaskID: "eng-" + req.TaskID[:8],
		Output:       json.RawMessage(fmt.Sprintf(`{"step":"step1","research":%q}`, req.ResearchContent)),
	}, nil
}

func (e *fakeEngine) ExecuteStep(ctx context.Context, engineTaskID string, step model.Step) (json.RawMessage, error) {
	n := e.record(step.String())
	if err := e.stepErr(step); err != nil {
		return nil, err
	}
	return json.RawMessage(fmt.Sprintf(`{"step":%q,"run":%d}`, step.String(), n)), nil
}

func (e *fakeEngine) Rerun(ctx context.Context, engineTaskID string, step model.Step) (json.RawMessage, error) {
	n := e.record("rerun:" + step.String())
	if err := e.stepErr(step); err != nil {
		return nil, err
	}
	return json.RawMessage(fmt.Sprintf(`{"step":%q,"run":%d}`, step.String(), n)), nil
}

func (e *fakeEngine) Rollback(ctx context.Context, engineTaskID string, step model.Step, version int) (json.RawMessage, error) {
	e.mu.Lock()
	e.rollbacks++
	e.mu.Unlock()
	return json.RawMessage(`{"ok":true}`), nil
}

func (e *fakeEngine) GetTask(ctx context.Context, engineTaskID string) (json.RawMessage, error) {
	return json.RawMessage(`{"from":"engine"}`), nil
}

func (e *fakeEngine) Export(ctx context.Context, engineTaskID string, format string, uploadToOSS bool) (*engine.ExportResult, error) {
	if e.exportErr != nil {
		return nil, e.exportErr
	}
	return &engine.ExportResult{
		DownloadURL: "http://engine/download/" + engineTaskID + "/report." + format,
		Filename:    "report." + format,
	}, nil
}

func (e *fakeEngine) Download(ctx context.Context, engineTaskID string, filename string) (*engine.File, error) {
	return &engine.File{Filename: filename, ContentType: "application/pdf", Data: []byte("%PDF-1.4 report")}, nil
}

func (e *fakeEngine) Cleanup(ctx context.Context, engineTaskID string) (bool, error) {
	e.mu.Lock()
	e.cleanups++
	e.mu.Unlock()
	return true, nil
}

// recordingNotifier 记录推送的事件
type recordingNotifier struct {
	mu     sync.Mutex
	events []websocket.Event
}

func (n *recordingNotifier) NotifyTask(event websocket.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	types := make([]string, 0, len(n.events))
	for _, event := range n.events {
		types = append(types, event.Type)
	}
	return types
}

// failingStorage 上传总是失败的对象存储
type failingStorage struct {
	*storage.MemoryStorage
}

func (s failingStorage) Upload(ctx context.Context, reader io.Reader, size int64, objectPath string, contentType string) (string, error) {
	return "", errors.New("bucket unavailable")
}

type testEnv struct {
	db          *gorm.DB
	engine      *fakeEngine
	storage     *storage.MemoryStorage
	notifier    *recordingNotifier
	taskRepo    repository.TaskRepository
	historyRepo repository.StepHistoryRepository
	auditSvc    service.AuditLogService
	workflow    service.WorkflowService
	publication service.PublicationService

	mu        sync.Mutex
	submitted []string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Connect(config.DatabaseConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	env := &testEnv{
		db:          db,
		engine:      newFakeEngine(),
		storage:     storage.NewMemoryStorage(""),
		notifier:    &recordingNotifier{},
		taskRepo:    repository.NewTaskRepository(db),
		historyRepo: repository.NewStepHistoryRepository(db),
	}
	env.auditSvc = service.NewAuditLogService(repository.NewAuditLogRepository(db))

	// 后台流水线由测试显式驱动
	runner := worker.RunnerFunc(func(ctx context.Context, taskID string) error {
		env.mu.Lock()
		defer env.mu.Unlock()
		env.submitted = append(env.submitted, taskID)
		return nil
	})

	env.workflow = service.NewWorkflowService(service.WorkflowDeps{
		TaskRepo:    env.taskRepo,
		HistoryRepo: env.historyRepo,
		Engine:      env.engine,
		Storage:     env.storage,
		Runner:      runner,
		Notifier:    env.notifier,
		AuditLogSvc: env.auditSvc,
		Logger:      logger,
	})
	env.publication = service.NewPublicationService(service.PublicationDeps{
		TaskRepo:    env.taskRepo,
		Renderer:    service.NewEngineRenderer(env.engine, "pdf"),
		Engine:      env.engine,
		Storage:     env.storage,
		PathPrefix:  "reports",
		Notifier:    env.notifier,
		AuditLogSvc: env.auditSvc,
		Logger:      logger,
	})
	return env
}

func userContext() context.Context {
	return auth.WithUser(context.Background(), auth.User{ID: "user-1", Name: "张三"})
}

func validRequest() *service.CreateReportRequest {
	return &service.CreateReportRequest{
		Title:        "  新能源行业研究  ",
		CompanyName:  "示例科技",
		Topic:        "储能",
		Description:  "分析储能市场规模",
		ConfigParams: json.RawMessage(`{"pages":20}`),
	}
}

// createTask 创建任务并返回 ID
func (env *testEnv) createTask(t *testing.T) string {
	t.Helper()
	taskID, err := env.workflow.Create(userContext(), validRequest())
	require.NoError(t, err)
	return taskID
}

// completeTask 创建任务并执行完整流水线
func (env *testEnv) completeTask(t *testing.T) string {
	t.Helper()
	taskID := env.createTask(t)
	require.NoError(t, env.workflow.RunPipeline(context.Background(), taskID))
	return taskID
}

func (env *testEnv) task(t *testing.T, taskID string) *model.ReportTaskModel {
	t.Helper()
	task, err := env.taskRepo.FindByID(context.Background(), taskID)
	require.NoError(t, err)
	return task
}
