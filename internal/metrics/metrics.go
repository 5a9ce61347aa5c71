package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

var (
	// API 请求计数器
	apiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	// API 请求响应时间
	apiRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 报告任务创建数
	reportTasksCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report_tasks_created_total",
			Help: "Total number of report tasks created",
		},
		[]string{"result"}, // success, failure
	)

	// 步骤执行次数
	stepExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report_step_executions_total",
			Help: "Total number of report step executions",
		},
		[]string{"step", "status"},
	)

	// 步骤执行耗时
	stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "report_step_duration_seconds",
			Help:    "Report step execution duration in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"step"},
	)

	// 生成引擎错误数
	engineFaultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report_engine_faults_total",
			Help: "Total number of generation engine faults by code",
		},
		[]string{"code"},
	)

	// 发布生命周期操作数
	publishOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report_publish_operations_total",
			Help: "Total number of publication lifecycle operations",
		},
		[]string{"action", "result"}, // publish, unpublish, archive, restore
	)

	// 数据库连接数
	databaseConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_active",
			Help: "Number of active database connections",
		},
	)

	databaseConnectionsIdle = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_idle",
			Help: "Number of idle database connections",
		},
	)

	databaseConnectionsMax = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_max",
			Help: "Maximum number of database connections",
		},
	)

	// 任务状态分布
	tasksByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "report_tasks_by_status",
			Help: "Number of report tasks by status",
		},
		[]string{"status"},
	)

	// 后台队列积压
	workerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "report_worker_queue_depth",
			Help: "Number of pipelines waiting in the in-process worker queue",
		},
	)
)

var (
	once sync.Once
)

func init() {
	// 注册指标
	prometheus.MustRegister(apiRequestsTotal)
	prometheus.MustRegister(apiRequestDuration)
	prometheus.MustRegister(reportTasksCreatedTotal)
	prometheus.MustRegister(stepExecutionsTotal)
	prometheus.MustRegister(stepDuration)
	prometheus.MustRegister(engineFaultsTotal)
	prometheus.MustRegister(publishOperationsTotal)
	prometheus.MustRegister(databaseConnectionsActive)
	prometheus.MustRegister(databaseConnectionsIdle)
	prometheus.MustRegister(databaseConnectionsMax)
	prometheus.MustRegister(tasksByStatus)
	prometheus.MustRegister(workerQueueDepth)

	// 注册 Go 运行时指标（只注册一次）
	once.Do(func() {
		_ = prometheus.Register(prometheus.NewGoCollector())
		_ = prometheus.Register(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	})
}

// Handler 返回 Prometheus 指标处理器
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAPIRequest 记录 API 请求
func RecordAPIRequest(method, path string, status int, duration float64) {
	statusText := http.StatusText(status)
	if statusText == "" {
		statusText = fmt.Sprintf("%d", status)
	}
	apiRequestsTotal.WithLabelValues(method, path, statusText).Inc()
	apiRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// RecordTaskCreated 记录任务创建
func RecordTaskCreated(success bool) {
	reportTasksCreatedTotal.WithLabelValues(resultLabel(success)).Inc()
}

// RecordStepExecution 记录步骤执行结果和耗时
func RecordStepExecution(step string, success bool, seconds float64) {
	status := "success"
	if !success {
		status = "failure"
	}
	stepExecutionsTotal.WithLabelValues(step, status).Inc()
	stepDuration.WithLabelValues(step).Observe(seconds)
}

// RecordEngineFault 记录生成引擎错误
func RecordEngineFault(code int) {
	engineFaultsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
}

// RecordPublishOperation 记录发布生命周期操作
func RecordPublishOperation(action string, success bool) {
	publishOperationsTotal.WithLabelValues(action, resultLabel(success)).Inc()
}

// UpdateDatabaseConnections 更新数据库连接数指标
func UpdateDatabaseConnections(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}

	stats := sqlDB.Stats()
	databaseConnectionsActive.Set(float64(stats.OpenConnections - stats.Idle))
	databaseConnectionsIdle.Set(float64(stats.Idle))
	databaseConnectionsMax.Set(float64(stats.MaxOpenConnections))

	return nil
}

// UpdateTasksByStatus 更新任务状态分布指标
func UpdateTasksByStatus(status string, count float64) {
	tasksByStatus.WithLabelValues(status).Set(count)
}

// UpdateWorkerQueueDepth 更新后台队列积压
func UpdateWorkerQueueDepth(depth int) {
	workerQueueDepth.Set(float64(depth))
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
