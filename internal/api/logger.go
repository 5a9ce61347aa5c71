package api

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/mautops/report-gin/internal/config"
	"github.com/sirupsen/logrus"
)

// ServiceName 服务名称,用于日志字段和链路追踪
const ServiceName = "report-gin"

const (
	timestampFormat = "2006-01-02T15:04:05.000Z07:00"
	logDir          = "logs"
)

var defaultLogger *logrus.Logger

// NewLogger 创建 JSON 格式、info 级别、输出到 stdout 的日志记录器
func NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(newFormatter("json"))
	logger.SetLevel(logrus.InfoLevel)
	logger.SetOutput(os.Stdout)
	logger.AddHook(serviceHook{})
	return logger
}

// NewLoggerFromConfig 根据配置创建日志记录器
// 级别无法解析时使用 info,输出为 file 或 both 时写入 logs/report-gin.log
func NewLoggerFromConfig(cfg *config.LogConfig) (*logrus.Logger, error) {
	out, err := logOutput(cfg.Output)
	if err != nil {
		return nil, err
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}

	logger := logrus.New()
	logger.SetFormatter(newFormatter(cfg.Format))
	logger.SetLevel(level)
	logger.SetOutput(out)
	logger.AddHook(serviceHook{})
	return logger, nil
}

func newFormatter(format string) logrus.Formatter {
	if format == "json" {
		return &logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "time",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "msg",
			},
		}
	}
	return &logrus.TextFormatter{
		TimestampFormat: timestampFormat,
		FullTimestamp:   true,
	}
}

func logOutput(output string) (io.Writer, error) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil
	case "file", "both":
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := os.OpenFile(filepath.Join(logDir, ServiceName+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		if output == "file" {
			return file, nil
		}
		return io.MultiWriter(os.Stdout, file), nil
	default:
		return nil, fmt.Errorf("unsupported log output: %s", output)
	}
}

// serviceHook 为每条日志添加 service 字段,便于日志聚合
type serviceHook struct{}

func (serviceHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (serviceHook) Fire(entry *logrus.Entry) error {
	entry.Data["service"] = ServiceName
	return nil
}

// RequestLogger 返回带请求 ID、操作人和任务 ID 的日志条目
func RequestLogger(c *gin.Context) *logrus.Entry {
	entry := GetLogger().WithField("request_id", c.GetString(requestIDKey))
	if userID := c.GetString("user_id"); userID != "" {
		entry = entry.WithField("user_id", userID)
	}
	if id := c.Param("taskId"); id != "" {
		entry = entry.WithField("task_id", id)
	}
	return entry
}

// GetLogger 获取默认日志记录器
func GetLogger() *logrus.Logger {
	if defaultLogger == nil {
		defaultLogger = NewLogger()
	}
	return defaultLogger
}

// SetLogger 替换默认日志记录器,请求日志和错误处理使用该实例
func SetLogger(logger *logrus.Logger) {
	defaultLogger = logger
}

// SetLoggerOutput 设置日志输出
func SetLoggerOutput(w io.Writer) {
	GetLogger().SetOutput(w)
}
