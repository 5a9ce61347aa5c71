package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mautops/report-gin/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// TestLoad_Defaults 测试未提供配置文件时的默认值
func TestLoad_Defaults(t *testing.T) {
	cfg := config.Default()

	assert.Equal(t, "http://localhost:9000", cfg.Engine.URL)
	assert.Equal(t, 5*time.Second, cfg.Engine.ConnectTimeout)
	assert.Equal(t, 30*time.Second, cfg.Engine.ReadTimeout)
	assert.Equal(t, "reports/", cfg.Storage.PathPrefix)
	assert.Equal(t, "pool", cfg.Worker.Backend)
	assert.Equal(t, "pdf", cfg.Publish.Format)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.NoError(t, cfg.Validate())
}

// TestLoad_FromFile 测试从配置文件加载
func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9191
database:
  driver: sqlite
  sqlite_path: /tmp/report.db
engine:
  url: http://engine:9000
  connect_timeout: 2s
  read_timeout: 45s
worker:
  backend: asynq
  redis_addr: redis:6379
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "http://engine:9000", cfg.Engine.URL)
	assert.Equal(t, 2*time.Second, cfg.Engine.ConnectTimeout)
	assert.Equal(t, 45*time.Second, cfg.Engine.ReadTimeout)
	assert.Equal(t, "asynq", cfg.Worker.Backend)
	assert.Equal(t, "redis:6379", cfg.Worker.RedisAddr)
	// 未覆盖的字段保持默认值
	assert.Equal(t, "reports", cfg.Worker.Queue)
}

// TestLoad_FromEnv 测试环境变量覆盖
func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APP_SERVER_PORT", "9090")
	t.Setenv("APP_ENGINE_URL", "http://engine.internal:9000")

	path := writeConfig(t, "server:\n  host: 127.0.0.1\n")
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "http://engine.internal:9000", cfg.Engine.URL)
}

// TestLoad_InvalidValues 测试非法配置被拒绝
func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string]string{
		"driver":  "database:\n  driver: mysql\n",
		"backend": "worker:\n  backend: kafka\n",
		"format":  "publish:\n  format: html\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

// TestLoad_MissingFile 测试配置文件不存在
func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

// TestIsProduction 测试环境判断
func TestIsProduction(t *testing.T) {
	assert.False(t, config.IsProduction(nil))
	assert.False(t, config.IsProduction(&config.Config{Env: "development"}))
	assert.True(t, config.IsProduction(&config.Config{Env: "production"}))
}

// TestLogLevelUpdater 测试日志级别热更新回调
func TestLogLevelUpdater(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	update := config.LogLevelUpdater(logger)

	update(&config.Config{Log: config.LogConfig{Level: "debug"}})
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	// 非法级别保持不变
	update(&config.Config{Log: config.LogConfig{Level: "verbose"}})
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
}

// TestConfigWatcher_Reload 测试配置文件变更后回调被触发
func TestConfigWatcher_Reload(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")
	cfg, err := config.Load(path)
	require.NoError(t, err)

	watcher := config.NewConfigWatcher(cfg, path, logrus.New())
	var mu sync.Mutex
	var received *config.Config
	watcher.OnConfigChange(func(c *config.Config) {
		mu.Lock()
		defer mu.Unlock()
		received = c
	})

	require.NoError(t, watcher.Start())
	defer watcher.Stop()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: error\n"), 0644))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received != nil && received.Log.Level == "error"
	}, 3*time.Second, 50*time.Millisecond)
	assert.Eventually(t, func() bool {
		return watcher.GetConfig().Log.Level == "error"
	}, time.Second, 20*time.Millisecond)
}
