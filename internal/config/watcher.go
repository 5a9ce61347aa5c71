package config

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// ConfigWatcher 配置文件监听器,文件变更时重新加载并通知订阅者
type ConfigWatcher struct {
	config     *Config
	configPath string
	viper      *viper.Viper
	logger     *logrus.Logger
	callbacks  []func(*Config)
	mu         sync.RWMutex
	stopped    bool
	stopMu     sync.RWMutex
}

// NewConfigWatcher 创建配置监听器
func NewConfigWatcher(cfg *Config, configPath string, logger *logrus.Logger) *ConfigWatcher {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &ConfigWatcher{
		config:     cfg,
		configPath: configPath,
		viper:      v,
		logger:     logger,
		callbacks:  make([]func(*Config), 0),
	}
}

// OnConfigChange 注册配置变更回调
func (w *ConfigWatcher) OnConfigChange(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start 启动配置监听
func (w *ConfigWatcher) Start() error {
	if err := w.viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	w.viper.WatchConfig()
	w.viper.OnConfigChange(func(e fsnotify.Event) {
		w.stopMu.RLock()
		stopped := w.stopped
		w.stopMu.RUnlock()
		if stopped {
			return
		}
		w.reload(e.Name)
	})

	return nil
}

// reload 重新解析配置并调用回调,解析失败时保留旧配置
func (w *ConfigWatcher) reload(name string) {
	var newCfg Config
	if err := w.viper.Unmarshal(&newCfg); err != nil {
		w.logger.WithError(err).WithField("file", name).Error("failed to unmarshal config")
		return
	}
	if err := newCfg.Validate(); err != nil {
		w.logger.WithError(err).WithField("file", name).Warn("ignoring invalid config change")
		return
	}

	w.mu.RLock()
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	// 在锁外执行回调
	for _, callback := range callbacks {
		callback(&newCfg)
	}

	w.mu.Lock()
	w.config = &newCfg
	w.mu.Unlock()

	w.logger.WithField("file", name).Info("config reloaded")
}

// Stop 停止配置监听
func (w *ConfigWatcher) Stop() {
	w.stopMu.Lock()
	defer w.stopMu.Unlock()
	w.stopped = true
}

// GetConfig 获取当前配置
func (w *ConfigWatcher) GetConfig() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// LogLevelUpdater 返回一个回调,配置变更时同步日志级别
func LogLevelUpdater(logger *logrus.Logger) func(*Config) {
	return func(cfg *Config) {
		level, err := logrus.ParseLevel(cfg.Log.Level)
		if err != nil {
			logger.WithField("level", cfg.Log.Level).Warn("invalid log level in config")
			return
		}
		if logger.GetLevel() != level {
			logger.SetLevel(level)
			logger.WithField("level", level.String()).Info("log level updated")
		}
	}
}
