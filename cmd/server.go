package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mautops/report-gin/internal/api"
	"github.com/mautops/report-gin/internal/config"
	"github.com/mautops/report-gin/internal/container"
	"github.com/spf13/cobra"
)

// shutdownTimeout 优雅关闭等待时间,包括正在执行的后台流水线
const shutdownTimeout = 30 * time.Second

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the API server",
	Long: `Start the Report Gin API server.
The server will listen on the configured host and port, accept report
generation tasks and run the background steps through the configured worker.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1. 加载配置
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cmd.Flags().Changed("host") {
			cfg.Server.Host, _ = cmd.Flags().GetString("host")
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port, _ = cmd.Flags().GetInt("port")
		}

		// 2. 初始化容器
		ctr, err := container.NewContainer(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize container: %w", err)
		}
		logger := ctr.Logger()

		// 3. 链路追踪
		if err := api.InitTracing(cfg.Tracing); err != nil {
			logger.WithError(err).Warn("Failed to initialize tracing, continuing without it")
		}

		// 4. 后台组件
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if err := ctr.Start(ctx); err != nil {
			_ = ctr.Close(context.Background())
			return err
		}

		// 5. 配置热更新,只在指定配置文件时启用
		if configPath != "" {
			watcher := config.NewConfigWatcher(cfg, configPath, logger)
			watcher.OnConfigChange(config.LogLevelUpdater(logger))
			if err := watcher.Start(); err != nil {
				logger.WithError(err).Warn("Failed to watch config file")
			} else {
				defer watcher.Stop()
			}
		}

		// 6. 启动服务器
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		srv := &http.Server{
			Addr:              addr,
			Handler:           ctr.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		serveErr := make(chan error, 1)
		go func() {
			logger.WithField("addr", addr).Info("Server starting")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
			close(serveErr)
		}()

		// 等待中断信号
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
		case err := <-serveErr:
			if err != nil {
				logger.WithError(err).Error("Server failed")
			}
		}

		logger.Info("Shutting down server...")

		// 优雅关闭: 先停止接收请求,再等待后台流水线
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Server forced to shutdown")
		}
		cancel()
		if err := ctr.Close(shutdownCtx); err != nil {
			logger.WithError(err).Error("Failed to release resources")
		}
		if err := api.ShutdownTracing(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Failed to flush traces")
		}

		logger.Info("Server exited")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)

	// 服务器配置标志
	serverCmd.Flags().String("host", "0.0.0.0", "Server host")
	serverCmd.Flags().Int("port", 8080, "Server port")
}

// LoadConfig 加载配置
func LoadConfig(configPath string) (*config.Config, error) {
	return config.Load(configPath)
}
