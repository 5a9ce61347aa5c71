package database

import (
	"context"
	"fmt"
	"time"

	"github.com/mautops/report-gin/internal/config"
	"github.com/mautops/report-gin/internal/model"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PoolConfig 连接池配置
type PoolConfig struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime int // 秒
	ConnMaxIdleTime int // 秒
}

// BuildDSN 构建 PostgreSQL DSN
func BuildDSN(cfg config.DatabaseConfig) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)
}

// GetPoolConfig 获取连接池配置
func GetPoolConfig() *PoolConfig {
	return &PoolConfig{
		MaxIdleConns:    10,
		MaxOpenConns:    100,
		ConnMaxLifetime: 3600, // 1 小时
		ConnMaxIdleTime: 600,  // 10 分钟
	}
}

// resolvePoolConfig 合并配置值与默认值
func resolvePoolConfig(cfg config.DatabaseConfig) *PoolConfig {
	pool := GetPoolConfig()
	if cfg.MaxIdleConns > 0 {
		pool.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.MaxOpenConns > 0 {
		pool.MaxOpenConns = cfg.MaxOpenConns
	}
	if cfg.ConnMaxLifetime > 0 {
		pool.ConnMaxLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		pool.ConnMaxIdleTime = cfg.ConnMaxIdleTime
	}
	return pool
}

// Connect 连接数据库
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Driver {
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(cfg.SQLitePath), gormCfg)
	default:
		db, err = gorm.Open(postgres.Open(BuildDSN(cfg)), gormCfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	pool := resolvePoolConfig(cfg)
	if cfg.Driver == "sqlite" {
		// SQLite 单写者
		pool.MaxOpenConns = 1
		pool.MaxIdleConns = 1
	}
	sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(pool.ConnMaxLifetime) * time.Second)
	sqlDB.SetConnMaxIdleTime(time.Duration(pool.ConnMaxIdleTime) * time.Second)

	return db, nil
}

// Migrate 执行数据库迁移
func Migrate(db *gorm.DB) error {
	dialector := db.Dialector.Name()

	// SQLite 不支持 jsonb,手动建表
	if dialector == "sqlite" || dialector == "sqlite3" {
		if err := createSQLiteTables(db); err != nil {
			return fmt.Errorf("failed to create SQLite tables: %w", err)
		}
	} else {
		if err := db.AutoMigrate(
			&model.ReportTaskModel{},
			&model.StepHistoryModel{},
			&model.AuditLogModel{},
		); err != nil {
			return fmt.Errorf("failed to auto migrate: %w", err)
		}
	}

	if err := CreateIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

// createSQLiteTables 为 SQLite 手动创建表（使用 TEXT 替代 jsonb）
func createSQLiteTables(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS report_tasks (
			task_id VARCHAR(64) PRIMARY KEY,
			engine_task_id VARCHAR(64),
			title VARCHAR(255) NOT NULL,
			company_name VARCHAR(255) NOT NULL,
			topic VARCHAR(255),
			description TEXT,
			config_params TEXT,
			status VARCHAR(32) NOT NULL,
			current_step VARCHAR(16) NOT NULL,
			progress INTEGER NOT NULL DEFAULT 0,
			content TEXT,
			error_message TEXT,
			start_time DATETIME NOT NULL,
			end_time DATETIME,
			publish_status INTEGER NOT NULL DEFAULT 0,
			oss_file_path VARCHAR(512),
			publish_time DATETIME,
			archive_time DATETIME,
			user_id VARCHAR(64),
			user_name VARCHAR(128),
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`).Error; err != nil {
		return fmt.Errorf("failed to create report_tasks table: %w", err)
	}

	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS report_step_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id VARCHAR(64) NOT NULL,
			step VARCHAR(16) NOT NULL,
			version INTEGER NOT NULL,
			output_json TEXT,
			execution_time INTEGER NOT NULL DEFAULT 0,
			status VARCHAR(16) NOT NULL,
			error_message TEXT,
			created_at DATETIME NOT NULL
		)
	`).Error; err != nil {
		return fmt.Errorf("failed to create report_step_history table: %w", err)
	}

	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_logs (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			action VARCHAR(64) NOT NULL,
			resource_type VARCHAR(32) NOT NULL,
			resource_id VARCHAR(64) NOT NULL,
			request_id VARCHAR(64),
			ip VARCHAR(45),
			user_agent TEXT,
			details TEXT,
			created_at DATETIME NOT NULL
		)
	`).Error; err != nil {
		return fmt.Errorf("failed to create audit_logs table: %w", err)
	}

	return nil
}

// CreateIndexes 创建数据库索引
func CreateIndexes(db *gorm.DB) error {
	statements := []struct {
		name string
		sql  string
	}{
		{"idx_report_tasks_status", "CREATE INDEX IF NOT EXISTS idx_report_tasks_status ON report_tasks(status)"},
		{"idx_report_tasks_publish_status", "CREATE INDEX IF NOT EXISTS idx_report_tasks_publish_status ON report_tasks(publish_status)"},
		{"idx_report_tasks_user_id", "CREATE INDEX IF NOT EXISTS idx_report_tasks_user_id ON report_tasks(user_id)"},
		{"idx_report_tasks_created_at", "CREATE INDEX IF NOT EXISTS idx_report_tasks_created_at ON report_tasks(created_at)"},
		// 版本号唯一,并发追加时由数据库兜底
		{"idx_step_history_version", "CREATE UNIQUE INDEX IF NOT EXISTS idx_step_history_version ON report_step_history(task_id, step, version)"},
		{"idx_step_history_created_at", "CREATE INDEX IF NOT EXISTS idx_step_history_created_at ON report_step_history(created_at)"},
		{"idx_audit_resource", "CREATE INDEX IF NOT EXISTS idx_audit_resource ON audit_logs(resource_type, resource_id)"},
		{"idx_audit_user_id", "CREATE INDEX IF NOT EXISTS idx_audit_user_id ON audit_logs(user_id)"},
		{"idx_audit_created_at", "CREATE INDEX IF NOT EXISTS idx_audit_created_at ON audit_logs(created_at)"},
	}

	for _, stmt := range statements {
		if err := db.Exec(stmt.sql).Error; err != nil {
			return fmt.Errorf("failed to create %s: %w", stmt.name, err)
		}
	}

	return nil
}

// ConnectWithRetry 带重试的数据库连接
func ConnectWithRetry(cfg config.DatabaseConfig, maxRetries int, retryInterval time.Duration) (*gorm.DB, error) {
	var db *gorm.DB
	var err error

	for i := 0; i < maxRetries; i++ {
		db, err = Connect(cfg)
		if err == nil {
			return db, nil
		}

		if i < maxRetries-1 {
			time.Sleep(retryInterval)
			retryInterval *= 2 // 指数退避
		}
	}

	return nil, fmt.Errorf("failed to connect database after %d retries: %w", maxRetries, err)
}

// CheckHealth 检查数据库连接健康状态
func CheckHealth(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("database not configured")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
