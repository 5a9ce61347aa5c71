package cmd_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mautops/report-gin/cmd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCommands 测试子命令注册
func TestCommands(t *testing.T) {
	rootCmd := cmd.GetRootCmd()
	assert.Equal(t, "report-gin", rootCmd.Use)

	for _, name := range []string{"server", "migrate"} {
		sub, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Use)
	}

	server, _, err := rootCmd.Find([]string{"server"})
	require.NoError(t, err)
	assert.NotNil(t, server.Flags().Lookup("port"))
	assert.NotNil(t, server.InheritedFlags().Lookup("config"))
}

// TestMigrateCommandWithSQLite 测试使用 SQLite 执行迁移
func TestMigrateCommandWithSQLite(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "report.db")
	configPath := filepath.Join(dir, "config.yaml")
	content := "database:\n  driver: sqlite\n  sqlite_path: " + dbPath + "\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o600))

	rootCmd := cmd.GetRootCmd()
	rootCmd.SetArgs([]string{"migrate", "--config", configPath})
	require.NoError(t, rootCmd.Execute())

	info, err := os.Stat(dbPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

// TestMigrateCommand_InvalidConfig 测试配置文件不存在
func TestMigrateCommand_InvalidConfig(t *testing.T) {
	rootCmd := cmd.GetRootCmd()
	rootCmd.SetArgs([]string{"migrate", "--config", filepath.Join(t.TempDir(), "missing.yaml")})
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	assert.Error(t, rootCmd.Execute())
}
