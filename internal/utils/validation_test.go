package utils_test

import (
	"strings"
	"testing"

	"github.com/mautops/report-gin/internal/utils"
	"github.com/stretchr/testify/assert"
)

// TestValidateTaskID 测试任务 ID 校验
func TestValidateTaskID(t *testing.T) {
	assert.NoError(t, utils.ValidateTaskID("3f2a9c0e7b1d4e8f9a6b5c4d3e2f1a0b"))
	assert.NoError(t, utils.ValidateTaskID("task_1-a"))
	assert.Equal(t, utils.ErrEmptyID, utils.ValidateTaskID(""))
	assert.Equal(t, utils.ErrInvalidIDFormat, utils.ValidateTaskID("task 1"))
	assert.Equal(t, utils.ErrInvalidIDFormat, utils.ValidateTaskID("../etc"))
	assert.Equal(t, utils.ErrIDTooLong, utils.ValidateTaskID(strings.Repeat("a", 65)))
}

// TestValidateFilename 测试下载文件名校验
func TestValidateFilename(t *testing.T) {
	assert.NoError(t, utils.ValidateFilename("report.pdf"))
	assert.NoError(t, utils.ValidateFilename("年度报告 (终稿).docx"))
	assert.Equal(t, utils.ErrEmptyName, utils.ValidateFilename(""))
	assert.Equal(t, utils.ErrInvalidFilename, utils.ValidateFilename("../secret.pdf"))
	assert.Equal(t, utils.ErrInvalidFilename, utils.ValidateFilename("a/b.pdf"))
	assert.Equal(t, utils.ErrInvalidFilename, utils.ValidateFilename(`a\b.pdf`))
}

// TestValidateJSON 测试配置参数 JSON 校验
func TestValidateJSON(t *testing.T) {
	assert.NoError(t, utils.ValidateJSON(""))
	assert.NoError(t, utils.ValidateJSON(`{"depth":2}`))
	assert.Equal(t, utils.ErrInvalidJSON, utils.ValidateJSON(`{"depth":`))
}

// TestTrimAndValidate 测试文本字段清理
func TestTrimAndValidate(t *testing.T) {
	got, err := utils.TrimAndValidate("  年度报告  ", 10)
	assert.NoError(t, err)
	assert.Equal(t, "年度报告", got)

	got, err = utils.TrimAndValidate("A & B\x00", 0)
	assert.NoError(t, err)
	assert.Equal(t, "A & B", got)

	_, err = utils.TrimAndValidate("   ", 10)
	assert.Equal(t, utils.ErrEmptyString, err)

	_, err = utils.TrimAndValidate("一二三四五六", 5)
	assert.Equal(t, utils.ErrStringTooLong, err)

	_, err = utils.TrimAndValidate("<script>alert(1)</script>", 100)
	assert.Equal(t, utils.ErrDangerousChars, err)
}
