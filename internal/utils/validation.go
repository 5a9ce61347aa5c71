package utils

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	taskIDPattern   = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	filenamePattern = regexp.MustCompile(`^[\p{L}\p{N}_.() -]+$`)
)

// SanitizeString 移除控制字符（除了换行符和制表符）
func SanitizeString(input string) string {
	var result strings.Builder
	for _, r := range input {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		result.WriteRune(r)
	}

	return result.String()
}

// ValidateTaskID 验证任务 ID 格式
func ValidateTaskID(id string) error {
	if id == "" {
		return ErrEmptyID
	}
	if len(id) > 64 {
		return ErrIDTooLong
	}
	if !taskIDPattern.MatchString(id) {
		return ErrInvalidIDFormat
	}
	return nil
}

// ValidateFilename 验证下载文件名,只允许单个文件名,不允许路径
func ValidateFilename(name string) error {
	if name == "" {
		return ErrEmptyName
	}
	if len(name) > 255 {
		return ErrNameTooLong
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") || !filenamePattern.MatchString(name) {
		return ErrInvalidFilename
	}
	return nil
}

// ValidateJSON 验证可选的 JSON 参数,空串视为未提供
func ValidateJSON(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	if !json.Valid([]byte(raw)) {
		return ErrInvalidJSON
	}
	return nil
}

// TrimAndValidate 清理并验证字符串,maxLen 按字符计
func TrimAndValidate(s string, maxLen int) (string, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", ErrEmptyString
	}
	if maxLen > 0 && utf8.RuneCountInString(trimmed) > maxLen {
		return "", ErrStringTooLong
	}
	if containsDangerousChars(trimmed) {
		return "", ErrDangerousChars
	}
	return SanitizeString(trimmed), nil
}

// containsDangerousChars 检查字符串是否包含危险字符
func containsDangerousChars(s string) bool {
	dangerousPatterns := []string{
		"<script",
		"</script>",
		"javascript:",
		"onerror=",
		"onload=",
		"<iframe",
	}

	lower := strings.ToLower(s)
	for _, pattern := range dangerousPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// 错误定义
var (
	ErrEmptyName       = &ValidationError{Code: "EMPTY_NAME", Message: "name cannot be empty"}
	ErrNameTooLong     = &ValidationError{Code: "NAME_TOO_LONG", Message: "name exceeds maximum length"}
	ErrInvalidFilename = &ValidationError{Code: "INVALID_FILENAME", Message: "filename must not contain a path"}
	ErrDangerousChars  = &ValidationError{Code: "DANGEROUS_CHARS", Message: "text contains dangerous characters"}
	ErrEmptyID         = &ValidationError{Code: "EMPTY_ID", Message: "id cannot be empty"}
	ErrInvalidIDFormat = &ValidationError{Code: "INVALID_ID_FORMAT", Message: "id contains invalid characters"}
	ErrIDTooLong       = &ValidationError{Code: "ID_TOO_LONG", Message: "id exceeds maximum length"}
	ErrEmptyString     = &ValidationError{Code: "EMPTY_STRING", Message: "string cannot be empty"}
	ErrStringTooLong   = &ValidationError{Code: "STRING_TOO_LONG", Message: "string exceeds maximum length"}
	ErrInvalidJSON     = &ValidationError{Code: "INVALID_JSON", Message: "config params must be valid JSON"}
)

// ValidationError 验证错误
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
