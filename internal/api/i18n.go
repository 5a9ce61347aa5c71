package api

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// I18nManager 国际化管理器
type I18nManager struct {
	messages map[string]map[string]string // lang -> key -> message
}

// defaultLanguage 错误消息默认使用中文
const defaultLanguage = "zh"

var defaultI18nManager *I18nManager

func init() {
	defaultI18nManager = NewI18nManager()
	defaultI18nManager.LoadMessages("en", map[string]string{
		"error.invalid_request": "Invalid request",
		"error.invalid_task_id": "Invalid task ID",
		"error.invalid_step":    "Invalid step",
		"error.invalid_version": "Invalid version",
		"error.invalid_query":   "Invalid query parameters",
		"error.unauthorized":    "Unauthorized",
		"error.too_many":        "Too many requests",
		"error.internal_error":  "Internal server error",
	})
	defaultI18nManager.LoadMessages("zh", map[string]string{
		"error.invalid_request": "请求参数错误",
		"error.invalid_task_id": "任务 ID 无效",
		"error.invalid_step":    "步骤名称无效",
		"error.invalid_version": "版本号无效",
		"error.invalid_query":   "查询参数错误",
		"error.unauthorized":    "未授权",
		"error.too_many":        "请求过于频繁，请稍后重试",
		"error.internal_error":  "服务器内部错误",
	})
}

// NewI18nManager 创建国际化管理器
func NewI18nManager() *I18nManager {
	return &I18nManager{
		messages: make(map[string]map[string]string),
	}
}

// LoadMessages 加载语言消息
func (m *I18nManager) LoadMessages(lang string, messages map[string]string) {
	m.messages[lang] = messages
}

// Translate 翻译消息
func (m *I18nManager) Translate(lang, key string) string {
	if messages, ok := m.messages[lang]; ok {
		if message, ok := messages[key]; ok {
			return message
		}
	}
	// 找不到翻译时使用默认语言
	if lang != defaultLanguage {
		if messages, ok := m.messages[defaultLanguage]; ok {
			if message, ok := messages[key]; ok {
				return message
			}
		}
	}
	// 如果还是找不到，返回 key
	return key
}

// I18nMiddleware 国际化中间件
// lang 查询参数优先于 Accept-Language 头
func I18nMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		lang := defaultLanguage
		if queryLang := c.Query("lang"); queryLang != "" {
			if l, ok := normalizeLanguage(queryLang); ok {
				lang = l
			}
		} else if header := c.GetHeader("Accept-Language"); header != "" {
			lang = parseAcceptLanguage(header)
		}

		c.Set(languageKey, lang)
		c.Next()
	}
}

// GetLanguage 从上下文获取语言
func GetLanguage(c *gin.Context) string {
	if lang, exists := c.Get(languageKey); exists {
		if l, ok := lang.(string); ok {
			return l
		}
	}
	return defaultLanguage
}

// T 翻译消息（使用默认管理器）
func T(c *gin.Context, key string) string {
	lang := GetLanguage(c)
	return defaultI18nManager.Translate(lang, key)
}

// normalizeLanguage 把语言标签归并为 zh 或 en,其他语言返回 false
func normalizeLanguage(tag string) (string, bool) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	switch {
	case tag == "zh" || strings.HasPrefix(tag, "zh-"):
		return "zh", true
	case tag == "en" || strings.HasPrefix(tag, "en-"):
		return "en", true
	default:
		return "", false
	}
}

// parseAcceptLanguage 按 q 值从高到低选择第一个支持的语言
// 例如 "fr-FR,en;q=0.8,zh;q=0.5" 返回 en
func parseAcceptLanguage(header string) string {
	best, bestQ := defaultLanguage, -1.0
	for _, part := range strings.Split(header, ",") {
		tag, q := part, 1.0
		if idx := strings.Index(part, ";"); idx != -1 {
			tag = part[:idx]
			param := strings.TrimSpace(part[idx+1:])
			if v, ok := strings.CutPrefix(param, "q="); ok {
				parsed, err := strconv.ParseFloat(v, 64)
				if err != nil {
					continue
				}
				q = parsed
			}
		}
		lang, ok := normalizeLanguage(tag)
		if !ok || q <= 0 {
			continue
		}
		if q > bestQ {
			best, bestQ = lang, q
		}
	}
	return best
}
