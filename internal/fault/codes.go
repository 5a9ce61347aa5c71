package fault

import "fmt"

// 生成引擎 HTTP 状态对应的错误码
const (
	CodeBadRequest      = 40001
	CodeUnauthorized    = 40101
	CodeForbidden       = 40301
	CodeNotFound        = 40401
	CodeValidation      = 42201
	CodeTooManyRequests = 42901
	CodeUnknown         = 50000
	CodeInternal        = 50001
	CodeBadGateway      = 50201
	CodeUnavailable     = 50301
	CodeTimeout         = 50401
)

// 本地错误码
const (
	CodeInvalidInput     = 40002
	CodeResourceNotFound = 40402
	CodePrecondition     = 40901
	CodeFileEmpty        = 50002
	CodeStorage          = 50003
	CodeSystem           = 50009
)

// 业务领域错误码
const (
	CodeStepExecution = 60001
	CodeStepRerun     = 60002
	CodeStepRollback  = 60003
	CodeExport        = 60004
	CodeDownload      = 60005
)

// Message 中英文消息
type Message struct {
	Zh string
	En string
}

// Msg 构造消息
func Msg(zh, en string) Message {
	return Message{Zh: zh, En: en}
}

// In 按语言返回消息,未知语言返回中文
func (m Message) In(lang string) string {
	if lang == "en" && m.En != "" {
		return m.En
	}
	return m.Zh
}

type statusEntry struct {
	code     int
	category Message
}

// statusTable 初始化后只读
var statusTable = map[int]statusEntry{
	400: {CodeBadRequest, Msg("请求参数错误，请检查输入信息", "bad request, please check the input")},
	401: {CodeUnauthorized, Msg("编排器服务认证失败", "engine authentication failed")},
	403: {CodeForbidden, Msg("编排器服务访问被拒绝", "engine access forbidden")},
	404: {CodeNotFound, Msg("编排器服务接口不存在", "engine endpoint not found")},
	422: {CodeValidation, Msg("数据验证失败，请检查输入格式", "validation failed, please check the input format")},
	429: {CodeTooManyRequests, Msg("请求过于频繁，请稍后重试", "rate limited, please retry later")},
	500: {CodeInternal, Msg("编排器服务内部错误", "engine internal error")},
	502: {CodeBadGateway, Msg("编排器服务网关错误", "engine bad gateway")},
	503: {CodeUnavailable, Msg("编排器服务暂时不可用", "engine service temporarily unavailable")},
	504: {CodeTimeout, Msg("编排器服务响应超时", "engine response timeout")},
}

var (
	categoryFileEmpty = Msg("文件内容为空", "file content is empty")
	categoryTransport = Msg("编排器服务连接失败", "engine connection failed")
)

// categoryForStatus 返回 HTTP 状态对应的错误码和分类消息,未知状态归为 50000
func categoryForStatus(status int) (int, Message) {
	if entry, ok := statusTable[status]; ok {
		return entry.code, entry.category
	}
	return CodeUnknown, Msg(
		fmt.Sprintf("编排器服务异常 (HTTP %d)", status),
		fmt.Sprintf("unknown engine error (status %d)", status),
	)
}

// CategoryForStatus 返回 HTTP 状态对应的错误码和中文分类消息
func CategoryForStatus(status int) (int, string) {
	code, msg := categoryForStatus(status)
	return code, msg.Zh
}
