// Package fault 定义报告服务对外暴露的分类错误
package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind 错误分类
type Kind int

const (
	KindClientInput Kind = iota + 1
	KindEngine
	KindPrecondition
	KindStorage
	KindNotFound
	KindInternal
)

// String 返回分类名称
func (k Kind) String() string {
	switch k {
	case KindClientInput:
		return "client_input"
	case KindEngine:
		return "engine"
	case KindPrecondition:
		return "precondition"
	case KindStorage:
		return "storage"
	case KindNotFound:
		return "not_found"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Op 出错的操作名称
type Op = Message

// 常用操作
var (
	OpCreate        = Msg("创建报告", "create report")
	OpRollback      = Msg("回滚步骤", "rollback step")
	OpExport        = Msg("导出报告", "export report")
	OpDownload      = Msg("下载报告", "download report")
	OpCleanup       = Msg("清理临时文件", "cleanup temp files")
	OpGetContent    = Msg("获取报告内容", "get report content")
	OpPublish       = Msg("发布报告", "publish report")
	OpUnpublish     = Msg("取消发布", "unpublish report")
	OpArchive       = Msg("归档报告", "archive report")
	OpRestore       = Msg("恢复报告", "restore report")
	OpDelete        = Msg("删除报告", "delete report")
	OpQuery         = Msg("查询报告", "query report")
	OpApplyRollback = Msg("应用回滚", "apply rollback")
)

// OpExecuteStep 执行某个步骤
func OpExecuteStep(step string) Op {
	return Msg("执行"+step, "execute "+step)
}

// OpRerun 重新执行某个步骤
func OpRerun(step string) Op {
	return Msg("重新执行"+step, "rerun "+step)
}

// Fault 分类错误,携带稳定错误码和面向用户的消息
type Fault struct {
	Kind       Kind
	Code       int
	Op         Op
	Category   Message
	HTTPStatus int    // 生成引擎返回的 HTTP 状态,非引擎错误为 0
	Body       string // 生成引擎返回的原始响应体
	Err        error
}

// Error 实现 error,返回中文消息
func (f *Fault) Error() string {
	return f.Message()
}

// Unwrap 返回底层错误
func (f *Fault) Unwrap() error {
	return f.Err
}

// Message 返回 "<操作>失败：<分类>" 格式的中文消息
func (f *Fault) Message() string {
	return f.Localized("zh")
}

// Localized 按语言返回消息
func (f *Fault) Localized(lang string) string {
	if lang == "en" {
		if f.Op.En == "" {
			return f.Category.In("en")
		}
		return f.Op.En + " failed: " + f.Category.In("en")
	}
	if f.Op.Zh == "" {
		return f.Category.Zh
	}
	return f.Op.Zh + "失败：" + f.Category.Zh
}

// Detail 返回诊断信息
func (f *Fault) Detail() string {
	switch {
	case f.HTTPStatus != 0 && f.Body != "":
		return fmt.Sprintf("HTTP %d: %s", f.HTTPStatus, f.Body)
	case f.HTTPStatus != 0:
		return fmt.Sprintf("HTTP %d", f.HTTPStatus)
	case f.Err != nil:
		return f.Err.Error()
	default:
		return ""
	}
}

// FromHTTPStatus 将生成引擎的非 2xx 响应转换为错误,纯函数
func FromHTTPStatus(op Op, status int, body string) *Fault {
	code, category := categoryForStatus(status)
	return &Fault{
		Kind:       KindEngine,
		Code:       code,
		Op:         op,
		Category:   category,
		HTTPStatus: status,
		Body:       body,
	}
}

// Transport 将网络层错误转换为引擎错误,超时归为 50401,其余使用操作的领域错误码
func Transport(op Op, domainCode int, err error) *Fault {
	if isTimeout(err) {
		_, category := categoryForStatus(504)
		return &Fault{Kind: KindEngine, Code: CodeTimeout, Op: op, Category: category, Err: err}
	}
	return &Fault{Kind: KindEngine, Code: domainCode, Op: op, Category: categoryTransport, Err: err}
}

// Decode 引擎响应无法解析
func Decode(op Op, domainCode int, body string, err error) *Fault {
	return &Fault{
		Kind:     KindEngine,
		Code:     domainCode,
		Op:       op,
		Category: Msg("编排器服务响应格式错误", "malformed engine response"),
		Body:     body,
		Err:      err,
	}
}

// FileEmpty 下载的文件为空
func FileEmpty(op Op) *Fault {
	return &Fault{Kind: KindEngine, Code: CodeFileEmpty, Op: op, Category: categoryFileEmpty}
}

// InvalidInput 客户端输入错误
func InvalidInput(op Op, category Message) *Fault {
	return &Fault{Kind: KindClientInput, Code: CodeInvalidInput, Op: op, Category: category}
}

// Precondition 前置条件不满足
func Precondition(op Op, category Message) *Fault {
	return &Fault{Kind: KindPrecondition, Code: CodePrecondition, Op: op, Category: category}
}

// NotFound 资源不存在
func NotFound(op Op, category Message) *Fault {
	return &Fault{Kind: KindNotFound, Code: CodeResourceNotFound, Op: op, Category: category}
}

// Storage 对象存储错误
func Storage(op Op, err error) *Fault {
	return &Fault{
		Kind:     KindStorage,
		Code:     CodeStorage,
		Op:       op,
		Category: Msg("对象存储操作失败", "object storage operation failed"),
		Err:      err,
	}
}

// Internal 内部错误
func Internal(op Op, err error) *Fault {
	return &Fault{
		Kind:     KindInternal,
		Code:     CodeSystem,
		Op:       op,
		Category: Msg("系统内部错误", "internal error"),
		Err:      err,
	}
}

// As 从错误链中提取 Fault
func As(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// KindOf 返回错误分类,非 Fault 返回 KindInternal
func KindOf(err error) Kind {
	if f, ok := As(err); ok {
		return f.Kind
	}
	return KindInternal
}

// CodeOf 返回错误码,非 Fault 返回 CodeSystem
func CodeOf(err error) int {
	if f, ok := As(err); ok {
		return f.Code
	}
	return CodeSystem
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
