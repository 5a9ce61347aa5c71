package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/report-gin/internal/fault"
)

// APIError API 错误
type APIError struct {
	Code    int
	Message string
	Detail  string
}

func (e *APIError) Error() string {
	return e.Message
}

// ErrorHandlerMiddleware 错误处理中间件,处理 handler 通过 c.Error 记录且尚未响应的错误
func ErrorHandlerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		var apiErr *APIError
		if errors.As(err, &apiErr) {
			Error(c, apiErr.Code, apiErr.Message, apiErr.Detail)
			return
		}
		FaultError(c, err)
	}
}

// WrapError 包装错误
func WrapError(err error, code int, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Detail:  err.Error(),
	}
}

// HTTPStatus 按错误分类选择 HTTP 状态码
func HTTPStatus(err error) int {
	f, ok := fault.As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch f.Kind {
	case fault.KindClientInput:
		return http.StatusBadRequest
	case fault.KindNotFound:
		return http.StatusNotFound
	case fault.KindPrecondition:
		return http.StatusConflict
	case fault.KindEngine:
		if f.Code == fault.CodeTimeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// FaultError 错误响应,消息按请求语言本地化
func FaultError(c *gin.Context, err error) {
	lang := GetLanguage(c)
	status := HTTPStatus(err)

	f, ok := fault.As(err)
	if !ok {
		RequestLogger(c).WithError(err).Error("Unclassified error")
		c.JSON(status, ErrorResponse{
			Code:    fault.CodeSystem,
			Message: T(c, "error.internal_error"),
		})
		return
	}

	// 内部错误不向客户端暴露底层原因
	detail := f.Detail()
	if f.Kind == fault.KindInternal {
		RequestLogger(c).WithError(f).WithField("code", f.Code).Error("Internal error")
		detail = ""
	}
	c.JSON(status, ErrorResponse{
		Code:    f.Code,
		Message: f.Localized(lang),
		Detail:  detail,
	})
}
