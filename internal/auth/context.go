package auth

import "context"

type contextKey int

const (
	userKey contextKey = iota
	requestInfoKey
)

// User 当前操作人
type User struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// RequestInfo 请求元信息,用于审计
type RequestInfo struct {
	RequestID string
	IP        string
	UserAgent string
}

// WithUser 将用户写入 context
func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext 读取用户
func UserFromContext(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(userKey).(User)
	return user, ok
}

// UserIDFromContext 读取用户 ID,不存在时为空串
func UserIDFromContext(ctx context.Context) string {
	user, _ := UserFromContext(ctx)
	return user.ID
}

// WithRequestInfo 将请求元信息写入 context
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey, info)
}

// RequestInfoFromContext 读取请求元信息
func RequestInfoFromContext(ctx context.Context) RequestInfo {
	info, _ := ctx.Value(requestInfoKey).(RequestInfo)
	return info
}
