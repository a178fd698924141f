package logger

import (
	"context"

	"go.uber.org/zap"
)

type contextKey string

const (
	loggerKey    contextKey = "logger"
	requestIDKey contextKey = "request_id"
	traceIDKey   contextKey = "trace_id"
	userIDKey    contextKey = "user_id"
	chatIDKey    contextKey = "chat_id"
)

// contextFields 按固定顺序提取上下文中的关联字段
var contextFields = []contextKey{requestIDKey, traceIDKey, userIDKey, chatIDKey}

// WithContext 把上下文中的 request/trace/user/chat 标识附加到日志
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	fields := make([]zap.Field, 0, len(contextFields))
	for _, key := range contextFields {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			fields = append(fields, zap.String(string(key), v))
		}
	}
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

// FromContext 取出上下文绑定的 Logger，没有则使用全局 Logger
func FromContext(ctx context.Context) *Logger {
	if ctx == nil {
		return L()
	}
	if l, ok := ctx.Value(loggerKey).(*Logger); ok && l != nil {
		return l.WithContext(ctx)
	}
	return L().WithContext(ctx)
}

// ToContext 绑定 Logger
func ToContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// WithTraceID 写入 trace id，仅用于诊断日志
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

func WithChatID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, chatIDKey, id)
}

func GetRequestID(ctx context.Context) string { return stringValue(ctx, requestIDKey) }
func GetTraceID(ctx context.Context) string   { return stringValue(ctx, traceIDKey) }
func GetUserID(ctx context.Context) string    { return stringValue(ctx, userIDKey) }
func GetChatID(ctx context.Context) string    { return stringValue(ctx, chatIDKey) }

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}
