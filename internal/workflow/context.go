package workflow

import (
	"context"

	"github.com/google/uuid"
)

type runIDKey struct{}

// WithTraceID 指定本次运行的 run id（例如沿用 webhook 请求携带的 trace id）
func WithTraceID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// TraceID 返回 ctx 上的 run id，没有时为空
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(runIDKey{}).(string); ok {
		return v
	}
	return ""
}

// ensureRunID 保证 ctx 上有 run id，没有时生成一个
func ensureRunID(ctx context.Context) (context.Context, string) {
	if id := TraceID(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return WithTraceID(ctx, id), id
}
