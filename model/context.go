package model

import "context"

// RequestContext carries identity and tracing information for the lifetime
// of one console API request. It is immutable after construction and safe
// for concurrent reads.
type RequestContext struct {
	Operator      string
	Claims        map[string]any
	CorrelationID string
	TraceID       string
}

type requestContextKey struct{}

// WithRequestContext stores the RequestContext in the context.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rctx)
}

// RequestContextFrom returns the RequestContext stored in the context, or
// nil if none is present.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(requestContextKey{}).(*RequestContext)
	return rctx
}
