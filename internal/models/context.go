package models

import (
	"context"
)

type requestContextKey struct{}

// RequestContext carries caller details through context so ledger entries
// and the ledger mirror can record them as metadata without widening every
// signature.
type RequestContext struct {
	RequestId string // API request id (chi middleware.RequestID)
	IP        string // caller IP after RealIP
	Source    string // "client", "webhook", "admin", "cli"
}

// WithRequestContext attaches caller details to a context.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// GetRequestContext retrieves caller details from context, or nil if absent.
func GetRequestContext(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc
}
