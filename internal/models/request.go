package models

import "context"

// RequestInfo is the read-only view of the current HTTP request that the
// security core needs. The HTTP layer builds it once per request.
type RequestInfo struct {
	IPAddress string
	UserAgent string
	Secure    bool
	UserID    string
	URL       string
	Method    string
}

type requestInfoKey struct{}

// WithRequestInfo stores request info on a context. Only hooks that cannot take
// an explicit argument (the database query tracer) read it back.
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// RequestInfoFromContext returns the request info stored by WithRequestInfo
func RequestInfoFromContext(ctx context.Context) (RequestInfo, bool) {
	info, ok := ctx.Value(requestInfoKey{}).(RequestInfo)
	return info, ok
}
