// ABOUTME: Authentication context for tracking the calling source through handlers
// ABOUTME: Provides WithSource/SourceFromContext for HTTP and gRPC paths alike

package auth

import "context"

// Anonymous is the source recorded when authentication is disabled.
const Anonymous = "anonymous"

type sourceContextKey struct{}

// WithSource returns a new context carrying the authenticated source name.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceContextKey{}, source)
}

// SourceFromContext returns the source name, or "" if none was attached.
func SourceFromContext(ctx context.Context) string {
	source, _ := ctx.Value(sourceContextKey{}).(string)
	return source
}
