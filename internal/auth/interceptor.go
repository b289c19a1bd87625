// ABOUTME: gRPC interceptors for authenticating requests with JWT bearer tokens
// ABOUTME: Extracts the token from metadata and populates context for handlers

package auth

import (
	"context"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// healthServicePrefix is exempt from auth so probes work without a token.
const healthServicePrefix = "/grpc.health.v1.Health/"

// logAuthFailure logs an authentication failure with structured context.
func logAuthFailure(logger *slog.Logger, ctx context.Context, reason string, attrs ...any) {
	if logger == nil {
		return
	}
	baseAttrs := []any{"reason", reason}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		baseAttrs = append(baseAttrs, "peer_addr", p.Addr.String())
	}
	baseAttrs = append(baseAttrs, attrs...)
	logger.Warn("auth failure", baseAttrs...)
}

// UnaryInterceptor returns a gRPC unary interceptor that authenticates requests.
// A nil verifier disables authentication and tags requests as Anonymous.
func UnaryInterceptor(tokens TokenVerifier, logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if strings.HasPrefix(info.FullMethod, healthServicePrefix) {
			return handler(ctx, req)
		}

		source, err := authenticate(ctx, tokens)
		if err != nil {
			logAuthFailure(logger, ctx, status.Convert(err).Message(), "method", info.FullMethod)
			return nil, err
		}
		return handler(WithSource(ctx, source), req)
	}
}

// StreamInterceptor returns a gRPC stream interceptor that authenticates requests.
func StreamInterceptor(tokens TokenVerifier, logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		if strings.HasPrefix(info.FullMethod, healthServicePrefix) {
			return handler(srv, ss)
		}

		source, err := authenticate(ss.Context(), tokens)
		if err != nil {
			logAuthFailure(logger, ss.Context(), status.Convert(err).Message(), "method", info.FullMethod)
			return err
		}
		wrapped := &wrappedServerStream{
			ServerStream: ss,
			ctx:          WithSource(ss.Context(), source),
		}
		return handler(srv, wrapped)
	}
}

// wrappedServerStream wraps a grpc.ServerStream with a custom context.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}

// authenticate verifies the bearer token in incoming metadata.
func authenticate(ctx context.Context, tokens TokenVerifier) (string, error) {
	if tokens == nil {
		return Anonymous, nil
	}

	md, _ := metadata.FromIncomingContext(ctx)
	authHeaders := md.Get("authorization")
	if len(authHeaders) == 0 {
		return "", status.Error(codes.Unauthenticated, "missing authorization header")
	}

	tokenString, errMsg := extractBearerToken(authHeaders[0])
	if errMsg != "" {
		return "", status.Error(codes.Unauthenticated, errMsg)
	}

	source, err := tokens.Verify(tokenString)
	if err != nil {
		return "", status.Error(codes.Unauthenticated, "invalid or expired token")
	}
	return source, nil
}
