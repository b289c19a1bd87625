// ABOUTME: Unit tests for gRPC auth interceptors
// ABOUTME: Tests bearer metadata handling, the health exemption and disabled auth

package auth

import (
	"context"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func runUnary(t *testing.T, tokens TokenVerifier, method string, md metadata.MD) (string, error) {
	t.Helper()

	ctx := context.Background()
	if md != nil {
		ctx = metadata.NewIncomingContext(ctx, md)
	}

	var gotSource string
	handler := func(ctx context.Context, req any) (any, error) {
		gotSource = SourceFromContext(ctx)
		return "ok", nil
	}

	_, err := UnaryInterceptor(tokens, nil)(ctx, nil, &grpc.UnaryServerInfo{FullMethod: method}, handler)
	return gotSource, err
}

func TestUnaryInterceptor_ValidToken(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)
	token, _ := verifier.Generate("sms-webhook", time.Hour)

	source, err := runUnary(t, verifier, "/coven.leads.v1.Leads/Respond",
		metadata.Pairs("authorization", "Bearer "+token))
	if err != nil {
		t.Fatalf("interceptor error = %v", err)
	}
	if source != "sms-webhook" {
		t.Errorf("source = %q, want sms-webhook", source)
	}
}

func TestUnaryInterceptor_Unauthenticated(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)

	tests := []struct {
		name string
		md   metadata.MD
	}{
		{"no metadata", nil},
		{"no authorization", metadata.Pairs("x-other", "1")},
		{"wrong scheme", metadata.Pairs("authorization", "Token abc")},
		{"bad token", metadata.Pairs("authorization", "Bearer abc")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runUnary(t, verifier, "/coven.leads.v1.Leads/Trigger", tt.md)
			if status.Code(err) != codes.Unauthenticated {
				t.Errorf("code = %v, want Unauthenticated", status.Code(err))
			}
		})
	}
}

func TestUnaryInterceptor_HealthIsExempt(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)

	_, err := runUnary(t, verifier, "/grpc.health.v1.Health/Check", nil)
	if err != nil {
		t.Errorf("health check should not require auth: %v", err)
	}
}

func TestUnaryInterceptor_DisabledAuth(t *testing.T) {
	source, err := runUnary(t, nil, "/coven.leads.v1.Leads/Trigger", nil)
	if err != nil {
		t.Fatalf("interceptor error = %v", err)
	}
	if source != Anonymous {
		t.Errorf("source = %q, want %q", source, Anonymous)
	}
}

type fakeServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f *fakeServerStream) Context() context.Context { return f.ctx }

func TestStreamInterceptor_WrapsContext(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)
	token, _ := verifier.Generate("dashboard", time.Hour)

	ss := &fakeServerStream{ctx: metadata.NewIncomingContext(context.Background(),
		metadata.Pairs("authorization", "Bearer "+token))}

	var gotSource string
	handler := func(srv any, stream grpc.ServerStream) error {
		gotSource = SourceFromContext(stream.Context())
		return nil
	}

	err := StreamInterceptor(verifier, nil)(nil, ss, &grpc.StreamServerInfo{FullMethod: "/coven.leads.v1.Leads/Watch"}, handler)
	if err != nil {
		t.Fatalf("interceptor error = %v", err)
	}
	if gotSource != "dashboard" {
		t.Errorf("source = %q, want dashboard", gotSource)
	}
}

func TestStreamInterceptor_Rejects(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)
	ss := &fakeServerStream{ctx: context.Background()}

	err := StreamInterceptor(verifier, nil)(nil, ss, &grpc.StreamServerInfo{FullMethod: "/coven.leads.v1.Leads/Watch"},
		func(srv any, stream grpc.ServerStream) error { return nil })
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("code = %v, want Unauthenticated", status.Code(err))
	}
}
