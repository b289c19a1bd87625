// ABOUTME: Tests for the coven.leads.v1.Leads gRPC service over an in-memory listener
// ABOUTME: Covers unary calls, status code mapping, the Watch stream, health and auth metadata

package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/2389/coven-leads/internal/auth"
	"github.com/2389/coven-leads/internal/session"
)

func dialTestGateway(t *testing.T, gw *testGateway) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go func() { _ = gw.grpcServer.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func invoke(ctx context.Context, conn *grpc.ClientConn, method string, in map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	err = conn.Invoke(ctx, "/"+LeadsServiceName+"/"+method, req, out)
	return out, err
}

func messageKind(s *structpb.Struct) string {
	return s.GetFields()["message"].GetStructValue().GetFields()["kind"].GetStringValue()
}

func TestGRPC_ConversationFlow(t *testing.T) {
	gw := newTestGateway(t, "")
	conn := dialTestGateway(t, gw)
	ctx := context.Background()

	out, err := invoke(ctx, conn, "Trigger", map[string]any{"lead_id": "l1", "name": "Ann"})
	require.NoError(t, err)
	assert.Equal(t, "greeting", messageKind(out))

	out, err = invoke(ctx, conn, "Respond", map[string]any{"lead_id": "l1", "text": "yes", "message_id": "m1"})
	require.NoError(t, err)
	assert.Equal(t, "question", messageKind(out))
	assert.False(t, out.GetFields()["duplicate"].GetBoolValue())

	out, err = invoke(ctx, conn, "Respond", map[string]any{"lead_id": "l1", "text": "yes", "message_id": "m1"})
	require.NoError(t, err)
	assert.True(t, out.GetFields()["duplicate"].GetBoolValue())

	out, err = invoke(ctx, conn, "Get", map[string]any{"lead_id": "l1"})
	require.NoError(t, err)
	f := out.GetFields()
	assert.Equal(t, "active", f["status"].GetStringValue())
	assert.Equal(t, float64(0), f["question_index"].GetNumberValue())
	assert.True(t, f["live"].GetBoolValue())
}

func TestGRPC_StatusCodes(t *testing.T) {
	gw := newTestGateway(t, "")
	conn := dialTestGateway(t, gw)
	ctx := context.Background()

	_, err := invoke(ctx, conn, "Trigger", map[string]any{"name": "Ann"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = invoke(ctx, conn, "Get", map[string]any{"lead_id": "nobody"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = invoke(ctx, conn, "Trigger", map[string]any{"lead_id": "l1", "name": "Ann"})
	require.NoError(t, err)
	_, err = invoke(ctx, conn, "Respond", map[string]any{"lead_id": "l1", "text": "no"})
	require.NoError(t, err)
	_, err = invoke(ctx, conn, "Trigger", map[string]any{"lead_id": "l1", "name": "Ann"})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestToStatus_RegistryConflictIsInternal(t *testing.T) {
	err := toStatus(fmt.Errorf("handling response for lead l1: %w", session.ErrRegistryConflict))
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.Equal(t, codes.Internal, status.Code(toStatus(errors.New("boom"))))
}

func TestGRPC_RespondUnknownLead(t *testing.T) {
	gw := newTestGateway(t, "")
	conn := dialTestGateway(t, gw)

	out, err := invoke(context.Background(), conn, "Respond", map[string]any{"lead_id": "ghost", "text": "hi"})
	require.NoError(t, err)
	_, isNull := out.GetFields()["message"].GetKind().(*structpb.Value_NullValue)
	assert.True(t, isNull)
}

func TestGRPC_Watch(t *testing.T) {
	gw := newTestGateway(t, "")
	conn := dialTestGateway(t, gw)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := conn.NewStream(ctx, &LeadsServiceDesc.Streams[0], "/"+LeadsServiceName+"/Watch")
	require.NoError(t, err)
	req, err := structpb.NewStruct(map[string]any{"lead_id": "l1"})
	require.NoError(t, err)
	require.NoError(t, stream.SendMsg(req))
	require.NoError(t, stream.CloseSend())

	require.Eventually(t, func() bool {
		return gw.Engine().Broadcaster().SubscriberCount("l1") == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, err = gw.Engine().HandleTrigger(ctx, "l1", "Ann")
	require.NoError(t, err)

	got := new(structpb.Struct)
	require.NoError(t, stream.RecvMsg(got))
	assert.Equal(t, "greeting", got.GetFields()["kind"].GetStringValue())
	assert.Equal(t, "l1", got.GetFields()["lead_id"].GetStringValue())

	// Engine shutdown ends the stream cleanly.
	require.NoError(t, gw.Engine().Shutdown(ctx))
	err = stream.RecvMsg(new(structpb.Struct))
	assert.ErrorIs(t, err, io.EOF)
}

func TestGRPC_Health(t *testing.T) {
	gw := newTestGateway(t, testSecret)
	conn := dialTestGateway(t, gw)

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(),
		&healthpb.HealthCheckRequest{Service: LeadsServiceName})
	require.NoError(t, err, "health is exempt from auth")
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}

func TestGRPC_Auth(t *testing.T) {
	gw := newTestGateway(t, testSecret)
	conn := dialTestGateway(t, gw)

	_, err := invoke(context.Background(), conn, "Trigger", map[string]any{"lead_id": "l1", "name": "Ann"})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	token, err := auth.NewJWTVerifier([]byte(testSecret)).Generate("crm", time.Hour)
	require.NoError(t, err)
	ctx := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+token)

	out, err := invoke(ctx, conn, "Trigger", map[string]any{"lead_id": "l1", "name": "Ann"})
	require.NoError(t, err)
	assert.Equal(t, "greeting", messageKind(out))
}

func TestLeadsServiceDesc(t *testing.T) {
	var methods []string
	for _, m := range LeadsServiceDesc.Methods {
		methods = append(methods, m.MethodName)
	}
	assert.ElementsMatch(t, []string{"Trigger", "Respond", "Get"}, methods)
	require.Len(t, LeadsServiceDesc.Streams, 1)
	assert.Equal(t, "Watch", LeadsServiceDesc.Streams[0].StreamName)
	assert.True(t, LeadsServiceDesc.Streams[0].ServerStreams)
}
