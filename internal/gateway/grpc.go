// ABOUTME: coven.leads.v1.Leads gRPC service carrying google.protobuf.Struct payloads
// ABOUTME: Hand-registered ServiceDesc with Trigger, Respond, Get and a server-streaming Watch

package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/2389/coven-leads/internal/conversation"
	"github.com/2389/coven-leads/internal/session"
)

// LeadsServiceName is the fully-qualified gRPC service name.
const LeadsServiceName = "coven.leads.v1.Leads"

// LeadsServer is the server API for the Leads service.
//
// Requests and replies are Structs:
//
//	Trigger  {lead_id, name}                -> {lead_id, message}
//	Respond  {lead_id, text, message_id?}   -> {lead_id, duplicate, message?}
//	Get      {lead_id}                      -> lead view
//	Watch    {lead_id?}                     -> stream of messages ("" or "*" watches all leads)
type LeadsServer interface {
	Trigger(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Respond(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Get(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Watch(*structpb.Struct, grpc.ServerStream) error
}

// RegisterLeadsServer registers srv on s.
func RegisterLeadsServer(s grpc.ServiceRegistrar, srv LeadsServer) {
	s.RegisterService(&LeadsServiceDesc, srv)
}

// LeadsServiceDesc describes the Leads service for grpc.Server.
var LeadsServiceDesc = grpc.ServiceDesc{
	ServiceName: LeadsServiceName,
	HandlerType: (*LeadsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Trigger", Handler: unaryHandler("Trigger", LeadsServer.Trigger)},
		{MethodName: "Respond", Handler: unaryHandler("Respond", LeadsServer.Respond)},
		{MethodName: "Get", Handler: unaryHandler("Get", LeadsServer.Get)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "coven/leads/v1/leads.proto",
}

type unaryMethod func(LeadsServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call unaryMethod) grpc.MethodHandler {
	fullMethod := "/" + LeadsServiceName + "/" + name
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LeadsServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(LeadsServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(LeadsServer).Watch(in, stream)
}

// leadsServer implements LeadsServer on top of the gateway.
type leadsServer struct {
	gateway *Gateway
	logger  *slog.Logger
}

func newLeadsServer(gw *Gateway, logger *slog.Logger) *leadsServer {
	return &leadsServer{gateway: gw, logger: logger}
}

func (s *leadsServer) Trigger(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	leadID := stringField(req, "lead_id")
	msg, err := s.gateway.trigger(ctx, leadID, stringField(req, "name"))
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]any{
		"lead_id": leadID,
		"message": messageValue(msg),
	})
}

func (s *leadsServer) Respond(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	res, err := s.gateway.respond(ctx,
		stringField(req, "lead_id"),
		stringField(req, "text"),
		stringField(req, "message_id"))
	if err != nil {
		return nil, toStatus(err)
	}

	out := map[string]any{
		"lead_id":   res.LeadID,
		"duplicate": res.Duplicate,
		"message":   nil,
	}
	if res.Message != nil {
		out["message"] = messageValue(res.Message)
	}
	return newStruct(out)
}

func (s *leadsServer) Get(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	leadID := stringField(req, "lead_id")
	if leadID == "" {
		return nil, toStatus(errMissingLeadID)
	}
	v, err := s.gateway.lookup(ctx, leadID)
	if err != nil {
		return nil, toStatus(err)
	}

	answers := make(map[string]any, len(v.Answers))
	for k, a := range v.Answers {
		answers[k] = a
	}
	out := map[string]any{
		"lead_id":        v.LeadID,
		"name":           v.Name,
		"status":         v.Status,
		"answers":        answers,
		"follow_up_sent": v.FollowUpSent,
		"last_updated":   v.LastUpdated.UTC().Format(time.RFC3339Nano),
		"live":           v.Live,
	}
	if v.QuestionIndex != nil {
		out["question_index"] = *v.QuestionIndex
	}
	return newStruct(out)
}

// Watch streams outbound messages until the client goes away or the engine
// shuts down.
func (s *leadsServer) Watch(req *structpb.Struct, stream grpc.ServerStream) error {
	leadID := stringField(req, "lead_id")
	if leadID == "" {
		leadID = conversation.AllLeads
	}

	ctx := stream.Context()
	msgs, subID := s.gateway.engine.Broadcaster().Subscribe(ctx, leadID)
	s.logger.Debug("watch started", "lead_id", leadID, "sub_id", subID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			out, err := newStruct(messageValue(msg))
			if err != nil {
				return err
			}
			if err := stream.SendMsg(out); err != nil {
				return err
			}
		}
	}
}

func stringField(s *structpb.Struct, key string) string {
	if s == nil {
		return ""
	}
	return s.GetFields()[key].GetStringValue()
}

func messageValue(m *conversation.Message) map[string]any {
	return map[string]any{
		"id":         m.ID,
		"lead_id":    m.LeadID,
		"kind":       string(m.Kind),
		"text":       m.Text,
		"created_at": m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding reply: %v", err)
	}
	return s, nil
}

// toStatus maps gateway errors onto gRPC codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, errMissingLeadID):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ErrLeadNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrLeadFinished):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, session.ErrRegistryConflict):
		// Not Aborted: a conflict is a broken invariant, not a retryable race.
		return status.Error(codes.Internal, err.Error())
	default:
		return status.Errorf(codes.Internal, "%v", err)
	}
}
