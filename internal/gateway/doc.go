// Package gateway orchestrates the coven-leads server components.
//
// # Overview
//
// The gateway owns the ledger store, the session registry and the
// conversation engine, and exposes them over HTTP and gRPC. Listeners are
// plain TCP or, with tailscale enabled, a tsnet node.
//
// # HTTP API
//
// Health endpoints are open. Everything else requires a bearer token when
// auth.jwt_secret is set.
//
//   - POST /api/leads - Trigger a lead conversation ({lead_id, name})
//   - POST /api/leads/{id}/responses - Deliver a lead reply ({text, message_id})
//   - GET /api/leads/{id} - Live session, falling back to the ledger
//   - GET /api/leads - Ledger listing (?status=, ?limit=) with status counts
//   - GET /api/leads/{id}/events - SSE stream of outbound messages
//   - GET /api/events - SSE stream for all leads
//   - GET /report - HTML ledger report (?format=md for Markdown)
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check
//
// A repeated message_id for the same lead within the dedupe window is
// acknowledged with "duplicate": true and not applied again.
//
// # SSE Streaming
//
// Each outbound message is one event named after its kind:
//
//	event: greeting
//	data: {"id":"...","lead_id":"l1","kind":"greeting","text":"Hey Ann, ..."}
//
// Event types: subscribed, greeting, question, completion, declined,
// follow_up, closed.
//
// # gRPC Service
//
// Besides grpc.health.v1.Health, the gateway serves coven.leads.v1.Leads.
// Its messages are google.protobuf.Struct values, so clients need no
// generated code:
//
//	service Leads {
//	    rpc Trigger(google.protobuf.Struct) returns (google.protobuf.Struct);
//	    rpc Respond(google.protobuf.Struct) returns (google.protobuf.Struct);
//	    rpc Get(google.protobuf.Struct) returns (google.protobuf.Struct);
//	    rpc Watch(google.protobuf.Struct) returns (stream google.protobuf.Struct);
//	}
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	go gw.Run(ctx)
//	...
//	cancel() // Run shuts everything down and returns
//
// Run starts the follow-up scheduler. Shutdown stops it before the servers
// so no nudge is sent after the ledger closes.
package gateway
