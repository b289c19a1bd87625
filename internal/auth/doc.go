// Package auth authenticates the systems that feed lead events into coven-leads.
//
// Form handlers, SMS webhooks and other sources present an HS256 JWT signed
// with the configured jwt_secret. The token's "sub" claim names the source;
// it is attached to the request context and recorded in logs.
//
// Tokens are minted with the CLI:
//
//	coven-leads token --name web-form
//
// HTTPMiddleware guards the /api routes and UnaryInterceptor/StreamInterceptor
// guard the gRPC Leads service. The gRPC health service is always open.
// When no secret is configured, both pass requests through as Anonymous.
package auth
