// Package gateway runs the reference inbox backend as a network server.
//
// # Overview
//
// The Gateway owns the SQLite store, the event hub, the backend service and
// one HTTP server. Inbox clients reach it two ways: the request/response
// calls go through backend.Service.Client in process, and the push channel
// is a websocket at /channel.
//
// # HTTP Endpoints
//
//   - GET /channel - websocket push channel (Bearer token or ?token=)
//   - POST /api/users - register a user
//   - GET /api/users - list users with their online flag
//   - GET /health - liveness check
//   - GET /health/ready - readiness check (store reachable)
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return gw.Run(ctx) // blocks until ctx is canceled
//
// Listen may be called before Run to bind the port early, which is how the
// demo learns the address of an ephemeral ":0" listener.
//
// # Tokens
//
// Channel tokens are HS256 JWTs signed with auth.jwt_secret. When no secret
// is configured a random one is generated at startup and every issued token
// dies with the process.
package gateway
