// Package internal holds helpers private to authcore: opaque reset-token
// encoding and log-safe token fingerprints.
//
// Sub-packages:
//
//   - audit: async event dispatch (Dispatcher and Sink implementations)
//   - logging: slog construction shared by the engine and the server
//   - rate: Redis-backed fixed-window throttles
//   - stores: Redis-backed password reset records
//   - httpapi: chi HTTP adapter over the engine
package internal
