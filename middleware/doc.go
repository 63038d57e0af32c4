// Package middleware adapts authcore access-token checks to net/http.
//
// [Guard] reads the Authorization header, calls Engine.Authenticate and
// stores the resulting principal in the request context. Rejections are
// written as an authcore.Result JSON body.
//
// The package does not parse tokens or touch Redis itself; every decision
// is delegated to the engine.
package middleware
