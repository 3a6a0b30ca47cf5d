// Package middleware exposes net/http adapters over authcore.Engine.
//
// # Guards
//
//   - [Authenticate]: bearer extraction plus Engine.GetAuthContext, with
//     the resolved identity injected into the request context.
//   - [RequirePermission] / [RequireRole]: authorization layered on top
//     of Authenticate.
//   - [Origin]: stamps the caller's address and user agent into the
//     request context so audit events carry them.
//
// Each guard reads the Authorization header, asks the engine, and either
// forwards the request with the resolved authcore.AuthContext attached or
// writes a bare 401/403. All decisions are delegated to the engine; this
// package never parses tokens or touches storage itself.
package middleware
