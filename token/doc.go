// Package token issues and verifies the HS256 access/refresh token pairs
// used by the engine, parses the compact TTL notation used in configuration,
// and provides the opaque-token helpers shared by the password-reset flow.
package token
