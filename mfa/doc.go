// Package mfa implements RFC 6238 TOTP verification and single-use backup
// codes. The engine only computes and compares codes; persisting secrets,
// confirming enrollment and consuming backup codes is the caller's job.
package mfa
