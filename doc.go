// Package goSession issues short-lived signed access tokens and long-lived rotating refresh
// tokens, revokes both before their natural expiry and locks accounts after repeated failed
// logins.
//
// Engine methods are safe to call from multiple goroutines after initialization through
// [Builder.Build]. The engine keeps no per-request state in memory; refresh records,
// lockout counters and blacklist entries live in Redis or SQL so several instances can
// share them.
//
// # Architecture boundaries
//
// goSession is the public surface. It exposes [Engine], [Builder], [Config] and value types
// such as [AuthResult] and [MetricsSnapshot]. Flow orchestration, audit dispatch and the
// background sweeper live under internal/. The token primitives are importable on their own:
//
//   - jwt: access-token signing and validation
//   - refresh: refresh-token records, the Redis and SQL stores and rotation
//   - blacklist: revoked access-token ids
//   - lockout: failed-login counters and locks
//   - password: argon2id hashing
//
// # Failure policy
//
// A lockout or blacklist backend error fails the call closed with [ErrLockoutUnavailable] or
// [ErrBlacklistUnavailable] unless the matching FailOpen flag is set. Refresh-store errors
// always fail closed with [ErrSessionStoreUnavailable].
//
// # Refresh reuse
//
// Presenting a refresh token that was already rotated returns [ErrTokenRevoked] and emits a
// refresh_reuse_detected audit event. Revoking the remaining sessions is left to the caller
// ([Engine.LogoutAll]) unless RefreshConfig.RevokeAllOnReuse is set.
package goSession
