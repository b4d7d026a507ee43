// Package refresh owns the authoritative record of issued refresh tokens.
//
// # Lifecycle
//
// A record is ACTIVE until it is revoked (REVOKED, explicit) or its expiry passes
// (EXPIRED, derived from time and never stored). Both terminal states are final.
// Manager.Rotate is the only way to extend a session: it verifies the presented token,
// revokes it with a compare-and-swap and issues a replacement. A second use of the old
// token reports ErrRevoked, which callers may treat as a sign of theft.
//
// # Storage
//
// Store is implemented by RedisStore (Lua scripts) and SQLStore (gorm). Tokens are
// persisted only as their SHA-256 hash.
package refresh
