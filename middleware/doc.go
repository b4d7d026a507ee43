// Package middleware exposes net/http adapters over goSession.Engine.
//
// # Guards
//
//   - [Guard] validates the bearer access token and injects its claims.
//   - [RequireRole] rejects requests whose claims lack a role. It must run inside Guard.
//   - [ClientIPContext] records the caller address for unauthenticated routes such as login.
//     [IPResolver.Context] does the same behind proxies listed as trusted.
//
// Every guard delegates the token decision to Engine.ValidateAccess; nothing here parses
// or verifies a JWT itself.
package middleware
