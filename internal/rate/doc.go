// Package rate implements Redis-backed fixed-window request throttling for the sessiond
// HTTP surface.
//
// # Window semantics
//
// Each (scope, key) pair owns one counter. The first hit in a window sets its expiry; the
// counter and expiry are updated in one script so a crash between the two never leaves a
// counter without TTL. Key layout:
//   - <prefix>:<scope>:<key>
//
// Per-username lockout lives in the lockout package; this package only bounds request
// volume per client address.
package rate
