// Package jwt mints and validates short-lived signed access tokens.
//
// Every token carries the principal id (sub), role names, a random jti and an
// expiry of exactly iat + AccessTTL. Validation reports one of ErrTokenMalformed,
// ErrInvalidSignature or ErrTokenExpired. ExtractJTI and ExtractExpiry read claims
// without verification so that logout can blacklist a token that is close to, or past,
// its expiry.
//
// This package does not consult any revocation list.
package jwt
