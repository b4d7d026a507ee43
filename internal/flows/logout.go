package flows

import (
	"context"
	"time"
)

type LogoutFailureKind int

const (
	LogoutFailureNone LogoutFailureKind = iota
	LogoutFailureRevoke
	LogoutFailureAccessMalformed
	LogoutFailureBlacklistUnavailable
)

type LogoutResult struct {
	Failure     LogoutFailureKind
	Err         error
	JTI         string
	Blacklisted bool
}

type LogoutDeps struct {
	RevokeRefresh func(context.Context, string) error
	ExtractJTI    func(string) (string, error)
	ExtractExpiry func(string) (time.Time, error)
	// BlacklistAdd is nil when the blacklist is disabled.
	BlacklistAdd      func(context.Context, string, time.Time) error
	BlacklistFailOpen bool
	Warn              WarnFunc
}

// RunLogout revokes the refresh token and, when an access token is presented, blacklists its
// jti until the token's own expiry. The refresh revoke happens first and is kept even when the
// access token turns out to be malformed.
func RunLogout(ctx context.Context, refreshToken, accessToken string, deps LogoutDeps) LogoutResult {
	if refreshToken != "" {
		if err := deps.RevokeRefresh(ctx, refreshToken); err != nil {
			return LogoutResult{Failure: LogoutFailureRevoke, Err: err}
		}
	}
	if accessToken == "" {
		return LogoutResult{}
	}

	jti, err := deps.ExtractJTI(accessToken)
	if err != nil {
		return LogoutResult{Failure: LogoutFailureAccessMalformed, Err: err}
	}
	exp, err := deps.ExtractExpiry(accessToken)
	if err != nil {
		return LogoutResult{Failure: LogoutFailureAccessMalformed, Err: err, JTI: jti}
	}

	if deps.BlacklistAdd == nil {
		return LogoutResult{JTI: jti}
	}
	if err := deps.BlacklistAdd(ctx, jti, exp); err != nil {
		if !deps.BlacklistFailOpen {
			return LogoutResult{Failure: LogoutFailureBlacklistUnavailable, Err: err, JTI: jti}
		}
		warn(deps.Warn, ctx, "blacklist add failed; continuing", "jti", jti, "error", err)
		return LogoutResult{JTI: jti}
	}
	return LogoutResult{JTI: jti, Blacklisted: true}
}
