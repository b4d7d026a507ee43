package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/goSession/jwt"
)

type ValidateFailureKind int

const (
	ValidateFailureNone ValidateFailureKind = iota
	ValidateFailureInvalid
	ValidateFailureExpired
	ValidateFailureRevoked
	ValidateFailureBlacklistUnavailable
)

type ValidateResult struct {
	Failure ValidateFailureKind
	Err     error
	Claims  *jwt.Claims
}

type ValidateDeps struct {
	Parse func(string) (*jwt.Claims, error)
	// BlacklistContains is nil when the blacklist is disabled.
	BlacklistContains func(context.Context, string) (bool, error)
	BlacklistFailOpen bool
	Warn              WarnFunc
}

// RunValidate verifies the access token and then consults the blacklist.
func RunValidate(ctx context.Context, token string, deps ValidateDeps) ValidateResult {
	claims, err := deps.Parse(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ValidateResult{Failure: ValidateFailureExpired, Err: err}
		}
		return ValidateResult{Failure: ValidateFailureInvalid, Err: err}
	}

	if deps.BlacklistContains == nil {
		return ValidateResult{Claims: claims}
	}

	hit, err := deps.BlacklistContains(ctx, claims.ID)
	if err != nil {
		if !deps.BlacklistFailOpen {
			return ValidateResult{Failure: ValidateFailureBlacklistUnavailable, Err: err}
		}
		warn(deps.Warn, ctx, "blacklist lookup failed; continuing", "error", err)
		return ValidateResult{Claims: claims}
	}
	if hit {
		return ValidateResult{Failure: ValidateFailureRevoked, Claims: claims}
	}
	return ValidateResult{Claims: claims}
}
