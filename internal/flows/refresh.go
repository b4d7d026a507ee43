package flows

import (
	"context"
	"errors"
	"time"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureNotFound
	RefreshFailureExpired
	// RefreshFailureReuse means the token exists but was already revoked.
	RefreshFailureReuse
	RefreshFailureRotate
	// RefreshFailurePrincipalGone means the owner was deleted or disabled after issue.
	RefreshFailurePrincipalGone
	RefreshFailureLookup
	RefreshFailureIssueAccess
)

// RotatedRecord is the replacement refresh token produced by a rotation.
type RotatedRecord struct {
	PrincipalID string
	Token       string
	ExpiresAt   time.Time
}

// AccessToken is a signed access token and its identifiers.
type AccessToken struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

type RefreshResult struct {
	Failure RefreshFailureKind
	Err     error
	// PrincipalID is set whenever the presented token could be attributed.
	PrincipalID string
	// RevokedSessions counts sessions revoked in response to reuse.
	RevokedSessions int
	Principal       PrincipalRecord
	Tokens          IssuedTokens
}

type RefreshDeps struct {
	Rotate      func(context.Context, string) (RotatedRecord, error)
	Revoke      func(context.Context, string) error
	LookupOwner func(context.Context, string) (string, error)
	RevokeAll   func(context.Context, string) (int, error)
	FindByID    func(context.Context, string) (PrincipalRecord, error)
	IssueAccess func(context.Context, PrincipalRecord) (AccessToken, error)
	Warn        WarnFunc

	// RevokeAllOnReuse revokes every session of the owner when a revoked token is replayed.
	RevokeAllOnReuse bool

	NotFound          error
	Expired           error
	Revoked           error
	PrincipalNotFound error
}

// RunRefresh rotates the presented token and signs a new access token from the principal's
// current record, so role changes apply on the next refresh.
func RunRefresh(ctx context.Context, token string, deps RefreshDeps) RefreshResult {
	rotated, err := deps.Rotate(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, deps.NotFound):
			return RefreshResult{Failure: RefreshFailureNotFound, Err: err}
		case errors.Is(err, deps.Expired):
			return RefreshResult{Failure: RefreshFailureExpired, Err: err}
		case errors.Is(err, deps.Revoked):
			return handleReuse(ctx, token, err, deps)
		default:
			return RefreshResult{Failure: RefreshFailureRotate, Err: err}
		}
	}

	p, err := deps.FindByID(ctx, rotated.PrincipalID)
	if err != nil && !errors.Is(err, deps.PrincipalNotFound) {
		discard(ctx, rotated.Token, deps)
		return RefreshResult{Failure: RefreshFailureLookup, Err: err, PrincipalID: rotated.PrincipalID}
	}
	if err != nil || !p.Enabled {
		discard(ctx, rotated.Token, deps)
		return RefreshResult{Failure: RefreshFailurePrincipalGone, Err: err, PrincipalID: rotated.PrincipalID}
	}

	access, err := deps.IssueAccess(ctx, p)
	if err != nil {
		discard(ctx, rotated.Token, deps)
		return RefreshResult{Failure: RefreshFailureIssueAccess, Err: err, PrincipalID: p.ID}
	}

	return RefreshResult{
		PrincipalID: p.ID,
		Principal:   p,
		Tokens: IssuedTokens{
			AccessToken:      access.Token,
			AccessJTI:        access.JTI,
			AccessExpiresAt:  access.ExpiresAt,
			RefreshToken:     rotated.Token,
			RefreshExpiresAt: rotated.ExpiresAt,
		},
	}
}

// The replacement was never handed out; revoke it so it does not count toward the cap.
func discard(ctx context.Context, token string, deps RefreshDeps) {
	if err := deps.Revoke(ctx, token); err != nil {
		warn(deps.Warn, ctx, "revoke unused refresh token failed", "error", err)
	}
}

func handleReuse(ctx context.Context, token string, cause error, deps RefreshDeps) RefreshResult {
	res := RefreshResult{Failure: RefreshFailureReuse, Err: cause}
	if deps.LookupOwner == nil {
		return res
	}

	owner, err := deps.LookupOwner(ctx, token)
	if err != nil {
		return res
	}
	res.PrincipalID = owner

	if deps.RevokeAllOnReuse && deps.RevokeAll != nil {
		n, err := deps.RevokeAll(ctx, owner)
		if err != nil {
			warn(deps.Warn, ctx, "revoke-all after reuse failed", "principal_id", owner, "error", err)
		}
		res.RevokedSessions = n
	}
	return res
}
