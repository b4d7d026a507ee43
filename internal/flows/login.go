package flows

import (
	"context"
	"errors"
	"time"
)

type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	// LoginFailureLocked means the reference was already locked; credentials were not checked.
	LoginFailureLocked
	// LoginFailureNewlyLocked means this attempt's failure triggered the lock.
	LoginFailureNewlyLocked
	LoginFailureInvalidCredentials
	LoginFailureLockoutUnavailable
	LoginFailureLookup
	LoginFailureVerify
	LoginFailureIssue
)

// LockoutOutcome mirrors the lockout guard's failure result.
type LockoutOutcome struct {
	Failures    int
	Locked      bool
	NewlyLocked bool
	Remaining   time.Duration
}

type LoginResult struct {
	Failure   LoginFailureKind
	Err       error
	Reason    string
	Remaining time.Duration
	Principal PrincipalRecord
	Tokens    IssuedTokens
}

type LoginDeps struct {
	// LockoutFailOpen lets logins proceed when the lockout backend errors.
	LockoutFailOpen bool

	RemainingLockout func(context.Context, string) (time.Duration, bool, error)
	LoginFailed      func(context.Context, string) (LockoutOutcome, error)
	LoginSucceeded   func(context.Context, string) error

	FindByUsername    func(context.Context, string) (PrincipalRecord, error)
	PrincipalNotFound error
	VerifyPassword    func(password, hash string) (bool, error)
	// DummyHash is verified against when the principal does not exist, so unknown and
	// known usernames cost the same.
	DummyHash string

	Issue IssueFunc
	Warn  WarnFunc
}

// RunLogin gates on the lockout state, verifies credentials, records the outcome and
// issues a pair on success.
func RunLogin(ctx context.Context, username, password string, deps LoginDeps) LoginResult {
	remaining, locked, err := deps.RemainingLockout(ctx, username)
	if err != nil {
		if !deps.LockoutFailOpen {
			return LoginResult{Failure: LoginFailureLockoutUnavailable, Err: err}
		}
		warn(deps.Warn, ctx, "lockout check failed; continuing", "error", err)
	} else if locked {
		return LoginResult{Failure: LoginFailureLocked, Remaining: remaining}
	}

	p, err := deps.FindByUsername(ctx, username)
	known := true
	if err != nil {
		if deps.PrincipalNotFound == nil || !errors.Is(err, deps.PrincipalNotFound) {
			return LoginResult{Failure: LoginFailureLookup, Err: err}
		}
		known = false
	}

	hash := p.PasswordHash
	if !known {
		hash = deps.DummyHash
	}

	ok := false
	if hash != "" {
		ok, err = deps.VerifyPassword(password, hash)
		if err != nil && known {
			return LoginResult{Failure: LoginFailureVerify, Err: err, Principal: p}
		}
	}

	reason := ""
	switch {
	case !known:
		reason = "unknown_principal"
	case !ok:
		reason = "wrong_password"
	case !p.Enabled:
		reason = "disabled"
	}
	if reason != "" {
		return recordFailure(ctx, username, reason, p, deps)
	}

	if err := deps.LoginSucceeded(ctx, username); err != nil {
		if !deps.LockoutFailOpen {
			return LoginResult{Failure: LoginFailureLockoutUnavailable, Err: err, Principal: p}
		}
		warn(deps.Warn, ctx, "lockout reset failed; continuing", "error", err)
	}

	tokens, err := deps.Issue(ctx, p)
	if err != nil {
		return LoginResult{Failure: LoginFailureIssue, Err: err, Principal: p}
	}
	return LoginResult{Principal: p, Tokens: tokens}
}

func recordFailure(ctx context.Context, username, reason string, p PrincipalRecord, deps LoginDeps) LoginResult {
	out, err := deps.LoginFailed(ctx, username)
	if err != nil {
		if !deps.LockoutFailOpen {
			return LoginResult{Failure: LoginFailureLockoutUnavailable, Err: err, Reason: reason, Principal: p}
		}
		warn(deps.Warn, ctx, "lockout record failed; continuing", "error", err)
		return LoginResult{Failure: LoginFailureInvalidCredentials, Reason: reason, Principal: p}
	}

	switch {
	case out.NewlyLocked:
		return LoginResult{Failure: LoginFailureNewlyLocked, Reason: reason, Remaining: out.Remaining, Principal: p}
	case out.Locked:
		// Another attempt locked the reference between the gate and this failure.
		return LoginResult{Failure: LoginFailureLocked, Reason: reason, Remaining: out.Remaining, Principal: p}
	}
	return LoginResult{Failure: LoginFailureInvalidCredentials, Reason: reason, Principal: p}
}
