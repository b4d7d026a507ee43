package flows

import (
	"context"
	"errors"
	"strings"
)

type RegisterFailureKind int

const (
	RegisterFailureNone RegisterFailureKind = iota
	RegisterFailureInvalid
	RegisterFailureConflict
	RegisterFailureLookup
	RegisterFailureHash
	RegisterFailureCreate
	RegisterFailureIssue
)

type RegisterInput struct {
	Username string
	Email    string
	Password string
	Roles    []string
}

type RegisterResult struct {
	Failure RegisterFailureKind
	Err     error
	// Reason names the conflicting field or the invalid input.
	Reason    string
	Principal PrincipalRecord
	Tokens    IssuedTokens
}

type RegisterDeps struct {
	ExistsByUsername func(context.Context, string) (bool, error)
	ExistsByEmail    func(context.Context, string) (bool, error)
	CreatePrincipal  func(context.Context, PrincipalRecord) (PrincipalRecord, error)
	HashPassword     func(string) (string, error)
	Issue            IssueFunc
	// Conflict is the sentinel a store returns when a unique constraint fires on create.
	Conflict error
}

// RunRegister checks uniqueness, stores the new principal and issues its first pair.
// The existence checks are advisory; a store that enforces uniqueness reports races
// through deps.Conflict.
func RunRegister(ctx context.Context, in RegisterInput, deps RegisterDeps) RegisterResult {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	switch {
	case in.Username == "":
		return RegisterResult{Failure: RegisterFailureInvalid, Reason: "username"}
	case in.Password == "":
		return RegisterResult{Failure: RegisterFailureInvalid, Reason: "password"}
	}

	taken, err := deps.ExistsByUsername(ctx, in.Username)
	if err != nil {
		return RegisterResult{Failure: RegisterFailureLookup, Err: err}
	}
	if taken {
		return RegisterResult{Failure: RegisterFailureConflict, Reason: "username"}
	}
	if in.Email != "" {
		taken, err = deps.ExistsByEmail(ctx, in.Email)
		if err != nil {
			return RegisterResult{Failure: RegisterFailureLookup, Err: err}
		}
		if taken {
			return RegisterResult{Failure: RegisterFailureConflict, Reason: "email"}
		}
	}

	hash, err := deps.HashPassword(in.Password)
	if err != nil {
		return RegisterResult{Failure: RegisterFailureHash, Err: err}
	}

	p, err := deps.CreatePrincipal(ctx, PrincipalRecord{
		Username:     in.Username,
		Email:        in.Email,
		Roles:        append([]string(nil), in.Roles...),
		Enabled:      true,
		PasswordHash: hash,
	})
	if err != nil {
		if deps.Conflict != nil && errors.Is(err, deps.Conflict) {
			return RegisterResult{Failure: RegisterFailureConflict, Err: err, Reason: "store"}
		}
		return RegisterResult{Failure: RegisterFailureCreate, Err: err}
	}

	tokens, err := deps.Issue(ctx, p)
	if err != nil {
		return RegisterResult{Failure: RegisterFailureIssue, Err: err, Principal: p}
	}
	return RegisterResult{Principal: p, Tokens: tokens}
}
