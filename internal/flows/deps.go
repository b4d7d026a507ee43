package flows

import (
	"context"
	"time"
)

// PrincipalRecord is the flow-local view of a principal.
type PrincipalRecord struct {
	ID           string
	Username     string
	Email        string
	Roles        []string
	Enabled      bool
	PasswordHash string
}

// IssuedTokens is a freshly issued access/refresh pair.
type IssuedTokens struct {
	AccessToken      string
	AccessJTI        string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// IssueFunc signs an access token and creates a refresh record for p.
type IssueFunc func(ctx context.Context, p PrincipalRecord) (IssuedTokens, error)

// WarnFunc logs a degraded-but-continuing condition.
type WarnFunc func(ctx context.Context, msg string, args ...any)

func warn(fn WarnFunc, ctx context.Context, msg string, args ...any) {
	if fn != nil {
		fn(ctx, msg, args...)
	}
}
