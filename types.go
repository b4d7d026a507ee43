package goSession

import (
	"context"
	"time"
)

// Principal is an account as seen by the engine. The PrincipalStore owns it.
type Principal struct {
	ID           string
	Username     string
	Email        string
	Roles        []string
	Enabled      bool
	PasswordHash string
}

// PrincipalStore is the credential store the engine consults. Implementations must return
// ErrPrincipalNotFound for a missing principal and may return ErrConflict from
// CreatePrincipal when a unique constraint fires.
type PrincipalStore interface {
	FindByUsername(ctx context.Context, username string) (Principal, error)
	FindByID(ctx context.Context, id string) (Principal, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	// CreatePrincipal stores p and returns it with ID assigned.
	CreatePrincipal(ctx context.Context, p Principal) (Principal, error)
}

// PasswordHasher hashes and verifies passwords. password.Argon2 is the default.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
}

type RegisterRequest struct {
	Username string
	Email    string
	Password string
	Roles    []string
}

type LoginRequest struct {
	Username string
	Password string
}

// PrincipalSummary is the public part of a principal returned with a token pair.
type PrincipalSummary struct {
	ID       string
	Username string
	Roles    []string
}

// AuthResult is the token pair returned by Register, Login and Refresh.
type AuthResult struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	Principal        PrincipalSummary
}
