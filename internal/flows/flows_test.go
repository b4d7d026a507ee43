package flows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goSession/jwt"
)

var (
	errNotFound  = errors.New("not found")
	errExpired   = errors.New("expired")
	errRevoked   = errors.New("revoked")
	errGone      = errors.New("principal gone")
	errConflict  = errors.New("conflict")
	errBackend   = errors.New("backend down")
	testPassword = "pw"
)

func issueOK(_ context.Context, p PrincipalRecord) (IssuedTokens, error) {
	return IssuedTokens{AccessToken: "at-" + p.ID, AccessJTI: "jti-" + p.ID, RefreshToken: "rt-" + p.ID}, nil
}

func loginDeps(p *PrincipalRecord) (LoginDeps, *int) {
	failures := 0
	deps := LoginDeps{
		RemainingLockout: func(context.Context, string) (time.Duration, bool, error) { return 0, false, nil },
		LoginFailed: func(context.Context, string) (LockoutOutcome, error) {
			failures++
			return LockoutOutcome{Failures: failures}, nil
		},
		LoginSucceeded: func(context.Context, string) error { return nil },
		FindByUsername: func(_ context.Context, username string) (PrincipalRecord, error) {
			if p == nil || p.Username != username {
				return PrincipalRecord{}, errNotFound
			}
			return *p, nil
		},
		PrincipalNotFound: errNotFound,
		VerifyPassword:    func(password, hash string) (bool, error) { return "hash:"+password == hash, nil },
		DummyHash:         "hash:dummy",
		Issue:             issueOK,
	}
	return deps, &failures
}

func TestRunLoginSuccess(t *testing.T) {
	p := &PrincipalRecord{ID: "u1", Username: "alice", Enabled: true, PasswordHash: "hash:" + testPassword}
	deps, failures := loginDeps(p)

	res := RunLogin(context.Background(), "alice", testPassword, deps)
	if res.Failure != LoginFailureNone {
		t.Fatalf("expected success, got %v (%v)", res.Failure, res.Err)
	}
	if res.Tokens.AccessToken != "at-u1" {
		t.Fatalf("unexpected tokens %+v", res.Tokens)
	}
	if *failures != 0 {
		t.Fatal("success must not record a failure")
	}
}

func TestRunLoginFailureReasons(t *testing.T) {
	cases := []struct {
		name     string
		p        *PrincipalRecord
		username string
		password string
		reason   string
	}{
		{"unknown", nil, "ghost", testPassword, "unknown_principal"},
		{"wrong password", &PrincipalRecord{ID: "u1", Username: "alice", Enabled: true, PasswordHash: "hash:x"}, "alice", testPassword, "wrong_password"},
		{"disabled", &PrincipalRecord{ID: "u1", Username: "alice", Enabled: false, PasswordHash: "hash:" + testPassword}, "alice", testPassword, "disabled"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			deps, failures := loginDeps(tc.p)
			res := RunLogin(context.Background(), tc.username, tc.password, deps)
			if res.Failure != LoginFailureInvalidCredentials {
				t.Fatalf("expected invalid credentials, got %v", res.Failure)
			}
			if res.Reason != tc.reason {
				t.Fatalf("expected reason %s, got %s", tc.reason, res.Reason)
			}
			if *failures != 1 {
				t.Fatalf("expected one recorded failure, got %d", *failures)
			}
		})
	}
}

func TestRunLoginUnknownUsesDummyHash(t *testing.T) {
	deps, _ := loginDeps(nil)
	var verified string
	deps.VerifyPassword = func(_, hash string) (bool, error) {
		verified = hash
		return false, nil
	}

	RunLogin(context.Background(), "ghost", testPassword, deps)
	if verified != deps.DummyHash {
		t.Fatalf("expected dummy hash verified, got %q", verified)
	}
}

func TestRunLoginLockedSkipsLookup(t *testing.T) {
	deps, _ := loginDeps(nil)
	deps.RemainingLockout = func(context.Context, string) (time.Duration, bool, error) { return time.Minute, true, nil }
	deps.FindByUsername = func(context.Context, string) (PrincipalRecord, error) {
		t.Fatal("locked login must not look up the principal")
		return PrincipalRecord{}, nil
	}

	res := RunLogin(context.Background(), "alice", testPassword, deps)
	if res.Failure != LoginFailureLocked || res.Remaining != time.Minute {
		t.Fatalf("expected locked with 1m, got %v %v", res.Failure, res.Remaining)
	}
}

func TestRunLoginNewlyLocked(t *testing.T) {
	deps, _ := loginDeps(nil)
	deps.LoginFailed = func(context.Context, string) (LockoutOutcome, error) {
		return LockoutOutcome{Failures: 3, Locked: true, NewlyLocked: true, Remaining: time.Hour}, nil
	}

	res := RunLogin(context.Background(), "ghost", testPassword, deps)
	if res.Failure != LoginFailureNewlyLocked || res.Remaining != time.Hour {
		t.Fatalf("expected newly locked, got %v", res.Failure)
	}
}

func TestRunLoginLockoutBackendFailure(t *testing.T) {
	deps, _ := loginDeps(nil)
	deps.RemainingLockout = func(context.Context, string) (time.Duration, bool, error) { return 0, false, errBackend }

	res := RunLogin(context.Background(), "ghost", testPassword, deps)
	if res.Failure != LoginFailureLockoutUnavailable || !errors.Is(res.Err, errBackend) {
		t.Fatalf("expected fail closed, got %v", res.Failure)
	}

	warned := 0
	deps.LockoutFailOpen = true
	deps.LoginFailed = func(context.Context, string) (LockoutOutcome, error) { return LockoutOutcome{}, errBackend }
	deps.Warn = func(context.Context, string, ...any) { warned++ }

	res = RunLogin(context.Background(), "ghost", testPassword, deps)
	if res.Failure != LoginFailureInvalidCredentials {
		t.Fatalf("expected fail-open to reach credential check, got %v", res.Failure)
	}
	if warned != 2 {
		t.Fatalf("expected two warnings, got %d", warned)
	}
}

func TestRunLoginLookupError(t *testing.T) {
	deps, failures := loginDeps(nil)
	deps.FindByUsername = func(context.Context, string) (PrincipalRecord, error) { return PrincipalRecord{}, errBackend }

	res := RunLogin(context.Background(), "alice", testPassword, deps)
	if res.Failure != LoginFailureLookup || *failures != 0 {
		t.Fatalf("expected lookup failure without recording, got %v", res.Failure)
	}
}

func registerDeps() RegisterDeps {
	return RegisterDeps{
		ExistsByUsername: func(_ context.Context, u string) (bool, error) { return u == "taken", nil },
		ExistsByEmail:    func(_ context.Context, e string) (bool, error) { return e == "taken@example.com", nil },
		CreatePrincipal: func(_ context.Context, p PrincipalRecord) (PrincipalRecord, error) {
			p.ID = "new"
			return p, nil
		},
		HashPassword: func(pw string) (string, error) { return "hash:" + pw, nil },
		Issue:        issueOK,
		Conflict:     errConflict,
	}
}

func TestRunRegister(t *testing.T) {
	res := RunRegister(context.Background(), RegisterInput{Username: " bob ", Password: "pw", Roles: []string{"r"}}, registerDeps())
	if res.Failure != RegisterFailureNone {
		t.Fatalf("expected success, got %v", res.Failure)
	}
	if res.Principal.Username != "bob" || res.Principal.PasswordHash != "hash:pw" || !res.Principal.Enabled {
		t.Fatalf("unexpected principal %+v", res.Principal)
	}
}

func TestRunRegisterFailures(t *testing.T) {
	cases := []struct {
		name   string
		in     RegisterInput
		mutate func(*RegisterDeps)
		kind   RegisterFailureKind
		reason string
	}{
		{"empty username", RegisterInput{Password: "pw"}, nil, RegisterFailureInvalid, "username"},
		{"empty password", RegisterInput{Username: "bob"}, nil, RegisterFailureInvalid, "password"},
		{"username taken", RegisterInput{Username: "taken", Password: "pw"}, nil, RegisterFailureConflict, "username"},
		{"email taken", RegisterInput{Username: "bob", Email: "taken@example.com", Password: "pw"}, nil, RegisterFailureConflict, "email"},
		{"store conflict", RegisterInput{Username: "bob", Password: "pw"}, func(d *RegisterDeps) {
			d.CreatePrincipal = func(context.Context, PrincipalRecord) (PrincipalRecord, error) { return PrincipalRecord{}, errConflict }
		}, RegisterFailureConflict, "store"},
		{"create error", RegisterInput{Username: "bob", Password: "pw"}, func(d *RegisterDeps) {
			d.CreatePrincipal = func(context.Context, PrincipalRecord) (PrincipalRecord, error) { return PrincipalRecord{}, errBackend }
		}, RegisterFailureCreate, ""},
		{"issue error", RegisterInput{Username: "bob", Password: "pw"}, func(d *RegisterDeps) {
			d.Issue = func(context.Context, PrincipalRecord) (IssuedTokens, error) { return IssuedTokens{}, errBackend }
		}, RegisterFailureIssue, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			deps := registerDeps()
			if tc.mutate != nil {
				tc.mutate(&deps)
			}
			res := RunRegister(context.Background(), tc.in, deps)
			if res.Failure != tc.kind || res.Reason != tc.reason {
				t.Fatalf("expected %v/%q, got %v/%q", tc.kind, tc.reason, res.Failure, res.Reason)
			}
		})
	}
}

func refreshDeps(rotateErr error) (RefreshDeps, *[]string) {
	var revoked []string
	deps := RefreshDeps{
		Rotate: func(context.Context, string) (RotatedRecord, error) {
			if rotateErr != nil {
				return RotatedRecord{}, rotateErr
			}
			return RotatedRecord{PrincipalID: "u1", Token: "new-rt"}, nil
		},
		Revoke: func(_ context.Context, token string) error {
			revoked = append(revoked, token)
			return nil
		},
		LookupOwner: func(context.Context, string) (string, error) { return "u1", nil },
		RevokeAll:   func(context.Context, string) (int, error) { return 3, nil },
		FindByID: func(_ context.Context, id string) (PrincipalRecord, error) {
			return PrincipalRecord{ID: id, Username: "alice", Enabled: true, Roles: []string{"admin"}}, nil
		},
		IssueAccess: func(_ context.Context, p PrincipalRecord) (AccessToken, error) {
			return AccessToken{Token: "at", JTI: "jti"}, nil
		},
		NotFound:          errNotFound,
		Expired:           errExpired,
		Revoked:           errRevoked,
		PrincipalNotFound: errGone,
	}
	return deps, &revoked
}

func TestRunRefreshSuccess(t *testing.T) {
	deps, revoked := refreshDeps(nil)
	res := RunRefresh(context.Background(), "old", deps)
	if res.Failure != RefreshFailureNone {
		t.Fatalf("expected success, got %v", res.Failure)
	}
	if res.Tokens.RefreshToken != "new-rt" || res.Tokens.AccessToken != "at" {
		t.Fatalf("unexpected tokens %+v", res.Tokens)
	}
	if len(*revoked) != 0 {
		t.Fatalf("unexpected revokes %v", *revoked)
	}
}

func TestRunRefreshRotateErrors(t *testing.T) {
	for err, want := range map[error]RefreshFailureKind{
		errNotFound: RefreshFailureNotFound,
		errExpired:  RefreshFailureExpired,
		errRevoked:  RefreshFailureReuse,
		errBackend:  RefreshFailureRotate,
	} {
		deps, _ := refreshDeps(err)
		if res := RunRefresh(context.Background(), "old", deps); res.Failure != want {
			t.Fatalf("%v: expected %v, got %v", err, want, res.Failure)
		}
	}
}

func TestRunRefreshReuse(t *testing.T) {
	deps, _ := refreshDeps(errRevoked)
	res := RunRefresh(context.Background(), "old", deps)
	if res.PrincipalID != "u1" || res.RevokedSessions != 0 {
		t.Fatalf("expected owner without revoke-all, got %+v", res)
	}

	deps.RevokeAllOnReuse = true
	res = RunRefresh(context.Background(), "old", deps)
	if res.RevokedSessions != 3 {
		t.Fatalf("expected 3 revoked sessions, got %d", res.RevokedSessions)
	}
}

func TestRunRefreshDiscardsReplacement(t *testing.T) {
	cases := map[string]func(*RefreshDeps){
		"gone": func(d *RefreshDeps) {
			d.FindByID = func(context.Context, string) (PrincipalRecord, error) { return PrincipalRecord{}, errGone }
		},
		"disabled": func(d *RefreshDeps) {
			d.FindByID = func(_ context.Context, id string) (PrincipalRecord, error) { return PrincipalRecord{ID: id}, nil }
		},
		"lookup error": func(d *RefreshDeps) {
			d.FindByID = func(context.Context, string) (PrincipalRecord, error) { return PrincipalRecord{}, errBackend }
		},
		"issue error": func(d *RefreshDeps) {
			d.IssueAccess = func(context.Context, PrincipalRecord) (AccessToken, error) { return AccessToken{}, errBackend }
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			deps, revoked := refreshDeps(nil)
			mutate(&deps)
			res := RunRefresh(context.Background(), "old", deps)
			if res.Failure == RefreshFailureNone {
				t.Fatal("expected failure")
			}
			if len(*revoked) != 1 || (*revoked)[0] != "new-rt" {
				t.Fatalf("expected replacement revoked, got %v", *revoked)
			}
		})
	}
}

func TestRunLogout(t *testing.T) {
	var added []string
	exp := time.Now().Add(time.Minute)
	deps := LogoutDeps{
		RevokeRefresh: func(context.Context, string) error { return nil },
		ExtractJTI:    func(string) (string, error) { return "jti-1", nil },
		ExtractExpiry: func(string) (time.Time, error) { return exp, nil },
		BlacklistAdd: func(_ context.Context, jti string, e time.Time) error {
			if !e.Equal(exp) {
				t.Fatalf("unexpected expiry %v", e)
			}
			added = append(added, jti)
			return nil
		},
	}

	res := RunLogout(context.Background(), "rt", "at", deps)
	if res.Failure != LogoutFailureNone || !res.Blacklisted || len(added) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}

	deps.BlacklistAdd = func(context.Context, string, time.Time) error { return errBackend }
	if res := RunLogout(context.Background(), "rt", "at", deps); res.Failure != LogoutFailureBlacklistUnavailable {
		t.Fatalf("expected blacklist unavailable, got %v", res.Failure)
	}
	deps.BlacklistFailOpen = true
	if res := RunLogout(context.Background(), "rt", "at", deps); res.Failure != LogoutFailureNone || res.Blacklisted {
		t.Fatalf("expected fail-open without blacklisting, got %+v", res)
	}

	deps.ExtractJTI = func(string) (string, error) { return "", errBackend }
	if res := RunLogout(context.Background(), "", "bad", deps); res.Failure != LogoutFailureAccessMalformed {
		t.Fatalf("expected malformed, got %v", res.Failure)
	}

	deps.RevokeRefresh = func(context.Context, string) error { return errBackend }
	if res := RunLogout(context.Background(), "rt", "", deps); res.Failure != LogoutFailureRevoke {
		t.Fatalf("expected revoke failure, got %v", res.Failure)
	}
}

func TestRunValidate(t *testing.T) {
	claims := &jwt.Claims{}
	claims.ID = "jti-1"
	deps := ValidateDeps{
		Parse:             func(string) (*jwt.Claims, error) { return claims, nil },
		BlacklistContains: func(_ context.Context, jti string) (bool, error) { return jti == "jti-1", nil },
	}

	if res := RunValidate(context.Background(), "t", deps); res.Failure != ValidateFailureRevoked {
		t.Fatalf("expected revoked, got %v", res.Failure)
	}

	deps.BlacklistContains = func(context.Context, string) (bool, error) { return false, errBackend }
	if res := RunValidate(context.Background(), "t", deps); res.Failure != ValidateFailureBlacklistUnavailable {
		t.Fatalf("expected unavailable, got %v", res.Failure)
	}
	deps.BlacklistFailOpen = true
	if res := RunValidate(context.Background(), "t", deps); res.Failure != ValidateFailureNone || res.Claims != claims {
		t.Fatalf("expected fail-open claims, got %v", res.Failure)
	}

	deps.Parse = func(string) (*jwt.Claims, error) { return nil, jwt.ErrTokenExpired }
	if res := RunValidate(context.Background(), "t", deps); res.Failure != ValidateFailureExpired {
		t.Fatalf("expected expired, got %v", res.Failure)
	}
	deps.Parse = func(string) (*jwt.Claims, error) { return nil, jwt.ErrInvalidSignature }
	if res := RunValidate(context.Background(), "t", deps); res.Failure != ValidateFailureInvalid {
		t.Fatalf("expected invalid, got %v", res.Failure)
	}

	deps.Parse = func(string) (*jwt.Claims, error) { return claims, nil }
	deps.BlacklistContains = nil
	if res := RunValidate(context.Background(), "t", deps); res.Failure != ValidateFailureNone {
		t.Fatalf("expected disabled blacklist to pass, got %v", res.Failure)
	}
}
