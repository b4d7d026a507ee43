package goSession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/MrEthical07/goSession/blacklist"
	internalaudit "github.com/MrEthical07/goSession/internal/audit"
	"github.com/MrEthical07/goSession/internal/flows"
	"github.com/MrEthical07/goSession/internal/sweep"
	"github.com/MrEthical07/goSession/jwt"
	"github.com/MrEthical07/goSession/lockout"
	"github.com/MrEthical07/goSession/refresh"
)

// Engine runs the register, login, refresh and logout flows over its components. It holds
// no per-request state and is safe for concurrent use once built.
type Engine struct {
	config     Config
	jwt        *jwt.Manager
	refresh    *refresh.Manager
	lockout    *lockout.Guard
	blacklist  blacklist.Blacklist
	principals PrincipalStore
	hasher     PasswordHasher
	dummyHash  string
	logger     *slog.Logger
	now        func() time.Time
	metrics    *Metrics
	audit      *internalaudit.Dispatcher
	sweeper    *sweep.Runner
	closeOnce  sync.Once
}

// Close stops the sweeper and flushes pending audit events. It is safe to call twice.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		if e.sweeper != nil {
			e.sweeper.Stop()
		}
		e.audit.Close()
	})
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.jwt != nil && e.refresh != nil && e.principals != nil
}

func (e *Engine) warn(ctx context.Context, msg string, args ...any) {
	e.logger.WarnContext(ctx, msg, args...)
}

// Register creates a principal and returns its first token pair.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*AuthResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	res := flows.RunRegister(ctx, flows.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Roles:    req.Roles,
	}, flows.RegisterDeps{
		ExistsByUsername: e.principals.ExistsByUsername,
		ExistsByEmail:    e.principals.ExistsByEmail,
		CreatePrincipal: func(ctx context.Context, r flows.PrincipalRecord) (flows.PrincipalRecord, error) {
			p, err := e.principals.CreatePrincipal(ctx, fromRecord(r))
			return toRecord(p), err
		},
		HashPassword: e.hasher.Hash,
		Issue:        e.issuePair,
		Conflict:     ErrConflict,
	})

	switch res.Failure {
	case flows.RegisterFailureNone:
		e.metricInc(MetricRegisterSuccess)
		e.metricInc(MetricSessionCreated)
		e.emitAudit(ctx, auditEventRegisterSuccess, true, auditFields{
			principalID: res.Principal.ID,
			username:    res.Principal.Username,
			tokenID:     res.Tokens.AccessJTI,
		})
		return authResult(res.Principal, res.Tokens), nil
	case flows.RegisterFailureInvalid:
		err := fmt.Errorf("%w: %s required", ErrInvalidRequest, res.Reason)
		e.emitAudit(ctx, auditEventRegisterFailure, false, auditFields{username: req.Username, err: err, metadata: reason(res.Reason)})
		return nil, err
	case flows.RegisterFailureConflict:
		e.metricInc(MetricRegisterConflict)
		e.emitAudit(ctx, auditEventRegisterConflict, false, auditFields{username: req.Username, err: ErrConflict, metadata: reason(res.Reason)})
		return nil, ErrConflict
	default:
		err := e.storeError(res.Err)
		e.emitAudit(ctx, auditEventRegisterFailure, false, auditFields{
			principalID: res.Principal.ID,
			username:    req.Username,
			err:         err,
			metadata:    reason(registerFailureReason(res.Failure)),
		})
		return nil, err
	}
}

func registerFailureReason(kind flows.RegisterFailureKind) string {
	switch kind {
	case flows.RegisterFailureLookup:
		return "lookup_failed"
	case flows.RegisterFailureHash:
		return "hash_failed"
	case flows.RegisterFailureCreate:
		return "create_failed"
	case flows.RegisterFailureIssue:
		return "issue_failed"
	default:
		return ""
	}
}

// Login verifies credentials behind the lockout gate. A locked reference returns an
// *AccountLockedError without consulting the principal store.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*AuthResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricLoginLatency, time.Since(start)) }()
	}

	res := flows.RunLogin(ctx, req.Username, req.Password, flows.LoginDeps{
		LockoutFailOpen:  e.config.Lockout.FailOpen,
		RemainingLockout: e.lockout.RemainingLockout,
		LoginFailed: func(ctx context.Context, ref string) (flows.LockoutOutcome, error) {
			r, err := e.lockout.LoginFailed(ctx, ref)
			return flows.LockoutOutcome{
				Failures:    r.Failures,
				Locked:      r.Locked,
				NewlyLocked: r.NewlyLocked,
				Remaining:   r.Remaining,
			}, err
		},
		LoginSucceeded: e.lockout.LoginSucceeded,
		FindByUsername: func(ctx context.Context, username string) (flows.PrincipalRecord, error) {
			p, err := e.principals.FindByUsername(ctx, username)
			return toRecord(p), err
		},
		PrincipalNotFound: ErrPrincipalNotFound,
		VerifyPassword:    e.hasher.Verify,
		DummyHash:         e.dummyHash,
		Issue:             e.issuePair,
		Warn:              e.failOpenWarn,
	})

	fields := auditFields{principalID: res.Principal.ID, username: req.Username}

	switch res.Failure {
	case flows.LoginFailureNone:
		e.metricInc(MetricLoginSuccess)
		e.metricInc(MetricSessionCreated)
		fields.tokenID = res.Tokens.AccessJTI
		e.emitAudit(ctx, auditEventLoginSuccess, true, fields)
		return authResult(res.Principal, res.Tokens), nil

	case flows.LoginFailureLocked:
		e.metricInc(MetricLoginLocked)
		err := &AccountLockedError{Remaining: res.Remaining}
		fields.err = err
		e.emitAudit(ctx, auditEventLoginLocked, false, fields)
		return nil, err

	case flows.LoginFailureNewlyLocked:
		e.metricInc(MetricLoginFailure)
		e.metricInc(MetricAccountLocked)
		err := &AccountLockedError{Remaining: res.Remaining, NewlyLocked: true}
		fields.err = ErrInvalidCredentials
		fields.metadata = reason(res.Reason)
		e.emitAudit(ctx, auditEventLoginFailure, false, fields)
		fields.err = err
		fields.metadata = func() map[string]string {
			return map[string]string{"lock_seconds": strconv.FormatInt(int64(res.Remaining/time.Second), 10)}
		}
		e.emitAudit(ctx, auditEventAccountLocked, false, fields)
		return nil, err

	case flows.LoginFailureInvalidCredentials:
		e.metricInc(MetricLoginFailure)
		fields.err = ErrInvalidCredentials
		fields.metadata = reason(res.Reason)
		e.emitAudit(ctx, auditEventLoginFailure, false, fields)
		return nil, ErrInvalidCredentials

	case flows.LoginFailureLockoutUnavailable:
		e.metricInc(MetricLockoutUnavailable)
		err := fmt.Errorf("%w: %v", ErrLockoutUnavailable, res.Err)
		fields.err = err
		fields.metadata = reason("lockout")
		e.emitAudit(ctx, auditEventBackendFailedClosed, false, fields)
		return nil, err

	default:
		e.metricInc(MetricLoginFailure)
		err := e.storeError(res.Err)
		fields.err = err
		e.emitAudit(ctx, auditEventLoginFailure, false, fields)
		return nil, err
	}
}

// Refresh rotates refreshToken and returns a new pair carrying the principal's current roles.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	res := flows.RunRefresh(ctx, refreshToken, flows.RefreshDeps{
		Rotate: func(ctx context.Context, token string) (flows.RotatedRecord, error) {
			rec, err := e.refresh.Rotate(ctx, token, ClientIPFromContext(ctx))
			if err != nil {
				return flows.RotatedRecord{}, err
			}
			return flows.RotatedRecord{PrincipalID: rec.PrincipalID, Token: rec.Token, ExpiresAt: rec.ExpiresAt}, nil
		},
		Revoke: e.refresh.Revoke,
		LookupOwner: func(ctx context.Context, token string) (string, error) {
			rec, err := e.refresh.Lookup(ctx, token)
			return rec.PrincipalID, err
		},
		RevokeAll: e.refresh.RevokeAll,
		FindByID: func(ctx context.Context, id string) (flows.PrincipalRecord, error) {
			p, err := e.principals.FindByID(ctx, id)
			return toRecord(p), err
		},
		IssueAccess:       e.issueAccess,
		Warn:              e.warn,
		RevokeAllOnReuse:  e.config.Refresh.RevokeAllOnReuse,
		NotFound:          refresh.ErrNotFound,
		Expired:           refresh.ErrExpired,
		Revoked:           refresh.ErrRevoked,
		PrincipalNotFound: ErrPrincipalNotFound,
	})

	fields := auditFields{principalID: res.PrincipalID}

	switch res.Failure {
	case flows.RefreshFailureNone:
		e.metricInc(MetricRefreshSuccess)
		fields.username = res.Principal.Username
		fields.tokenID = res.Tokens.AccessJTI
		e.emitAudit(ctx, auditEventRefreshSuccess, true, fields)
		return authResult(res.Principal, res.Tokens), nil

	case flows.RefreshFailureNotFound, flows.RefreshFailurePrincipalGone:
		e.metricInc(MetricRefreshFailure)
		fields.err = ErrTokenInvalid
		r := "not_found"
		if res.Failure == flows.RefreshFailurePrincipalGone {
			r = "principal_unavailable"
		}
		fields.metadata = reason(r)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, fields)
		return nil, ErrTokenInvalid

	case flows.RefreshFailureExpired:
		e.metricInc(MetricRefreshFailure)
		fields.err = ErrTokenExpired
		fields.metadata = reason("expired")
		e.emitAudit(ctx, auditEventRefreshInvalid, false, fields)
		return nil, ErrTokenExpired

	case flows.RefreshFailureReuse:
		e.metricInc(MetricRefreshFailure)
		e.metricInc(MetricRefreshReuseDetected)
		if res.RevokedSessions > 0 {
			e.metrics.Add(MetricSessionRevoked, uint64(res.RevokedSessions))
		}
		fields.err = ErrTokenRevoked
		fields.metadata = func() map[string]string {
			return map[string]string{"revoked_sessions": strconv.Itoa(res.RevokedSessions)}
		}
		e.emitAudit(ctx, auditEventRefreshReuse, false, fields)
		return nil, ErrTokenRevoked

	default:
		e.metricInc(MetricRefreshFailure)
		err := e.storeError(res.Err)
		fields.err = err
		fields.metadata = reason("internal")
		e.emitAudit(ctx, auditEventRefreshInvalid, false, fields)
		return nil, err
	}
}

// Logout revokes refreshToken and blacklists accessToken's jti until it expires. Either
// token may be empty. Revoking an unknown or already revoked refresh token is not an error.
func (e *Engine) Logout(ctx context.Context, refreshToken, accessToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	deps := flows.LogoutDeps{
		RevokeRefresh:     e.refresh.Revoke,
		ExtractJTI:        e.jwt.ExtractJTI,
		ExtractExpiry:     e.jwt.ExtractExpiry,
		BlacklistFailOpen: e.config.Blacklist.FailOpen,
		Warn:              e.failOpenWarn,
	}
	if e.blacklist != nil {
		deps.BlacklistAdd = e.blacklist.Add
	}
	res := flows.RunLogout(ctx, refreshToken, accessToken, deps)

	fields := auditFields{tokenID: res.JTI}

	switch res.Failure {
	case flows.LogoutFailureNone:
		e.metricInc(MetricLogout)
		fields.metadata = func() map[string]string {
			return map[string]string{"access_blacklisted": strconv.FormatBool(res.Blacklisted)}
		}
		e.emitAudit(ctx, auditEventLogout, true, fields)
		return nil
	case flows.LogoutFailureAccessMalformed:
		err := fmt.Errorf("%w: %v", ErrTokenInvalid, res.Err)
		fields.err = err
		e.emitAudit(ctx, auditEventLogout, false, fields)
		return err
	case flows.LogoutFailureBlacklistUnavailable:
		e.metricInc(MetricBlacklistUnavailable)
		err := fmt.Errorf("%w: %v", ErrBlacklistUnavailable, res.Err)
		fields.err = err
		fields.metadata = reason("blacklist")
		e.emitAudit(ctx, auditEventBackendFailedClosed, false, fields)
		return err
	default:
		err := e.storeError(res.Err)
		fields.err = err
		e.emitAudit(ctx, auditEventLogout, false, fields)
		return err
	}
}

// LogoutAll revokes every refresh token of principalID and returns how many were live.
// Access tokens already issued stay valid until they expire.
func (e *Engine) LogoutAll(ctx context.Context, principalID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}

	n, err := e.refresh.RevokeAll(ctx, principalID)
	if err != nil {
		err = e.storeError(err)
		e.emitAudit(ctx, auditEventLogoutAll, false, auditFields{principalID: principalID, err: err})
		return 0, err
	}

	e.metricInc(MetricLogoutAll)
	e.metrics.Add(MetricSessionRevoked, uint64(n))
	e.emitAudit(ctx, auditEventLogoutAll, true, auditFields{
		principalID: principalID,
		metadata: func() map[string]string {
			return map[string]string{"revoked": strconv.Itoa(n)}
		},
	})
	return n, nil
}

// DeleteSessions removes every refresh record of principalID, revoked ones included, and
// returns how many were removed. Use it when an account is deleted or its credentials
// change; unlike LogoutAll it leaves nothing behind for reuse detection.
func (e *Engine) DeleteSessions(ctx context.Context, principalID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	if principalID == "" {
		return 0, fmt.Errorf("%w: principal id required", ErrInvalidRequest)
	}

	n, err := e.refresh.DeleteAll(ctx, principalID)
	if err != nil {
		err = e.storeError(err)
		e.emitAudit(ctx, auditEventSessionsDeleted, false, auditFields{principalID: principalID, err: err})
		return 0, err
	}

	e.metrics.Add(MetricSessionDeleted, uint64(n))
	e.emitAudit(ctx, auditEventSessionsDeleted, true, auditFields{
		principalID: principalID,
		metadata: func() map[string]string {
			return map[string]string{"deleted": strconv.Itoa(n)}
		},
	})
	return n, nil
}

// ValidateAccess checks the signature and expiry of an access token and rejects blacklisted
// ones. It is the per-request check used by the HTTP middleware.
func (e *Engine) ValidateAccess(ctx context.Context, token string) (*jwt.Claims, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()
	}

	deps := flows.ValidateDeps{
		Parse:             e.jwt.Validate,
		BlacklistFailOpen: e.config.Blacklist.FailOpen,
		Warn:              e.failOpenWarn,
	}
	if e.blacklist != nil {
		deps.BlacklistContains = e.blacklist.Contains
	}
	res := flows.RunValidate(ctx, token, deps)

	switch res.Failure {
	case flows.ValidateFailureNone:
		e.metricInc(MetricAccessValidated)
		return res.Claims, nil
	case flows.ValidateFailureExpired:
		e.metricInc(MetricAccessRejected)
		return nil, ErrTokenExpired
	case flows.ValidateFailureRevoked:
		e.metricInc(MetricAccessRejected)
		e.metricInc(MetricAccessBlacklisted)
		e.emitAudit(ctx, auditEventAccessBlacklisted, false, auditFields{
			principalID: res.Claims.PrincipalID(),
			tokenID:     res.Claims.ID,
			err:         ErrTokenRevoked,
		})
		return nil, ErrTokenRevoked
	case flows.ValidateFailureBlacklistUnavailable:
		e.metricInc(MetricBlacklistUnavailable)
		return nil, fmt.Errorf("%w: %v", ErrBlacklistUnavailable, res.Err)
	default:
		e.metricInc(MetricAccessRejected)
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, res.Err)
	}
}

// ActiveSessions returns the number of live refresh tokens held by principalID.
func (e *Engine) ActiveSessions(ctx context.Context, principalID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	n, err := e.refresh.ActiveCount(ctx, principalID)
	if err != nil {
		return 0, e.storeError(err)
	}
	return n, nil
}

// Unlock clears the failure counter and any lock for username.
func (e *Engine) Unlock(ctx context.Context, username string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.lockout.Unlock(ctx, username); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// LockoutRemaining reports how long username stays locked.
func (e *Engine) LockoutRemaining(ctx context.Context, username string) (time.Duration, bool, error) {
	if !e.ready() {
		return 0, false, ErrEngineNotReady
	}
	d, locked, err := e.lockout.RemainingLockout(ctx, username)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return d, locked, nil
}

func (e *Engine) failOpenWarn(ctx context.Context, msg string, args ...any) {
	e.metricInc(MetricFailOpenBypass)
	e.warn(ctx, msg, args...)
	e.emitAudit(ctx, auditEventBackendFailOpen, false, auditFields{metadata: reason(msg)})
}

func (e *Engine) storeError(err error) error {
	if errors.Is(err, refresh.ErrUnavailable) {
		e.metricInc(MetricSessionStoreUnavailable)
		return fmt.Errorf("%w: %v", ErrSessionStoreUnavailable, err)
	}
	return err
}

func (e *Engine) issueAccess(_ context.Context, p flows.PrincipalRecord) (flows.AccessToken, error) {
	at, err := e.jwt.Issue(p.ID, p.Roles)
	if err != nil {
		return flows.AccessToken{}, fmt.Errorf("sign access token: %w", err)
	}
	return flows.AccessToken{Token: at.Token, JTI: at.JTI, ExpiresAt: at.ExpiresAt}, nil
}

func (e *Engine) issuePair(ctx context.Context, p flows.PrincipalRecord) (flows.IssuedTokens, error) {
	access, err := e.issueAccess(ctx, p)
	if err != nil {
		return flows.IssuedTokens{}, err
	}
	rec, err := e.refresh.Create(ctx, p.ID, ClientIPFromContext(ctx))
	if err != nil {
		return flows.IssuedTokens{}, err
	}
	return flows.IssuedTokens{
		AccessToken:      access.Token,
		AccessJTI:        access.JTI,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshToken:     rec.Token,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

func (e *Engine) sweepTasks() []sweep.Task {
	cfg := e.config.Sweep
	counted := func(id MetricID, run func(context.Context, time.Time) (int, error)) func(context.Context, time.Time) (int, error) {
		return func(ctx context.Context, now time.Time) (int, error) {
			n, err := run(ctx, now)
			if err != nil {
				e.metricInc(MetricSweepFailure)
				return n, err
			}
			e.metrics.Add(id, uint64(n))
			return n, nil
		}
	}

	tasks := []sweep.Task{
		{
			Name:     "refresh_expired",
			Interval: cfg.ExpiredInterval,
			Run:      counted(MetricSweepExpiredRefresh, e.refresh.SweepExpired),
		},
		{
			Name:     "refresh_revoked",
			Interval: cfg.RevokedInterval,
			Run: counted(MetricSweepRevokedRefresh, func(ctx context.Context, now time.Time) (int, error) {
				return e.refresh.SweepOldRevoked(ctx, now, cfg.RevokedRetention)
			}),
		},
	}
	if e.blacklist != nil {
		tasks = append(tasks, sweep.Task{
			Name:     "blacklist",
			Interval: cfg.BlacklistInterval,
			Run:      counted(MetricSweepBlacklist, e.blacklist.Sweep),
		})
	}
	return tasks
}

func toRecord(p Principal) flows.PrincipalRecord {
	return flows.PrincipalRecord{
		ID:           p.ID,
		Username:     p.Username,
		Email:        p.Email,
		Roles:        p.Roles,
		Enabled:      p.Enabled,
		PasswordHash: p.PasswordHash,
	}
}

func fromRecord(r flows.PrincipalRecord) Principal {
	return Principal{
		ID:           r.ID,
		Username:     r.Username,
		Email:        r.Email,
		Roles:        r.Roles,
		Enabled:      r.Enabled,
		PasswordHash: r.PasswordHash,
	}
}

func authResult(p flows.PrincipalRecord, t flows.IssuedTokens) *AuthResult {
	return &AuthResult{
		AccessToken:      t.AccessToken,
		RefreshToken:     t.RefreshToken,
		AccessExpiresAt:  t.AccessExpiresAt,
		RefreshExpiresAt: t.RefreshExpiresAt,
		Principal: PrincipalSummary{
			ID:       p.ID,
			Username: p.Username,
			Roles:    append([]string(nil), p.Roles...),
		},
	}
}
