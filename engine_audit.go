package goSession

import (
	"context"
	"errors"
)

const (
	auditEventRegisterSuccess     = "register_success"
	auditEventRegisterConflict    = "register_conflict"
	auditEventRegisterFailure     = "register_failure"
	auditEventLoginSuccess        = "login_success"
	auditEventLoginFailure        = "login_failure"
	auditEventLoginLocked         = "login_locked"
	auditEventAccountLocked       = "account_locked"
	auditEventRefreshSuccess      = "refresh_success"
	auditEventRefreshInvalid      = "refresh_invalid"
	auditEventRefreshReuse        = "refresh_reuse_detected"
	auditEventLogout              = "logout"
	auditEventLogoutAll           = "logout_all"
	auditEventSessionsDeleted     = "sessions_deleted"
	auditEventAccessBlacklisted   = "access_blacklisted"
	auditEventBackendFailOpen     = "backend_fail_open"
	auditEventBackendFailedClosed = "backend_failed_closed"
)

// AuditErrorCode is the stable error label carried in AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrTokenInvalid       AuditErrorCode = "invalid_token"
	auditErrTokenExpired       AuditErrorCode = "token_expired"
	auditErrTokenRevoked       AuditErrorCode = "token_revoked"
	auditErrConflict           AuditErrorCode = "conflict"
	auditErrInvalidRequest     AuditErrorCode = "invalid_request"
	auditErrUnavailable        AuditErrorCode = "unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

type auditFields struct {
	principalID string
	username    string
	tokenID     string
	err         error
	metadata    func() map[string]string
}

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, f auditFields) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if f.metadata != nil {
		metadata = f.metadata()
	}

	event := AuditEvent{
		Time:        e.now().UTC(),
		Type:        eventType,
		PrincipalID: f.principalID,
		Username:    f.username,
		TokenID:     f.tokenID,
		IP:          ClientIPFromContext(ctx),
		Success:     success,
		Metadata:    metadata,
	}
	if code := auditErrorCode(f.err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func reason(r string) func() map[string]string {
	if r == "" {
		return nil
	}
	return func() map[string]string {
		return map[string]string{"reason": r}
	}
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrTokenInvalid):
		return auditErrTokenInvalid
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrTokenRevoked):
		return auditErrTokenRevoked
	case errors.Is(err, ErrConflict):
		return auditErrConflict
	case errors.Is(err, ErrInvalidRequest):
		return auditErrInvalidRequest
	case errors.Is(err, ErrLockoutUnavailable),
		errors.Is(err, ErrBlacklistUnavailable),
		errors.Is(err, ErrSessionStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
