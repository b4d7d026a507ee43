package internaldefs

import (
	goSession "github.com/MrEthical07/goSession"
)

// Series is one engine counter or histogram inside a family. LabelValue is empty for
// families without a label.
type Series struct {
	ID         goSession.MetricID
	LabelValue string
}

// Family is one exported metric name. Families with a Label publish one sample per
// series, distinguished by that label.
type Family struct {
	Name   string
	Help   string
	Label  string
	Series []Series
}

func single(id goSession.MetricID, name, help string) Family {
	return Family{Name: name, Help: help, Series: []Series{{ID: id}}}
}

// Counters lists every exported counter family in exposition order.
var Counters = []Family{
	single(goSession.MetricRegisterSuccess, "gosession_register_success_total", "Successful registrations."),
	single(goSession.MetricRegisterConflict, "gosession_register_conflict_total", "Registrations rejected as duplicate."),
	single(goSession.MetricLoginSuccess, "gosession_login_success_total", "Successful login attempts."),
	single(goSession.MetricLoginFailure, "gosession_login_failure_total", "Failed login attempts."),
	single(goSession.MetricLoginLocked, "gosession_login_locked_total", "Login attempts rejected by an existing lock."),
	single(goSession.MetricAccountLocked, "gosession_account_locked_total", "Transitions into the locked state."),
	single(goSession.MetricRefreshSuccess, "gosession_refresh_success_total", "Successful refresh rotations."),
	single(goSession.MetricRefreshFailure, "gosession_refresh_failure_total", "Failed refresh rotations."),
	single(goSession.MetricRefreshReuseDetected, "gosession_refresh_reuse_detected_total", "Revoked refresh tokens presented again."),
	single(goSession.MetricSessionCreated, "gosession_session_created_total", "Sessions created by register or login."),
	single(goSession.MetricSessionRevoked, "gosession_session_revoked_total", "Sessions revoked in bulk."),
	single(goSession.MetricSessionDeleted, "gosession_session_deleted_total", "Session records purged for a principal."),
	single(goSession.MetricLogout, "gosession_logout_total", "Single-session logout operations."),
	single(goSession.MetricLogoutAll, "gosession_logout_all_total", "Logout-all operations."),
	single(goSession.MetricAccessValidated, "gosession_access_validated_total", "Access tokens accepted."),
	single(goSession.MetricAccessRejected, "gosession_access_rejected_total", "Access tokens rejected."),
	single(goSession.MetricAccessBlacklisted, "gosession_access_blacklisted_total", "Access tokens rejected by the blacklist."),
	{
		Name:  "gosession_backend_unavailable_total",
		Help:  "Calls failed closed on a backend error.",
		Label: "backend",
		Series: []Series{
			{ID: goSession.MetricLockoutUnavailable, LabelValue: "lockout"},
			{ID: goSession.MetricBlacklistUnavailable, LabelValue: "blacklist"},
			{ID: goSession.MetricSessionStoreUnavailable, LabelValue: "session_store"},
		},
	},
	single(goSession.MetricFailOpenBypass, "gosession_fail_open_bypass_total", "Backend errors bypassed by a fail-open setting."),
	{
		Name:  "gosession_sweep_removed_total",
		Help:  "Records removed by the background sweeper.",
		Label: "task",
		Series: []Series{
			{ID: goSession.MetricSweepExpiredRefresh, LabelValue: "refresh_expired"},
			{ID: goSession.MetricSweepRevokedRefresh, LabelValue: "refresh_revoked"},
			{ID: goSession.MetricSweepBlacklist, LabelValue: "blacklist"},
		},
	},
	single(goSession.MetricSweepFailure, "gosession_sweep_failure_total", "Failed sweep runs."),
}

// Latency is the single histogram family, labeled by engine operation.
var Latency = Family{
	Name:  "gosession_operation_latency_seconds",
	Help:  "Engine operation latency. Login includes password verification.",
	Label: "op",
	Series: []Series{
		{ID: goSession.MetricValidateLatency, LabelValue: "validate"},
		{ID: goSession.MetricLoginLatency, LabelValue: "login"},
	},
}

// AuditDroppedName is published from Engine.AuditDropped rather than the snapshot.
const (
	AuditDroppedName = "gosession_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped because the dispatcher queue was full."
)

// BucketBounds are the upper bounds, in seconds, of the engine's eight latency buckets.
var BucketBounds = [8]string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf"}

// Cumulative turns the engine's per-bucket counts into running totals. Missing buckets
// count as zero.
func Cumulative(raw []uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := range out {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}
