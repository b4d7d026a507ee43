package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	goSession "github.com/MrEthical07/goSession"
)

type fakeSource struct {
	snapshot goSession.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() goSession.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                    { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goSession.MetricsSnapshot{
			Counters:   map[goSession.MetricID]uint64{},
			Histograms: map[goSession.MetricID][]uint64{},
		},
		dropped: 0,
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderDeterministicIncludesCounterAndHistogram(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goSession.MetricsSnapshot{
			Counters: map[goSession.MetricID]uint64{
				goSession.MetricLoginSuccess: 7,
			},
			Histograms: map[goSession.MetricID][]uint64{
				goSession.MetricValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	for _, want := range []string{
		"gosession_login_success_total 7",
		`gosession_operation_latency_seconds_bucket{op="validate",le="0.005"} 1`,
		`gosession_operation_latency_seconds_bucket{op="validate",le="+Inf"} 36`,
		`gosession_operation_latency_seconds_count{op="validate"} 36`,
		`gosession_operation_latency_seconds_count{op="login"} 0`,
		"gosession_audit_dropped_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
	if n := strings.Count(out, "# TYPE gosession_operation_latency_seconds histogram"); n != 1 {
		t.Fatalf("expected one latency TYPE line, got %d", n)
	}
}

func TestRenderLabelsBackendsAndSweepTasks(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goSession.MetricsSnapshot{
			Counters: map[goSession.MetricID]uint64{
				goSession.MetricLockoutUnavailable:      2,
				goSession.MetricSessionStoreUnavailable: 5,
				goSession.MetricSweepBlacklist:          9,
			},
			Histograms: map[goSession.MetricID][]uint64{},
		},
	})

	out := exp.Render()
	for _, want := range []string{
		`gosession_backend_unavailable_total{backend="lockout"} 2`,
		`gosession_backend_unavailable_total{backend="blacklist"} 0`,
		`gosession_backend_unavailable_total{backend="session_store"} 5`,
		`gosession_sweep_removed_total{task="refresh_expired"} 0`,
		`gosession_sweep_removed_total{task="blacklist"} 9`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
	if n := strings.Count(out, "# HELP gosession_backend_unavailable_total "); n != 1 {
		t.Fatalf("expected one HELP line per family, got %d", n)
	}
}

func TestRenderEveryCounterDefined(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goSession.MetricsSnapshot{
			Counters:   map[goSession.MetricID]uint64{goSession.MetricAccessBlacklisted: 4},
			Histograms: map[goSession.MetricID][]uint64{},
		},
	})

	out := exp.Render()
	for _, name := range []string{
		"gosession_register_success_total 0",
		"gosession_access_blacklisted_total 4",
		"gosession_session_deleted_total 0",
		"# TYPE gosession_backend_unavailable_total counter",
		"# TYPE gosession_operation_latency_seconds histogram",
	} {
		if !strings.Contains(out, name) {
			t.Fatalf("expected %q in output, got:\n%s", name, out)
		}
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goSession.MetricsSnapshot{
			Counters:   map[goSession.MetricID]uint64{goSession.MetricLoginSuccess: 1},
			Histograms: map[goSession.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goSession.MetricsSnapshot{
			Counters: map[goSession.MetricID]uint64{
				goSession.MetricLoginSuccess:         1000,
				goSession.MetricLoginFailure:         40,
				goSession.MetricRefreshSuccess:       800,
				goSession.MetricRefreshFailure:       10,
				goSession.MetricSessionCreated:       800,
				goSession.MetricSessionRevoked:       20,
				goSession.MetricAccessBlacklisted:    3,
				goSession.MetricBlacklistUnavailable: 1,
			},
			Histograms: map[goSession.MetricID][]uint64{
				goSession.MetricValidateLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
		dropped: 0,
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
