package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/metrics/export/internaldefs"
)

// MetricsSource is satisfied by *goSession.Engine.
type MetricsSource interface {
	MetricsSnapshot() goSession.MetricsSnapshot
	AuditDropped() uint64
}

// PrometheusExporter renders engine metrics on demand. It keeps no state between scrapes.
type PrometheusExporter struct {
	source MetricsSource
}

func NewPrometheusExporter(engine *goSession.Engine) *PrometheusExporter {
	return &PrometheusExporter{source: engine}
}

// NewPrometheusExporterFromSource is used by tests and by callers wrapping several engines.
func NewPrometheusExporterFromSource(source MetricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler serves the exposition on every GET.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render returns the exposition text. It is empty when the engine has metrics disabled and no
// audit drops to report.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return ""
	}

	w := &textWriter{}
	for _, fam := range internaldefs.Counters {
		w.header(fam.Name, fam.Help, "counter")
		for _, s := range fam.Series {
			w.sample(fam.Name, labelPair(fam.Label, s.LabelValue), snapshot.Counters[s.ID])
		}
	}

	lat := internaldefs.Latency
	w.header(lat.Name, lat.Help, "histogram")
	for _, s := range lat.Series {
		op := labelPair(lat.Label, s.LabelValue)
		cumulative := internaldefs.Cumulative(snapshot.Histograms[s.ID])
		for i, le := range internaldefs.BucketBounds {
			w.sample(lat.Name+"_bucket", op+`,le="`+le+`"`, cumulative[i])
		}
		w.sample(lat.Name+"_count", op, cumulative[len(cumulative)-1])
		// Snapshots carry bucket counts only.
		w.sample(lat.Name+"_sum", op, 0)
	}

	w.header(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, "counter")
	w.sample(internaldefs.AuditDroppedName, "", dropped)

	return w.b.String()
}

type textWriter struct {
	b strings.Builder
}

func (w *textWriter) header(name, help, kind string) {
	w.b.WriteString("# HELP " + name + " " + escapeHelp(help) + "\n")
	w.b.WriteString("# TYPE " + name + " " + kind + "\n")
}

// sample writes one line. labels is the already-formatted inside of the braces.
func (w *textWriter) sample(name, labels string, value uint64) {
	w.b.WriteString(name)
	if labels != "" {
		w.b.WriteString("{" + labels + "}")
	}
	w.b.WriteByte(' ')
	w.b.WriteString(strconv.FormatUint(value, 10))
	w.b.WriteByte('\n')
}

func labelPair(key, value string) string {
	if key == "" {
		return ""
	}
	return key + `="` + value + `"`
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	help = strings.ReplaceAll(help, "\n", "\\n")
	return help
}
