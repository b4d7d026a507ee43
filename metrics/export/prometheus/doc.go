// Package prometheus renders goSession engine metrics in the Prometheus text exposition
// format.
//
// [NewPrometheusExporter] wraps a [goSession.Engine] and exposes an [http.Handler] for a
// /metrics route. Counter names are prefixed gosession_ and end in _total. Backend
// failures carry a backend label and sweep removals a task label. Latency is one
// histogram, gosession_operation_latency_seconds, labeled by op. Nothing is registered
// globally.
package prometheus
