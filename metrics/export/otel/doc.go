// Package otel publishes goSession engine metrics through an OpenTelemetry Meter.
//
// [NewOTelExporter] registers one Int64ObservableCounter per counter family. Per-backend
// failures and per-task sweep counts are one instrument each, split by the "backend" and
// "task" attributes. Operation latency is exported as bucket and count gauges carrying
// "op" and "le" attributes. A single callback reads [goSession.Engine.MetricsSnapshot] on
// each collection. The caller owns the MeterProvider.
package otel
