package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// MetricsSource is satisfied by *goSession.Engine.
type MetricsSource interface {
	MetricsSnapshot() goSession.MetricsSnapshot
	AuditDropped() uint64
}

// observation binds one engine metric to an instrument and its attribute set.
type observation struct {
	id         goSession.MetricID
	instrument metric.Int64Observable
	attrs      metric.ObserveOption
}

type latencySeries struct {
	id      goSession.MetricID
	buckets [8]metric.ObserveOption
	count   metric.ObserveOption
}

// OTelExporter holds the instrument registration. Close unregisters the callback.
type OTelExporter struct {
	source       MetricsSource
	registration metric.Registration
	counters     []observation
	bucketGauge  metric.Int64ObservableGauge
	countGauge   metric.Int64ObservableGauge
	latency      []latencySeries
	auditDropped metric.Int64ObservableCounter
}

func NewOTelExporter(meter metric.Meter, engine *goSession.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

// NewOTelExporterFromSource registers one instrument per metric family. Labeled families
// such as gosession_backend_unavailable_total become one instrument observed once per
// attribute value.
func NewOTelExporterFromSource(meter metric.Meter, source MetricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{source: source}
	observables := make([]metric.Observable, 0, len(internaldefs.Counters)+3)

	for _, fam := range internaldefs.Counters {
		ins, err := meter.Int64ObservableCounter(fam.Name, metric.WithDescription(fam.Help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", fam.Name, err)
		}
		observables = append(observables, ins)
		for _, s := range fam.Series {
			e.counters = append(e.counters, observation{
				id:         s.ID,
				instrument: ins,
				attrs:      attrs(fam.Label, s.LabelValue),
			})
		}
	}

	lat := internaldefs.Latency
	var err error
	e.bucketGauge, err = meter.Int64ObservableGauge(lat.Name+"_bucket",
		metric.WithDescription("Cumulative latency bucket count by operation and upper bound."))
	if err != nil {
		return nil, fmt.Errorf("create latency bucket gauge: %w", err)
	}
	e.countGauge, err = meter.Int64ObservableGauge(lat.Name+"_count",
		metric.WithDescription("Latency sample count by operation."))
	if err != nil {
		return nil, fmt.Errorf("create latency count gauge: %w", err)
	}
	observables = append(observables, e.bucketGauge, e.countGauge)
	for _, s := range lat.Series {
		op := attribute.String(lat.Label, s.LabelValue)
		ls := latencySeries{id: s.ID, count: metric.WithAttributes(op)}
		for i, le := range internaldefs.BucketBounds {
			ls.buckets[i] = metric.WithAttributes(op, attribute.String("le", le))
		}
		e.latency = append(e.latency, ls)
	}

	e.auditDropped, err = meter.Int64ObservableCounter(internaldefs.AuditDroppedName,
		metric.WithDescription(internaldefs.AuditDroppedHelp))
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	observables = append(observables, e.auditDropped)

	e.registration, err = meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, c := range e.counters {
		o.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]), c.attrs)
	}
	for _, ls := range e.latency {
		cumulative := internaldefs.Cumulative(snapshot.Histograms[ls.id])
		for i, opt := range ls.buckets {
			o.ObserveInt64(e.bucketGauge, int64(cumulative[i]), opt)
		}
		o.ObserveInt64(e.countGauge, int64(cumulative[len(cumulative)-1]), ls.count)
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

func attrs(key, value string) metric.ObserveOption {
	if key == "" {
		return metric.WithAttributeSet(*attribute.EmptySet())
	}
	return metric.WithAttributes(attribute.String(key, value))
}

func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
