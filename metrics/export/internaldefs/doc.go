// Package internaldefs holds the metric names and bucket bounds shared by the Prometheus
// and OTel exporters, so both publish identical series.
//
// It performs no I/O and must not import an exporter package.
package internaldefs
