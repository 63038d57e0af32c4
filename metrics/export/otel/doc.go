// Package otel binds authcore engine metrics to OpenTelemetry instruments.
//
// [NewExporter] registers an Int64ObservableCounter per engine counter and
// an Int64ObservableGauge per latency bucket. The caller owns the
// MeterProvider and supplies the Meter.
package otel
