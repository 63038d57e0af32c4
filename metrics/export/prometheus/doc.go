// Package prometheus exposes authcore engine metrics as a Prometheus
// collector.
//
// [NewCollector] wraps an [authcore.Engine]. Register the collector with
// your own registry, or mount [Collector.Handler] which serves it from a
// private one. Counter names are authcore_*_total; login latency is the
// histogram authcore_login_latency_seconds.
//
// The collector never mutates engine state.
package prometheus
