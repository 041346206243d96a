// Package sinks implements progress consumers: Prometheus collectors, the
// structured log, and a terminal progress bar.
package sinks
