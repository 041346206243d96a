// Package progress carries best-effort run telemetry. Phase workers emit item
// events into a Hub without blocking; the orchestrator marks run and phase
// boundaries, and the Hub delivers each boundary after the item events that
// preceded it to sinks such as Prometheus, the structured log, or a terminal
// progress bar. Nothing here is authoritative: the event log owns item
// outcomes and item events may be dropped under load.
package progress
