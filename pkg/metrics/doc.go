// Package metrics defines and registers the Prometheus metrics exposed by
// netmon: batch sizing, queue depth and latency, probe outcomes, state
// transitions, alert lifecycle counts, and Gateway/cache read-write latency.
//
// Metrics are package-level prometheus.Collector values registered in init()
// so every package that imports metrics shares one registry. Handler()
// exposes them on /metrics; Timer mirrors the teacher's helper for recording
// a histogram observation without repeating time.Since at every call site.
package metrics
