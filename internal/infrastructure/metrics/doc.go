// Package metrics exposes gateway counters and gauges to Prometheus.
//
// Collectors live at package level and are registered once via Register;
// the recording helpers are safe to call before that and do nothing.
package metrics
