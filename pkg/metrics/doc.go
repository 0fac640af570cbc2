// Package metrics defines Prometheus metrics for the relay service, covering
// dispatch outcomes, pipeline transitions, the delivery log, audit sinks,
// rate limiting and the submission listener.
package metrics
