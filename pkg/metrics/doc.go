// Package metrics defines Prometheus metrics for the trust core,
// covering audit sinks, circuit breaker health, policy decisions,
// and the HTTP read surface.
package metrics
