// Package api implements the read-only HTTP surface (Gin-based) of trustcore:
// filtered audit event polling, circuit health, the effective policy, health
// probes and Prometheus metrics, with per-IP rate limiting.
package api
