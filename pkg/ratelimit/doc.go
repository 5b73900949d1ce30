// Package ratelimit provides per-key token-bucket rate limiting for Gin HTTP
// servers and snapshot subscribers, with automatic stale-entry cleanup.
package ratelimit
