// Package cli implements the trustcore command line: "serve" runs the audit
// pipeline behind the HTTP API, while "policy" and "audit" inspect layered
// policy and JSONL audit logs offline.
package cli
