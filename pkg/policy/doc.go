// Package policy merges ordered capability layers (global, organisation,
// agent) into one effective policy and evaluates capabilities, domains and
// write paths against it. Deny entries always win over allow entries.
package policy
