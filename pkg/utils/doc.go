// Package utils provides shared matching helpers for the trust core:
// glob matching for capabilities and domains, and path containment for
// write-path checks.
package utils
