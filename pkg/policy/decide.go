package policy

import (
	"fmt"
	"strings"

	"github.com/telekom/trustcore/pkg/utils"
)

// Outcome is the result of evaluating a capability.
type Outcome string

const (
	OutcomeAllow           Outcome = "allow"
	OutcomeDeny            Outcome = "deny"
	OutcomeRequireApproval Outcome = "require_approval"
)

// Decision carries an outcome and a human readable reason.
type Decision struct {
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason"`
}

// Decide evaluates capability against p. Allow and deny entries may be glob
// patterns such as "fs.*"; a matching deny entry always wins.
func (p EffectivePolicy) Decide(capability string) Decision {
	capability = strings.TrimSpace(capability)
	if pattern, ok := matchFirst(p.Deny, capability); ok {
		return Decision{Outcome: OutcomeDeny, Reason: fmt.Sprintf("capability %q denied by %q", capability, pattern)}
	}
	pattern, ok := matchFirst(p.Allow, capability)
	if !ok {
		return Decision{Outcome: OutcomeDeny, Reason: fmt.Sprintf("capability %q not allowed by any layer", capability)}
	}
	if p.RequireApproval {
		return Decision{Outcome: OutcomeRequireApproval, Reason: fmt.Sprintf("capability %q allowed by %q, approval required", capability, pattern)}
	}
	return Decision{Outcome: OutcomeAllow, Reason: fmt.Sprintf("capability %q allowed by %q", capability, pattern)}
}

// AllowsDomain reports whether host is permitted. Entries may use globs
// such as "*.example.com".
func (p EffectivePolicy) AllowsDomain(host string) bool {
	if p.AllowDomains == nil {
		return true
	}
	host = strings.ToLower(strings.TrimSpace(host))
	return utils.GlobMatchAny(p.AllowDomains, host)
}

// AllowsWritePath reports whether path lies under one of the write paths.
// Entries without glob characters are directory prefixes.
func (p EffectivePolicy) AllowsWritePath(path string) bool {
	if p.WritePaths == nil {
		return true
	}
	path = strings.ToLower(strings.TrimSpace(path))
	for _, wp := range p.WritePaths {
		if strings.ContainsAny(wp, "*?[") {
			if ok, _ := utils.GlobMatch(wp, path); ok {
				return true
			}
			continue
		}
		if utils.PathWithin(wp, path) {
			return true
		}
	}
	return false
}

func matchFirst(patterns []string, value string) (string, bool) {
	for _, p := range patterns {
		if ok, _ := utils.GlobMatch(p, value); ok {
			return p, true
		}
	}
	return "", false
}
