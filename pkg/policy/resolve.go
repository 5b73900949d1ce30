package policy

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/telekom/trustcore/pkg/utils"
)

// ErrInvalidLayer is returned for layers with empty or malformed entries.
var ErrInvalidLayer = errors.New("policy: invalid layer")

// Layer is one ordered source of capability rules, for example the global,
// organisation or agent level.
type Layer struct {
	Name            string   `yaml:"name" json:"name,omitempty"`
	Allow           []string `yaml:"allow" json:"allow,omitempty"`
	Deny            []string `yaml:"deny" json:"deny,omitempty"`
	AllowDomains    []string `yaml:"allowDomains" json:"allowDomains,omitempty"`
	WritePaths      []string `yaml:"writePaths" json:"writePaths,omitempty"`
	RequireApproval bool     `yaml:"requireApproval" json:"requireApproval,omitempty"`
}

// EffectivePolicy is the merged result of a layer sequence.
//
// AllowDomains and WritePaths are nil when no layer restricts them. A non-nil
// empty list means the layers narrowed to nothing.
type EffectivePolicy struct {
	Allow           []string `json:"allow"`
	Deny            []string `json:"deny"`
	AllowDomains    []string `json:"allowDomains"`
	WritePaths      []string `json:"writePaths"`
	RequireApproval bool     `json:"requireApproval"`
}

// Validate checks a layer for empty tokens and malformed glob patterns.
func Validate(l Layer) error {
	lists := []struct {
		field string
		items []string
	}{
		{"allow", l.Allow},
		{"deny", l.Deny},
		{"allowDomains", l.AllowDomains},
		{"writePaths", l.WritePaths},
	}
	for _, list := range lists {
		for i, item := range list.items {
			item = strings.TrimSpace(item)
			if item == "" {
				return fmt.Errorf("%w: layer %q: %s[%d] is empty", ErrInvalidLayer, l.Name, list.field, i)
			}
			if err := utils.ValidateGlob(item); err != nil {
				return fmt.Errorf("%w: layer %q: %s[%d] %q: %v", ErrInvalidLayer, l.Name, list.field, i, item, err)
			}
		}
	}
	return nil
}

// Resolve merges layers left to right. It does not modify its input and
// returns the same result for the same layers.
//
// Allow and deny accumulate by union. AllowDomains and WritePaths narrow by
// intersection: the first layer with a non-empty list seeds the set and each
// later non-empty list intersects it. RequireApproval is sticky. Finally every
// denied capability is removed from allow.
func Resolve(layers ...Layer) (EffectivePolicy, error) {
	allow := map[string]struct{}{}
	deny := map[string]struct{}{}
	var domains, paths []string
	requireApproval := false

	for _, l := range layers {
		if err := Validate(l); err != nil {
			return EffectivePolicy{}, err
		}
		for _, c := range l.Allow {
			allow[strings.TrimSpace(c)] = struct{}{}
		}
		for _, c := range l.Deny {
			deny[strings.TrimSpace(c)] = struct{}{}
		}
		domains = narrow(domains, l.AllowDomains)
		paths = narrow(paths, l.WritePaths)
		requireApproval = requireApproval || l.RequireApproval
	}

	for c := range deny {
		delete(allow, c)
	}

	return EffectivePolicy{
		Allow:           sortedKeys(allow),
		Deny:            sortedKeys(deny),
		AllowDomains:    domains,
		WritePaths:      paths,
		RequireApproval: requireApproval,
	}, nil
}

// narrow applies one layer's list to the running set. A nil running set
// means no layer has restricted the field yet.
func narrow(running, layer []string) []string {
	next := normalize(layer)
	if len(next) == 0 {
		return running
	}
	if running == nil {
		return next
	}
	keep := make(map[string]struct{}, len(next))
	for _, v := range next {
		keep[v] = struct{}{}
	}
	out := make([]string, 0, len(running))
	for _, v := range running {
		if _, ok := keep[v]; ok {
			out = append(out, v)
		}
	}
	return out
}

// normalize trims, case-folds and de-duplicates, preserving first occurrence order.
func normalize(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
