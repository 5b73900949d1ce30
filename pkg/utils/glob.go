package utils

import (
	"path"
	"strings"
)

// GlobMatch checks if a value matches a glob pattern.
// Patterns support these wildcards (path.Match semantics):
//   - "*" matches any sequence of non-separator characters
//   - "?" matches any single non-separator character
//   - "[...]" matches character classes
//
// Special cases:
//   - Pattern "*" matches everything
//   - Pattern without wildcards uses exact string matching
//   - Invalid patterns return false and the error
//
// Examples:
//
//	GlobMatch("*", "anything")                  → true, nil
//	GlobMatch("shell.*", "shell.exec")          → true, nil
//	GlobMatch("*.example.com", "api.example.com") → true, nil
//	GlobMatch("net.fetch", "net.fetch")         → true, nil
//	GlobMatch("[invalid", "test")               → false, syntax error
func GlobMatch(pattern, value string) (bool, error) {
	if pattern == "*" {
		return true, nil
	}

	// path.Match rather than filepath.Match: capabilities and domains are
	// logical identifiers, not OS paths.
	if strings.ContainsAny(pattern, "*?[") {
		return path.Match(pattern, value)
	}

	return pattern == value, nil
}

// GlobMatchAny checks if any pattern in the list matches the value.
// Patterns that fail to parse are skipped.
func GlobMatchAny(patterns []string, value string) bool {
	for _, pattern := range patterns {
		if matched, _ := GlobMatch(pattern, value); matched {
			return true
		}
	}
	return false
}

// ValidateGlob reports a syntax error in pattern.
func ValidateGlob(pattern string) error {
	if !strings.ContainsAny(pattern, "*?[") {
		return nil
	}
	_, err := path.Match(pattern, "")
	return err
}

// PathWithin reports whether p equals root or lies below it. Both are
// cleaned first, so "a/../b" does not escape into "b" under root "a".
func PathWithin(root, p string) bool {
	root = path.Clean(root)
	p = path.Clean(p)
	if root == "/" {
		return strings.HasPrefix(p, "/")
	}
	if root == "." {
		return !strings.HasPrefix(p, "/") && p != ".." && !strings.HasPrefix(p, "../")
	}
	return p == root || strings.HasPrefix(p, root+"/")
}
