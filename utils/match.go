package utils

import "strings"

// MatchCapability checks a capability key against a pattern. Patterns
// are dot-separated like keys and may use '*' as a segment wildcard or
// as a trailing suffix: "core.user.*" matches every action on
// core.user, "core.*" matches the whole core domain, "*" matches
// everything.
func MatchCapability(key, pattern string) bool {
	key = strings.ToLower(key)
	pattern = strings.ToLower(pattern)
	if pattern == "*" || pattern == key {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, "*")
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	kParts := strings.Split(key, ".")
	pParts := strings.Split(pattern, ".")
	if len(kParts) != len(pParts) {
		return false
	}
	for i := range pParts {
		if pParts[i] != "*" && pParts[i] != kParts[i] {
			return false
		}
	}
	return true
}
