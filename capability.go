package capauth

import (
	"fmt"
	"regexp"
	"strings"
)

// keyPattern is the one bit-exact contract for capability keys:
// three dot-separated segments, each starting with a letter.
var keyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*\.[a-z][a-z0-9_]*\.[a-z][a-z0-9_]*$`)

// Key is a validated capability key of the form domain.resource.action.
// Keys are always stored lower-cased; construct them through ParseKey or
// KeyFromParts so the grammar is enforced at every entry point.
type Key struct {
	Domain   string
	Resource string
	Action   string
}

// ParseKey normalizes s to lowercase and validates it against the
// capability-key grammar.
func ParseKey(s string) (Key, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	if !keyPattern.MatchString(norm) {
		return Key{}, fmt.Errorf("invalid capability key: %q", s)
	}
	parts := strings.SplitN(norm, ".", 3)
	return Key{Domain: parts[0], Resource: parts[1], Action: parts[2]}, nil
}

// KeyFromParts builds a key from individual segments. Segments are
// lower-cased first, so KeyFromParts("Core","User","View") equals the
// parsed literal "core.user.view".
func KeyFromParts(domain, resource, action string) (Key, error) {
	return ParseKey(strings.ToLower(domain) + "." + strings.ToLower(resource) + "." + strings.ToLower(action))
}

// MustKey is ParseKey that panics on invalid input; for literals in
// wiring code and tests.
func MustKey(s string) Key {
	k, err := ParseKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

func (k Key) String() string {
	return k.Domain + "." + k.Resource + "." + k.Action
}

// IsZero reports whether the key is the empty value.
func (k Key) IsZero() bool {
	return k.Domain == "" && k.Resource == "" && k.Action == ""
}

// NormalizeKey lower-cases a raw key string without validating it.
// Lookup paths use it so that unknown-but-well-formed and garbage input
// take the same code path.
func NormalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
