package capauth

import "fmt"

// Registry answers membership and domain-prefix queries over a validated
// catalog. Immutable after construction and safe for unsynchronized
// concurrent reads.
type Registry struct {
	keys    map[string]Key
	ordered []Key
}

// NewRegistry builds a registry from a catalog, failing fast when the
// catalog does not validate.
func NewRegistry(catalog *Catalog) (*Registry, error) {
	if err := catalog.Validate(); err != nil {
		return nil, fmt.Errorf("build capability registry: %w", err)
	}
	r := &Registry{keys: make(map[string]Key, len(catalog.capabilities))}
	for _, raw := range catalog.capabilities {
		key, err := ParseKey(raw)
		if err != nil {
			return nil, err
		}
		r.keys[raw] = key
		r.ordered = append(r.ordered, key)
	}
	return r, nil
}

// Has reports whether the key is known, case-insensitively.
func (r *Registry) Has(key string) bool {
	_, ok := r.keys[NormalizeKey(key)]
	return ok
}

// AssertKnown returns an error when the key is not in the registry.
func (r *Registry) AssertKnown(key string) error {
	if !r.Has(key) {
		return fmt.Errorf("unknown capability: %q", key)
	}
	return nil
}

// Lookup returns the parsed key for a raw string when known.
func (r *Registry) Lookup(key string) (Key, bool) {
	k, ok := r.keys[NormalizeKey(key)]
	return k, ok
}

// ForDomain returns all known keys under the given domain, preserving
// the registry's internal order.
func (r *Registry) ForDomain(domain string) []Key {
	domain = NormalizeKey(domain)
	out := make([]Key, 0)
	for _, k := range r.ordered {
		if k.Domain == domain {
			out = append(out, k)
		}
	}
	return out
}

// All returns every known key in registry order.
func (r *Registry) All() []Key {
	return append([]Key(nil), r.ordered...)
}

// Len returns the number of known capabilities.
func (r *Registry) Len() int {
	return len(r.ordered)
}
