package capauth

import (
	"fmt"
	"strings"
)

// Catalog holds the authoritative sets of domains, verbs and capability
// keys merged from all feature modules. It performs no I/O; raw values
// are handed in by the embedding application's configuration layer.
type Catalog struct {
	domains      map[string]struct{}
	verbs        map[string]struct{}
	capabilities []string // normalized, de-duplicated, insertion order
	capSet       map[string]struct{}
}

// NewCatalog lower-cases and de-duplicates the provided domains, verbs
// and capability keys. Validation is deferred to Validate so callers can
// merge several sources before checking consistency.
func NewCatalog(domains, verbs, capabilities []string) *Catalog {
	c := &Catalog{
		domains: make(map[string]struct{}, len(domains)),
		verbs:   make(map[string]struct{}, len(verbs)),
		capSet:  make(map[string]struct{}, len(capabilities)),
	}
	for _, d := range domains {
		c.domains[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}
	for _, v := range verbs {
		c.verbs[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	for _, raw := range capabilities {
		norm := NormalizeKey(raw)
		if _, seen := c.capSet[norm]; seen {
			continue
		}
		c.capSet[norm] = struct{}{}
		c.capabilities = append(c.capabilities, norm)
	}
	return c
}

// Domains returns the domain names in the catalog.
func (c *Catalog) Domains() []string {
	out := make([]string, 0, len(c.domains))
	for d := range c.domains {
		out = append(out, d)
	}
	return out
}

// Verbs returns the verb names in the catalog.
func (c *Catalog) Verbs() []string {
	out := make([]string, 0, len(c.verbs))
	for v := range c.verbs {
		out = append(out, v)
	}
	return out
}

// Capabilities returns the normalized capability keys in the catalog.
func (c *Catalog) Capabilities() []string {
	return append([]string(nil), c.capabilities...)
}

// Validate checks every capability key against the key grammar and
// against the domain and verb sets. All-or-nothing: the first violation
// aborts with an error identifying the offending key. A catalog that
// fails Validate indicates a broken deployment and must not be served.
func (c *Catalog) Validate() error {
	for _, raw := range c.capabilities {
		key, err := ParseKey(raw)
		if err != nil {
			return err
		}
		if _, ok := c.domains[key.Domain]; !ok {
			return fmt.Errorf("capability %q references unknown domain %q", raw, key.Domain)
		}
		if _, ok := c.verbs[key.Action]; !ok {
			return fmt.Errorf("capability %q references unknown verb %q", raw, key.Action)
		}
	}
	return nil
}
