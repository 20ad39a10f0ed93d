package capauth

import (
	"context"
	"sync"
)

// Role is a named bundle of capability keys, optionally scoped to one
// company (nil CompanyID means a global/system-wide role). Capabilities
// are plain key strings rather than references into the catalog, so
// role seeding never depends on capability rows existing first.
type Role struct {
	Name         string   `json:"name" yaml:"name"`
	CompanyID    *int64   `json:"company_id,omitempty" yaml:"company_id,omitempty"`
	Capabilities []string `json:"capabilities" yaml:"capabilities"`
	GrantAll     bool     `json:"grant_all" yaml:"grant_all"`
	IsSystem     bool     `json:"is_system" yaml:"is_system"`
}

// HasCapability reports membership of a normalized key in the role's
// explicit capability set. GrantAll roles bypass this entirely.
func (r *Role) HasCapability(key string) bool {
	norm := NormalizeKey(key)
	for _, c := range r.Capabilities {
		if NormalizeKey(c) == norm {
			return true
		}
	}
	return false
}

// RoleAssignment links a principal to a role within a tenant scope.
// A nil CompanyID marks a global assignment that applies in every
// company.
type RoleAssignment struct {
	PrincipalType ActorType `json:"principal_type" yaml:"principal_type"`
	PrincipalID   int64     `json:"principal_id" yaml:"principal_id"`
	CompanyID     *int64    `json:"company_id,omitempty" yaml:"company_id,omitempty"`
	RoleName      string    `json:"role_name" yaml:"role_name"`
}

// CapabilityOverride is an explicit per-principal grant or deny for one
// capability key, independent of role membership. A deny always wins
// over any role-derived grant.
type CapabilityOverride struct {
	PrincipalType ActorType `json:"principal_type" yaml:"principal_type"`
	PrincipalID   int64     `json:"principal_id" yaml:"principal_id"`
	Capability    string    `json:"capability" yaml:"capability"`
	Allowed       bool      `json:"allowed" yaml:"allowed"`
}

// GrantSource answers the two queries the engine needs from the
// role/grant store: which roles apply to an actor in its company scope
// (including globally assigned roles), and which explicit overrides
// exist for the principal. Implementations are expected to be fast
// local lookups.
type GrantSource interface {
	RolesFor(ctx context.Context, actor *Actor) ([]*Role, error)
	OverridesFor(ctx context.Context, actor *Actor) ([]*CapabilityOverride, error)
}

// effectiveSet is the resolved permission state for one actor.
type effectiveSet struct {
	grantAll bool
	granted  map[string]struct{}
	denied   map[string]struct{} // explicit deny records, by key
}

func (s *effectiveSet) evaluate(key string, appliedPolicies []string) *Decision {
	norm := NormalizeKey(key)
	if _, deny := s.denied[norm]; deny {
		return Deny(ReasonDeniedExplicitly, appliedPolicies)
	}
	if s.grantAll {
		return Allow(appliedPolicies)
	}
	if _, ok := s.granted[norm]; ok {
		return Allow(appliedPolicies)
	}
	return Deny(ReasonMissingCapability, appliedPolicies)
}

// grantResolver computes effective permissions per actor and memoizes
// the result for the lifetime of the engine instance. The cache is
// mutex-guarded so a long-lived engine shared across requests stays
// correct; at worst a concurrent miss recomputes the same actor once.
type grantResolver struct {
	source   GrantSource
	registry *Registry

	mu    sync.RWMutex
	cache map[string]*effectiveSet
}

func newGrantResolver(source GrantSource, registry *Registry) *grantResolver {
	return &grantResolver{
		source:   source,
		registry: registry,
		cache:    make(map[string]*effectiveSet),
	}
}

func (g *grantResolver) resolve(ctx context.Context, actor *Actor) (*effectiveSet, error) {
	key := actor.CacheKey()
	g.mu.RLock()
	cached, ok := g.cache[key]
	g.mu.RUnlock()
	if ok {
		return cached, nil
	}

	set, err := g.compute(ctx, actor)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	if existing, ok := g.cache[key]; ok {
		set = existing
	} else {
		g.cache[key] = set
	}
	g.mu.Unlock()
	return set, nil
}

func (g *grantResolver) compute(ctx context.Context, actor *Actor) (*effectiveSet, error) {
	roles, err := g.source.RolesFor(ctx, actor)
	if err != nil {
		return nil, err
	}
	set := &effectiveSet{
		granted: make(map[string]struct{}),
		denied:  make(map[string]struct{}),
	}
	for _, role := range roles {
		if role == nil {
			continue
		}
		if role.GrantAll {
			set.grantAll = true
			continue
		}
		for _, c := range role.Capabilities {
			set.granted[NormalizeKey(c)] = struct{}{}
		}
	}
	overrides, err := g.source.OverridesFor(ctx, actor)
	if err != nil {
		return nil, err
	}
	for _, ov := range overrides {
		if ov == nil {
			continue
		}
		norm := NormalizeKey(ov.Capability)
		if ov.Allowed {
			set.granted[norm] = struct{}{}
		} else {
			set.denied[norm] = struct{}{}
			delete(set.granted, norm)
		}
	}
	return set, nil
}

// EffectiveCapabilities resolves and returns the full set of capability
// keys the actor holds, in registry order. Useful for admin screens and
// capability-aware menus outside the hot path.
func (g *grantResolver) effectiveCapabilities(ctx context.Context, actor *Actor) ([]Key, error) {
	set, err := g.resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	out := make([]Key, 0)
	for _, k := range g.registry.All() {
		if _, deny := set.denied[k.String()]; deny {
			continue
		}
		if set.grantAll {
			out = append(out, k)
			continue
		}
		if _, ok := set.granted[k.String()]; ok {
			out = append(out, k)
		}
	}
	return out, nil
}
