package capauth

import (
	"context"
	"fmt"
	"sync"
)

// ============================================================================
// IN-MEMORY STORES
// ============================================================================

// MemoryGrantStore is a mutex-guarded in-memory GrantSource. It doubles
// as the administrative surface for tests and small deployments: role
// definitions, assignments and overrides are mutated through it, never
// through the engine.
type MemoryGrantStore struct {
	mu          sync.RWMutex
	roles       map[string]*Role
	assignments []RoleAssignment
	overrides   []CapabilityOverride
}

func NewMemoryGrantStore() *MemoryGrantStore {
	return &MemoryGrantStore{roles: make(map[string]*Role)}
}

// PutRole creates or replaces a role definition.
func (s *MemoryGrantStore) PutRole(role *Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[role.Name] = role
}

// DeleteRole removes a role unless it is a system role.
func (s *MemoryGrantStore) DeleteRole(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[name]
	if !ok {
		return fmt.Errorf("role not found: %s", name)
	}
	if role.IsSystem {
		return fmt.Errorf("role %s is a system role and cannot be deleted", name)
	}
	delete(s.roles, name)
	return nil
}

// GetRole returns a role definition by name.
func (s *MemoryGrantStore) GetRole(_ context.Context, name string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.roles[name]
	if !ok {
		return nil, fmt.Errorf("role not found: %s", name)
	}
	return role, nil
}

// Assign links a principal to a role within a company scope; a nil
// company makes the assignment global.
func (s *MemoryGrantStore) Assign(principalType ActorType, principalID int64, companyID *int64, roleName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments = append(s.assignments, RoleAssignment{
		PrincipalType: principalType,
		PrincipalID:   principalID,
		CompanyID:     companyID,
		RoleName:      roleName,
	})
}

// Revoke removes all assignments of the role for the principal.
func (s *MemoryGrantStore) Revoke(principalType ActorType, principalID int64, roleName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.assignments[:0]
	for _, a := range s.assignments {
		if a.PrincipalType == principalType && a.PrincipalID == principalID && a.RoleName == roleName {
			continue
		}
		kept = append(kept, a)
	}
	s.assignments = kept
}

// SetOverride records an explicit per-principal allow or deny for one
// capability key, replacing any previous override for the same key.
func (s *MemoryGrantStore) SetOverride(principalType ActorType, principalID int64, capability string, allowed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	norm := NormalizeKey(capability)
	for i, ov := range s.overrides {
		if ov.PrincipalType == principalType && ov.PrincipalID == principalID && NormalizeKey(ov.Capability) == norm {
			s.overrides[i].Allowed = allowed
			return
		}
	}
	s.overrides = append(s.overrides, CapabilityOverride{
		PrincipalType: principalType,
		PrincipalID:   principalID,
		Capability:    norm,
		Allowed:       allowed,
	})
}

// ClearOverride removes an explicit override, if present.
func (s *MemoryGrantStore) ClearOverride(principalType ActorType, principalID int64, capability string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	norm := NormalizeKey(capability)
	kept := s.overrides[:0]
	for _, ov := range s.overrides {
		if ov.PrincipalType == principalType && ov.PrincipalID == principalID && NormalizeKey(ov.Capability) == norm {
			continue
		}
		kept = append(kept, ov)
	}
	s.overrides = kept
}

// RolesFor returns the roles assigned to the actor's principal in its
// company scope, including globally assigned roles.
func (s *MemoryGrantStore) RolesFor(_ context.Context, actor *Actor) ([]*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Role, 0)
	for _, a := range s.assignments {
		if a.PrincipalType != actor.Type || a.PrincipalID != actor.ID {
			continue
		}
		if a.CompanyID != nil {
			if actor.CompanyID == nil || *a.CompanyID != *actor.CompanyID {
				continue
			}
		}
		if role, ok := s.roles[a.RoleName]; ok {
			out = append(out, role)
		}
	}
	return out, nil
}

// OverridesFor returns the explicit per-capability overrides for the
// actor's principal.
func (s *MemoryGrantStore) OverridesFor(_ context.Context, actor *Actor) ([]*CapabilityOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*CapabilityOverride, 0)
	for i := range s.overrides {
		ov := s.overrides[i]
		if ov.PrincipalType == actor.Type && ov.PrincipalID == actor.ID {
			out = append(out, &ov)
		}
	}
	return out, nil
}

// MemoryDecisionLog buffers audit entries in memory; useful in tests
// and as a fallback sink.
type MemoryDecisionLog struct {
	mu      sync.RWMutex
	entries []*DecisionEntry
}

func NewMemoryDecisionLog() *MemoryDecisionLog {
	return &MemoryDecisionLog{entries: make([]*DecisionEntry, 0)}
}

func (m *MemoryDecisionLog) Log(_ context.Context, entry *DecisionEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

// Entries returns a snapshot of everything logged so far.
func (m *MemoryDecisionLog) Entries() []*DecisionEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*DecisionEntry(nil), m.entries...)
}
