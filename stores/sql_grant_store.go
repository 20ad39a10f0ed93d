package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/capauth"
)

// SQLGrantStore persists roles, role assignments and per-principal
// capability overrides in SQL (squealx) and implements
// capauth.GrantSource.
type SQLGrantStore struct {
	db *squealx.DB
}

func NewSQLGrantStore(db *squealx.DB) *SQLGrantStore {
	return &SQLGrantStore{db: db}
}

// PutRole creates or replaces a role definition.
func (s *SQLGrantStore) PutRole(ctx context.Context, r *capauth.Role) error {
	caps, _ := json.Marshal(r.Capabilities)
	q := `INSERT INTO roles(name, company_id, capabilities_json, grant_all, is_system, created_at)
	      VALUES(:name, :company_id, :capabilities_json, :grant_all, :is_system, :created_at)
	      ON CONFLICT(name) DO UPDATE SET company_id=excluded.company_id,
	        capabilities_json=excluded.capabilities_json,
	        grant_all=excluded.grant_all, is_system=excluded.is_system`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"name":              r.Name,
		"company_id":        nullableCompany(r.CompanyID),
		"capabilities_json": string(caps),
		"grant_all":         boolToInt(r.GrantAll),
		"is_system":         boolToInt(r.IsSystem),
		"created_at":        time.Now(),
	})
	return err
}

// DeleteRole removes a role unless it is flagged as a system role.
func (s *SQLGrantStore) DeleteRole(ctx context.Context, name string) error {
	role, err := s.GetRole(ctx, name)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return fmt.Errorf("role %s is a system role and cannot be deleted", name)
	}
	q := `DELETE FROM roles WHERE name = :name`
	_, err = s.db.NamedExecContext(ctx, q, map[string]any{"name": name})
	return err
}

// GetRole loads one role definition by name.
func (s *SQLGrantStore) GetRole(ctx context.Context, name string) (*capauth.Role, error) {
	q := `SELECT name, company_id, capabilities_json, grant_all, is_system FROM roles WHERE name = :name`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("role not found: %s", name)
	}
	return scanRole(r)
}

// Assign links a principal to a role; a nil company makes the
// assignment global.
func (s *SQLGrantStore) Assign(ctx context.Context, principalType capauth.ActorType, principalID int64, companyID *int64, roleName string) error {
	q := `INSERT INTO role_assignments(principal_type, principal_id, company_id, role_name, created_at)
	      VALUES(:principal_type, :principal_id, :company_id, :role_name, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"principal_type": string(principalType),
		"principal_id":   principalID,
		"company_id":     nullableCompany(companyID),
		"role_name":      roleName,
		"created_at":     time.Now(),
	})
	return err
}

// Revoke removes every assignment of the role for the principal.
func (s *SQLGrantStore) Revoke(ctx context.Context, principalType capauth.ActorType, principalID int64, roleName string) error {
	q := `DELETE FROM role_assignments WHERE principal_type = :principal_type AND principal_id = :principal_id AND role_name = :role_name`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"principal_type": string(principalType),
		"principal_id":   principalID,
		"role_name":      roleName,
	})
	return err
}

// SetOverride records an explicit per-principal allow or deny for one
// capability key.
func (s *SQLGrantStore) SetOverride(ctx context.Context, principalType capauth.ActorType, principalID int64, capability string, allowed bool) error {
	q := `INSERT INTO capability_overrides(principal_type, principal_id, capability, is_allowed, created_at)
	      VALUES(:principal_type, :principal_id, :capability, :is_allowed, :created_at)
	      ON CONFLICT(principal_type, principal_id, capability) DO UPDATE SET is_allowed=excluded.is_allowed`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"principal_type": string(principalType),
		"principal_id":   principalID,
		"capability":     capauth.NormalizeKey(capability),
		"is_allowed":     boolToInt(allowed),
		"created_at":     time.Now(),
	})
	return err
}

// ClearOverride removes an explicit override, if present.
func (s *SQLGrantStore) ClearOverride(ctx context.Context, principalType capauth.ActorType, principalID int64, capability string) error {
	q := `DELETE FROM capability_overrides WHERE principal_type = :principal_type AND principal_id = :principal_id AND capability = :capability`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"principal_type": string(principalType),
		"principal_id":   principalID,
		"capability":     capauth.NormalizeKey(capability),
	})
	return err
}

// RolesFor returns the roles assigned to the actor's principal in its
// company scope plus globally assigned roles.
func (s *SQLGrantStore) RolesFor(ctx context.Context, actor *capauth.Actor) ([]*capauth.Role, error) {
	q := `SELECT r.name, r.company_id, r.capabilities_json, r.grant_all, r.is_system
	      FROM role_assignments a JOIN roles r ON r.name = a.role_name
	      WHERE a.principal_type = :principal_type AND a.principal_id = :principal_id
	        AND (a.company_id IS NULL OR a.company_id = :company_id)`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{
		"principal_type": string(actor.Type),
		"principal_id":   actor.ID,
		"company_id":     nullableCompany(actor.CompanyID),
	})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*capauth.Role, 0)
	for r.Next() {
		role, err := scanRole(r)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, nil
}

// OverridesFor returns the explicit per-capability overrides for the
// actor's principal.
func (s *SQLGrantStore) OverridesFor(ctx context.Context, actor *capauth.Actor) ([]*capauth.CapabilityOverride, error) {
	q := `SELECT capability, is_allowed FROM capability_overrides
	      WHERE principal_type = :principal_type AND principal_id = :principal_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{
		"principal_type": string(actor.Type),
		"principal_id":   actor.ID,
	})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*capauth.CapabilityOverride, 0)
	for r.Next() {
		var capability string
		var allowedInt int
		if err := r.Scan(&capability, &allowedInt); err != nil {
			return nil, err
		}
		out = append(out, &capauth.CapabilityOverride{
			PrincipalType: actor.Type,
			PrincipalID:   actor.ID,
			Capability:    capability,
			Allowed:       allowedInt != 0,
		})
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRole(r rowScanner) (*capauth.Role, error) {
	var name, capsJSON string
	var companyRaw any
	var grantAllInt, isSystemInt int
	if err := r.Scan(&name, &companyRaw, &capsJSON, &grantAllInt, &isSystemInt); err != nil {
		return nil, err
	}
	role := &capauth.Role{
		Name:      name,
		CompanyID: scanCompany(companyRaw),
		GrantAll:  grantAllInt != 0,
		IsSystem:  isSystemInt != 0,
	}
	var caps []string
	if err := json.Unmarshal([]byte(capsJSON), &caps); err != nil {
		return nil, fmt.Errorf("decode capabilities for role %s: %w", name, err)
	}
	role.Capabilities = caps
	return role, nil
}
