package stores

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/capauth"
)

// RoleDirectory resolves role names to definitions. The SQL grant store
// and a config-seeded memory store both satisfy it.
type RoleDirectory interface {
	GetRole(ctx context.Context, name string) (*capauth.Role, error)
}

// RedisGrantStore keeps role assignments and capability overrides in
// Redis and resolves role definitions through a RoleDirectory. Layout:
// assignment sets under caps:roles:{type}:{id}:{company} (and :global
// for company-less assignments), override hashes under
// caps:ovr:{type}:{id} with "1"/"0" values.
type RedisGrantStore struct {
	client *redis.Client
	roles  RoleDirectory
}

func NewRedisGrantStore(client *redis.Client, roles RoleDirectory) *RedisGrantStore {
	return &RedisGrantStore{client: client, roles: roles}
}

func (r *RedisGrantStore) assignmentKey(principalType capauth.ActorType, principalID int64, companyID *int64) string {
	company := "global"
	if companyID != nil {
		company = strconv.FormatInt(*companyID, 10)
	}
	return fmt.Sprintf("caps:roles:%s:%d:%s", principalType, principalID, company)
}

func (r *RedisGrantStore) overrideKey(principalType capauth.ActorType, principalID int64) string {
	return fmt.Sprintf("caps:ovr:%s:%d", principalType, principalID)
}

// Assign adds a role name to the principal's assignment set.
func (r *RedisGrantStore) Assign(ctx context.Context, principalType capauth.ActorType, principalID int64, companyID *int64, roleName string) error {
	return r.client.SAdd(ctx, r.assignmentKey(principalType, principalID, companyID), roleName).Err()
}

// Revoke removes a role name from the principal's assignment set.
func (r *RedisGrantStore) Revoke(ctx context.Context, principalType capauth.ActorType, principalID int64, companyID *int64, roleName string) error {
	return r.client.SRem(ctx, r.assignmentKey(principalType, principalID, companyID), roleName).Err()
}

// SetOverride records an explicit allow or deny for one capability key.
func (r *RedisGrantStore) SetOverride(ctx context.Context, principalType capauth.ActorType, principalID int64, capability string, allowed bool) error {
	v := "0"
	if allowed {
		v = "1"
	}
	return r.client.HSet(ctx, r.overrideKey(principalType, principalID), capauth.NormalizeKey(capability), v).Err()
}

// ClearOverride removes an explicit override, if present.
func (r *RedisGrantStore) ClearOverride(ctx context.Context, principalType capauth.ActorType, principalID int64, capability string) error {
	return r.client.HDel(ctx, r.overrideKey(principalType, principalID), capauth.NormalizeKey(capability)).Err()
}

// RolesFor unions the company-scoped and global assignment sets and
// resolves each role name through the directory. Unknown role names are
// skipped; a dangling assignment must not take the whole evaluation
// down.
func (r *RedisGrantStore) RolesFor(ctx context.Context, actor *capauth.Actor) ([]*capauth.Role, error) {
	names, err := r.client.SUnion(ctx,
		r.assignmentKey(actor.Type, actor.ID, actor.CompanyID),
		r.assignmentKey(actor.Type, actor.ID, nil),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("load role assignments: %w", err)
	}
	out := make([]*capauth.Role, 0, len(names))
	for _, name := range names {
		role, err := r.roles.GetRole(ctx, name)
		if err != nil {
			continue
		}
		out = append(out, role)
	}
	return out, nil
}

// OverridesFor reads the principal's override hash.
func (r *RedisGrantStore) OverridesFor(ctx context.Context, actor *capauth.Actor) ([]*capauth.CapabilityOverride, error) {
	fields, err := r.client.HGetAll(ctx, r.overrideKey(actor.Type, actor.ID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load capability overrides: %w", err)
	}
	out := make([]*capauth.CapabilityOverride, 0, len(fields))
	for capability, v := range fields {
		out = append(out, &capauth.CapabilityOverride{
			PrincipalType: actor.Type,
			PrincipalID:   actor.ID,
			Capability:    capability,
			Allowed:       v == "1",
		})
	}
	return out, nil
}
