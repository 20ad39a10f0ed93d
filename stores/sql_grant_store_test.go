package stores

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/oarkflow/squealx"
	_ "modernc.org/sqlite"

	"github.com/oarkflow/capauth"
)

func testDB(t *testing.T) *squealx.DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	db := squealx.NewDb(sqlDB, "sqlite", "testdb")
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestSQLGrantStoreRoleRoundtrip(t *testing.T) {
	ctx := context.Background()
	store := NewSQLGrantStore(testDB(t))

	role := capauth.NewRoleBuilder("viewer").
		Company(10).
		Capabilities("core.user.view", "hr.employee.view").
		Build()
	if err := store.PutRole(ctx, role); err != nil {
		t.Fatalf("put role: %v", err)
	}

	got, err := store.GetRole(ctx, "viewer")
	if err != nil {
		t.Fatalf("get role: %v", err)
	}
	if got.Name != "viewer" || got.CompanyID == nil || *got.CompanyID != 10 {
		t.Fatalf("unexpected role %+v", got)
	}
	if len(got.Capabilities) != 2 || got.Capabilities[0] != "core.user.view" {
		t.Fatalf("unexpected capabilities %v", got.Capabilities)
	}

	// replace on conflict
	role.Capabilities = []string{"core.user.view"}
	if err := store.PutRole(ctx, role); err != nil {
		t.Fatalf("update role: %v", err)
	}
	got, _ = store.GetRole(ctx, "viewer")
	if len(got.Capabilities) != 1 {
		t.Fatalf("expected replaced capability set, got %v", got.Capabilities)
	}
}

func TestSQLGrantStoreSystemRoleProtected(t *testing.T) {
	ctx := context.Background()
	store := NewSQLGrantStore(testDB(t))

	if err := store.PutRole(ctx, capauth.NewRoleBuilder("root").GrantAll().System().Build()); err != nil {
		t.Fatalf("put role: %v", err)
	}
	if err := store.DeleteRole(ctx, "root"); err == nil {
		t.Fatalf("expected system role deletion to fail")
	}
	if err := store.PutRole(ctx, capauth.NewRoleBuilder("temp").Build()); err != nil {
		t.Fatalf("put role: %v", err)
	}
	if err := store.DeleteRole(ctx, "temp"); err != nil {
		t.Fatalf("delete role: %v", err)
	}
}

func TestSQLGrantStoreResolvesAssignmentsAndOverrides(t *testing.T) {
	ctx := context.Background()
	store := NewSQLGrantStore(testDB(t))

	if err := store.PutRole(ctx, capauth.NewRoleBuilder("viewer").Capabilities("core.user.view").Build()); err != nil {
		t.Fatalf("put role: %v", err)
	}
	if err := store.PutRole(ctx, capauth.NewRoleBuilder("global_auditor").Capabilities("core.company.view").Build()); err != nil {
		t.Fatalf("put role: %v", err)
	}
	if err := store.Assign(ctx, capauth.HumanUser, 5, capauth.CompanyOf(10), "viewer"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := store.Assign(ctx, capauth.HumanUser, 5, nil, "global_auditor"); err != nil {
		t.Fatalf("assign global: %v", err)
	}
	if err := store.SetOverride(ctx, capauth.HumanUser, 5, "Core.User.Update", true); err != nil {
		t.Fatalf("set override: %v", err)
	}

	actor := capauth.NewActorBuilder(capauth.HumanUser, 5).Company(10).Build()
	roles, err := store.RolesFor(ctx, actor)
	if err != nil {
		t.Fatalf("roles for: %v", err)
	}
	if len(roles) != 2 {
		t.Fatalf("expected company-scoped + global roles, got %d", len(roles))
	}

	// a different company only sees the global assignment
	other := capauth.NewActorBuilder(capauth.HumanUser, 5).Company(99).Build()
	roles, _ = store.RolesFor(ctx, other)
	if len(roles) != 1 || roles[0].Name != "global_auditor" {
		t.Fatalf("expected only the global role, got %+v", roles)
	}

	ovrs, err := store.OverridesFor(ctx, actor)
	if err != nil {
		t.Fatalf("overrides for: %v", err)
	}
	if len(ovrs) != 1 || ovrs[0].Capability != "core.user.update" || !ovrs[0].Allowed {
		t.Fatalf("unexpected overrides %+v", ovrs)
	}

	if err := store.ClearOverride(ctx, capauth.HumanUser, 5, "core.user.update"); err != nil {
		t.Fatalf("clear override: %v", err)
	}
	ovrs, _ = store.OverridesFor(ctx, actor)
	if len(ovrs) != 0 {
		t.Fatalf("expected no overrides, got %d", len(ovrs))
	}

	if err := store.Revoke(ctx, capauth.HumanUser, 5, "viewer"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	roles, _ = store.RolesFor(ctx, actor)
	if len(roles) != 1 {
		t.Fatalf("expected only global role after revoke, got %d", len(roles))
	}
}

func TestSQLGrantStoreCorruptCapabilitiesColumn(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	store := NewSQLGrantStore(db)

	q := `INSERT INTO roles(name, company_id, capabilities_json, grant_all, is_system, created_at)
	      VALUES(:name, NULL, :capabilities_json, 0, 0, :created_at)`
	if _, err := db.NamedExecContext(ctx, q, map[string]any{
		"name":              "broken",
		"capabilities_json": "{not json",
		"created_at":        time.Now(),
	}); err != nil {
		t.Fatalf("seed corrupt row: %v", err)
	}

	if _, err := store.GetRole(ctx, "broken"); err == nil {
		t.Fatalf("expected decode error for corrupt capabilities column")
	}
}

func TestEngineOverSQLGrantStore(t *testing.T) {
	ctx := context.Background()
	store := NewSQLGrantStore(testDB(t))

	if err := store.PutRole(ctx, capauth.NewRoleBuilder("viewer").Capabilities("core.user.view").Build()); err != nil {
		t.Fatalf("put role: %v", err)
	}
	if err := store.Assign(ctx, capauth.HumanUser, 5, capauth.CompanyOf(10), "viewer"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := store.SetOverride(ctx, capauth.HumanUser, 5, "core.user.view", false); err != nil {
		t.Fatalf("set override: %v", err)
	}

	catalog := capauth.NewCatalog([]string{"core"}, []string{"view"}, []string{"core.user.view"})
	registry, err := capauth.NewRegistry(catalog)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	eng, err := capauth.NewEngine(registry, store)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	actor := capauth.NewActorBuilder(capauth.HumanUser, 5).Company(10).Build()
	dec, err := eng.Can(ctx, actor, "core.user.view", nil, nil)
	if err != nil {
		t.Fatalf("can: %v", err)
	}
	// explicit deny in SQL wins over the role grant
	if dec.Allowed || dec.Reason != capauth.ReasonDeniedExplicitly {
		t.Fatalf("expected explicit denial, got %+v", dec)
	}
}
