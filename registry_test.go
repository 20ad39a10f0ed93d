package capauth

import (
	"strings"
	"testing"
)

func TestCatalogValidate(t *testing.T) {
	domains := []string{"core", "hr"}
	verbs := []string{"view", "update"}

	ok := NewCatalog(domains, verbs, []string{"core.user.view", "hr.employee.update"})
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected valid catalog, got %v", err)
	}

	badGrammar := NewCatalog(domains, verbs, []string{"core.user"})
	if err := badGrammar.Validate(); err == nil || !strings.Contains(err.Error(), "invalid capability key") {
		t.Fatalf("expected grammar error, got %v", err)
	}

	badDomain := NewCatalog(domains, verbs, []string{"sales.order.view"})
	if err := badDomain.Validate(); err == nil || !strings.Contains(err.Error(), "unknown domain") {
		t.Fatalf("expected unknown-domain error, got %v", err)
	}

	badVerb := NewCatalog(domains, verbs, []string{"core.user.teleport"})
	if err := badVerb.Validate(); err == nil || !strings.Contains(err.Error(), "unknown verb") {
		t.Fatalf("expected unknown-verb error, got %v", err)
	}
}

func TestCatalogNormalizesAndDeduplicates(t *testing.T) {
	c := NewCatalog([]string{"Core", "core"}, []string{"View"}, []string{"Core.User.View", "core.user.view"})
	if got := len(c.Capabilities()); got != 1 {
		t.Fatalf("expected 1 capability after dedup, got %d", got)
	}
	if c.Capabilities()[0] != "core.user.view" {
		t.Fatalf("expected lowercase key, got %q", c.Capabilities()[0])
	}
}

func TestRegistryFailsFastOnInvalidCatalog(t *testing.T) {
	bad := NewCatalog([]string{"core"}, []string{"view"}, []string{"core.user.delete"})
	if _, err := NewRegistry(bad); err == nil {
		t.Fatalf("expected registry construction to fail")
	}
}

func TestRegistryLookups(t *testing.T) {
	catalog := NewCatalog(
		[]string{"core", "hr"},
		[]string{"view", "update", "delete"},
		[]string{"core.user.view", "core.user.update", "hr.employee.view", "core.company.delete"},
	)
	reg, err := NewRegistry(catalog)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}

	if !reg.Has("core.user.view") {
		t.Fatalf("expected registry to know core.user.view")
	}
	if !reg.Has("Core.User.VIEW") {
		t.Fatalf("expected case-insensitive membership")
	}
	if reg.Has("core.user.delete") {
		t.Fatalf("did not expect core.user.delete")
	}

	if err := reg.AssertKnown("hr.employee.view"); err != nil {
		t.Fatalf("assert known: %v", err)
	}
	if err := reg.AssertKnown("hr.employee.fire"); err == nil {
		t.Fatalf("expected unknown-capability error")
	}

	coreKeys := reg.ForDomain("core")
	if len(coreKeys) != 3 {
		t.Fatalf("expected 3 core keys, got %d", len(coreKeys))
	}
	// registry order matches catalog insertion order
	if coreKeys[0].String() != "core.user.view" || coreKeys[2].String() != "core.company.delete" {
		t.Fatalf("unexpected domain order: %v", coreKeys)
	}
	if len(reg.ForDomain("sales")) != 0 {
		t.Fatalf("expected no keys for unknown domain")
	}
}
