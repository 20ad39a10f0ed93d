package capauth

import "testing"

func TestParseKeyGrammar(t *testing.T) {
	valid := []string{
		"core.user.view",
		"hr.employee_record.update",
		"billing.invoice2.approve",
		"Core.User.View", // normalized to lowercase
	}
	for _, s := range valid {
		if _, err := ParseKey(s); err != nil {
			t.Fatalf("expected %q to parse, got %v", s, err)
		}
	}

	invalid := []string{
		"",
		"core.user",
		"core.user.view.extra",
		"core..view",
		"1core.user.view",
		"core.user.2view",
		"core.user.vi-ew",
		"core user view",
	}
	for _, s := range invalid {
		if _, err := ParseKey(s); err == nil {
			t.Fatalf("expected %q to be rejected", s)
		}
	}
}

func TestKeyNormalizationIdempotent(t *testing.T) {
	fromParts, err := KeyFromParts("Core", "User", "View")
	if err != nil {
		t.Fatalf("from parts: %v", err)
	}
	literal, err := ParseKey("core.user.view")
	if err != nil {
		t.Fatalf("parse literal: %v", err)
	}
	if fromParts != literal {
		t.Fatalf("expected %v == %v", fromParts, literal)
	}
	if fromParts.String() != "core.user.view" {
		t.Fatalf("unexpected string form %q", fromParts.String())
	}
}

func TestMustKeyPanicsOnInvalid(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for invalid key")
		}
	}()
	MustKey("not a key")
}
