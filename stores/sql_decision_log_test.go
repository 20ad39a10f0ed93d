package stores

import (
	"context"
	"testing"
	"time"

	"github.com/oarkflow/capauth"
)

func logEntry(actorID int64, capability string, allowed bool, reason capauth.ReasonCode) *capauth.DecisionEntry {
	return &capauth.DecisionEntry{
		Timestamp:       time.Now(),
		ActorType:       capauth.HumanUser,
		ActorID:         actorID,
		ActorCompanyID:  capauth.CompanyOf(10),
		Capability:      capability,
		ResourceRef:     "company:10",
		Allowed:         allowed,
		Reason:          reason,
		AppliedPolicies: []string{"actor_context", "known_capability", "company_scope", "grant"},
		Context:         map[string]any{"route": "/users"},
	}
}

func TestSQLDecisionLogRoundtrip(t *testing.T) {
	ctx := context.Background()
	log := NewSQLDecisionLog(testDB(t))

	if err := log.Log(ctx, logEntry(5, "core.user.view", true, capauth.ReasonAllowed)); err != nil {
		t.Fatalf("log: %v", err)
	}

	entries, err := log.Decisions(ctx, DecisionFilter{ActorID: 5, Limit: 10})
	if err != nil {
		t.Fatalf("decisions: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.Capability != "core.user.view" || !got.Allowed || got.Reason != capauth.ReasonAllowed {
		t.Fatalf("unexpected entry %+v", got)
	}
	if got.ActorCompanyID == nil || *got.ActorCompanyID != 10 {
		t.Fatalf("expected company 10, got %+v", got.ActorCompanyID)
	}
	if len(got.AppliedPolicies) != 4 || got.AppliedPolicies[3] != "grant" {
		t.Fatalf("applied policies lost: %v", got.AppliedPolicies)
	}
	if got.Context["route"] != "/users" {
		t.Fatalf("context lost: %v", got.Context)
	}
	if got.Timestamp.IsZero() {
		t.Fatalf("timestamp lost")
	}
}

func TestSQLDecisionLogFilters(t *testing.T) {
	ctx := context.Background()
	log := NewSQLDecisionLog(testDB(t))

	_ = log.Log(ctx, logEntry(5, "core.user.view", true, capauth.ReasonAllowed))
	_ = log.Log(ctx, logEntry(5, "core.user.update", false, capauth.ReasonMissingCapability))
	_ = log.Log(ctx, logEntry(7, "hr.employee.view", false, capauth.ReasonCompanyScope))

	// by actor
	entries, err := log.Decisions(ctx, DecisionFilter{ActorID: 5})
	if err != nil {
		t.Fatalf("decisions: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries for actor 5, got %d", len(entries))
	}

	// by capability pattern
	entries, _ = log.Decisions(ctx, DecisionFilter{Capability: "core.user.*"})
	if len(entries) != 2 {
		t.Fatalf("expected 2 core.user entries, got %d", len(entries))
	}
	entries, _ = log.Decisions(ctx, DecisionFilter{Capability: "hr.*"})
	if len(entries) != 1 || entries[0].Reason != capauth.ReasonCompanyScope {
		t.Fatalf("expected the hr denial, got %+v", entries)
	}

	// by outcome
	denied := false
	entries, _ = log.Decisions(ctx, DecisionFilter{Allowed: &denied})
	if len(entries) != 2 {
		t.Fatalf("expected 2 denials, got %d", len(entries))
	}
}

func TestSQLDecisionLogCorruptAppliedColumn(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	log := NewSQLDecisionLog(db)

	q := `INSERT INTO decision_log(timestamp, actor_type, actor_id, actor_company_id, capability, resource_ref, allowed, reason, applied_json, context_json)
	      VALUES(:timestamp, 'human_user', 5, NULL, 'core.user.view', '', 1, 'ALLOWED', :applied_json, 'null')`
	if _, err := db.NamedExecContext(ctx, q, map[string]any{
		"timestamp":    time.Now(),
		"applied_json": "[broken",
	}); err != nil {
		t.Fatalf("seed corrupt row: %v", err)
	}

	if _, err := log.Decisions(ctx, DecisionFilter{}); err == nil {
		t.Fatalf("expected decode error for corrupt applied-policies column")
	}
}

func TestSQLDecisionLogPatternLimitCountsMatches(t *testing.T) {
	ctx := context.Background()
	log := NewSQLDecisionLog(testDB(t))

	// older rows match the pattern, newer rows do not; the limit must
	// apply to matches, not to the newest rows scanned
	for i := 0; i < 3; i++ {
		_ = log.Log(ctx, logEntry(5, "hr.employee.view", true, capauth.ReasonAllowed))
	}
	for i := 0; i < 5; i++ {
		_ = log.Log(ctx, logEntry(5, "core.user.view", true, capauth.ReasonAllowed))
	}

	entries, err := log.Decisions(ctx, DecisionFilter{Capability: "hr.*", Limit: 3})
	if err != nil {
		t.Fatalf("decisions: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 hr matches, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Capability != "hr.employee.view" {
			t.Fatalf("non-matching entry returned: %+v", e)
		}
	}

	// a literal capability with a limit still works through SQL
	entries, err = log.Decisions(ctx, DecisionFilter{Capability: "core.user.view", Limit: 2})
	if err != nil {
		t.Fatalf("decisions: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 literal matches, got %d", len(entries))
	}
}
