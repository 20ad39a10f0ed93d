package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/capauth"
	"github.com/oarkflow/capauth/utils"
)

// SQLDecisionLog persists decision entries in SQL and implements
// capauth.DecisionLogger. Rows are append-only; the query path exists
// for audit review, not for the engine.
type SQLDecisionLog struct {
	db *squealx.DB
}

func NewSQLDecisionLog(db *squealx.DB) *SQLDecisionLog {
	return &SQLDecisionLog{db: db}
}

func (s *SQLDecisionLog) Log(ctx context.Context, entry *capauth.DecisionEntry) error {
	appliedB, _ := json.Marshal(entry.AppliedPolicies)
	contextB, _ := json.Marshal(entry.Context)
	q := `INSERT INTO decision_log(timestamp, actor_type, actor_id, actor_company_id, capability, resource_ref, allowed, reason, applied_json, context_json)
	      VALUES(:timestamp, :actor_type, :actor_id, :actor_company_id, :capability, :resource_ref, :allowed, :reason, :applied_json, :context_json)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"timestamp":        entry.Timestamp,
		"actor_type":       string(entry.ActorType),
		"actor_id":         entry.ActorID,
		"actor_company_id": nullableCompany(entry.ActorCompanyID),
		"capability":       entry.Capability,
		"resource_ref":     entry.ResourceRef,
		"allowed":          boolToInt(entry.Allowed),
		"reason":           string(entry.Reason),
		"applied_json":     string(appliedB),
		"context_json":     string(contextB),
	})
	return err
}

// DecisionFilter narrows Decisions queries. Capability accepts wildcard
// patterns like "core.user.*".
type DecisionFilter struct {
	ActorID    int64
	Capability string
	Allowed    *bool
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
}

// Decisions returns logged entries matching the filter, newest first.
func (s *SQLDecisionLog) Decisions(ctx context.Context, filter DecisionFilter) ([]*capauth.DecisionEntry, error) {
	q := `SELECT timestamp, actor_type, actor_id, actor_company_id, capability, resource_ref, allowed, reason, applied_json, context_json FROM decision_log WHERE 1=1`
	params := map[string]any{}
	if filter.ActorID != 0 {
		q += " AND actor_id = :actor_id"
		params["actor_id"] = filter.ActorID
	}
	if filter.Allowed != nil {
		q += " AND allowed = :allowed"
		params["allowed"] = boolToInt(*filter.Allowed)
	}
	if !filter.StartTime.IsZero() {
		q += " AND timestamp >= :start"
		params["start"] = filter.StartTime
	}
	if !filter.EndTime.IsZero() {
		q += " AND timestamp <= :end"
		params["end"] = filter.EndTime
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	// Patterns with wildcards are matched in Go after scanning, so the
	// limit must be applied to matches, not to raw rows; only a literal
	// capability (or no capability filter) can be limited in SQL.
	pattern := filter.Capability
	if pattern != "" && !strings.Contains(pattern, "*") {
		q += " AND capability = :capability"
		params["capability"] = pattern
		pattern = ""
	}
	q += " ORDER BY id DESC"
	if pattern == "" {
		q += " LIMIT :limit"
		params["limit"] = limit
	}
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*capauth.DecisionEntry, 0)
	for r.Next() {
		var actorType, capability, resourceRef, reason, appliedJSON, contextJSON string
		var timestampRaw, companyRaw any
		var actorID int64
		var allowedInt int
		if err := r.Scan(&timestampRaw, &actorType, &actorID, &companyRaw, &capability, &resourceRef, &allowedInt, &reason, &appliedJSON, &contextJSON); err != nil {
			return nil, err
		}
		// Wildcard filtering happens here; SQL LIKE cannot express the
		// segment wildcard semantics.
		if pattern != "" && !utils.MatchCapability(capability, pattern) {
			continue
		}
		entry := &capauth.DecisionEntry{
			Timestamp:      scanTime(timestampRaw),
			ActorType:      capauth.ActorType(actorType),
			ActorID:        actorID,
			ActorCompanyID: scanCompany(companyRaw),
			Capability:     capability,
			ResourceRef:    resourceRef,
			Allowed:        allowedInt != 0,
			Reason:         capauth.ReasonCode(reason),
		}
		if err := json.Unmarshal([]byte(appliedJSON), &entry.AppliedPolicies); err != nil {
			return nil, fmt.Errorf("decode applied policies: %w", err)
		}
		if err := json.Unmarshal([]byte(contextJSON), &entry.Context); err != nil {
			return nil, fmt.Errorf("decode decision context: %w", err)
		}
		out = append(out, entry)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
