package capauth

import (
	"fmt"
	"strconv"
)

// ActorType distinguishes the kinds of principal the engine authorizes.
type ActorType string

const (
	HumanUser     ActorType = "human_user"
	PersonalAgent ActorType = "personal_agent"
)

// Actor is the principal requesting authorization. Actors are built
// fresh per request; the underlying user or agent is persisted
// elsewhere.
type Actor struct {
	Type            ActorType      `json:"type"`
	ID              int64          `json:"id"`
	CompanyID       *int64         `json:"company_id"`
	ActingForUserID *int64         `json:"acting_for_user_id,omitempty"`
	Attrs           map[string]any `json:"attrs,omitempty"`
}

// Validate checks the actor invariants: a positive principal id, a
// tenant scope, and a delegate for agents (an agent always acts on
// behalf of a human).
func (a *Actor) Validate() error {
	if a == nil {
		return fmt.Errorf("actor is nil")
	}
	if a.Type != HumanUser && a.Type != PersonalAgent {
		return fmt.Errorf("actor has unknown type %q", a.Type)
	}
	if a.ID <= 0 {
		return fmt.Errorf("actor id must be positive, got %d", a.ID)
	}
	if a.CompanyID == nil {
		return fmt.Errorf("actor %d has no company scope", a.ID)
	}
	if a.Type == PersonalAgent && a.ActingForUserID == nil {
		return fmt.Errorf("agent %d has no acting-for user", a.ID)
	}
	return nil
}

// CacheKey identifies the actor for per-engine grant memoization:
// type:id:companyID. A nil company renders as an empty segment so an
// invalid actor can never collide with a valid one.
func (a *Actor) CacheKey() string {
	if a == nil {
		return "::"
	}
	company := ""
	if a.CompanyID != nil {
		company = strconv.FormatInt(*a.CompanyID, 10)
	}
	return string(a.Type) + ":" + strconv.FormatInt(a.ID, 10) + ":" + company
}

// ResourceContext describes the object being acted upon. Optional;
// constructed transiently per authorization call.
type ResourceContext struct {
	Type      string         `json:"type"`
	ID        any            `json:"id,omitempty"`
	CompanyID *int64         `json:"company_id,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// RefString renders a stable type:id reference for audit rows.
func (r *ResourceContext) RefString() string {
	if r == nil {
		return ""
	}
	if r.ID == nil {
		return r.Type
	}
	return fmt.Sprintf("%s:%v", r.Type, r.ID)
}

// CompanyOf returns a helper pointer for literal company ids in wiring
// code and tests.
func CompanyOf(id int64) *int64 {
	return &id
}
