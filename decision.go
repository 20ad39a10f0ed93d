package capauth

import "fmt"

// ReasonCode is the closed set of outcomes a decision can carry.
// Exactly one accompanies every decision; Allowed=true implies
// ReasonAllowed.
type ReasonCode string

const (
	ReasonAllowed             ReasonCode = "ALLOWED"
	ReasonUnknownCapability   ReasonCode = "DENIED_UNKNOWN_CAPABILITY"
	ReasonInvalidActorContext ReasonCode = "DENIED_INVALID_ACTOR_CONTEXT"
	ReasonCompanyScope        ReasonCode = "DENIED_COMPANY_SCOPE"
	ReasonMissingCapability   ReasonCode = "DENIED_MISSING_CAPABILITY"
	ReasonDeniedExplicitly    ReasonCode = "DENIED_EXPLICITLY"
	ReasonPolicyEngineError   ReasonCode = "DENIED_POLICY_ENGINE_ERROR"
)

// Decision is the immutable result of one authorization evaluation.
type Decision struct {
	Allowed         bool           `json:"allowed"`
	Reason          ReasonCode     `json:"reason"`
	AppliedPolicies []string       `json:"applied_policies"`
	AuditMeta       map[string]any `json:"audit_meta,omitempty"`
}

// Allow builds an allowed decision attributed to the given stages.
func Allow(appliedPolicies []string) *Decision {
	return &Decision{Allowed: true, Reason: ReasonAllowed, AppliedPolicies: appliedPolicies}
}

// Deny builds a denial with the given reason and stage attribution.
func Deny(reason ReasonCode, appliedPolicies []string) *Decision {
	return &Decision{Allowed: false, Reason: reason, AppliedPolicies: appliedPolicies}
}

// WithMeta attaches a diagnostic key/value to the decision's audit
// metadata and returns the decision for chaining.
func (d *Decision) WithMeta(key string, value any) *Decision {
	if d.AuditMeta == nil {
		d.AuditMeta = make(map[string]any)
	}
	d.AuditMeta[key] = value
	return d
}

// Clone returns a deep copy of the decision. Cached decisions are
// handed out as clones so a caller's WithMeta never mutates shared
// state.
func (d *Decision) Clone() *Decision {
	if d == nil {
		return nil
	}
	c := &Decision{Allowed: d.Allowed, Reason: d.Reason}
	if d.AppliedPolicies != nil {
		c.AppliedPolicies = append([]string(nil), d.AppliedPolicies...)
	}
	if d.AuditMeta != nil {
		c.AuditMeta = make(map[string]any, len(d.AuditMeta))
		for k, v := range d.AuditMeta {
			c.AuditMeta[k] = v
		}
	}
	return c
}

// DeniedError signals a denied Authorize call. The denial itself is
// data; callers inspect Decision.Reason to map it onto their transport
// (the usual convention: invalid actor context to 401, everything else
// to 403).
type DeniedError struct {
	Capability string
	Decision   *Decision
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("authorization denied: capability=%s reason=%s", e.Capability, e.Decision.Reason)
}

// IsDenied unpacks a DeniedError from err, if it is one.
func IsDenied(err error) (*DeniedError, bool) {
	de, ok := err.(*DeniedError)
	return de, ok
}
