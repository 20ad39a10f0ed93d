package capauth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/oarkflow/capauth/logger"
)

// ============================================================================
// POLICY STAGES
// ============================================================================

// PolicyStage is one step of the evaluation pipeline. A nil decision
// means the stage abstains and the next stage runs. The set of stages
// is closed and fixed at engine construction; this is deliberately not
// a runtime plugin surface.
type PolicyStage interface {
	Key() string
	Evaluate(ctx context.Context, actor *Actor, capability string, resource *ResourceContext, extra map[string]any) (*Decision, error)
}

// actorContextStage denies requests whose actor violates the shape
// invariants (positive id, company scope, delegate for agents).
type actorContextStage struct{}

func (actorContextStage) Key() string { return "actor_context" }

func (actorContextStage) Evaluate(_ context.Context, actor *Actor, _ string, _ *ResourceContext, _ map[string]any) (*Decision, error) {
	if err := actor.Validate(); err != nil {
		return Deny(ReasonInvalidActorContext, nil).WithMeta("actor_error", err.Error()), nil
	}
	return nil, nil
}

// knownCapabilityStage denies capability keys the registry has never
// heard of. Runs before any data-dependent check so malformed requests
// cost nothing.
type knownCapabilityStage struct {
	registry *Registry
}

func (knownCapabilityStage) Key() string { return "known_capability" }

func (s knownCapabilityStage) Evaluate(_ context.Context, _ *Actor, capability string, _ *ResourceContext, _ map[string]any) (*Decision, error) {
	if !s.registry.Has(capability) {
		return Deny(ReasonUnknownCapability, nil).WithMeta("capability", NormalizeKey(capability)), nil
	}
	return nil, nil
}

// companyScopeStage enforces the tenant boundary: a resource owned by a
// different company than the actor's is denied before grant resolution
// ever runs, so no role grant can cross tenants.
type companyScopeStage struct{}

func (companyScopeStage) Key() string { return "company_scope" }

func (companyScopeStage) Evaluate(_ context.Context, actor *Actor, _ string, resource *ResourceContext, _ map[string]any) (*Decision, error) {
	if resource == nil || resource.CompanyID == nil {
		return nil, nil
	}
	if actor.CompanyID == nil || *actor.CompanyID != *resource.CompanyID {
		return Deny(ReasonCompanyScope, nil).
			WithMeta("resource_company_id", *resource.CompanyID), nil
	}
	return nil, nil
}

// grantStage is the terminal, authoritative stage: it always produces a
// decision, backed by the role/override resolution in grants.go.
type grantStage struct {
	resolver *grantResolver
}

func (grantStage) Key() string { return "grant" }

func (s grantStage) Evaluate(ctx context.Context, actor *Actor, capability string, _ *ResourceContext, _ map[string]any) (*Decision, error) {
	set, err := s.resolver.resolve(ctx, actor)
	if err != nil {
		return nil, fmt.Errorf("resolve grants for %s: %w", actor.CacheKey(), err)
	}
	return set.evaluate(capability, nil), nil
}

// ============================================================================
// AUTHORIZATION ENGINE
// ============================================================================

// Authorizer is the surface the engine exposes to its callers; the
// auditing decorator wraps the same interface.
type Authorizer interface {
	Can(ctx context.Context, actor *Actor, capability string, resource *ResourceContext, extra map[string]any) (*Decision, error)
	Authorize(ctx context.Context, actor *Actor, capability string, resource *ResourceContext, extra map[string]any) error
	FilterAllowed(ctx context.Context, actor *Actor, capability string, resources []*ResourceContext, extra map[string]any) ([]*ResourceContext, error)
}

// Engine runs the ordered policy pipeline. Stages are stateless with
// one exception: the grant stage's per-actor memoization, which is
// safe for a long-lived shared engine (see grants.go). Evaluation is
// synchronous; there are no suspension points.
type Engine struct {
	registry *Registry
	resolver *grantResolver
	stages   []PolicyStage
	logger   logger.Logger

	decisionCache    *ristretto.Cache
	decisionCacheTTL time.Duration
}

// EngineOption customizes an Engine at construction.
type EngineOption func(*Engine) error

// WithLogger installs a structured logger on the engine.
func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) error {
		e.logger = l
		return nil
	}
}

// WithDecisionCache enables a TTL'd ristretto cache over full
// decisions, keyed by actor, capability and resource reference. Grant
// memoization is independent of this and always on; the decision cache
// only shortcuts repeated identical requests against a long-lived
// engine.
func WithDecisionCache(numCounters, maxCost, bufferItems int64, ttl time.Duration) EngineOption {
	return func(e *Engine) error {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: numCounters,
			MaxCost:     maxCost,
			BufferItems: bufferItems,
		})
		if err != nil {
			return fmt.Errorf("configure decision cache: %w", err)
		}
		e.decisionCache = cache
		e.decisionCacheTTL = ttl
		return nil
	}
}

// NewEngine wires the default pipeline over a registry and a grant
// source: actor context, known capability, company scope, then the
// terminal grant stage. Cheap context-free checks run first; the
// tenant boundary runs structurally before any grant lookup.
func NewEngine(registry *Registry, source GrantSource, opts ...EngineOption) (*Engine, error) {
	if registry == nil {
		return nil, fmt.Errorf("engine requires a capability registry")
	}
	if source == nil {
		return nil, fmt.Errorf("engine requires a grant source")
	}
	resolver := newGrantResolver(source, registry)
	e := &Engine{
		registry: registry,
		resolver: resolver,
		stages: []PolicyStage{
			actorContextStage{},
			knownCapabilityStage{registry: registry},
			companyScopeStage{},
			grantStage{resolver: resolver},
		},
		logger: logger.NewNullLogger(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Registry exposes the engine's capability registry to embedding code
// (menus, admin screens) that needs to enumerate known keys.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Can evaluates the pipeline for one request and always returns a
// decision. Stage errors and pipeline exhaustion fail closed with
// ReasonPolicyEngineError; Can itself never signals denial through its
// error return.
func (e *Engine) Can(ctx context.Context, actor *Actor, capability string, resource *ResourceContext, extra map[string]any) (*Decision, error) {
	return e.evaluate(ctx, actor, capability, resource, extra, false)
}

// Explain is Can with a per-stage trace attached under
// AuditMeta["trace"]. It bypasses the decision cache.
func (e *Engine) Explain(ctx context.Context, actor *Actor, capability string, resource *ResourceContext, extra map[string]any) (*Decision, error) {
	return e.evaluate(ctx, actor, capability, resource, extra, true)
}

func (e *Engine) evaluate(ctx context.Context, actor *Actor, capability string, resource *ResourceContext, extra map[string]any, trace bool) (*Decision, error) {
	if e.decisionCache != nil && !trace {
		if cached, ok := e.cachedDecision(actor, capability, resource); ok {
			return cached, nil
		}
	}

	applied := make([]string, 0, len(e.stages))
	var steps []string
	for _, stage := range e.stages {
		applied = append(applied, stage.Key())
		decision, err := stage.Evaluate(ctx, actor, capability, resource, extra)
		if err != nil {
			e.logger.Error("policy stage failed",
				"stage", stage.Key(),
				"capability", NormalizeKey(capability),
				"actor", actor.CacheKey(),
				"error", err.Error())
			return Deny(ReasonPolicyEngineError, applied).WithMeta("stage_error", err.Error()), nil
		}
		if decision == nil {
			if trace {
				steps = append(steps, stage.Key()+": abstain")
			}
			continue
		}
		decision.AppliedPolicies = applied
		if trace {
			steps = append(steps, fmt.Sprintf("%s: %s", stage.Key(), decision.Reason))
			decision.WithMeta("trace", steps)
		}
		e.storeDecision(actor, capability, resource, decision, trace)
		return decision, nil
	}

	// Every stage abstained. The grant stage is documented as terminal,
	// so this is a wiring defect; fail closed rather than allow.
	e.logger.Error("policy pipeline exhausted without a decision",
		"capability", NormalizeKey(capability),
		"actor", actor.CacheKey())
	return Deny(ReasonPolicyEngineError, applied), nil
}

// decisionCacheKey must cover everything the stages read from the
// resource, not just its display reference: two resources with the
// same type:id but different owning companies are different requests,
// so the company segment keeps cached allows from crossing tenants.
func (e *Engine) decisionCacheKey(actor *Actor, capability string, resource *ResourceContext) string {
	company := ""
	if resource != nil && resource.CompanyID != nil {
		company = strconv.FormatInt(*resource.CompanyID, 10)
	}
	return actor.CacheKey() + "|" + NormalizeKey(capability) + "|" + resource.RefString() + "|" + company
}

func (e *Engine) cachedDecision(actor *Actor, capability string, resource *ResourceContext) (*Decision, bool) {
	v, ok := e.decisionCache.Get(e.decisionCacheKey(actor, capability, resource))
	if !ok {
		return nil, false
	}
	d, ok := v.(*Decision)
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

func (e *Engine) storeDecision(actor *Actor, capability string, resource *ResourceContext, d *Decision, trace bool) {
	if e.decisionCache == nil || trace {
		return
	}
	e.decisionCache.SetWithTTL(e.decisionCacheKey(actor, capability, resource), d.Clone(), 1, e.decisionCacheTTL)
}

// Authorize evaluates Can and converts any denial into a *DeniedError
// carrying the full decision. A nil return means allowed.
func (e *Engine) Authorize(ctx context.Context, actor *Actor, capability string, resource *ResourceContext, extra map[string]any) error {
	decision, err := e.Can(ctx, actor, capability, resource, extra)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return &DeniedError{Capability: NormalizeKey(capability), Decision: decision}
	}
	return nil
}

// FilterAllowed evaluates the same capability against each resource
// independently and returns the allowed ones in input order. There is
// no short-circuiting across the collection; one denied resource does
// not affect the rest.
func (e *Engine) FilterAllowed(ctx context.Context, actor *Actor, capability string, resources []*ResourceContext, extra map[string]any) ([]*ResourceContext, error) {
	out := make([]*ResourceContext, 0, len(resources))
	for _, res := range resources {
		decision, err := e.Can(ctx, actor, capability, res, extra)
		if err != nil {
			return nil, err
		}
		if decision.Allowed {
			out = append(out, res)
		}
	}
	return out, nil
}

// EffectiveCapabilities resolves the actor's full effective capability
// set in registry order; a convenience for admin and UI layers.
func (e *Engine) EffectiveCapabilities(ctx context.Context, actor *Actor) ([]Key, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	return e.resolver.effectiveCapabilities(ctx, actor)
}
