package capauth

import (
	"context"
	"sync"
	"time"

	"github.com/oarkflow/capauth/logger"
)

// DecisionEntry is one append-only audit record. The engine only ever
// writes these; reading them back is the audit reviewer's concern.
type DecisionEntry struct {
	Timestamp       time.Time      `json:"timestamp"`
	ActorType       ActorType      `json:"actor_type"`
	ActorID         int64          `json:"actor_id"`
	ActorCompanyID  *int64         `json:"actor_company_id,omitempty"`
	Capability      string         `json:"capability"`
	ResourceRef     string         `json:"resource_ref,omitempty"`
	Allowed         bool           `json:"allowed"`
	Reason          ReasonCode     `json:"reason"`
	AppliedPolicies []string       `json:"applied_policies"`
	Context         map[string]any `json:"context,omitempty"`
}

// DecisionLogger is the audit sink collaborator. The engine does not
// depend on Log succeeding.
type DecisionLogger interface {
	Log(ctx context.Context, entry *DecisionEntry) error
}

// AuditedEngine wraps an Authorizer and records every decision, allow
// or deny, through a DecisionLogger. Entries are handed to a buffered
// worker so audit persistence never sits on the request path; write
// failures are reported through the structured logger and the original
// decision is returned untouched.
type AuditedEngine struct {
	inner   Authorizer
	sink    DecisionLogger
	logger  logger.Logger
	entries chan *DecisionEntry
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// AuditOption customizes an AuditedEngine.
type AuditOption func(*AuditedEngine)

// WithAuditLogger sets the operator-facing logger used to surface
// audit-write failures.
func WithAuditLogger(l logger.Logger) AuditOption {
	return func(a *AuditedEngine) { a.logger = l }
}

// WithAuditBuffer sizes the entry buffer between the request path and
// the persistence worker.
func WithAuditBuffer(n int) AuditOption {
	return func(a *AuditedEngine) {
		if n > 0 {
			a.entries = make(chan *DecisionEntry, n)
		}
	}
}

// NewAuditedEngine decorates inner so that every Can, Authorize and
// FilterAllowed evaluation is persisted via sink.
func NewAuditedEngine(inner Authorizer, sink DecisionLogger, opts ...AuditOption) *AuditedEngine {
	a := &AuditedEngine{
		inner:   inner,
		sink:    sink,
		logger:  logger.NewNullLogger(),
		entries: make(chan *DecisionEntry, 1024),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	go a.drain()
	return a
}

func (a *AuditedEngine) drain() {
	defer close(a.done)
	bg := context.Background()
	for entry := range a.entries {
		if err := a.sink.Log(bg, entry); err != nil {
			a.logger.Error("audit write failed",
				"capability", entry.Capability,
				"actor_id", int(entry.ActorID),
				"error", err.Error())
		}
	}
}

// Close stops accepting new entries and blocks until buffered entries
// have been handed to the sink. Safe to call concurrently with
// in-flight evaluations and more than once; entries recorded after
// Close starts are dropped.
func (a *AuditedEngine) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.entries)
	}
	a.mu.Unlock()
	<-a.done
}

func (a *AuditedEngine) record(actor *Actor, capability string, resource *ResourceContext, decision *Decision, extra map[string]any) {
	if actor == nil {
		actor = &Actor{}
	}
	entry := &DecisionEntry{
		Timestamp:       time.Now(),
		ActorType:       actor.Type,
		ActorID:         actor.ID,
		ActorCompanyID:  actor.CompanyID,
		Capability:      NormalizeKey(capability),
		ResourceRef:     resource.RefString(),
		Allowed:         decision.Allowed,
		Reason:          decision.Reason,
		AppliedPolicies: decision.AppliedPolicies,
		Context:         extra,
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.entries <- entry:
	default:
		// Buffer full: drop rather than block the request path.
		a.logger.Error("audit buffer full, dropping entry",
			"capability", entry.Capability,
			"actor_id", int(entry.ActorID))
	}
}

// Can forwards to the wrapped engine and audits the decision.
func (a *AuditedEngine) Can(ctx context.Context, actor *Actor, capability string, resource *ResourceContext, extra map[string]any) (*Decision, error) {
	decision, err := a.inner.Can(ctx, actor, capability, resource, extra)
	if err != nil {
		return decision, err
	}
	a.record(actor, capability, resource, decision, extra)
	return decision, nil
}

// Authorize forwards to Can and converts denials exactly like the
// wrapped engine does.
func (a *AuditedEngine) Authorize(ctx context.Context, actor *Actor, capability string, resource *ResourceContext, extra map[string]any) error {
	decision, err := a.Can(ctx, actor, capability, resource, extra)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return &DeniedError{Capability: NormalizeKey(capability), Decision: decision}
	}
	return nil
}

// FilterAllowed audits one decision per resource, mirroring the wrapped
// engine's independent per-resource evaluation.
func (a *AuditedEngine) FilterAllowed(ctx context.Context, actor *Actor, capability string, resources []*ResourceContext, extra map[string]any) ([]*ResourceContext, error) {
	out := make([]*ResourceContext, 0, len(resources))
	for _, res := range resources {
		decision, err := a.Can(ctx, actor, capability, res, extra)
		if err != nil {
			return nil, err
		}
		if decision.Allowed {
			out = append(out, res)
		}
	}
	return out, nil
}
