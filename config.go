package capauth

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the declarative form of a capability deployment: the merged
// catalog plus role definitions, assignments and overrides, and engine
// tuning knobs.
type Config struct {
	Domains      []string             `json:"domains" yaml:"domains"`
	Verbs        []string             `json:"verbs" yaml:"verbs"`
	Capabilities []string             `json:"capabilities" yaml:"capabilities"`
	Roles        []*Role              `json:"roles" yaml:"roles"`
	Assignments  []RoleAssignment     `json:"assignments" yaml:"assignments"`
	Overrides    []CapabilityOverride `json:"overrides" yaml:"overrides"`
	Engine       EngineConfig         `json:"engine" yaml:"engine"`
}

// EngineConfig carries the optional tuning knobs for a long-lived
// engine instance.
type EngineConfig struct {
	DecisionCacheTTL    int64 `json:"decision_cache_ttl_ms" yaml:"decision_cache_ttl_ms"`
	RistrettoNumCounter int64 `json:"ristretto_num_counter" yaml:"ristretto_num_counter"`
	RistrettoMaxCost    int64 `json:"ristretto_max_cost" yaml:"ristretto_max_cost"`
	RistrettoBuffer     int64 `json:"ristretto_buffer" yaml:"ristretto_buffer"`
	AuditBufferSize     int   `json:"audit_buffer_size" yaml:"audit_buffer_size"`
}

// ConfigLoader loads configuration from the supported formats.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse yaml config: %w", err)
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse json config: %w", err)
	}
	return cfg, nil
}

// ToYAML exports config to YAML.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports config to indented JSON.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Catalog builds the capability catalog declared by the config.
func (c *Config) Catalog() *Catalog {
	return NewCatalog(c.Domains, c.Verbs, c.Capabilities)
}

// Validate checks catalog consistency plus referential integrity of the
// grant data: assignments must name declared roles, role capabilities
// and overrides must name declared capability keys. Configuration
// errors are fatal at load time, not per-request conditions.
func (c *Config) Validate() error {
	catalog := c.Catalog()
	if err := catalog.Validate(); err != nil {
		return err
	}
	declared := make(map[string]struct{}, len(c.Roles))
	for _, role := range c.Roles {
		if role.Name == "" {
			return fmt.Errorf("role with empty name")
		}
		declared[role.Name] = struct{}{}
		for _, capKey := range role.Capabilities {
			if _, ok := catalog.capSet[NormalizeKey(capKey)]; !ok {
				return fmt.Errorf("role %q references undeclared capability %q", role.Name, capKey)
			}
		}
	}
	for _, a := range c.Assignments {
		if _, ok := declared[a.RoleName]; !ok {
			return fmt.Errorf("assignment for principal %d references undeclared role %q", a.PrincipalID, a.RoleName)
		}
	}
	for _, ov := range c.Overrides {
		if _, ok := catalog.capSet[NormalizeKey(ov.Capability)]; !ok {
			return fmt.Errorf("override for principal %d references undeclared capability %q", ov.PrincipalID, ov.Capability)
		}
	}
	return nil
}

// Build validates the config and assembles a ready engine over a
// memory grant store seeded with the declared roles, assignments and
// overrides. The store is returned so callers can administer grants at
// runtime.
func (c *Config) Build(opts ...EngineOption) (*Engine, *MemoryGrantStore, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}
	registry, err := NewRegistry(c.Catalog())
	if err != nil {
		return nil, nil, err
	}
	store := NewMemoryGrantStore()
	for _, role := range c.Roles {
		store.PutRole(role)
	}
	for _, a := range c.Assignments {
		store.Assign(a.PrincipalType, a.PrincipalID, a.CompanyID, a.RoleName)
	}
	for _, ov := range c.Overrides {
		store.SetOverride(ov.PrincipalType, ov.PrincipalID, ov.Capability, ov.Allowed)
	}
	if c.Engine.RistrettoNumCounter > 0 {
		ttl := time.Duration(c.Engine.DecisionCacheTTL) * time.Millisecond
		if ttl <= 0 {
			ttl = time.Second
		}
		opts = append(opts, WithDecisionCache(
			c.Engine.RistrettoNumCounter,
			c.Engine.RistrettoMaxCost,
			c.Engine.RistrettoBuffer,
			ttl,
		))
	}
	engine, err := NewEngine(registry, store, opts...)
	if err != nil {
		return nil, nil, err
	}
	return engine, store, nil
}

// Stats summarizes a config for tooling output.
func (c *Config) Stats() map[string]int {
	return map[string]int{
		"domains":      len(c.Domains),
		"verbs":        len(c.Verbs),
		"capabilities": len(c.Capabilities),
		"roles":        len(c.Roles),
		"assignments":  len(c.Assignments),
		"overrides":    len(c.Overrides),
	}
}
