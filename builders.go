package capauth

// Builders provide a fluent API for assembling roles, actors and
// resource contexts in wiring code and tests.

// RoleBuilder builds a Role
type RoleBuilder struct {
	r *Role
}

func NewRoleBuilder(name string) *RoleBuilder {
	return &RoleBuilder{r: &Role{Name: name, Capabilities: []string{}}}
}

func (b *RoleBuilder) Company(id int64) *RoleBuilder { b.r.CompanyID = &id; return b }
func (b *RoleBuilder) Capabilities(keys ...string) *RoleBuilder {
	for _, k := range keys {
		b.r.Capabilities = append(b.r.Capabilities, NormalizeKey(k))
	}
	return b
}
func (b *RoleBuilder) GrantAll() *RoleBuilder { b.r.GrantAll = true; return b }
func (b *RoleBuilder) System() *RoleBuilder   { b.r.IsSystem = true; return b }
func (b *RoleBuilder) Build() *Role           { return b.r }

// ActorBuilder builds an Actor
type ActorBuilder struct {
	a *Actor
}

func NewActorBuilder(t ActorType, id int64) *ActorBuilder {
	return &ActorBuilder{a: &Actor{Type: t, ID: id}}
}

func (b *ActorBuilder) Company(id int64) *ActorBuilder { b.a.CompanyID = &id; return b }
func (b *ActorBuilder) ActingFor(userID int64) *ActorBuilder {
	b.a.ActingForUserID = &userID
	return b
}
func (b *ActorBuilder) Attr(key string, value any) *ActorBuilder {
	if b.a.Attrs == nil {
		b.a.Attrs = make(map[string]any)
	}
	b.a.Attrs[key] = value
	return b
}
func (b *ActorBuilder) Build() *Actor { return b.a }

// ResourceBuilder builds a ResourceContext
type ResourceBuilder struct {
	r *ResourceContext
}

func NewResourceBuilder(resourceType string) *ResourceBuilder {
	return &ResourceBuilder{r: &ResourceContext{Type: resourceType}}
}

func (b *ResourceBuilder) ID(id any) *ResourceBuilder        { b.r.ID = id; return b }
func (b *ResourceBuilder) Company(id int64) *ResourceBuilder { b.r.CompanyID = &id; return b }
func (b *ResourceBuilder) Attr(key string, value any) *ResourceBuilder {
	if b.r.Attrs == nil {
		b.r.Attrs = make(map[string]any)
	}
	b.r.Attrs[key] = value
	return b
}
func (b *ResourceBuilder) Build() *ResourceContext { return b.r }
