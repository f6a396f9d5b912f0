package rbac

import (
	"sort"
	"sync"
	"time"
)

// Mutation describes a committed catalog change. Generation is the value
// the catalog reached with this change; Roles lists the affected role IDs,
// empty when the whole catalog was replaced.
type Mutation struct {
	Generation uint64
	Roles      []RoleID
	FullReload bool
}

// MutationListener receives catalog mutations. Listeners run synchronously
// after the change is committed and before the mutating call returns, which
// is what gives cache invalidation its happens-before guarantee.
type MutationListener interface {
	CatalogMutated(Mutation)
}

// Catalog holds the active permission configuration: roles, resources,
// route mappings and engine settings. Reads take a shared lock; the rare
// administrative writes take the exclusive lock and bump the generation
// counter so stamped cache entries can be recognised as stale.
type Catalog struct {
	mu         sync.RWMutex
	roles      map[RoleID]Role
	resources  map[string]ResourceDefinition
	routes     map[string]RouteMapping
	security   SecuritySettings
	cache      CacheSettings
	generation uint64

	listenerMu sync.RWMutex
	listeners  []MutationListener

	clock func() time.Time
}

// NewCatalog builds a catalog from a snapshot, rejecting it whole when any
// validation rule fails.
func NewCatalog(snap Snapshot) (*Catalog, error) {
	c := &Catalog{
		roles:     make(map[RoleID]Role),
		resources: make(map[string]ResourceDefinition),
		routes:    make(map[string]RouteMapping),
		clock:     func() time.Time { return time.Now().UTC() },
	}
	if err := c.Import(snap); err != nil {
		return nil, err
	}
	return c, nil
}

// Subscribe registers a mutation listener.
func (c *Catalog) Subscribe(l MutationListener) {
	if l == nil {
		return
	}
	c.listenerMu.Lock()
	c.listeners = append(c.listeners, l)
	c.listenerMu.Unlock()
}

// Generation returns the monotonic mutation counter.
func (c *Catalog) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// GetRole fetches a role by ID.
func (c *Catalog) GetRole(id RoleID) (Role, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	role, ok := c.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return cloneRole(role), nil
}

// RoleSnapshot returns a role together with the generation it was read
// under, so cache entries can be stamped consistently.
func (c *Catalog) RoleSnapshot(id RoleID) (Role, uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	role, ok := c.roles[id]
	if !ok {
		return Role{}, c.generation, ErrNotFound
	}
	return cloneRole(role), c.generation, nil
}

// ListRoles returns all roles ordered by hierarchy descending.
func (c *Catalog) ListRoles() []Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	roles := make([]Role, 0, len(c.roles))
	for _, role := range c.roles {
		roles = append(roles, cloneRole(role))
	}
	sort.Slice(roles, func(i, j int) bool {
		if roles[i].Hierarchy != roles[j].Hierarchy {
			return roles[i].Hierarchy > roles[j].Hierarchy
		}
		return roles[i].ID < roles[j].ID
	})
	return roles
}

// GetResource fetches a resource definition by name.
func (c *Catalog) GetResource(name string) (ResourceDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res, ok := c.resources[name]
	if !ok {
		return ResourceDefinition{}, ErrNotFound
	}
	return cloneResource(res), nil
}

// GetRouteMapping resolves a path template to its required permissions.
func (c *Catalog) GetRouteMapping(pattern string) ([]Permission, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	route, ok := c.routes[pattern]
	if !ok {
		return nil, ErrNotFound
	}
	required := make([]Permission, len(route.Required))
	copy(required, route.Required)
	return required, nil
}

// SecuritySettings returns the lockout thresholds for the surrounding service.
func (c *Catalog) SecuritySettings() SecuritySettings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.security
}

// CacheSettings returns the decision-cache settings from the active config.
func (c *Catalog) CacheSettings() CacheSettings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cache
}

// UpsertRole inserts or replaces a role. All violations are collected into
// a single ValidationError and nothing is applied when any exist. On success
// the generation advances and listeners are notified before returning, so
// no caller can observe a stale cached decision for the affected role after
// this call is acknowledged.
func (c *Catalog) UpsertRole(role Role) error {
	c.mu.Lock()
	verr := &ValidationError{}
	if role.ID == "" {
		verr.add("role id required")
	}
	if role.Name == "" {
		verr.add("role %q: display name required", role.ID)
	}
	for id, existing := range c.roles {
		if id != role.ID && existing.Hierarchy == role.Hierarchy {
			verr.add("role %q: hierarchy %d already used by role %q", role.ID, role.Hierarchy, id)
		}
	}
	c.validatePermissions(role, verr)
	if err := verr.orNil(); err != nil {
		c.mu.Unlock()
		return err
	}

	role.UpdatedAt = c.clock()
	c.roles[role.ID] = cloneRole(role)
	c.generation++
	mutation := Mutation{Generation: c.generation, Roles: []RoleID{role.ID}}
	c.mu.Unlock()

	c.notify(mutation)
	return nil
}

// Validate checks the active configuration and returns every violation
// found. Run at startup and after any import.
func (c *Catalog) Validate() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.validateLocked()
}

// Export serializes the active configuration.
func (c *Catalog) Export() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := Snapshot{
		Roles:     make([]Role, 0, len(c.roles)),
		Resources: make([]ResourceDefinition, 0, len(c.resources)),
		Routes:    make([]RouteMapping, 0, len(c.routes)),
		Security:  c.security,
		Cache:     c.cache,
	}
	for _, role := range c.roles {
		snap.Roles = append(snap.Roles, cloneRole(role))
	}
	sort.Slice(snap.Roles, func(i, j int) bool { return snap.Roles[i].Hierarchy > snap.Roles[j].Hierarchy })
	for _, res := range c.resources {
		snap.Resources = append(snap.Resources, cloneResource(res))
	}
	sort.Slice(snap.Resources, func(i, j int) bool { return snap.Resources[i].Name < snap.Resources[j].Name })
	for _, route := range c.routes {
		required := make([]Permission, len(route.Required))
		copy(required, route.Required)
		snap.Routes = append(snap.Routes, RouteMapping{Pattern: route.Pattern, Required: required})
	}
	sort.Slice(snap.Routes, func(i, j int) bool { return snap.Routes[i].Pattern < snap.Routes[j].Pattern })
	return snap
}

// Import replaces the whole configuration with the snapshot, all or
// nothing: when validation fails the previously active configuration stays
// untouched. On success every listener is notified of a full reload.
func (c *Catalog) Import(snap Snapshot) error {
	staged, err := stageSnapshot(snap)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.roles = staged.roles
	c.resources = staged.resources
	c.routes = staged.routes
	c.security = staged.security
	c.cache = staged.cache
	c.generation++
	mutation := Mutation{Generation: c.generation, FullReload: true}
	c.mu.Unlock()

	c.notify(mutation)
	return nil
}

type stagedCatalog struct {
	roles     map[RoleID]Role
	resources map[string]ResourceDefinition
	routes    map[string]RouteMapping
	security  SecuritySettings
	cache     CacheSettings
}

func stageSnapshot(snap Snapshot) (*stagedCatalog, error) {
	staged := &stagedCatalog{
		roles:     make(map[RoleID]Role, len(snap.Roles)),
		resources: make(map[string]ResourceDefinition, len(snap.Resources)),
		routes:    make(map[string]RouteMapping, len(snap.Routes)),
		security:  snap.Security,
		cache:     snap.Cache,
	}
	verr := &ValidationError{}
	for _, res := range snap.Resources {
		if _, dup := staged.resources[res.Name]; dup {
			verr.add("resource %q declared twice", res.Name)
			continue
		}
		staged.resources[res.Name] = cloneResource(res)
	}
	for _, role := range snap.Roles {
		if _, dup := staged.roles[role.ID]; dup {
			verr.add("role %q declared twice", role.ID)
			continue
		}
		staged.roles[role.ID] = cloneRole(role)
	}
	for _, route := range snap.Routes {
		if _, dup := staged.routes[route.Pattern]; dup {
			verr.add("route %q declared twice", route.Pattern)
			continue
		}
		required := make([]Permission, len(route.Required))
		copy(required, route.Required)
		staged.routes[route.Pattern] = RouteMapping{Pattern: route.Pattern, Required: required}
	}

	check := &Catalog{
		roles:     staged.roles,
		resources: staged.resources,
		routes:    staged.routes,
		security:  staged.security,
		cache:     staged.cache,
	}
	verr.Violations = append(verr.Violations, check.validateLocked()...)
	if err := verr.orNil(); err != nil {
		return nil, err
	}
	return staged, nil
}

// validateLocked applies the full rule set; callers hold at least the read
// lock (or own the catalog exclusively during staging).
func (c *Catalog) validateLocked() []string {
	verr := &ValidationError{}
	if len(c.roles) == 0 {
		verr.add("at least one role required")
	}
	if len(c.resources) == 0 {
		verr.add("at least one resource required")
	}
	seen := make(map[int]RoleID, len(c.roles))
	for _, role := range sortedRoleIDs(c.roles) {
		r := c.roles[role]
		if other, dup := seen[r.Hierarchy]; dup {
			verr.add("roles %q and %q share hierarchy %d", other, r.ID, r.Hierarchy)
		} else {
			seen[r.Hierarchy] = r.ID
		}
		c.validatePermissions(r, verr)
	}
	for _, pattern := range sortedRoutePatterns(c.routes) {
		for _, perm := range c.routes[pattern].Required {
			if perm.Resource == ResourceWildcard {
				continue
			}
			if _, ok := c.resources[perm.Resource]; !ok {
				verr.add("route %q references unknown resource %q", pattern, perm.Resource)
			}
		}
	}
	if c.cache.TTL <= 0 {
		verr.add("cache ttl must be positive, got %s", c.cache.TTL)
	}
	if c.security.MaxFailedAttempts <= 0 {
		verr.add("max failed attempts must be positive, got %d", c.security.MaxFailedAttempts)
	}
	if c.security.LockoutDuration <= 0 {
		verr.add("lockout duration must be positive, got %s", c.security.LockoutDuration)
	}
	return verr.Violations
}

// validatePermissions checks that every permission of a role references a
// declared resource (wildcard excepted), a declared action (manage
// excepted) and a declared scope.
func (c *Catalog) validatePermissions(role Role, verr *ValidationError) {
	for _, perm := range role.Permissions {
		if perm.Scope != ScopeAll && perm.Scope != ScopeOwn {
			verr.add("role %q: unknown scope %q", role.ID, perm.Scope)
		}
		if perm.Resource == ResourceWildcard {
			continue
		}
		res, ok := c.resources[perm.Resource]
		if !ok {
			verr.add("role %q: permission references unknown resource %q", role.ID, perm.Resource)
			continue
		}
		if perm.Action != ActionManage && !contains(res.Actions, perm.Action) {
			verr.add("role %q: resource %q does not declare action %q", role.ID, perm.Resource, perm.Action)
		}
		if !containsScope(res.Scopes, perm.Scope) {
			verr.add("role %q: resource %q does not declare scope %q", role.ID, perm.Resource, perm.Scope)
		}
	}
}

func (c *Catalog) notify(m Mutation) {
	c.listenerMu.RLock()
	listeners := make([]MutationListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.listenerMu.RUnlock()
	for _, l := range listeners {
		l.CatalogMutated(m)
	}
}

func cloneRole(role Role) Role {
	perms := make([]Permission, len(role.Permissions))
	copy(perms, role.Permissions)
	role.Permissions = perms
	return role
}

func cloneResource(res ResourceDefinition) ResourceDefinition {
	actions := make([]string, len(res.Actions))
	copy(actions, res.Actions)
	scopes := make([]Scope, len(res.Scopes))
	copy(scopes, res.Scopes)
	res.Actions = actions
	res.Scopes = scopes
	return res
}

func sortedRoleIDs(roles map[RoleID]Role) []RoleID {
	ids := make([]RoleID, 0, len(roles))
	for id := range roles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortedRoutePatterns(routes map[string]RouteMapping) []string {
	patterns := make([]string, 0, len(routes))
	for pattern := range routes {
		patterns = append(patterns, pattern)
	}
	sort.Strings(patterns)
	return patterns
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func containsScope(scopes []Scope, want Scope) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}
