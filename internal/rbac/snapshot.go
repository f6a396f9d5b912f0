package rbac

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Snapshot is the serialized form of a catalog: the permission config
// document supplied at startup and on reload, and the payload produced by
// Export. Import validates a snapshot in full before committing it.
type Snapshot struct {
	Roles     []Role               `json:"roles" validate:"min=1,dive"`
	Resources []ResourceDefinition `json:"resources" validate:"min=1,dive"`
	Routes    []RouteMapping       `json:"routes" validate:"dive"`
	Security  SecuritySettings     `json:"security"`
	Cache     CacheSettings        `json:"cache"`
}

var snapshotValidator = validator.New()

// DecodeSnapshot parses and shape-checks a JSON config document. Semantic
// validation (hierarchy uniqueness, resource references) happens on Import.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("rbac: decode snapshot: %w", err)
	}
	if err := snapshotValidator.Struct(snap); err != nil {
		return Snapshot{}, fmt.Errorf("rbac: snapshot shape: %w", err)
	}
	return snap, nil
}

// EncodeSnapshot serializes a snapshot for export.
func EncodeSnapshot(snap Snapshot) ([]byte, error) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("rbac: encode snapshot: %w", err)
	}
	return data, nil
}

// DefaultSnapshot returns the built-in catalog used when no config document
// is supplied: the three system roles over the admin system's resources.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		Roles: []Role{
			{
				ID:        RoleAdmin,
				Name:      "Administrator",
				Hierarchy: 100,
				System:    true,
				Permissions: []Permission{
					{Resource: ResourceWildcard, Action: ActionManage, Scope: ScopeAll},
				},
			},
			{
				ID:        RoleEditor,
				Name:      "Editor",
				Hierarchy: 50,
				System:    true,
				Permissions: []Permission{
					{Resource: "content", Action: ActionManage, Scope: ScopeAll},
					{Resource: "media", Action: ActionManage, Scope: ScopeAll},
					{Resource: "products", Action: "view", Scope: ScopeAll},
					{Resource: "products", Action: "update", Scope: ScopeOwn},
				},
			},
			{
				ID:        RoleViewer,
				Name:      "Viewer",
				Hierarchy: 10,
				System:    true,
				Permissions: []Permission{
					{Resource: "content", Action: "view", Scope: ScopeAll},
					{Resource: "media", Action: "view", Scope: ScopeAll},
					{Resource: "products", Action: "view", Scope: ScopeAll},
				},
			},
		},
		Resources: []ResourceDefinition{
			{Name: "users", Actions: []string{"view", "create", "update", "delete"}, Scopes: []Scope{ScopeAll, ScopeOwn}},
			{Name: "roles", Actions: []string{"view", "update"}, Scopes: []Scope{ScopeAll}},
			{Name: "content", Actions: []string{"view", "create", "update", "delete", "publish"}, Scopes: []Scope{ScopeAll, ScopeOwn}},
			{Name: "media", Actions: []string{"view", "upload", "delete"}, Scopes: []Scope{ScopeAll, ScopeOwn}},
			{Name: "products", Actions: []string{"view", "create", "update", "delete"}, Scopes: []Scope{ScopeAll, ScopeOwn}},
			{Name: "audit", Actions: []string{"view", "export"}, Scopes: []Scope{ScopeAll}},
			{Name: "reports", Actions: []string{"view", "export"}, Scopes: []Scope{ScopeAll}},
		},
		Routes: []RouteMapping{
			{Pattern: "/admin/users", Required: []Permission{{Resource: "users", Action: "view", Scope: ScopeAll}}},
			{Pattern: "/admin/roles", Required: []Permission{{Resource: "roles", Action: "view", Scope: ScopeAll}}},
			{Pattern: "/admin/content", Required: []Permission{{Resource: "content", Action: "view", Scope: ScopeAll}}},
			{Pattern: "/admin/media", Required: []Permission{{Resource: "media", Action: "view", Scope: ScopeAll}}},
			{Pattern: "/admin/audit", Required: []Permission{{Resource: "audit", Action: "view", Scope: ScopeAll}}},
		},
		Security: SecuritySettings{
			MaxFailedAttempts: 5,
			LockoutDuration:   15 * time.Minute,
		},
		Cache: CacheSettings{
			TTL:             5 * time.Minute,
			CleanupInterval: time.Hour,
		},
	}
}
