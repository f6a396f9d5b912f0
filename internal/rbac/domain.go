package rbac

import "time"

// ResourceWildcard matches every declared resource.
const ResourceWildcard = "*"

// ActionManage implies every action a resource declares.
const ActionManage = "manage"

// Scope narrows a permission to all objects of a resource or the
// principal's own objects. Kept as an open string type so the catalog,
// not the compiler, decides the valid set.
type Scope string

const (
	ScopeAll Scope = "all"
	ScopeOwn Scope = "own"
)

// RoleID identifies a role. Custom roles are added at runtime, so this is
// an open string type rather than a closed enum.
type RoleID string

// Well-known role identifiers seeded by the default catalog.
const (
	RoleAdmin  RoleID = "ADMIN"
	RoleEditor RoleID = "EDITOR"
	RoleViewer RoleID = "VIEWER"
)

// Permission is a resource/action/scope triple.
type Permission struct {
	Resource string `json:"resource" validate:"required"`
	Action   string `json:"action" validate:"required"`
	Scope    Scope  `json:"scope" validate:"required"`
}

// Role groups permissions under a unique hierarchy level. Hierarchy values
// order roles for "at least as privileged as" checks and must be unique
// across the catalog.
type Role struct {
	ID          RoleID       `json:"id" validate:"required"`
	Name        string       `json:"name" validate:"required"`
	Hierarchy   int          `json:"hierarchy"`
	Permissions []Permission `json:"permissions"`
	Custom      bool         `json:"custom"`
	System      bool         `json:"system"`
	UpdatedAt   time.Time    `json:"updated_at,omitzero"`
}

// ResourceDefinition declares a protected resource and what can be done to it.
type ResourceDefinition struct {
	Name    string   `json:"name" validate:"required"`
	Actions []string `json:"actions" validate:"min=1"`
	Scopes  []Scope  `json:"scopes" validate:"min=1"`
}

// RouteMapping resolves a path template to the permissions a caller must
// hold before invoking the handler behind it. It is lookup data for
// callers, never part of the decision logic itself.
type RouteMapping struct {
	Pattern  string       `json:"pattern" validate:"required"`
	Required []Permission `json:"required" validate:"min=1"`
}

// Reason explains a decision outcome.
type Reason string

const (
	ReasonGranted       Reason = "granted"
	ReasonNoMatch       Reason = "denied_no_match"
	ReasonScopeMismatch Reason = "denied_scope_mismatch"
)

// Decision is the evaluator's output. Matched carries the permission that
// granted access when Allowed is true. Decisions are ephemeral; only the
// audit sink ever persists them.
type Decision struct {
	Allowed bool        `json:"allowed"`
	Matched *Permission `json:"matched,omitempty"`
	Reason  Reason      `json:"reason"`
}

// SecuritySettings are account-lockout thresholds consumed by the
// surrounding service. The catalog validates them; it never applies them.
type SecuritySettings struct {
	MaxFailedAttempts int           `json:"max_failed_attempts"`
	LockoutDuration   time.Duration `json:"lockout_duration"`
}

// CacheSettings controls the decision cache.
type CacheSettings struct {
	TTL             time.Duration `json:"ttl"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
	MaxEntries      int           `json:"max_entries"`
}

// CheckRequest carries one inbound permission check.
type CheckRequest struct {
	PrincipalID        string
	Role               RoleID
	Resource           string
	Action             string
	Scope              Scope
	OwnershipSatisfied bool
}
