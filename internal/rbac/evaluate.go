package rbac

// Evaluate decides whether the given role grants the requested permission.
// It is a pure function: no I/O, no cache interaction, deterministic for a
// fixed role value. The cache wraps it without duplicating any of its logic.
//
// Matching rules: a role permission matches when its resource equals the
// requested resource or is the wildcard, and its action equals the requested
// action or is "manage". An "all"-scoped match grants unconditionally; an
// "own"-scoped match grants only when the caller proved ownership, otherwise
// scanning continues because a broader grant may appear later. When matches
// existed but none granted, the denial is a scope mismatch rather than a
// no-match.
func Evaluate(role Role, requested Permission, ownershipSatisfied bool) Decision {
	matched := false
	var own *Permission
	for i := range role.Permissions {
		p := role.Permissions[i]
		if p.Resource != requested.Resource && p.Resource != ResourceWildcard {
			continue
		}
		if p.Action != requested.Action && p.Action != ActionManage {
			continue
		}
		matched = true
		if p.Scope == ScopeAll {
			return Decision{Allowed: true, Matched: &p, Reason: ReasonGranted}
		}
		if p.Scope == ScopeOwn && own == nil {
			own = &p
		}
	}
	if own != nil && ownershipSatisfied {
		return Decision{Allowed: true, Matched: own, Reason: ReasonGranted}
	}
	if matched {
		return Decision{Reason: ReasonScopeMismatch}
	}
	return Decision{Reason: ReasonNoMatch}
}
