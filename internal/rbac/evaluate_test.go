package rbac

import "testing"

func editorRole() Role {
	return Role{
		ID:        RoleEditor,
		Name:      "Editor",
		Hierarchy: 50,
		Permissions: []Permission{
			{Resource: "content", Action: ActionManage, Scope: ScopeAll},
			{Resource: "media", Action: ActionManage, Scope: ScopeAll},
			{Resource: "products", Action: "view", Scope: ScopeAll},
			{Resource: "products", Action: "update", Scope: ScopeOwn},
		},
	}
}

func adminRole() Role {
	return Role{
		ID:        RoleAdmin,
		Name:      "Administrator",
		Hierarchy: 100,
		Permissions: []Permission{
			{Resource: ResourceWildcard, Action: ActionManage, Scope: ScopeAll},
		},
	}
}

func TestEvaluate(t *testing.T) {
	cases := []struct {
		name      string
		role      Role
		requested Permission
		ownership bool
		allowed   bool
		reason    Reason
	}{
		{
			name:      "editor updates own product",
			role:      editorRole(),
			requested: Permission{Resource: "products", Action: "update", Scope: ScopeOwn},
			ownership: true,
			allowed:   true,
			reason:    ReasonGranted,
		},
		{
			name:      "editor updates foreign product",
			role:      editorRole(),
			requested: Permission{Resource: "products", Action: "update", Scope: ScopeOwn},
			ownership: false,
			allowed:   false,
			reason:    ReasonScopeMismatch,
		},
		{
			name:      "editor deletes user",
			role:      editorRole(),
			requested: Permission{Resource: "users", Action: "delete", Scope: ScopeAll},
			allowed:   false,
			reason:    ReasonNoMatch,
		},
		{
			name:      "admin wildcard covers undeclared action",
			role:      adminRole(),
			requested: Permission{Resource: "users", Action: "delete", Scope: ScopeAll},
			allowed:   true,
			reason:    ReasonGranted,
		},
		{
			name:      "admin wildcard without ownership",
			role:      adminRole(),
			requested: Permission{Resource: "products", Action: "update", Scope: ScopeOwn},
			ownership: false,
			allowed:   true,
			reason:    ReasonGranted,
		},
		{
			name:      "manage implies publish",
			role:      editorRole(),
			requested: Permission{Resource: "content", Action: "publish", Scope: ScopeAll},
			allowed:   true,
			reason:    ReasonGranted,
		},
		{
			name: "all grant wins over earlier own grant",
			role: Role{
				ID: "MIXED",
				Permissions: []Permission{
					{Resource: "content", Action: "view", Scope: ScopeOwn},
					{Resource: "content", Action: "view", Scope: ScopeAll},
				},
			},
			requested: Permission{Resource: "content", Action: "view", Scope: ScopeAll},
			ownership: false,
			allowed:   true,
			reason:    ReasonGranted,
		},
		{
			name:      "empty role denies",
			role:      Role{ID: "EMPTY"},
			requested: Permission{Resource: "content", Action: "view", Scope: ScopeAll},
			allowed:   false,
			reason:    ReasonNoMatch,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dec := Evaluate(tc.role, tc.requested, tc.ownership)
			if dec.Allowed != tc.allowed {
				t.Fatalf("allowed = %v, want %v", dec.Allowed, tc.allowed)
			}
			if dec.Reason != tc.reason {
				t.Fatalf("reason = %q, want %q", dec.Reason, tc.reason)
			}
			if tc.allowed && dec.Matched == nil {
				t.Fatal("granted decision missing the matched permission")
			}
			if !tc.allowed && dec.Matched != nil {
				t.Fatalf("denied decision carries matched permission %+v", dec.Matched)
			}
		})
	}
}

func TestEvaluateReportsAllScopedMatch(t *testing.T) {
	role := Role{
		ID: "MIXED",
		Permissions: []Permission{
			{Resource: "content", Action: "view", Scope: ScopeOwn},
			{Resource: "content", Action: "view", Scope: ScopeAll},
		},
	}
	dec := Evaluate(role, Permission{Resource: "content", Action: "view", Scope: ScopeAll}, false)
	if !dec.Allowed {
		t.Fatal("expected grant")
	}
	if dec.Matched.Scope != ScopeAll {
		t.Fatalf("matched scope = %q, want %q", dec.Matched.Scope, ScopeAll)
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	role := editorRole()
	requested := Permission{Resource: "products", Action: "update", Scope: ScopeOwn}
	first := Evaluate(role, requested, true)
	for i := 0; i < 100; i++ {
		dec := Evaluate(role, requested, true)
		if dec.Allowed != first.Allowed || dec.Reason != first.Reason {
			t.Fatalf("run %d diverged: %+v vs %+v", i, dec, first)
		}
	}
}

func TestEvaluateRequestedScopeDoesNotRestrictMatching(t *testing.T) {
	// A broad grant covers a narrow request: asking for own-scope access
	// against an all-scoped permission still grants.
	role := Role{
		ID:          "BROAD",
		Permissions: []Permission{{Resource: "content", Action: "view", Scope: ScopeAll}},
	}
	dec := Evaluate(role, Permission{Resource: "content", Action: "view", Scope: ScopeOwn}, false)
	if !dec.Allowed {
		t.Fatalf("expected grant, got %+v", dec)
	}
}
