package rbac

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	catalog, err := NewCatalog(DefaultSnapshot())
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	return catalog
}

func TestCatalogDefaultSnapshotValid(t *testing.T) {
	catalog := newTestCatalog(t)
	if violations := catalog.Validate(); len(violations) > 0 {
		t.Fatalf("default catalog invalid: %v", violations)
	}
}

func TestCatalogUpsertRoleBumpsGeneration(t *testing.T) {
	catalog := newTestCatalog(t)
	before := catalog.Generation()

	err := catalog.UpsertRole(Role{
		ID:        "SUPPORT",
		Name:      "Support",
		Hierarchy: 30,
		Custom:    true,
		Permissions: []Permission{
			{Resource: "content", Action: "view", Scope: ScopeAll},
		},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if got := catalog.Generation(); got != before+1 {
		t.Fatalf("generation = %d, want %d", got, before+1)
	}

	role, err := catalog.GetRole("SUPPORT")
	if err != nil {
		t.Fatalf("get role: %v", err)
	}
	if role.UpdatedAt.IsZero() {
		t.Fatal("updated_at not stamped")
	}
}

func TestCatalogUpsertRoleCollectsAllViolations(t *testing.T) {
	catalog := newTestCatalog(t)
	before := catalog.Export()

	err := catalog.UpsertRole(Role{
		ID:        "BROKEN",
		Hierarchy: 50, // collides with EDITOR
		Permissions: []Permission{
			{Resource: "ghost", Action: "view", Scope: ScopeAll},
			{Resource: "content", Action: "teleport", Scope: ScopeAll},
			{Resource: "roles", Action: "view", Scope: "galaxy"},
		},
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}
	for _, want := range []string{"display name required", "hierarchy 50", "ghost", "teleport", "galaxy"} {
		found := false
		for _, v := range verr.Violations {
			if strings.Contains(v, want) {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("violations %v missing %q", verr.Violations, want)
		}
	}

	// Nothing applied.
	if !reflect.DeepEqual(catalog.Export(), before) {
		t.Fatal("failed upsert mutated the catalog")
	}
	if _, err := catalog.GetRole("BROKEN"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get rejected role: err = %v, want ErrNotFound", err)
	}
}

func TestCatalogImportAllOrNothing(t *testing.T) {
	catalog := newTestCatalog(t)
	before := catalog.Export()
	beforeGen := catalog.Generation()

	bad := DefaultSnapshot()
	bad.Roles = append(bad.Roles, Role{ID: "DUPE", Name: "Dupe", Hierarchy: 100})
	if err := catalog.Import(bad); err == nil {
		t.Fatal("expected import to fail on hierarchy collision")
	}
	if catalog.Generation() != beforeGen {
		t.Fatal("failed import bumped the generation")
	}
	if !reflect.DeepEqual(catalog.Export(), before) {
		t.Fatal("failed import mutated the catalog")
	}
}

func TestCatalogImportRejectsDuplicateDeclarations(t *testing.T) {
	snap := DefaultSnapshot()
	snap.Roles = append(snap.Roles, snap.Roles[0])
	if _, err := NewCatalog(snap); err == nil {
		t.Fatal("expected duplicate role declaration to be rejected")
	}
}

func TestCatalogExportImportRoundTrip(t *testing.T) {
	catalog := newTestCatalog(t)
	exported := catalog.Export()

	data, err := EncodeSnapshot(exported)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	reimported, err := NewCatalog(decoded)
	if err != nil {
		t.Fatalf("reimport: %v", err)
	}
	if !reflect.DeepEqual(reimported.Export(), exported) {
		t.Fatal("round-tripped catalog differs from the original")
	}
}

func TestCatalogNotifiesListenersBeforeReturn(t *testing.T) {
	catalog := newTestCatalog(t)
	var seen []Mutation
	catalog.Subscribe(listenerFunc(func(m Mutation) { seen = append(seen, m) }))

	err := catalog.UpsertRole(Role{
		ID: "SUPPORT", Name: "Support", Hierarchy: 30,
		Permissions: []Permission{{Resource: "content", Action: "view", Scope: ScopeAll}},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if len(seen) != 1 {
		t.Fatalf("mutations seen = %d, want 1", len(seen))
	}
	if seen[0].FullReload || len(seen[0].Roles) != 1 || seen[0].Roles[0] != "SUPPORT" {
		t.Fatalf("unexpected mutation %+v", seen[0])
	}

	if err := catalog.Import(DefaultSnapshot()); err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(seen) != 2 || !seen[1].FullReload {
		t.Fatalf("expected full-reload mutation, got %+v", seen)
	}
}

func TestCatalogListRolesOrdering(t *testing.T) {
	catalog := newTestCatalog(t)
	roles := catalog.ListRoles()
	if len(roles) != 3 {
		t.Fatalf("roles = %d, want 3", len(roles))
	}
	for i := 1; i < len(roles); i++ {
		if roles[i].Hierarchy > roles[i-1].Hierarchy {
			t.Fatalf("roles not ordered by hierarchy: %v before %v", roles[i-1].ID, roles[i].ID)
		}
	}
}

func TestCatalogRouteMapping(t *testing.T) {
	catalog := newTestCatalog(t)
	required, err := catalog.GetRouteMapping("/admin/content")
	if err != nil {
		t.Fatalf("route lookup: %v", err)
	}
	want := []Permission{{Resource: "content", Action: "view", Scope: ScopeAll}}
	if !reflect.DeepEqual(required, want) {
		t.Fatalf("required = %v, want %v", required, want)
	}
	if _, err := catalog.GetRouteMapping("/admin/unknown"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unmapped route err = %v, want ErrNotFound", err)
	}
}

func TestCatalogSettingsValidation(t *testing.T) {
	snap := DefaultSnapshot()
	snap.Cache.TTL = 0
	snap.Security.MaxFailedAttempts = 0
	snap.Security.LockoutDuration = -time.Minute
	_, err := NewCatalog(snap)
	if err == nil {
		t.Fatal("expected settings violations")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error type = %T", err)
	}
	if len(verr.Violations) != 3 {
		t.Fatalf("violations = %v, want exactly the three settings rules", verr.Violations)
	}
}

type listenerFunc func(Mutation)

func (f listenerFunc) CatalogMutated(m Mutation) { f(m) }
