package rbac

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSnapshot(t *testing.T) {
	doc := `{
		"roles": [
			{"id": "ADMIN", "name": "Administrator", "hierarchy": 100,
			 "permissions": [{"resource": "*", "action": "manage", "scope": "all"}]}
		],
		"resources": [
			{"name": "content", "actions": ["view", "update"], "scopes": ["all", "own"]}
		],
		"routes": [
			{"pattern": "/admin/content", "required": [{"resource": "content", "action": "view", "scope": "all"}]}
		],
		"cache": {"ttl": 300000000000}
	}`

	snap, err := DecodeSnapshot([]byte(doc))
	require.NoError(t, err)
	require.Len(t, snap.Roles, 1)
	assert.Equal(t, RoleAdmin, snap.Roles[0].ID)
	assert.Equal(t, 100, snap.Roles[0].Hierarchy)
	require.Len(t, snap.Resources, 1)
	assert.Equal(t, []Scope{ScopeAll, ScopeOwn}, snap.Resources[0].Scopes)
	assert.Equal(t, 5*time.Minute, snap.Cache.TTL)
}

func TestDecodeSnapshotRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"invalid json", `{"roles": [`},
		{"no roles", `{"roles": [], "resources": [{"name": "content", "actions": ["view"], "scopes": ["all"]}]}`},
		{"no resources", `{"roles": [{"id": "ADMIN", "name": "Administrator"}], "resources": []}`},
		{"role without name", `{"roles": [{"id": "ADMIN"}], "resources": [{"name": "content", "actions": ["view"], "scopes": ["all"]}]}`},
		{"resource without actions", `{"roles": [{"id": "ADMIN", "name": "Administrator"}], "resources": [{"name": "content", "actions": [], "scopes": ["all"]}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeSnapshot([]byte(tc.doc))
			assert.Error(t, err)
		})
	}
}

func TestEncodeSnapshotRoundTrip(t *testing.T) {
	original := DefaultSnapshot()
	data, err := EncodeSnapshot(original)
	require.NoError(t, err)

	decoded, err := DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}
