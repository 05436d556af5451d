package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupRoleParam(t *testing.T) {
	tests := []struct {
		selector string
		role     RoleTag
		nickname string
		ok       bool
	}{
		{"troll", RoleTroll, "Internet Troll", true},
		{"  Government ", RoleGovernment, "Prime Minister", true},
		{"deev", RoleDEEV, "DEEV Member", true},
		{"bogus", RoleOther, "Anonymous User", false},
		{"", RoleOther, "Anonymous User", false},
	}
	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			p, ok := LookupRoleParam(tt.selector)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.role, p.Role)
			assert.Equal(t, tt.nickname, p.DefaultNickname)
		})
	}
}

func TestEveryRoleHasParamAndInfo(t *testing.T) {
	for _, r := range Roles {
		assert.True(t, r.Valid())
		assert.NotEmpty(t, r.Info().Badge, r)
		found := false
		for _, p := range RoleParams {
			if p.Role == r {
				found = true
			}
		}
		assert.True(t, found, "no selector for %s", r)
	}
}

func TestUnknownRoleFallsBack(t *testing.T) {
	assert.Equal(t, DefaultRole, RoleTag("Admin").Normalize())
	assert.Equal(t, RoleOther.Info(), RoleTag("Admin").Info())

	var c Comment
	require.NoError(t, json.Unmarshal([]byte(`{"authorRole":"Moderator"}`), &c))
	assert.Equal(t, RoleOther, c.AuthorRole)

	require.NoError(t, json.Unmarshal([]byte(`{"authorRole":"journalist"}`), &c))
	assert.Equal(t, RoleJournalist, c.AuthorRole)
}

func TestActiveRoles(t *testing.T) {
	got := ActiveRoles(RoleTroll)
	assert.Len(t, got, len(Roles)-2)
	assert.NotContains(t, got, RoleTroll)
	assert.NotContains(t, got, RoleOther)
	assert.Equal(t, RoleJournalist, got[0])
}
