// gateway/model/roles_test.go
package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPermissionsFor(t *testing.T) {
	t.Run("union without duplicates", func(t *testing.T) {
		perms := PermissionsFor([]string{RoleMember, RoleModerator})

		seen := make(map[string]int)
		for _, p := range perms {
			seen[p]++
		}
		for p, n := range seen {
			assert.Equalf(t, 1, n, "permission %s appears %d times", p, n)
		}
		assert.Contains(t, perms, PermAnalyticsRead)
		assert.Contains(t, perms, PermMembersWrite)
	})

	t.Run("unknown role grants nothing", func(t *testing.T) {
		assert.Empty(t, PermissionsFor([]string{"superuser"}))
		assert.Empty(t, PermissionsFor(nil))
	})

	t.Run("unknown role does not poison known ones", func(t *testing.T) {
		perms := PermissionsFor([]string{"superuser", RoleGuest})
		assert.Equal(t, []string{PermMembersRead}, perms)
	})
}

func TestHasPermission(t *testing.T) {
	member := PermissionsFor([]string{RoleMember})

	assert.True(t, HasPermission(member, PermMembersRead))
	assert.True(t, HasPermission(member, PermGraphRead))
	assert.False(t, HasPermission(member, PermAnalyticsWrite))
	assert.False(t, HasPermission(nil, PermMembersRead))

	admin := PermissionsFor([]string{RoleAdmin})
	assert.True(t, HasPermission(admin, "something:not-even-listed"))
}

func TestClaimsRemainingLifetime(t *testing.T) {
	now := time.Unix(1700000000, 0)
	c := &Claims{ExpiresAt: now.Add(10 * time.Minute)}

	assert.Equal(t, 10*time.Minute, c.RemainingLifetime(now))
	assert.Zero(t, c.RemainingLifetime(c.ExpiresAt))
	assert.Zero(t, c.RemainingLifetime(c.ExpiresAt.Add(time.Second)))
}
