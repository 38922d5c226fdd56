// gateway/model/roles.go
package model

// Platform roles as issued by the identity provider.
const (
	RoleGuest     = "guest"
	RoleMember    = "member"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
	RoleService   = "service"
)

// Permissions guarding gateway routes.
const (
	PermMembersRead    = "members:read"
	PermMembersWrite   = "members:write"
	PermAnalyticsRead  = "analytics:read"
	PermAnalyticsWrite = "analytics:write"
	PermGraphRead      = "graph:read"
	PermGraphWrite     = "graph:write"
	PermAdminAll       = "admin:all"
)

// RolePermissions maps roles to their granted permissions. Authorization is a
// table lookup, not branching logic; an unknown role simply grants nothing.
var RolePermissions = map[string][]string{
	RoleGuest: {
		PermMembersRead,
	},
	RoleMember: {
		PermMembersRead,
		PermMembersWrite,
		PermGraphRead,
	},
	RoleModerator: {
		PermMembersRead,
		PermMembersWrite,
		PermGraphRead,
		PermGraphWrite,
		PermAnalyticsRead,
	},
	RoleAdmin: {
		PermMembersRead,
		PermMembersWrite,
		PermGraphRead,
		PermGraphWrite,
		PermAnalyticsRead,
		PermAnalyticsWrite,
		PermAdminAll,
	},
	RoleService: {
		PermAnalyticsRead,
		PermAnalyticsWrite,
		PermGraphRead,
	},
}

// PermissionsFor returns the deduplicated union of permissions for a set of
// roles. Unknown roles contribute nothing.
func PermissionsFor(roles []string) []string {
	seen := make(map[string]struct{})
	var perms []string
	for _, role := range roles {
		for _, p := range RolePermissions[role] {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			perms = append(perms, p)
		}
	}
	return perms
}

// HasPermission reports whether the permission set contains the required
// permission. PermAdminAll implies everything.
func HasPermission(perms []string, required string) bool {
	for _, p := range perms {
		if p == required || p == PermAdminAll {
			return true
		}
	}
	return false
}
