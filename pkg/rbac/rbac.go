// Package rbac provides role-based access control checks for the admin API.
package rbac

import "github.com/NicolasHaas/screenshare/pkg/model"

// permissionMatrix maps roles to their allowed permissions.
var permissionMatrix = map[model.Role]map[model.Permission]bool{
	model.RoleAdmin: {
		model.PermViewSessions: true,
		model.PermViewHistory:  true,
		model.PermViewInfo:     true,
		model.PermStartSession: true,
		model.PermEndSession:   true,
	},
	model.RoleOperator: {
		model.PermViewSessions: true,
		model.PermViewInfo:     true,
		model.PermStartSession: true,
		model.PermEndSession:   true,
	},
	model.RoleViewer: {
		model.PermViewSessions: true,
		model.PermViewInfo:     true,
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role model.Role, perm model.Permission) bool {
	perms, ok := permissionMatrix[role]
	if !ok {
		return false
	}
	return perms[perm]
}

// RequirePermission returns an error message if the role lacks the permission, or empty string if allowed.
func RequirePermission(role model.Role, perm model.Permission) string {
	if HasPermission(role, perm) {
		return ""
	}
	return "permission denied: " + perm.String() + " requires higher role"
}
