package auth

import "errors"

// ErrForbidden carries the message shown when a role lacks a capability.
var ErrForbidden = errors.New("You do not have permission to perform this action.")

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Resources and the actions each role may take on them.
var roleRegistry = map[string]map[string][]string{
	RoleAdmin: {
		"pipeline":  {"create", "read", "update", "delete"},
		"user":      {"ban", "list", "create", "read", "update", "impersonate", "set-role", "delete", "set-password", "revoke"},
		"settings":  {"create", "read", "update", "delete"},
		"dashboard": {"read"},
		"logs":      {"list", "read"},
	},
	RoleUser: {
		"dashboard": {"read"},
	},
}

// AvailableRoles lists the roles the registry knows.
func AvailableRoles() []string {
	return []string{RoleAdmin, RoleUser}
}

// HasPermission reports whether role may perform action on resource.
// Unknown roles have no permissions.
func HasPermission(role, resource, action string) bool {
	statements, ok := roleRegistry[role]
	if !ok {
		return false
	}
	for _, allowed := range statements[resource] {
		if allowed == action {
			return true
		}
	}
	return false
}

func RequirePermission(role, resource, action string) error {
	if HasPermission(role, resource, action) {
		return nil
	}
	return ErrForbidden
}
