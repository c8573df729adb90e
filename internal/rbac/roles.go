package rbac

// Role names. Keep these stable; they are carried in issued tokens.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

// IsKnownRole reports whether role is one the API issues tokens for.
func IsKnownRole(role string) bool {
	switch role {
	case RoleAdmin, RoleOperator, RoleViewer:
		return true
	default:
		return false
	}
}
