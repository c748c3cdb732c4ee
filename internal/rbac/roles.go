package rbac

// Role names. Keep these stable; they are part of the auth contract.
//
// admin: full control, including campaign lifecycle and contact imports.
// operator: runs campaigns (start/pause/resume/stop) but cannot manage users.
// viewer: read-only access to campaigns, calls and stats.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

func IsKnown(role string) bool {
	switch role {
	case RoleAdmin, RoleOperator, RoleViewer:
		return true
	default:
		return false
	}
}
