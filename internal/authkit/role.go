package authkit

// Role is the authorization label attached to a profile. Absence of a stored
// role is a valid state and resolves to RoleUser.
type Role string

// Known roles.
const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole maps stored text onto a known role, defaulting to RoleUser.
func ParseRole(value string) Role {
	switch Role(value) {
	case RoleAdmin:
		return RoleAdmin
	case RoleUser:
		return RoleUser
	default:
		return RoleUser
	}
}
