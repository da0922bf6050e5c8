package models

// OperatorRole controls access to operator endpoints. It is carried in the
// bearer token issued by the clinic's auth service.
type OperatorRole string

const (
	RoleAdmin     OperatorRole = "admin"
	RoleCounselor OperatorRole = "counselor"
)

// Valid reports whether r is a known role.
func (r OperatorRole) Valid() bool {
	return r == RoleAdmin || r == RoleCounselor
}
