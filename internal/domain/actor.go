package domain

// Roles carried in the access token.
const (
	RoleProducer = "produttore"
	RoleCharity  = "ente"
	RoleAdmin    = "admin"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID    string
	Email string
	Role  string
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// ValidRole reports whether role is one the service knows about.
func ValidRole(role string) bool {
	switch role {
	case RoleProducer, RoleCharity, RoleAdmin:
		return true
	}
	return false
}
