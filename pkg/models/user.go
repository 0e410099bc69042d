package models

// UserRole represents the role carried in a verified access token
type UserRole string

const (
	RoleCustomer UserRole = "customer"
	RoleDriver   UserRole = "driver"
	RoleAdmin    UserRole = "admin"
)

// Valid reports whether the role is one the settlement API recognises
func (r UserRole) Valid() bool {
	switch r {
	case RoleCustomer, RoleDriver, RoleAdmin:
		return true
	default:
		return false
	}
}
