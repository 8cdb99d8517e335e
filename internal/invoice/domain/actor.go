package domain

import "strings"

// Role is the clinic role of whoever triggered an operation.
type Role string

const (
	RoleDoctor       Role = "doctor"
	RolePharmacist   Role = "pharmacist"
	RoleCashier      Role = "cashier"
	RoleReceptionist Role = "receptionist"
	RoleAdmin        Role = "admin"
	RoleSystem       Role = "system"
)

// Actor identifies the user performing an operation.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) Valid() bool {
	return strings.TrimSpace(a.ID) != ""
}

func (r Role) Valid() bool {
	switch r {
	case RoleDoctor, RolePharmacist, RoleCashier, RoleReceptionist, RoleAdmin, RoleSystem:
		return true
	default:
		return false
	}
}
