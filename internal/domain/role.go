package domain

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleEmployee Role = "EMPLOYEE"
	RoleAdmin    Role = "ADMIN"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RoleCustomer, RoleEmployee, RoleAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, s)
	}
}

// Privileged roles book straight into SCHEDULED and see every appointment.
func (r Role) Privileged() bool {
	return r == RoleEmployee || r == RoleAdmin
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   int64
	Role Role
}

// SystemActor is used by background jobs.
var SystemActor = Actor{ID: 0, Role: RoleAdmin}
