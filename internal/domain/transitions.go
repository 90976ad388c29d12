package domain

import "fmt"

type edge struct {
	from AppointmentStatus
	to   AppointmentStatus
}

// TransitionRule describes one legal edge of the appointment lifecycle.
type TransitionRule struct {
	Roles       []Role
	NotifyStaff bool
}

var (
	anyone = []Role{RoleCustomer, RoleEmployee, RoleAdmin}
	staff  = []Role{RoleEmployee, RoleAdmin}
)

var transitions = map[edge]TransitionRule{
	{StatusPending, StatusScheduled}:        {Roles: staff},
	{StatusPending, StatusCancelled}:        {Roles: anyone, NotifyStaff: true},
	{StatusScheduled, StatusInProgress}:     {Roles: staff},
	{StatusScheduled, StatusCancelled}:      {Roles: anyone, NotifyStaff: true},
	{StatusInProgress, StatusAwaitingParts}: {Roles: staff, NotifyStaff: true},
	{StatusInProgress, StatusCompleted}:     {Roles: staff, NotifyStaff: true},
	{StatusAwaitingParts, StatusInProgress}: {Roles: staff},
	{StatusAwaitingParts, StatusCancelled}:  {Roles: staff, NotifyStaff: true},

	// quote sub-flow, never holds a slot
	{StatusQuoteRequested, StatusAwaitingCustomerApproval}: {Roles: staff},
	{StatusQuoteRequested, StatusCancelled}:                {Roles: anyone, NotifyStaff: true},
	{StatusAwaitingCustomerApproval, StatusCompleted}:      {Roles: []Role{RoleCustomer, RoleAdmin}, NotifyStaff: true},
	{StatusAwaitingCustomerApproval, StatusCancelled}:      {Roles: []Role{RoleCustomer, RoleAdmin}, NotifyStaff: true},
}

// Rule returns the rule for from->to, if the edge exists.
func Rule(from, to AppointmentStatus) (TransitionRule, bool) {
	r, ok := transitions[edge{from, to}]
	return r, ok
}

// CheckTransition validates an edge for the acting role.
func CheckTransition(from, to AppointmentStatus, role Role) (TransitionRule, error) {
	rule, ok := transitions[edge{from, to}]
	if !ok {
		return TransitionRule{}, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	for _, r := range rule.Roles {
		if r == role {
			return rule, nil
		}
	}
	return TransitionRule{}, fmt.Errorf("%w: role %s may not move %s -> %s", ErrForbidden, role, from, to)
}

// NextStatuses lists the statuses a role may move an appointment to.
func NextStatuses(from AppointmentStatus, role Role) []AppointmentStatus {
	var out []AppointmentStatus
	for _, to := range AllStatuses {
		if _, err := CheckTransition(from, to, role); err == nil {
			out = append(out, to)
		}
	}
	return out
}
