package notify

import (
	"strconv"
	"strings"

	"github.com/Domenick1991/autoservice/internal/domain"
)

// Target is one recipient of an event. UserID matters only for roles whose
// topics are per user.
type Target struct {
	Role   domain.Role
	UserID int64
}

func Staff() []Target {
	return []Target{{Role: domain.RoleEmployee}, {Role: domain.RoleAdmin}}
}

func Customer(id int64) Target {
	return Target{Role: domain.RoleCustomer, UserID: id}
}

const userIDPlaceholder = "{userId}"

// RoutingTable maps a role to the topic templates it listens on. A role may
// own several aliases; every alias receives the same event.
type RoutingTable map[domain.Role][]string

var DefaultRoutes = RoutingTable{
	domain.RoleAdmin:    {"/topic/notifications/admin", "/topic/admin/appointments"},
	domain.RoleEmployee: {"/topic/notifications/employee", "/topic/employee/appointments"},
	domain.RoleCustomer: {"/topic/notifications/customer/{userId}", "/topic/customer/{userId}/appointments"},
}

func (t RoutingTable) Topics(target Target) []string {
	templates := t[target.Role]
	out := make([]string, 0, len(templates))
	for _, tpl := range templates {
		out = append(out, strings.ReplaceAll(tpl, userIDPlaceholder, strconv.FormatInt(target.UserID, 10)))
	}
	return out
}
