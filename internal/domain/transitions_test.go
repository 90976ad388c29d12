package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var legalEdges = map[[2]AppointmentStatus]bool{
	{StatusPending, StatusScheduled}:                       true,
	{StatusPending, StatusCancelled}:                       true,
	{StatusScheduled, StatusInProgress}:                    true,
	{StatusScheduled, StatusCancelled}:                     true,
	{StatusInProgress, StatusAwaitingParts}:                true,
	{StatusInProgress, StatusCompleted}:                    true,
	{StatusAwaitingParts, StatusInProgress}:                true,
	{StatusAwaitingParts, StatusCancelled}:                 true,
	{StatusQuoteRequested, StatusAwaitingCustomerApproval}: true,
	{StatusQuoteRequested, StatusCancelled}:                true,
	{StatusAwaitingCustomerApproval, StatusCompleted}:      true,
	{StatusAwaitingCustomerApproval, StatusCancelled}:      true,
}

func TestCheckTransition_EveryUnlistedPairIsIllegal(t *testing.T) {
	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			if legalEdges[[2]AppointmentStatus{from, to}] {
				continue
			}
			for _, role := range []Role{RoleCustomer, RoleEmployee, RoleAdmin} {
				_, err := CheckTransition(from, to, role)
				assert.ErrorIs(t, err, ErrIllegalTransition, "%s -> %s as %s", from, to, role)
			}
		}
	}
}

func TestCheckTransition_ListedEdgesAllowStaff(t *testing.T) {
	for e := range legalEdges {
		_, err := CheckTransition(e[0], e[1], RoleAdmin)
		assert.NoError(t, err, "%s -> %s", e[0], e[1])
	}
}

func TestCheckTransition_Permissions(t *testing.T) {
	testCases := []struct {
		name    string
		from    AppointmentStatus
		to      AppointmentStatus
		role    Role
		wantErr error
	}{
		{"customer cannot complete", StatusInProgress, StatusCompleted, RoleCustomer, ErrForbidden},
		{"employee completes", StatusInProgress, StatusCompleted, RoleEmployee, nil},
		{"customer cancels pending", StatusPending, StatusCancelled, RoleCustomer, nil},
		{"customer cancels scheduled", StatusScheduled, StatusCancelled, RoleCustomer, nil},
		{"customer cannot cancel while awaiting parts", StatusAwaitingParts, StatusCancelled, RoleCustomer, ErrForbidden},
		{"customer cannot schedule", StatusPending, StatusScheduled, RoleCustomer, ErrForbidden},
		{"employee cannot accept quote", StatusAwaitingCustomerApproval, StatusCompleted, RoleEmployee, ErrForbidden},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := CheckTransition(tc.from, tc.to, tc.role)
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestTerminalStatusesHaveNoOutgoingEdges(t *testing.T) {
	for _, from := range TerminalStatuses {
		for _, to := range AllStatuses {
			_, ok := Rule(from, to)
			assert.False(t, ok, "%s -> %s", from, to)
		}
		assert.Empty(t, NextStatuses(from, RoleAdmin))
	}
}

func TestNextStatuses(t *testing.T) {
	assert.ElementsMatch(t, []AppointmentStatus{StatusScheduled, StatusCancelled}, NextStatuses(StatusPending, RoleEmployee))
	assert.Equal(t, []AppointmentStatus{StatusCancelled}, NextStatuses(StatusPending, RoleCustomer))
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("employee")
	require.NoError(t, err)
	assert.Equal(t, RoleEmployee, r)
	assert.True(t, r.Privileged())

	_, err = ParseRole("mechanic")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCode(t *testing.T) {
	assert.Equal(t, "SlotConflict", Code(ErrSlotConflict))
	assert.Equal(t, "", Code(assert.AnError))
	assert.True(t, Retryable(ErrSlotConflict))
	assert.False(t, Retryable(ErrIllegalTransition))
}
