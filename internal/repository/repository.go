package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Domenick1991/autoservice/internal/calendar"
	"github.com/Domenick1991/autoservice/internal/domain"
)

// AppointmentRepository owns appointments and, through them, slot reservations.
// Create must reject a second live appointment on the same slot with
// domain.ErrSlotConflict as a single atomic step.
type AppointmentRepository interface {
	Create(ctx context.Context, appointment *domain.Appointment) error
	GetByID(ctx context.Context, id int64) (*domain.Appointment, error)
	UpdateStatus(ctx context.Context, id int64, expectedVersion int, status domain.AppointmentStatus, technicianNotes *string) (*domain.Appointment, error)
	AssignEmployees(ctx context.Context, id int64, employeeIDs []int64) (*domain.Appointment, error)
	ReservedSlots(ctx context.Context, date time.Time, session calendar.Session) ([]int, error)
	List(ctx context.Context, filter ListFilter) ([]domain.Appointment, error)
	ListPendingBefore(ctx context.Context, date time.Time) ([]domain.Appointment, error)
}

type VehicleRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Vehicle, error)
	IsOwnedBy(ctx context.Context, vehicleID, customerID int64) (bool, error)
}

// ListFilter narrows List. Zero CustomerID and empty Statuses match everything.
type ListFilter struct {
	CustomerID int64
	Statuses   []domain.AppointmentStatus
	Limit      int
}

const DefaultListLimit = 10

func (f ListFilter) limit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

func statusNames(statuses []domain.AppointmentStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

func slotConflict(a *domain.Appointment) error {
	if a.Reservation == nil {
		return domain.ErrSlotConflict
	}
	return fmt.Errorf("%w: %s", domain.ErrSlotConflict, a.Reservation.Key())
}
