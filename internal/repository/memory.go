package repository

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Domenick1991/autoservice/internal/calendar"
	"github.com/Domenick1991/autoservice/internal/domain"
)

// MemoryAppointmentRepository keeps appointments in process. It backs the
// "memory" database driver and the service tests.
type MemoryAppointmentRepository struct {
	mu     sync.RWMutex
	items  map[int64]*domain.Appointment
	active map[string]int64
	nextID int64
	now    func() time.Time
}

func NewMemoryAppointmentRepository() *MemoryAppointmentRepository {
	return &MemoryAppointmentRepository{
		items:  make(map[int64]*domain.Appointment),
		active: make(map[string]int64),
		now:    time.Now,
	}
}

// WithClock replaces the timestamp source.
func (r *MemoryAppointmentRepository) WithClock(now func() time.Time) *MemoryAppointmentRepository {
	r.now = now
	return r
}

func (r *MemoryAppointmentRepository) Create(_ context.Context, a *domain.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var key string
	if a.HoldsSlot() {
		key = a.Reservation.Key().String()
		if holder, taken := r.active[key]; taken {
			return fmt.Errorf("%w: %s held by appointment %d", domain.ErrSlotConflict, key, holder)
		}
	}

	r.nextID++
	now := r.now().UTC()
	a.ID = r.nextID
	a.Version = 0
	a.CreatedAt = now
	a.UpdatedAt = now

	r.items[a.ID] = cloneAppointment(a)
	if key != "" {
		r.active[key] = a.ID
	}
	return nil
}

func (r *MemoryAppointmentRepository) GetByID(_ context.Context, id int64) (*domain.Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.items[id]
	if !ok {
		return nil, fmt.Errorf("appointment %d: %w", id, domain.ErrNotFound)
	}
	return cloneAppointment(a), nil
}

func (r *MemoryAppointmentRepository) UpdateStatus(_ context.Context, id int64, expectedVersion int, status domain.AppointmentStatus, technicianNotes *string) (*domain.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.items[id]
	if !ok {
		return nil, fmt.Errorf("appointment %d: %w", id, domain.ErrNotFound)
	}
	if a.Version != expectedVersion {
		return nil, fmt.Errorf("appointment %d: %w", id, domain.ErrConcurrentUpdate)
	}

	held := a.HoldsSlot()
	a.Status = status
	if technicianNotes != nil {
		a.TechnicianNotes = *technicianNotes
	}
	a.Version++
	a.UpdatedAt = r.now().UTC()
	if held && !a.HoldsSlot() {
		delete(r.active, a.Reservation.Key().String())
	}
	return cloneAppointment(a), nil
}

func (r *MemoryAppointmentRepository) AssignEmployees(_ context.Context, id int64, employeeIDs []int64) (*domain.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.items[id]
	if !ok {
		return nil, fmt.Errorf("appointment %d: %w", id, domain.ErrNotFound)
	}
	a.AssignedEmployeeIDs = slices.Clone(nonNil(employeeIDs))
	a.UpdatedAt = r.now().UTC()
	return cloneAppointment(a), nil
}

func (r *MemoryAppointmentRepository) ReservedSlots(_ context.Context, date time.Time, session calendar.Session) ([]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	slots := make([]int, 0)
	for _, id := range r.active {
		res := r.items[id].Reservation
		if res.Date.Equal(date) && res.Session == session {
			slots = append(slots, res.SlotNumber)
		}
	}
	sort.Ints(slots)
	return slots, nil
}

func (r *MemoryAppointmentRepository) List(_ context.Context, filter ListFilter) ([]domain.Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Appointment, 0)
	for _, a := range r.items {
		if filter.CustomerID != 0 && a.CustomerID != filter.CustomerID {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, a.Status) {
			continue
		}
		out = append(out, *cloneAppointment(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit := filter.limit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryAppointmentRepository) ListPendingBefore(_ context.Context, date time.Time) ([]domain.Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Appointment, 0)
	for _, a := range r.items {
		if a.Status == domain.StatusPending && a.Reservation != nil && a.Reservation.Date.Before(date) {
			out = append(out, *cloneAppointment(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func cloneAppointment(a *domain.Appointment) *domain.Appointment {
	cp := *a
	cp.ServiceIDs = slices.Clone(a.ServiceIDs)
	cp.AssignedEmployeeIDs = slices.Clone(a.AssignedEmployeeIDs)
	if a.Reservation != nil {
		res := *a.Reservation
		cp.Reservation = &res
	}
	return &cp
}

type MemoryVehicleRepository struct {
	mu       sync.RWMutex
	vehicles map[int64]domain.Vehicle
}

func NewMemoryVehicleRepository(vehicles ...domain.Vehicle) *MemoryVehicleRepository {
	r := &MemoryVehicleRepository{vehicles: make(map[int64]domain.Vehicle, len(vehicles))}
	for _, v := range vehicles {
		r.Add(v)
	}
	return r
}

func (r *MemoryVehicleRepository) Add(v domain.Vehicle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vehicles[v.ID] = v
}

func (r *MemoryVehicleRepository) GetByID(_ context.Context, id int64) (*domain.Vehicle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.vehicles[id]
	if !ok {
		return nil, fmt.Errorf("vehicle %d: %w", id, domain.ErrNotFound)
	}
	return &v, nil
}

func (r *MemoryVehicleRepository) IsOwnedBy(_ context.Context, vehicleID, customerID int64) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.vehicles[vehicleID]
	return ok && v.CustomerID == customerID, nil
}

var (
	_ AppointmentRepository = (*MemoryAppointmentRepository)(nil)
	_ VehicleRepository     = (*MemoryVehicleRepository)(nil)
)
