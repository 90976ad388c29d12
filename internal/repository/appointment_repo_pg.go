package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Domenick1991/autoservice/internal/calendar"
	"github.com/Domenick1991/autoservice/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	uniqueViolation = "23505"
	pgSlotIndex     = "appointments_active_slot_uidx"
)

const appointmentColumns = `id, customer_id, vehicle_id, service_ids, appointment_date, session_period, slot_number,
	status, customer_notes, technician_notes, assigned_employee_ids, version, created_at, updated_at`

type PGAppointmentRepository struct {
	db *pgxpool.Pool
}

func NewAppointmentRepository(db *pgxpool.Pool) AppointmentRepository {
	return &PGAppointmentRepository{db: db}
}

// Migrate applies the embedded schema files in name order.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		sql, err := migrations.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		if _, err := db.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

// Create inserts the appointment. The partial unique index on the slot makes the
// availability check and the reservation one atomic statement.
func (r *PGAppointmentRepository) Create(ctx context.Context, a *domain.Appointment) error {
	var (
		date    *time.Time
		session *string
		slot    *int32
	)
	if a.Reservation != nil {
		d := a.Reservation.Date
		s := string(a.Reservation.Session)
		n := int32(a.Reservation.SlotNumber)
		date, session, slot = &d, &s, &n
	}

	err := r.db.QueryRow(ctx, `INSERT INTO appointments
		(customer_id, vehicle_id, service_ids, appointment_date, session_period, slot_number, status, customer_notes, assigned_employee_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, version, created_at, updated_at`,
		a.CustomerID, a.VehicleID, nonNil(a.ServiceIDs), date, session, slot, a.Status, a.CustomerNotes, nonNil(a.AssignedEmployeeIDs)).
		Scan(&a.ID, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if isSlotViolation(err) {
			return slotConflict(a)
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func isSlotViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == pgSlotIndex
}

func (r *PGAppointmentRepository) GetByID(ctx context.Context, id int64) (*domain.Appointment, error) {
	row := r.db.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id=$1`, id)
	a, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("appointment %d: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

func (r *PGAppointmentRepository) UpdateStatus(ctx context.Context, id int64, expectedVersion int, status domain.AppointmentStatus, technicianNotes *string) (*domain.Appointment, error) {
	row := r.db.QueryRow(ctx, `UPDATE appointments
		SET status=$1, technician_notes=COALESCE($2, technician_notes), version=version+1, updated_at=now()
		WHERE id=$3 AND version=$4
		RETURNING `+appointmentColumns, status, technicianNotes, id, expectedVersion)
	a, err := scanAppointment(row)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update appointment status: %w", err)
	}
	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("appointment %d: %w", id, domain.ErrConcurrentUpdate)
}

func (r *PGAppointmentRepository) AssignEmployees(ctx context.Context, id int64, employeeIDs []int64) (*domain.Appointment, error) {
	row := r.db.QueryRow(ctx, `UPDATE appointments SET assigned_employee_ids=$1, updated_at=now() WHERE id=$2 RETURNING `+appointmentColumns,
		nonNil(employeeIDs), id)
	a, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("appointment %d: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("assign employees: %w", err)
	}
	return a, nil
}

func (r *PGAppointmentRepository) ReservedSlots(ctx context.Context, date time.Time, session calendar.Session) ([]int, error) {
	rows, err := r.db.Query(ctx, `SELECT slot_number FROM appointments
		WHERE appointment_date=$1 AND session_period=$2 AND status <> ALL($3)
		ORDER BY slot_number`, date, string(session), statusNames(domain.TerminalStatuses))
	if err != nil {
		return nil, fmt.Errorf("reserved slots: %w", err)
	}
	defer rows.Close()

	slots := make([]int, 0)
	for rows.Next() {
		var n int32
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		slots = append(slots, int(n))
	}
	return slots, rows.Err()
}

func (r *PGAppointmentRepository) List(ctx context.Context, filter ListFilter) ([]domain.Appointment, error) {
	rows, err := r.db.Query(ctx, `SELECT `+appointmentColumns+` FROM appointments
		WHERE ($1 = 0 OR customer_id = $1) AND (cardinality($2::text[]) = 0 OR status = ANY($2))
		ORDER BY updated_at DESC, id DESC
		LIMIT $3`, filter.CustomerID, statusNames(filter.Statuses), filter.limit())
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PGAppointmentRepository) ListPendingBefore(ctx context.Context, date time.Time) ([]domain.Appointment, error) {
	rows, err := r.db.Query(ctx, `SELECT `+appointmentColumns+` FROM appointments
		WHERE status=$1 AND appointment_date < $2
		ORDER BY appointment_date, id`, domain.StatusPending, date)
	if err != nil {
		return nil, fmt.Errorf("list stale pending: %w", err)
	}
	return collectAppointments(rows)
}

func collectAppointments(rows pgx.Rows) ([]domain.Appointment, error) {
	defer rows.Close()

	out := make([]domain.Appointment, 0)
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanAppointment(row pgx.Row) (*domain.Appointment, error) {
	var (
		a       domain.Appointment
		date    *time.Time
		session *string
		slot    *int32
	)
	if err := row.Scan(&a.ID, &a.CustomerID, &a.VehicleID, &a.ServiceIDs, &date, &session, &slot,
		&a.Status, &a.CustomerNotes, &a.TechnicianNotes, &a.AssignedEmployeeIDs, &a.Version, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if date != nil && session != nil && slot != nil {
		a.Reservation = &domain.Reservation{
			Date:       calendar.DayOf(*date),
			Session:    calendar.Session(*session),
			SlotNumber: int(*slot),
		}
	}
	return &a, nil
}

var _ AppointmentRepository = (*PGAppointmentRepository)(nil)
