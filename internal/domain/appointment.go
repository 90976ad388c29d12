package domain

import (
	"time"

	"github.com/Domenick1991/autoservice/internal/calendar"
)

type AppointmentStatus string

const (
	StatusPending                  AppointmentStatus = "PENDING"
	StatusScheduled                AppointmentStatus = "SCHEDULED"
	StatusInProgress               AppointmentStatus = "IN_PROGRESS"
	StatusAwaitingParts            AppointmentStatus = "AWAITING_PARTS"
	StatusCompleted                AppointmentStatus = "COMPLETED"
	StatusCancelled                AppointmentStatus = "CANCELLED"
	StatusQuoteRequested           AppointmentStatus = "QUOTE_REQUESTED"
	StatusAwaitingCustomerApproval AppointmentStatus = "AWAITING_CUSTOMER_APPROVAL"
)

var AllStatuses = []AppointmentStatus{
	StatusPending,
	StatusScheduled,
	StatusInProgress,
	StatusAwaitingParts,
	StatusCompleted,
	StatusCancelled,
	StatusQuoteRequested,
	StatusAwaitingCustomerApproval,
}

// TerminalStatuses release the slot held by an appointment.
var TerminalStatuses = []AppointmentStatus{StatusCompleted, StatusCancelled}

func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s AppointmentStatus) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Reservation binds an appointment to one slot.
type Reservation struct {
	Date       time.Time
	Session    calendar.Session
	SlotNumber int
}

func (r Reservation) Key() calendar.SlotKey {
	return calendar.SlotKey{Date: r.Date, Session: r.Session, Number: r.SlotNumber}
}

type Appointment struct {
	ID                  int64
	CustomerID          int64
	VehicleID           int64
	ServiceIDs          []int64
	Reservation         *Reservation
	Status              AppointmentStatus
	CustomerNotes       string
	TechnicianNotes     string
	AssignedEmployeeIDs []int64
	Version             int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// HoldsSlot reports whether the appointment currently occupies its reservation.
func (a *Appointment) HoldsSlot() bool {
	return a.Reservation != nil && !a.Status.Terminal()
}

type Vehicle struct {
	ID         int64
	CustomerID int64
	Plate      string
	Make       string
	Model      string
	CreatedAt  time.Time
}
