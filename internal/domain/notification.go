package domain

import (
	"fmt"
	"time"

	"github.com/Domenick1991/autoservice/internal/calendar"
	"github.com/google/uuid"
)

type NotificationType string

const (
	NotificationNewAppointment NotificationType = "NEW_APPOINTMENT"
	NotificationScheduled      NotificationType = "APPOINTMENT_SCHEDULED"
	NotificationStarted        NotificationType = "APPOINTMENT_STARTED"
	NotificationAwaitingParts  NotificationType = "AWAITING_PARTS"
	NotificationCompleted      NotificationType = "APPOINTMENT_COMPLETED"
	NotificationCancelled      NotificationType = "APPOINTMENT_CANCELLED"
	NotificationQuoteRequested NotificationType = "QUOTE_REQUESTED"
	NotificationQuoteSent      NotificationType = "QUOTE_SENT"
	NotificationReminder       NotificationType = "APPOINTMENT_REMINDER"
)

var statusNotifications = map[AppointmentStatus]NotificationType{
	StatusPending:                  NotificationNewAppointment,
	StatusScheduled:                NotificationScheduled,
	StatusInProgress:               NotificationStarted,
	StatusAwaitingParts:            NotificationAwaitingParts,
	StatusCompleted:                NotificationCompleted,
	StatusCancelled:                NotificationCancelled,
	StatusQuoteRequested:           NotificationQuoteRequested,
	StatusAwaitingCustomerApproval: NotificationQuoteSent,
}

// NotificationEvent is immutable once emitted. Read is client-local state and
// never travels over the wire.
type NotificationEvent struct {
	ID            string           `json:"id"`
	Title         string           `json:"title"`
	Message       string           `json:"message"`
	AppointmentID int64            `json:"appointmentId"`
	Type          NotificationType `json:"notificationType"`
	TargetRole    Role             `json:"targetRole"`
	Timestamp     time.Time        `json:"timestamp"`
	Read          bool             `json:"-"`
}

var eventNamespace = uuid.MustParse("6b0f3c1e-4a52-4c8e-9d38-2f1a7c5e9b10")

// EventID is stable for (appointment, type, transition sequence), so a live
// delivery and a catch-up copy of the same change collapse to one record.
func EventID(appointmentID int64, t NotificationType, seq int) string {
	return uuid.NewSHA1(eventNamespace, []byte(fmt.Sprintf("appointment:%d:%s:%d", appointmentID, t, seq))).String()
}

// CreationEvent describes a freshly committed appointment.
func CreationEvent(a *Appointment) NotificationEvent {
	t := NotificationNewAppointment
	title := "New appointment"
	msg := fmt.Sprintf("Appointment #%d booked%s", a.ID, describeSlot(a.Reservation))
	if a.Status == StatusQuoteRequested {
		t = NotificationQuoteRequested
		title = "Quote requested"
		msg = fmt.Sprintf("Customer #%d requested a quote for vehicle #%d", a.CustomerID, a.VehicleID)
	}
	return NotificationEvent{
		ID:            EventID(a.ID, t, a.Version),
		Title:         title,
		Message:       msg,
		AppointmentID: a.ID,
		Type:          t,
		Timestamp:     a.UpdatedAt,
	}
}

// TransitionEvent describes the change from -> a.Status that produced a.Version.
func TransitionEvent(a *Appointment, from AppointmentStatus) NotificationEvent {
	t := statusNotifications[a.Status]
	return NotificationEvent{
		ID:            EventID(a.ID, t, a.Version),
		Title:         statusTitle(a.Status),
		Message:       fmt.Sprintf("Appointment #%d changed from %s to %s%s", a.ID, from, a.Status, describeSlot(a.Reservation)),
		AppointmentID: a.ID,
		Type:          t,
		Timestamp:     a.UpdatedAt,
	}
}

// LatestEvent rebuilds the event for the most recent change of a, used when
// backfilling from an appointment listing.
func LatestEvent(a *Appointment) NotificationEvent {
	if a.Version == 0 {
		return CreationEvent(a)
	}
	t := statusNotifications[a.Status]
	return NotificationEvent{
		ID:            EventID(a.ID, t, a.Version),
		Title:         statusTitle(a.Status),
		Message:       fmt.Sprintf("Appointment #%d is now %s%s", a.ID, a.Status, describeSlot(a.Reservation)),
		AppointmentID: a.ID,
		Type:          t,
		Timestamp:     a.UpdatedAt,
	}
}

func ReminderEvent(a *Appointment, at time.Time) NotificationEvent {
	return NotificationEvent{
		ID:            EventID(a.ID, NotificationReminder, a.Version),
		Title:         "Upcoming appointment",
		Message:       fmt.Sprintf("Reminder: appointment #%d%s", a.ID, describeSlot(a.Reservation)),
		AppointmentID: a.ID,
		Type:          NotificationReminder,
		Timestamp:     at,
	}
}

func statusTitle(s AppointmentStatus) string {
	switch s {
	case StatusScheduled:
		return "Appointment scheduled"
	case StatusInProgress:
		return "Service started"
	case StatusAwaitingParts:
		return "Waiting for parts"
	case StatusCompleted:
		return "Service completed"
	case StatusCancelled:
		return "Appointment cancelled"
	case StatusAwaitingCustomerApproval:
		return "Quote ready"
	default:
		return "Appointment updated"
	}
}

func describeSlot(r *Reservation) string {
	if r == nil {
		return ""
	}
	return fmt.Sprintf(" for %s %s slot %d", r.Date.Format(calendar.DateFormat), r.Session, r.SlotNumber)
}
