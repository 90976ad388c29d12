package domain

import (
	"testing"
	"time"

	"github.com/Domenick1991/autoservice/internal/calendar"
	"github.com/stretchr/testify/assert"
)

func TestEventID_Deterministic(t *testing.T) {
	a := EventID(42, NotificationScheduled, 1)
	assert.Equal(t, a, EventID(42, NotificationScheduled, 1))
	assert.NotEqual(t, a, EventID(42, NotificationScheduled, 3))
	assert.NotEqual(t, a, EventID(43, NotificationScheduled, 1))
	assert.NotEqual(t, a, EventID(42, NotificationStarted, 1))
}

func TestLatestEvent_MatchesLiveEventID(t *testing.T) {
	appt := &Appointment{
		ID:          7,
		CustomerID:  3,
		Status:      StatusScheduled,
		Version:     1,
		Reservation: &Reservation{Date: calendar.DateOf(2025, 11, 10), Session: calendar.Morning, SlotNumber: 3},
		UpdatedAt:   time.Date(2025, 11, 1, 9, 0, 0, 0, time.UTC),
	}

	live := TransitionEvent(appt, StatusPending)
	backfilled := LatestEvent(appt)
	assert.Equal(t, live.ID, backfilled.ID)
	assert.Equal(t, NotificationScheduled, backfilled.Type)
	assert.Contains(t, live.Message, "PENDING to SCHEDULED")
	assert.Contains(t, live.Message, "2025-11-10 MORNING slot 3")

	appt.Version = 0
	appt.Status = StatusPending
	assert.Equal(t, CreationEvent(appt).ID, LatestEvent(appt).ID)
}

func TestCreationEvent_Quote(t *testing.T) {
	appt := &Appointment{ID: 9, CustomerID: 1, VehicleID: 2, Status: StatusQuoteRequested}
	ev := CreationEvent(appt)
	assert.Equal(t, NotificationQuoteRequested, ev.Type)
	assert.Equal(t, EventID(9, NotificationQuoteRequested, 0), ev.ID)
}
