package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/autoservice/internal/calendar"
	"github.com/Domenick1991/autoservice/internal/domain"
	"github.com/Domenick1991/autoservice/internal/notify"
	"github.com/Domenick1991/autoservice/internal/repository"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const TypeAppointmentReminder = "appointment:reminder"

type Payload struct {
	AppointmentID int64 `json:"appointmentId"`
	Version       int   `json:"version"`
}

// TaskID makes re-scheduling the same appointment version a no-op.
func TaskID(appointmentID int64, version int) string {
	return fmt.Sprintf("reminder:%d:%d", appointmentID, version)
}

func NewReminderTask(a *domain.Appointment, fireAt time.Time) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(Payload{AppointmentID: a.ID, Version: a.Version})
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypeAppointmentReminder, b)
	opts := []asynq.Option{
		asynq.ProcessAt(fireAt),
		asynq.TaskID(TaskID(a.ID, a.Version)),
		asynq.MaxRetry(3),
	}
	return task, opts, nil
}

type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type Scheduler struct {
	client   Enqueuer
	calendar *calendar.Calendar
	lead     time.Duration
	now      func() time.Time
	log      *zap.Logger
}

func NewScheduler(client Enqueuer, cal *calendar.Calendar, lead time.Duration, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{client: client, calendar: cal, lead: lead, now: time.Now, log: log}
}

// Schedule enqueues a reminder lead before the slot starts. Moments already in
// the past are skipped.
func (s *Scheduler) Schedule(ctx context.Context, a *domain.Appointment) error {
	if a.Reservation == nil {
		return nil
	}
	slot, err := s.calendar.Slot(a.Reservation.Date, a.Reservation.Session, a.Reservation.SlotNumber)
	if err != nil {
		return err
	}
	fireAt := slot.Start.Add(-s.lead)
	if !fireAt.After(s.now()) {
		s.log.Debug("reminder moment passed, skipping", zap.Int64("appointment_id", a.ID), zap.Time("fire_at", fireAt))
		return nil
	}

	task, opts, err := NewReminderTask(a, fireAt)
	if err != nil {
		return err
	}
	if _, err := s.client.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("enqueue reminder: %w", err)
	}
	s.log.Info("reminder scheduled", zap.Int64("appointment_id", a.ID), zap.Time("fire_at", fireAt))
	return nil
}

type Notifier interface {
	Dispatch(ctx context.Context, event domain.NotificationEvent, targets ...notify.Target)
}

type Handler struct {
	appointments repository.AppointmentRepository
	notifier     Notifier
	now          func() time.Time
	log          *zap.Logger
}

func NewHandler(appointments repository.AppointmentRepository, notifier Notifier, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{appointments: appointments, notifier: notifier, now: time.Now, log: log}
}

// ProcessTask reminds the customer only if the appointment is still SCHEDULED.
func (h *Handler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var p Payload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("decode reminder payload: %v: %w", err, asynq.SkipRetry)
	}

	a, err := h.appointments.GetByID(ctx, p.AppointmentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.log.Warn("reminder for unknown appointment", zap.Int64("appointment_id", p.AppointmentID))
			return nil
		}
		return err
	}
	if a.Status != domain.StatusScheduled {
		h.log.Info("appointment no longer scheduled, reminder dropped",
			zap.Int64("appointment_id", a.ID), zap.String("status", string(a.Status)))
		return nil
	}

	h.notifier.Dispatch(ctx, domain.ReminderEvent(a, h.now().UTC()), notify.Customer(a.CustomerID))
	return nil
}

func NewServeMux(h *Handler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeAppointmentReminder, h)
	return mux
}

var _ asynq.Handler = (*Handler)(nil)
