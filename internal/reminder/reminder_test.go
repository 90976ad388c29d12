package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Domenick1991/autoservice/internal/calendar"
	"github.com/Domenick1991/autoservice/internal/domain"
	"github.com/Domenick1991/autoservice/internal/notify"
	"github.com/Domenick1991/autoservice/internal/repository"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockEnqueuer struct {
	mock.Mock
}

func (m *MockEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, task, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*asynq.TaskInfo), args.Error(1)
}

type recordingNotifier struct {
	events  []domain.NotificationEvent
	targets [][]notify.Target
}

func (n *recordingNotifier) Dispatch(_ context.Context, event domain.NotificationEvent, targets ...notify.Target) {
	n.events = append(n.events, event)
	n.targets = append(n.targets, targets)
}

func scheduled(slot int) *domain.Appointment {
	return &domain.Appointment{
		ID:         11,
		CustomerID: 42,
		Status:     domain.StatusScheduled,
		Version:    1,
		Reservation: &domain.Reservation{
			Date:       calendar.DateOf(2025, time.November, 10),
			Session:    calendar.Morning,
			SlotNumber: slot,
		},
	}
}

func newScheduler(client Enqueuer, now time.Time) *Scheduler {
	s := NewScheduler(client, calendar.Default(time.UTC), 24*time.Hour, nil)
	s.now = func() time.Time { return now }
	return s
}

func TestSchedule_EnqueuesLeadBeforeSlot(t *testing.T) {
	client := &MockEnqueuer{}
	client.On("EnqueueContext", mock.Anything, mock.Anything, mock.Anything).Return(&asynq.TaskInfo{}, nil)

	s := newScheduler(client, time.Date(2025, 11, 1, 9, 0, 0, 0, time.UTC))
	require.NoError(t, s.Schedule(context.Background(), scheduled(3)))

	client.AssertNumberOfCalls(t, "EnqueueContext", 1)
	task := client.Calls[0].Arguments.Get(1).(*asynq.Task)
	assert.Equal(t, TypeAppointmentReminder, task.Type())

	var p Payload
	require.NoError(t, json.Unmarshal(task.Payload(), &p))
	assert.Equal(t, Payload{AppointmentID: 11, Version: 1}, p)
	assert.Equal(t, "reminder:11:1", TaskID(p.AppointmentID, p.Version))
}

func TestSchedule_SkipsPastMoment(t *testing.T) {
	client := &MockEnqueuer{}
	// slot 3 starts 2025-11-10 09:00, so the reminder was due 2025-11-09 09:00
	s := newScheduler(client, time.Date(2025, 11, 9, 12, 0, 0, 0, time.UTC))

	require.NoError(t, s.Schedule(context.Background(), scheduled(3)))
	client.AssertNotCalled(t, "EnqueueContext", mock.Anything, mock.Anything, mock.Anything)

	quote := &domain.Appointment{ID: 12, Status: domain.StatusScheduled}
	require.NoError(t, s.Schedule(context.Background(), quote))
}

func TestSchedule_DuplicateTaskIsNotAnError(t *testing.T) {
	client := &MockEnqueuer{}
	client.On("EnqueueContext", mock.Anything, mock.Anything, mock.Anything).Return(nil, asynq.ErrTaskIDConflict)

	s := newScheduler(client, time.Date(2025, 11, 1, 9, 0, 0, 0, time.UTC))
	assert.NoError(t, s.Schedule(context.Background(), scheduled(1)))
}

func TestSchedule_EnqueueFailure(t *testing.T) {
	client := &MockEnqueuer{}
	client.On("EnqueueContext", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("redis down"))

	s := newScheduler(client, time.Date(2025, 11, 1, 9, 0, 0, 0, time.UTC))
	assert.Error(t, s.Schedule(context.Background(), scheduled(1)))
}

func TestHandler_RemindsOnlyScheduled(t *testing.T) {
	repo := repository.NewMemoryAppointmentRepository()
	ctx := context.Background()

	a := scheduled(2)
	a.Status = domain.StatusPending
	require.NoError(t, repo.Create(ctx, a))
	_, err := repo.UpdateStatus(ctx, a.ID, 0, domain.StatusScheduled, nil)
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	h := NewHandler(repo, notifier, nil)

	task, _, err := NewReminderTask(&domain.Appointment{ID: a.ID, Version: 1}, time.Now())
	require.NoError(t, err)
	require.NoError(t, h.ProcessTask(ctx, task))
	require.Len(t, notifier.events, 1)
	assert.Equal(t, domain.NotificationReminder, notifier.events[0].Type)
	assert.Equal(t, []notify.Target{notify.Customer(42)}, notifier.targets[0])

	_, err = repo.UpdateStatus(ctx, a.ID, 1, domain.StatusCancelled, nil)
	require.NoError(t, err)
	require.NoError(t, h.ProcessTask(ctx, task))
	assert.Len(t, notifier.events, 1)
}

func TestHandler_BadPayloadSkipsRetry(t *testing.T) {
	h := NewHandler(repository.NewMemoryAppointmentRepository(), &recordingNotifier{}, nil)

	err := h.ProcessTask(context.Background(), asynq.NewTask(TypeAppointmentReminder, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	missing, _ := json.Marshal(Payload{AppointmentID: 404})
	assert.NoError(t, h.ProcessTask(context.Background(), asynq.NewTask(TypeAppointmentReminder, missing)))
}
