package appointment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Domenick1991/autoservice/internal/calendar"
	"github.com/Domenick1991/autoservice/internal/domain"
	"github.com/Domenick1991/autoservice/internal/notify"
	"github.com/Domenick1991/autoservice/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAppointmentRepository struct {
	mock.Mock
}

func (m *MockAppointmentRepository) Create(ctx context.Context, a *domain.Appointment) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *MockAppointmentRepository) GetByID(ctx context.Context, id int64) (*domain.Appointment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Appointment), args.Error(1)
}

func (m *MockAppointmentRepository) UpdateStatus(ctx context.Context, id int64, expectedVersion int, status domain.AppointmentStatus, notes *string) (*domain.Appointment, error) {
	args := m.Called(ctx, id, expectedVersion, status, notes)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Appointment), args.Error(1)
}

func (m *MockAppointmentRepository) AssignEmployees(ctx context.Context, id int64, employeeIDs []int64) (*domain.Appointment, error) {
	args := m.Called(ctx, id, employeeIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Appointment), args.Error(1)
}

func (m *MockAppointmentRepository) ReservedSlots(ctx context.Context, date time.Time, session calendar.Session) ([]int, error) {
	args := m.Called(ctx, date, session)
	return args.Get(0).([]int), args.Error(1)
}

func (m *MockAppointmentRepository) List(ctx context.Context, filter repository.ListFilter) ([]domain.Appointment, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]domain.Appointment), args.Error(1)
}

func (m *MockAppointmentRepository) ListPendingBefore(ctx context.Context, date time.Time) ([]domain.Appointment, error) {
	args := m.Called(ctx, date)
	return args.Get(0).([]domain.Appointment), args.Error(1)
}

type MockCache struct {
	mock.Mock
}

func (m *MockCache) AcquireSlotLock(ctx context.Context, key calendar.SlotKey, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockCache) ReleaseSlotLock(ctx context.Context, key calendar.SlotKey) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockCache) Invalidate(ctx context.Context, date time.Time, session calendar.Session) error {
	args := m.Called(ctx, date, session)
	return args.Error(0)
}

type MockReminders struct {
	mock.Mock
}

func (m *MockReminders) Schedule(ctx context.Context, a *domain.Appointment) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

type dispatched struct {
	event   domain.NotificationEvent
	targets []notify.Target
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []dispatched
}

func (n *recordingNotifier) Dispatch(_ context.Context, event domain.NotificationEvent, targets ...notify.Target) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, dispatched{event: event, targets: targets})
}

func (n *recordingNotifier) all() []dispatched {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]dispatched(nil), n.sent...)
}

var (
	customer = domain.Actor{ID: 42, Role: domain.RoleCustomer}
	employee = domain.Actor{ID: 5, Role: domain.RoleEmployee}
	admin    = domain.Actor{ID: 1, Role: domain.RoleAdmin}

	clock = func() time.Time { return time.Date(2025, 11, 1, 10, 0, 0, 0, time.UTC) }
)

type fixture struct {
	repo     *repository.MemoryAppointmentRepository
	notifier *recordingNotifier
	service  *AppointmentService
}

func newFixture(opts ...Option) *fixture {
	repo := repository.NewMemoryAppointmentRepository().WithClock(clock)
	vehicles := repository.NewMemoryVehicleRepository(
		domain.Vehicle{ID: 7, CustomerID: 42, Plate: "KA01AB1234"},
		domain.Vehicle{ID: 8, CustomerID: 43, Plate: "KA02CD5678"},
	)
	notifier := &recordingNotifier{}
	opts = append([]Option{WithClock(clock), WithNotifier(notifier)}, opts...)
	return &fixture{
		repo:     repo,
		notifier: notifier,
		service:  NewAppointmentService(repo, vehicles, calendar.Default(time.UTC), opts...),
	}
}

func bookInput(slot int) BookInput {
	return BookInput{
		Actor:      customer,
		VehicleID:  7,
		ServiceIDs: []int64{3},
		Date:       "2025-11-10",
		Session:    "MORNING",
		SlotNumber: slot,
	}
}

func TestBook_CustomerGetsPendingAndStaffIsNotified(t *testing.T) {
	f := newFixture()

	a, err := f.service.Book(context.Background(), bookInput(3))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, a.Status)
	assert.Equal(t, int64(42), a.CustomerID)
	assert.Equal(t, 0, a.Version)
	assert.Equal(t, "2025-11-10:MORNING:3", a.Reservation.Key().String())

	sent := f.notifier.all()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.NotificationNewAppointment, sent[0].event.Type)
	assert.Equal(t, notify.Staff(), sent[0].targets)
	assert.Equal(t, domain.EventID(a.ID, domain.NotificationNewAppointment, 0), sent[0].event.ID)
}

func TestBook_StaffBooksScheduledForCustomer(t *testing.T) {
	reminders := &MockReminders{}
	reminders.On("Schedule", mock.Anything, mock.AnythingOfType("*domain.Appointment")).Return(nil)
	f := newFixture(WithReminders(reminders))

	input := bookInput(1)
	input.Actor = employee
	input.CustomerID = 42

	a, err := f.service.Book(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusScheduled, a.Status)
	assert.Equal(t, int64(42), a.CustomerID)

	sent := f.notifier.all()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].targets, notify.Customer(42))
	reminders.AssertNumberOfCalls(t, "Schedule", 1)
}

func TestBook_Rejections(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*BookInput)
		wantErr error
	}{
		{"malformed date", func(in *BookInput) { in.Date = "10/11/2025" }, domain.ErrInvalidRequest},
		{"past date", func(in *BookInput) { in.Date = "2025-10-31" }, domain.ErrInvalidRequest},
		{"unknown session", func(in *BookInput) { in.Session = "EVENING" }, domain.ErrInvalidRequest},
		{"slot zero", func(in *BookInput) { in.SlotNumber = 0 }, domain.ErrInvalidRequest},
		{"slot past N", func(in *BookInput) { in.SlotNumber = 6 }, domain.ErrInvalidRequest},
		{"no services", func(in *BookInput) { in.ServiceIDs = nil }, domain.ErrInvalidRequest},
		{"long notes", func(in *BookInput) { in.CustomerNotes = strings.Repeat("x", MaxNotesLength+1) }, domain.ErrInvalidRequest},
		{"staff without customer", func(in *BookInput) { in.Actor = admin }, domain.ErrInvalidRequest},
		{"customer books for another", func(in *BookInput) { in.CustomerID = 43 }, domain.ErrForbidden},
		{"foreign vehicle", func(in *BookInput) { in.VehicleID = 8 }, domain.ErrForbidden},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			input := bookInput(2)
			tc.mutate(&input)

			_, err := f.service.Book(context.Background(), input)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Empty(t, f.notifier.all())
		})
	}
}

func TestBook_ConcurrentRequestsForSameSlot(t *testing.T) {
	f := newFixture()
	const contenders = 20

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
		start     = make(chan struct{})
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.service.Book(context.Background(), bookInput(3))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if errors.Is(err, domain.ErrSlotConflict) {
				conflicts++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, contenders-1, conflicts)
	assert.Len(t, f.notifier.all(), 1)
	assert.True(t, domain.Retryable(domain.ErrSlotConflict))
}

func TestBook_DifferentSlotsDoNotConflict(t *testing.T) {
	f := newFixture()
	for slot := 1; slot <= calendar.DefaultSlotsPerSession; slot++ {
		_, err := f.service.Book(context.Background(), bookInput(slot))
		require.NoError(t, err)
	}
	_, err := f.service.Book(context.Background(), bookInput(5))
	assert.ErrorIs(t, err, domain.ErrSlotConflict)
}

func TestBook_CommitTimeout(t *testing.T) {
	repo := &MockAppointmentRepository{}
	repo.On("Create", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return(context.DeadlineExceeded)

	notifier := &recordingNotifier{}
	svc := NewAppointmentService(repo,
		repository.NewMemoryVehicleRepository(domain.Vehicle{ID: 7, CustomerID: 42}),
		calendar.Default(time.UTC),
		WithClock(clock), WithNotifier(notifier), WithCommitTimeout(20*time.Millisecond))

	_, err := svc.Book(context.Background(), bookInput(3))
	assert.ErrorIs(t, err, domain.ErrCommitTimeout)
	assert.True(t, domain.Retryable(err))
	assert.Empty(t, notifier.all())
}

func TestBook_HeldLockIsConflict(t *testing.T) {
	repo := &MockAppointmentRepository{}
	cache := &MockCache{}
	cache.On("AcquireSlotLock", mock.Anything, mock.Anything, 5*time.Second).Return(false, nil)

	svc := NewAppointmentService(repo,
		repository.NewMemoryVehicleRepository(domain.Vehicle{ID: 7, CustomerID: 42}),
		calendar.Default(time.UTC),
		WithClock(clock), WithCache(cache))

	_, err := svc.Book(context.Background(), bookInput(3))
	assert.ErrorIs(t, err, domain.ErrSlotConflict)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestBook_LockErrorFallsBackToStore(t *testing.T) {
	cache := &MockCache{}
	cache.On("AcquireSlotLock", mock.Anything, mock.Anything, mock.Anything).Return(false, errors.New("redis down"))
	cache.On("Invalidate", mock.Anything, calendar.DateOf(2025, time.November, 10), calendar.Morning).Return(nil)
	f := newFixture(WithCache(cache))

	_, err := f.service.Book(context.Background(), bookInput(3))
	require.NoError(t, err)
	cache.AssertExpectations(t)
	cache.AssertNotCalled(t, "ReleaseSlotLock", mock.Anything, mock.Anything)
}

func TestBook_LockReleasedAfterCommit(t *testing.T) {
	cache := &MockCache{}
	cache.On("AcquireSlotLock", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	cache.On("ReleaseSlotLock", mock.Anything, mock.Anything).Return(nil)
	cache.On("Invalidate", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f := newFixture(WithCache(cache))

	_, err := f.service.Book(context.Background(), bookInput(4))
	require.NoError(t, err)
	cache.AssertNumberOfCalls(t, "ReleaseSlotLock", 1)
}

func TestTransition_FullLifecycleEmitsOneEventPerStep(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	a, err := f.service.Book(ctx, bookInput(3))
	require.NoError(t, err)

	_, err = f.service.Transition(ctx, TransitionInput{ID: a.ID, Status: domain.StatusCompleted, Actor: employee})
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)

	steps := []domain.AppointmentStatus{domain.StatusScheduled, domain.StatusInProgress, domain.StatusCompleted}
	for i, to := range steps {
		updated, err := f.service.Transition(ctx, TransitionInput{ID: a.ID, Status: to, Actor: employee})
		require.NoError(t, err, "step %s", to)
		assert.Equal(t, to, updated.Status)
		assert.Equal(t, i+1, updated.Version)
	}

	sent := f.notifier.all()
	require.Len(t, sent, 1+len(steps))
	ids := make(map[string]bool)
	for i, to := range steps {
		d := sent[i+1]
		assert.Equal(t, a.ID, d.event.AppointmentID)
		assert.Contains(t, d.event.Message, string(to))
		assert.Equal(t, notify.Customer(42), d.targets[0])
		ids[d.event.ID] = true
	}
	assert.Len(t, ids, len(steps))
	// IN_PROGRESS -> COMPLETED is staff relevant
	assert.Len(t, sent[3].targets, 3)
	assert.Len(t, sent[1].targets, 1)
}

func TestTransition_CancelReleasesSlot(t *testing.T) {
	for _, fromScheduled := range []bool{false, true} {
		f := newFixture()
		ctx := context.Background()

		a, err := f.service.Book(ctx, bookInput(3))
		require.NoError(t, err)
		if fromScheduled {
			_, err = f.service.Transition(ctx, TransitionInput{ID: a.ID, Status: domain.StatusScheduled, Actor: admin})
			require.NoError(t, err)
		}

		_, err = f.service.Transition(ctx, TransitionInput{ID: a.ID, Status: domain.StatusCancelled, Actor: customer})
		require.NoError(t, err)

		reserved, err := f.repo.ReservedSlots(ctx, calendar.DateOf(2025, time.November, 10), calendar.Morning)
		require.NoError(t, err)
		assert.Empty(t, reserved)

		_, err = f.service.Book(ctx, bookInput(3))
		assert.NoError(t, err)
	}
}

func TestTransition_Permissions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	a, err := f.service.Book(ctx, bookInput(2))
	require.NoError(t, err)

	_, err = f.service.Transition(ctx, TransitionInput{ID: a.ID, Status: domain.StatusScheduled, Actor: customer})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	stranger := domain.Actor{ID: 43, Role: domain.RoleCustomer}
	_, err = f.service.Transition(ctx, TransitionInput{ID: a.ID, Status: domain.StatusCancelled, Actor: stranger})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	notes := "checked"
	_, err = f.service.Transition(ctx, TransitionInput{ID: a.ID, Status: domain.StatusCancelled, Actor: customer, TechnicianNotes: &notes})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.service.Transition(ctx, TransitionInput{ID: a.ID, Status: "DONE", Actor: admin})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = f.service.Transition(ctx, TransitionInput{ID: 999, Status: domain.StatusCancelled, Actor: admin})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTransition_LostRaceIsConcurrentUpdate(t *testing.T) {
	current := &domain.Appointment{ID: 9, CustomerID: 42, Status: domain.StatusPending, Version: 2}
	repo := &MockAppointmentRepository{}
	repo.On("GetByID", mock.Anything, int64(9)).Return(current, nil)
	repo.On("UpdateStatus", mock.Anything, int64(9), 2, domain.StatusScheduled, (*string)(nil)).
		Return(nil, domain.ErrConcurrentUpdate)

	notifier := &recordingNotifier{}
	svc := NewAppointmentService(repo, repository.NewMemoryVehicleRepository(), calendar.Default(time.UTC), WithNotifier(notifier))

	_, err := svc.Transition(context.Background(), TransitionInput{ID: 9, Status: domain.StatusScheduled, Actor: employee})
	assert.ErrorIs(t, err, domain.ErrConcurrentUpdate)
	assert.Empty(t, notifier.all())
}

func TestTransition_TechnicianNotesKept(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	a, err := f.service.Book(ctx, bookInput(1))
	require.NoError(t, err)

	notes := "needs new pads"
	updated, err := f.service.Transition(ctx, TransitionInput{ID: a.ID, Status: domain.StatusScheduled, Actor: employee, TechnicianNotes: &notes})
	require.NoError(t, err)
	assert.Equal(t, notes, updated.TechnicianNotes)
}

func TestRequestQuote(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	q, err := f.service.RequestQuote(ctx, QuoteInput{Actor: customer, VehicleID: 7, ServiceIDs: []int64{4}})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQuoteRequested, q.Status)
	assert.Nil(t, q.Reservation)

	sent := f.notifier.all()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.NotificationQuoteRequested, sent[0].event.Type)

	sentQuote, err := f.service.Transition(ctx, TransitionInput{ID: q.ID, Status: domain.StatusAwaitingCustomerApproval, Actor: employee})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAwaitingCustomerApproval, sentQuote.Status)

	_, err = f.service.Transition(ctx, TransitionInput{ID: q.ID, Status: domain.StatusCompleted, Actor: customer})
	require.NoError(t, err)
}

func TestGetAndList_AreRoleScoped(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	mine, err := f.service.Book(ctx, bookInput(1))
	require.NoError(t, err)
	other := bookInput(2)
	other.Actor = domain.Actor{ID: 43, Role: domain.RoleCustomer}
	other.VehicleID = 8
	theirs, err := f.service.Book(ctx, other)
	require.NoError(t, err)

	_, err = f.service.Get(ctx, theirs.ID, customer)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	got, err := f.service.Get(ctx, theirs.ID, employee)
	require.NoError(t, err)
	assert.Equal(t, theirs.ID, got.ID)

	list, err := f.service.List(ctx, ListInput{}, customer)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, mine.ID, list[0].ID)

	all, err := f.service.List(ctx, ListInput{Statuses: []domain.AppointmentStatus{domain.StatusPending}, Limit: 500}, admin)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = f.service.List(ctx, ListInput{Limit: -1}, admin)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	_, err = f.service.List(ctx, ListInput{Statuses: []domain.AppointmentStatus{"LOST"}}, admin)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestList_ClampsLimit(t *testing.T) {
	repo := &MockAppointmentRepository{}
	repo.On("List", mock.Anything, repository.ListFilter{CustomerID: 42, Limit: MaxListLimit}).Return([]domain.Appointment{}, nil)

	svc := NewAppointmentService(repo, repository.NewMemoryVehicleRepository(), calendar.Default(time.UTC))
	_, err := svc.List(context.Background(), ListInput{Limit: 1000}, customer)
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestAssignEmployees(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	a, err := f.service.Book(ctx, bookInput(1))
	require.NoError(t, err)

	_, err = f.service.AssignEmployees(ctx, a.ID, []int64{5}, employee)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.service.AssignEmployees(ctx, a.ID, []int64{0}, admin)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	updated, err := f.service.AssignEmployees(ctx, a.ID, []int64{5, 6, 5}, admin)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 6}, updated.AssignedEmployeeIDs)
}

func TestCancelStalePending(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	a, err := f.service.Book(ctx, bookInput(1))
	require.NoError(t, err)
	kept, err := f.service.Book(ctx, bookInput(2))
	require.NoError(t, err)
	_, err = f.service.Transition(ctx, TransitionInput{ID: kept.ID, Status: domain.StatusScheduled, Actor: admin})
	require.NoError(t, err)

	later := NewAppointmentService(f.repo, repository.NewMemoryVehicleRepository(), calendar.Default(time.UTC),
		WithClock(func() time.Time { return time.Date(2025, 11, 11, 8, 0, 0, 0, time.UTC) }),
		WithNotifier(f.notifier))

	cancelled, err := later.CancelStalePending(ctx)
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, a.ID, cancelled[0].ID)
	assert.Equal(t, domain.StatusCancelled, cancelled[0].Status)

	sent := f.notifier.all()
	assert.Equal(t, domain.NotificationCancelled, sent[len(sent)-1].event.Type)
}

// stalledNotifier never finishes a delivery until released, like a hung broker.
type stalledNotifier struct {
	release chan struct{}
	calls   chan domain.NotificationEvent
}

func (n *stalledNotifier) Dispatch(_ context.Context, event domain.NotificationEvent, _ ...notify.Target) {
	n.calls <- event
	<-n.release
}

func TestBook_SlowDeliveryDoesNotDelayResult(t *testing.T) {
	stalled := &stalledNotifier{release: make(chan struct{}), calls: make(chan domain.NotificationEvent, 4)}
	queue := notify.NewQueue(stalled, 16, time.Minute, nil)
	f := newFixture(WithNotifier(queue))

	start := time.Now()
	a, err := f.service.Book(context.Background(), bookInput(3))
	require.NoError(t, err)
	_, err = f.service.Transition(context.Background(), TransitionInput{ID: a.ID, Status: domain.StatusScheduled, Actor: employee})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	select {
	case ev := <-stalled.calls:
		assert.Equal(t, domain.NotificationNewAppointment, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("event never reached the notifier")
	}

	close(stalled.release)
	require.NoError(t, queue.Close(context.Background()))
	assert.Len(t, stalled.calls, 1)
}
