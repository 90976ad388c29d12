package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/Domenick1991/autoservice/internal/calendar"
	"github.com/Domenick1991/autoservice/internal/domain"
	"github.com/Domenick1991/autoservice/internal/notify"
	"github.com/Domenick1991/autoservice/internal/repository"
	"go.uber.org/zap"
)

const (
	MaxNotesLength = 1000
	MaxListLimit   = 100

	defaultCommitTimeout = 5 * time.Second
)

type AppointmentUseCase interface {
	Book(ctx context.Context, input BookInput) (*domain.Appointment, error)
	RequestQuote(ctx context.Context, input QuoteInput) (*domain.Appointment, error)
	Transition(ctx context.Context, input TransitionInput) (*domain.Appointment, error)
	AssignEmployees(ctx context.Context, id int64, employeeIDs []int64, actor domain.Actor) (*domain.Appointment, error)
	Get(ctx context.Context, id int64, actor domain.Actor) (*domain.Appointment, error)
	List(ctx context.Context, input ListInput, actor domain.Actor) ([]domain.Appointment, error)
	CancelStalePending(ctx context.Context) ([]domain.Appointment, error)
}

type Cache interface {
	AcquireSlotLock(ctx context.Context, key calendar.SlotKey, ttl time.Duration) (bool, error)
	ReleaseSlotLock(ctx context.Context, key calendar.SlotKey) error
	Invalidate(ctx context.Context, date time.Time, session calendar.Session) error
}

type Notifier interface {
	Dispatch(ctx context.Context, event domain.NotificationEvent, targets ...notify.Target)
}

type ReminderScheduler interface {
	Schedule(ctx context.Context, appointment *domain.Appointment) error
}

type BookInput struct {
	Actor         domain.Actor
	CustomerID    int64
	VehicleID     int64
	ServiceIDs    []int64
	Date          string
	Session       string
	SlotNumber    int
	CustomerNotes string
}

type QuoteInput struct {
	Actor         domain.Actor
	CustomerID    int64
	VehicleID     int64
	ServiceIDs    []int64
	CustomerNotes string
}

type TransitionInput struct {
	ID              int64
	Status          domain.AppointmentStatus
	Actor           domain.Actor
	TechnicianNotes *string
}

type ListInput struct {
	Statuses []domain.AppointmentStatus
	Limit    int
}

type AppointmentService struct {
	appointments  repository.AppointmentRepository
	vehicles      repository.VehicleRepository
	calendar      *calendar.Calendar
	cache         Cache
	notifier      Notifier
	reminders     ReminderScheduler
	commitTimeout time.Duration
	now           func() time.Time
	log           *zap.Logger
}

type Option func(*AppointmentService)

func WithCache(cache Cache) Option {
	return func(s *AppointmentService) {
		s.cache = cache
	}
}

func WithNotifier(notifier Notifier) Option {
	return func(s *AppointmentService) {
		s.notifier = notifier
	}
}

func WithReminders(reminders ReminderScheduler) Option {
	return func(s *AppointmentService) {
		s.reminders = reminders
	}
}

func WithCommitTimeout(timeout time.Duration) Option {
	return func(s *AppointmentService) {
		if timeout > 0 {
			s.commitTimeout = timeout
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *AppointmentService) {
		s.now = now
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(s *AppointmentService) {
		s.log = log
	}
}

func NewAppointmentService(
	appointments repository.AppointmentRepository,
	vehicles repository.VehicleRepository,
	cal *calendar.Calendar,
	opts ...Option,
) *AppointmentService {
	s := &AppointmentService{
		appointments:  appointments,
		vehicles:      vehicles,
		calendar:      cal,
		commitTimeout: defaultCommitTimeout,
		now:           time.Now,
		log:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Book reserves one slot. The store decides the race: exactly one concurrent
// booking of a slot commits and the rest get domain.ErrSlotConflict. Nothing is
// dispatched unless the commit succeeded.
func (s *AppointmentService) Book(ctx context.Context, input BookInput) (*domain.Appointment, error) {
	reservation, err := s.validateBooking(input)
	if err != nil {
		return nil, err
	}
	customerID, err := s.resolveCustomer(input.Actor, input.CustomerID)
	if err != nil {
		return nil, err
	}
	if err := s.checkVehicle(ctx, input.VehicleID, customerID); err != nil {
		return nil, err
	}

	key := reservation.Key()
	if s.cache != nil {
		ok, err := s.cache.AcquireSlotLock(ctx, key, s.commitTimeout)
		switch {
		case err != nil:
			s.log.Warn("slot lock unavailable, relying on store", zap.String("slot", key.String()), zap.Error(err))
		case !ok:
			return nil, fmt.Errorf("%w: %s", domain.ErrSlotConflict, key)
		default:
			defer func() {
				if err := s.cache.ReleaseSlotLock(context.WithoutCancel(ctx), key); err != nil {
					s.log.Warn("release slot lock", zap.String("slot", key.String()), zap.Error(err))
				}
			}()
		}
	}

	status := domain.StatusPending
	if input.Actor.Role.Privileged() {
		status = domain.StatusScheduled
	}
	appointment := &domain.Appointment{
		CustomerID:    customerID,
		VehicleID:     input.VehicleID,
		ServiceIDs:    input.ServiceIDs,
		Reservation:   reservation,
		Status:        status,
		CustomerNotes: input.CustomerNotes,
	}
	if err := s.commit(ctx, appointment); err != nil {
		return nil, err
	}

	s.log.Info("appointment booked",
		zap.Int64("appointment_id", appointment.ID),
		zap.String("slot", key.String()),
		zap.String("status", string(appointment.Status)))

	s.invalidate(ctx, reservation)
	targets := notify.Staff()
	if input.Actor.Role.Privileged() {
		targets = append(targets, notify.Customer(customerID))
	}
	s.dispatch(ctx, domain.CreationEvent(appointment), targets...)
	if appointment.Status == domain.StatusScheduled {
		s.scheduleReminder(ctx, appointment)
	}
	return appointment, nil
}

func (s *AppointmentService) commit(ctx context.Context, appointment *domain.Appointment) error {
	commitCtx, cancel := context.WithTimeout(ctx, s.commitTimeout)
	defer cancel()

	err := s.appointments.Create(commitCtx, appointment)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrSlotConflict) {
		return err
	}
	if errors.Is(commitCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w after %s: %v", domain.ErrCommitTimeout, s.commitTimeout, err)
	}
	return err
}

func (s *AppointmentService) validateBooking(input BookInput) (*domain.Reservation, error) {
	date, err := s.calendar.ParseDate(input.Date)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	if s.calendar.IsPastDate(date, s.now()) {
		return nil, fmt.Errorf("%w: date %s is in the past", domain.ErrInvalidRequest, input.Date)
	}
	session, err := calendar.ParseSession(input.Session)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	if _, err := s.calendar.Slot(date, session, input.SlotNumber); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	if err := validateRequest(input.VehicleID, input.ServiceIDs, input.CustomerNotes); err != nil {
		return nil, err
	}
	return &domain.Reservation{Date: date, Session: session, SlotNumber: input.SlotNumber}, nil
}

func validateRequest(vehicleID int64, serviceIDs []int64, notes string) error {
	if vehicleID <= 0 {
		return fmt.Errorf("%w: vehicle id is required", domain.ErrInvalidRequest)
	}
	if len(serviceIDs) == 0 {
		return fmt.Errorf("%w: at least one service is required", domain.ErrInvalidRequest)
	}
	for _, id := range serviceIDs {
		if id <= 0 {
			return fmt.Errorf("%w: invalid service id %d", domain.ErrInvalidRequest, id)
		}
	}
	if utf8.RuneCountInString(notes) > MaxNotesLength {
		return fmt.Errorf("%w: notes exceed %d characters", domain.ErrInvalidRequest, MaxNotesLength)
	}
	return nil
}

// resolveCustomer books customers for themselves; staff must name the customer.
func (s *AppointmentService) resolveCustomer(actor domain.Actor, requested int64) (int64, error) {
	if !actor.Role.Privileged() {
		if requested != 0 && requested != actor.ID {
			return 0, fmt.Errorf("%w: customers book for themselves only", domain.ErrForbidden)
		}
		return actor.ID, nil
	}
	if requested <= 0 {
		return 0, fmt.Errorf("%w: customer id is required", domain.ErrInvalidRequest)
	}
	return requested, nil
}

func (s *AppointmentService) checkVehicle(ctx context.Context, vehicleID, customerID int64) error {
	owned, err := s.vehicles.IsOwnedBy(ctx, vehicleID, customerID)
	if err != nil {
		return fmt.Errorf("check vehicle ownership: %w", err)
	}
	if !owned {
		return fmt.Errorf("%w: vehicle %d does not belong to customer %d", domain.ErrForbidden, vehicleID, customerID)
	}
	return nil
}

func (s *AppointmentService) RequestQuote(ctx context.Context, input QuoteInput) (*domain.Appointment, error) {
	if err := validateRequest(input.VehicleID, input.ServiceIDs, input.CustomerNotes); err != nil {
		return nil, err
	}
	customerID, err := s.resolveCustomer(input.Actor, input.CustomerID)
	if err != nil {
		return nil, err
	}
	if err := s.checkVehicle(ctx, input.VehicleID, customerID); err != nil {
		return nil, err
	}

	appointment := &domain.Appointment{
		CustomerID:    customerID,
		VehicleID:     input.VehicleID,
		ServiceIDs:    input.ServiceIDs,
		Status:        domain.StatusQuoteRequested,
		CustomerNotes: input.CustomerNotes,
	}
	if err := s.commit(ctx, appointment); err != nil {
		return nil, err
	}

	s.log.Info("quote requested", zap.Int64("appointment_id", appointment.ID))
	s.dispatch(ctx, domain.CreationEvent(appointment), notify.Staff()...)
	return appointment, nil
}

// Transition moves an appointment along one legal edge. The write is guarded
// by the version that was read, so a concurrent change yields
// domain.ErrConcurrentUpdate instead of being overwritten.
func (s *AppointmentService) Transition(ctx context.Context, input TransitionInput) (*domain.Appointment, error) {
	if !input.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidRequest, input.Status)
	}
	if input.TechnicianNotes != nil {
		if !input.Actor.Role.Privileged() {
			return nil, fmt.Errorf("%w: only staff may write technician notes", domain.ErrForbidden)
		}
		if utf8.RuneCountInString(*input.TechnicianNotes) > MaxNotesLength {
			return nil, fmt.Errorf("%w: notes exceed %d characters", domain.ErrInvalidRequest, MaxNotesLength)
		}
	}

	current, err := s.Get(ctx, input.ID, input.Actor)
	if err != nil {
		return nil, err
	}
	rule, err := domain.CheckTransition(current.Status, input.Status, input.Actor.Role)
	if err != nil {
		return nil, err
	}

	updated, err := s.appointments.UpdateStatus(ctx, current.ID, current.Version, input.Status, input.TechnicianNotes)
	if err != nil {
		return nil, err
	}

	s.log.Info("appointment status changed",
		zap.Int64("appointment_id", updated.ID),
		zap.String("from", string(current.Status)),
		zap.String("to", string(updated.Status)),
		zap.String("actor_role", string(input.Actor.Role)),
		zap.Int("version", updated.Version))

	if updated.Status.Terminal() && updated.Reservation != nil {
		s.invalidate(ctx, updated.Reservation)
	}
	targets := []notify.Target{notify.Customer(updated.CustomerID)}
	if rule.NotifyStaff {
		targets = append(targets, notify.Staff()...)
	}
	s.dispatch(ctx, domain.TransitionEvent(updated, current.Status), targets...)
	if updated.Status == domain.StatusScheduled {
		s.scheduleReminder(ctx, updated)
	}
	return updated, nil
}

func (s *AppointmentService) AssignEmployees(ctx context.Context, id int64, employeeIDs []int64, actor domain.Actor) (*domain.Appointment, error) {
	if actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("%w: only admins assign employees", domain.ErrForbidden)
	}
	for _, e := range employeeIDs {
		if e <= 0 {
			return nil, fmt.Errorf("%w: invalid employee id %d", domain.ErrInvalidRequest, e)
		}
	}
	updated, err := s.appointments.AssignEmployees(ctx, id, dedupe(employeeIDs))
	if err != nil {
		return nil, err
	}
	s.log.Info("employees assigned", zap.Int64("appointment_id", id), zap.Int64s("employee_ids", updated.AssignedEmployeeIDs))
	return updated, nil
}

func (s *AppointmentService) Get(ctx context.Context, id int64, actor domain.Actor) (*domain.Appointment, error) {
	appointment, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Role.Privileged() && appointment.CustomerID != actor.ID {
		return nil, fmt.Errorf("%w: appointment %d belongs to another customer", domain.ErrForbidden, id)
	}
	return appointment, nil
}

func (s *AppointmentService) List(ctx context.Context, input ListInput, actor domain.Actor) ([]domain.Appointment, error) {
	if input.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", domain.ErrInvalidRequest)
	}
	for _, st := range input.Statuses {
		if !st.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidRequest, st)
		}
	}
	filter := repository.ListFilter{
		Statuses: input.Statuses,
		Limit:    min(input.Limit, MaxListLimit),
	}
	if !actor.Role.Privileged() {
		filter.CustomerID = actor.ID
	}
	return s.appointments.List(ctx, filter)
}

// CancelStalePending cancels PENDING appointments whose day has passed.
func (s *AppointmentService) CancelStalePending(ctx context.Context) ([]domain.Appointment, error) {
	stale, err := s.appointments.ListPendingBefore(ctx, s.calendar.Day(s.now()))
	if err != nil {
		return nil, err
	}

	cancelled := make([]domain.Appointment, 0, len(stale))
	for _, a := range stale {
		updated, err := s.Transition(ctx, TransitionInput{
			ID:     a.ID,
			Status: domain.StatusCancelled,
			Actor:  domain.SystemActor,
		})
		if err != nil {
			if errors.Is(err, domain.ErrConcurrentUpdate) || errors.Is(err, domain.ErrIllegalTransition) {
				s.log.Info("stale appointment changed meanwhile, skipping", zap.Int64("appointment_id", a.ID))
				continue
			}
			return cancelled, err
		}
		cancelled = append(cancelled, *updated)
	}
	return cancelled, nil
}

func (s *AppointmentService) invalidate(ctx context.Context, r *domain.Reservation) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, r.Date, r.Session); err != nil {
		s.log.Warn("availability cache invalidation failed", zap.String("slot", r.Key().String()), zap.Error(err))
	}
}

func (s *AppointmentService) dispatch(ctx context.Context, event domain.NotificationEvent, targets ...notify.Target) {
	if s.notifier == nil {
		return
	}
	s.notifier.Dispatch(context.WithoutCancel(ctx), event, targets...)
}

func (s *AppointmentService) scheduleReminder(ctx context.Context, appointment *domain.Appointment) {
	if s.reminders == nil {
		return
	}
	if err := s.reminders.Schedule(ctx, appointment); err != nil {
		s.log.Warn("schedule reminder failed", zap.Int64("appointment_id", appointment.ID), zap.Error(err))
	}
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

var _ AppointmentUseCase = (*AppointmentService)(nil)
