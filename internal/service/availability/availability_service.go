package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/Domenick1991/autoservice/internal/calendar"
	"github.com/Domenick1991/autoservice/internal/domain"
	"github.com/Domenick1991/autoservice/internal/repository"
	"go.uber.org/zap"
)

type AvailabilityUseCase interface {
	GetAvailableSlots(ctx context.Context, date time.Time, session calendar.Session) ([]SlotAvailability, error)
}

// Cache stores reserved-slot snapshots. SetReserved must drop a snapshot whose
// generation is older than the session's current one.
type Cache interface {
	GetReserved(ctx context.Context, date time.Time, session calendar.Session) ([]int, bool, error)
	Generation(ctx context.Context, date time.Time, session calendar.Session) (int64, error)
	SetReserved(ctx context.Context, date time.Time, session calendar.Session, generation int64, reserved []int) error
}

type SlotAvailability struct {
	SlotNumber  int
	Start       time.Time
	End         time.Time
	IsAvailable bool
}

type AvailabilityService struct {
	repo     repository.AppointmentRepository
	calendar *calendar.Calendar
	cache    Cache
	now      func() time.Time
	log      *zap.Logger
}

type Option func(*AvailabilityService)

func WithCache(cache Cache) Option {
	return func(s *AvailabilityService) {
		s.cache = cache
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *AvailabilityService) {
		s.now = now
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(s *AvailabilityService) {
		s.log = log
	}
}

func NewAvailabilityService(repo repository.AppointmentRepository, cal *calendar.Calendar, opts ...Option) *AvailabilityService {
	s := &AvailabilityService{
		repo:     repo,
		calendar: cal,
		now:      time.Now,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetAvailableSlots lists every slot of the session with its occupancy. The
// result is a snapshot and may be stale by the time the caller books.
func (s *AvailabilityService) GetAvailableSlots(ctx context.Context, date time.Time, session calendar.Session) ([]SlotAvailability, error) {
	if !session.Valid() {
		return nil, fmt.Errorf("%w: unknown session %q", domain.ErrInvalidRequest, session)
	}
	if s.calendar.IsPastDate(date, s.now()) {
		return nil, fmt.Errorf("%w: date %s is in the past", domain.ErrInvalidRequest, date.Format(calendar.DateFormat))
	}

	slots, err := s.calendar.Slots(date, session)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}

	reserved, err := s.reserved(ctx, calendar.DayOf(date), session)
	if err != nil {
		return nil, err
	}
	taken := make(map[int]bool, len(reserved))
	for _, n := range reserved {
		taken[n] = true
	}

	out := make([]SlotAvailability, 0, len(slots))
	for _, slot := range slots {
		out = append(out, SlotAvailability{
			SlotNumber:  slot.Number,
			Start:       slot.Start,
			End:         slot.End,
			IsAvailable: !taken[slot.Number],
		})
	}
	return out, nil
}

func (s *AvailabilityService) reserved(ctx context.Context, date time.Time, session calendar.Session) ([]int, error) {
	fill := false
	var generation int64
	if s.cache != nil {
		cached, ok, err := s.cache.GetReserved(ctx, date, session)
		if err != nil {
			s.log.Warn("availability cache read failed", zap.Error(err))
		} else if ok {
			return cached, nil
		}
		// the generation has to be read before the store
		if generation, err = s.cache.Generation(ctx, date, session); err != nil {
			s.log.Warn("availability cache generation read failed", zap.Error(err))
		} else {
			fill = true
		}
	}

	reserved, err := s.repo.ReservedSlots(ctx, date, session)
	if err != nil {
		return nil, fmt.Errorf("load reserved slots: %w", err)
	}
	if fill {
		if err := s.cache.SetReserved(ctx, date, session, generation, reserved); err != nil {
			s.log.Warn("availability cache write failed", zap.Error(err))
		}
	}
	return reserved, nil
}

var _ AvailabilityUseCase = (*AvailabilityService)(nil)
