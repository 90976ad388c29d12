package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DateFormat  = "2006-01-02"
	ClockFormat = "15:04:05"

	DefaultSlotsPerSession = 5
)

var (
	ErrInvalidDate    = errors.New("invalid date format")
	ErrInvalidSession = errors.New("invalid session")
	ErrInvalidSlot    = errors.New("invalid slot number")
)

type Session string

const (
	Morning   Session = "MORNING"
	Afternoon Session = "AFTERNOON"
)

// Sessions lists every session in display order.
var Sessions = []Session{Morning, Afternoon}

func ParseSession(s string) (Session, error) {
	switch Session(strings.ToUpper(strings.TrimSpace(s))) {
	case Morning:
		return Morning, nil
	case Afternoon:
		return Afternoon, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSession, s)
	}
}

func (s Session) Valid() bool {
	return s == Morning || s == Afternoon
}

// Window is a wall-clock range expressed as offsets from midnight.
type Window struct {
	Start time.Duration
	End   time.Duration
}

func (w Window) Duration() time.Duration {
	return w.End - w.Start
}

// ParseWindow parses "07:00-12:00".
func ParseWindow(s string) (Window, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return Window{}, fmt.Errorf("window %q: expected HH:MM-HH:MM", s)
	}
	start, err := parseClock(parts[0])
	if err != nil {
		return Window{}, fmt.Errorf("window %q: %w", s, err)
	}
	end, err := parseClock(parts[1])
	if err != nil {
		return Window{}, fmt.Errorf("window %q: %w", s, err)
	}
	if end <= start {
		return Window{}, fmt.Errorf("window %q: end must be after start", s)
	}
	return Window{Start: start, End: end}, nil
}

func parseClock(s string) (time.Duration, error) {
	tm, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	return time.Duration(tm.Hour())*time.Hour + time.Duration(tm.Minute())*time.Minute, nil
}

// Slot is one bookable unit. Slots are derived from (date, session) and never stored.
type Slot struct {
	Date    time.Time
	Session Session
	Number  int
	Start   time.Time
	End     time.Time
}

func (s Slot) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Key identifies the reservation target of the slot.
func (s Slot) Key() SlotKey {
	return SlotKey{Date: s.Date, Session: s.Session, Number: s.Number}
}

type SlotKey struct {
	Date    time.Time
	Session Session
	Number  int
}

func (k SlotKey) String() string {
	return fmt.Sprintf("%s:%s:%d", k.Date.Format(DateFormat), k.Session, k.Number)
}

// Calendar holds the fixed shop day layout.
type Calendar struct {
	windows  map[Session]Window
	slots    int
	location *time.Location
}

func New(windows map[Session]Window, slotsPerSession int, loc *time.Location) (*Calendar, error) {
	if slotsPerSession <= 0 {
		return nil, fmt.Errorf("slots per session must be positive, got %d", slotsPerSession)
	}
	if loc == nil {
		loc = time.UTC
	}
	cp := make(map[Session]Window, len(Sessions))
	for _, s := range Sessions {
		w, ok := windows[s]
		if !ok {
			return nil, fmt.Errorf("missing window for session %s", s)
		}
		if w.Duration() <= 0 {
			return nil, fmt.Errorf("session %s: empty window", s)
		}
		if w.Duration()%time.Duration(slotsPerSession) != 0 {
			return nil, fmt.Errorf("session %s: window %s is not divisible into %d slots", s, w.Duration(), slotsPerSession)
		}
		cp[s] = w
	}
	return &Calendar{windows: cp, slots: slotsPerSession, location: loc}, nil
}

// Default is 07:00-12:00 and 13:00-18:00 with five slots each.
func Default(loc *time.Location) *Calendar {
	c, err := New(map[Session]Window{
		Morning:   {Start: 7 * time.Hour, End: 12 * time.Hour},
		Afternoon: {Start: 13 * time.Hour, End: 18 * time.Hour},
	}, DefaultSlotsPerSession, loc)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Calendar) SlotsPerSession() int {
	return c.slots
}

func (c *Calendar) Location() *time.Location {
	return c.location
}

func (c *Calendar) Window(s Session) (Window, bool) {
	w, ok := c.windows[s]
	return w, ok
}

// ParseDate parses YYYY-MM-DD into a calendar day.
func (c *Calendar) ParseDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation(DateFormat, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return d, nil
}

// Day truncates t to its calendar day in the shop location, returned as UTC midnight.
func (c *Calendar) Day(t time.Time) time.Time {
	local := t.In(c.location)
	return DateOf(local.Year(), local.Month(), local.Day())
}

// IsPastDate compares at day granularity: today is not past.
func (c *Calendar) IsPastDate(date, now time.Time) bool {
	return DayOf(date).Before(c.Day(now))
}

// Slots generates all slots of a session. The slots partition the window with no gap or overlap.
func (c *Calendar) Slots(date time.Time, session Session) ([]Slot, error) {
	w, ok := c.windows[session]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSession, session)
	}
	day := DayOf(date)
	width := w.Duration() / time.Duration(c.slots)

	out := make([]Slot, 0, c.slots)
	for i := 0; i < c.slots; i++ {
		start := c.wallClock(day, w.Start+time.Duration(i)*width)
		end := c.wallClock(day, w.Start+time.Duration(i+1)*width)
		out = append(out, Slot{
			Date:    day,
			Session: session,
			Number:  i + 1,
			Start:   start,
			End:     end,
		})
	}
	return out, nil
}

// wallClock resolves an offset from midnight as local wall time, so DST days keep the configured hours.
func (c *Calendar) wallClock(day time.Time, offset time.Duration) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, int(offset), c.location)
}

func (c *Calendar) Slot(date time.Time, session Session, number int) (Slot, error) {
	if number < 1 || number > c.slots {
		return Slot{}, fmt.Errorf("%w: %d (expected 1..%d)", ErrInvalidSlot, number, c.slots)
	}
	slots, err := c.Slots(date, session)
	if err != nil {
		return Slot{}, err
	}
	return slots[number-1], nil
}

func DateOf(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DayOf drops the clock part of t, keeping its own calendar day.
func DayOf(t time.Time) time.Time {
	return DateOf(t.Year(), t.Month(), t.Day())
}
