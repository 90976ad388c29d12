package notifyclient

import (
	"sort"
	"sync"

	"github.com/Domenick1991/autoservice/internal/domain"
)

const (
	DefaultCapacity = 50
	// CatchUpWindow bounds how many server events one reconnect may backfill.
	CatchUpWindow = 10
)

// Persistence stores the notification list between runs. Events are passed
// newest first with their local read flags.
type Persistence interface {
	Load() ([]domain.NotificationEvent, error)
	Save(events []domain.NotificationEvent) error
}

// Store is the client-side notification list, newest first and bounded.
// Read flags are local and never sent anywhere.
type Store struct {
	mu        sync.Mutex
	events    []domain.NotificationEvent
	capacity  int
	connected bool
	persist   Persistence
}

func NewStore(capacity int, persist Persistence) (*Store, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if persist == nil {
		persist = NewMemoryPersistence()
	}
	events, err := persist.Load()
	if err != nil {
		return nil, err
	}
	s := &Store{capacity: capacity, persist: persist}
	s.events = append(s.events, events...)
	s.sortAndCap()
	return s, nil
}

// Ingest puts a live event at the head. An event already present is replaced
// where it is and keeps its read flag.
func (s *Store) Ingest(event domain.NotificationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexOf(event.ID); i >= 0 {
		event.Read = s.events[i].Read
		s.events[i] = event
		return s.save()
	}

	event.Read = false
	s.events = append([]domain.NotificationEvent{event}, s.events...)
	if len(s.events) > s.capacity {
		s.events = s.events[:s.capacity]
	}
	return s.save()
}

// Merge reconciles a catch-up list. Only the CatchUpWindow most recent server
// events are considered and ids already present are skipped. It returns the
// number of events added.
func (s *Store) Merge(events []domain.NotificationEvent) (int, error) {
	recent := append([]domain.NotificationEvent(nil), events...)
	sort.SliceStable(recent, func(i, j int) bool { return recent[i].Timestamp.After(recent[j].Timestamp) })
	if len(recent) > CatchUpWindow {
		recent = recent[:CatchUpWindow]
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, ev := range recent {
		if s.indexOf(ev.ID) >= 0 {
			continue
		}
		ev.Read = false
		s.events = append(s.events, ev)
		added++
	}
	if added == 0 {
		return 0, nil
	}
	s.sortAndCap()
	return added, s.save()
}

func (s *Store) MarkRead(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 || s.events[i].Read {
		return nil
	}
	s.events[i].Read = true
	return s.save()
}

func (s *Store) MarkAllRead() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.events {
		s.events[i].Read = true
	}
	return s.save()
}

func (s *Store) Clear(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return nil
	}
	s.events = append(s.events[:i], s.events[i+1:]...)
	return s.save()
}

func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = nil
	return s.save()
}

// List returns a copy, newest first.
func (s *Store) List() []domain.NotificationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.NotificationEvent{}, s.events...)
}

func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, ev := range s.events {
		if !ev.Read {
			n++
		}
	}
	return n
}

// Connected tells "no notifications yet" apart from "not receiving".
func (s *Store) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Store) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
}

func (s *Store) indexOf(id string) int {
	for i, ev := range s.events {
		if ev.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) sortAndCap() {
	sort.SliceStable(s.events, func(i, j int) bool { return s.events[i].Timestamp.After(s.events[j].Timestamp) })
	if len(s.events) > s.capacity {
		s.events = s.events[:s.capacity]
	}
}

func (s *Store) save() error {
	return s.persist.Save(append([]domain.NotificationEvent(nil), s.events...))
}
