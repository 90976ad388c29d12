package notifyclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/Domenick1991/autoservice/internal/domain"
)

type MemoryPersistence struct {
	mu     sync.Mutex
	events []domain.NotificationEvent
}

func NewMemoryPersistence(events ...domain.NotificationEvent) *MemoryPersistence {
	return &MemoryPersistence{events: events}
}

func (p *MemoryPersistence) Load() ([]domain.NotificationEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.NotificationEvent(nil), p.events...), nil
}

func (p *MemoryPersistence) Save(events []domain.NotificationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append([]domain.NotificationEvent(nil), events...)
	return nil
}

// storedEvent adds the read flag, which the wire format leaves out.
type storedEvent struct {
	domain.NotificationEvent
	Read bool `json:"read"`
}

// FilePersistence keeps the list in a JSON file, replaced atomically on save.
type FilePersistence struct {
	path string
}

func NewFilePersistence(path string) *FilePersistence {
	return &FilePersistence{path: path}
}

func (p *FilePersistence) Load() ([]domain.NotificationEvent, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read notifications file: %w", err)
	}

	var stored []storedEvent
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("parse notifications file: %w", err)
	}
	events := make([]domain.NotificationEvent, 0, len(stored))
	for _, s := range stored {
		ev := s.NotificationEvent
		ev.Read = s.Read
		events = append(events, ev)
	}
	return events, nil
}

func (p *FilePersistence) Save(events []domain.NotificationEvent) error {
	stored := make([]storedEvent, 0, len(events))
	for _, ev := range events {
		stored = append(stored, storedEvent{NotificationEvent: ev, Read: ev.Read})
	}
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return err
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, p.path)
}

var (
	_ Persistence = (*MemoryPersistence)(nil)
	_ Persistence = (*FilePersistence)(nil)
)
