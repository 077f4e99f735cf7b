package storage

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eugenenazirov/bmerger/internal/config"
)

var (
	// ErrNoSnapshot is returned when no configuration has been stored yet.
	ErrNoSnapshot = errors.New("no configuration snapshot loaded")
	// ErrInvalidSnapshot indicates a snapshot without an id or load time.
	ErrInvalidSnapshot = errors.New("snapshot must have an id and a load time")
)

// Snapshot is one resolved configuration together with where and when it was loaded.
type Snapshot struct {
	ID       uuid.UUID
	LoadedAt time.Time
	Source   string
	Config   config.RunConfiguration
}

// NewSnapshot stamps a configuration with a fresh random id.
func NewSnapshot(cfg config.RunConfiguration, source string, loadedAt time.Time) Snapshot {
	return Snapshot{
		ID:       uuid.New(),
		LoadedAt: loadedAt.UTC(),
		Source:   source,
		Config:   cfg,
	}
}

// Storage provides access to the configuration currently served.
type Storage interface {
	Current() (Snapshot, error)
	Replace(snapshot Snapshot) (previous Snapshot, err error)
}

// MemoryStorage keeps the current snapshot in-memory and guards access with a RWMutex.
type MemoryStorage struct {
	mu       sync.RWMutex
	current  Snapshot
	loaded   bool
	replaced int
}

// NewMemoryStorage initialises an empty storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// Current returns the snapshot last stored, or ErrNoSnapshot.
func (s *MemoryStorage) Current() (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.loaded {
		return Snapshot{}, ErrNoSnapshot
	}
	return s.current, nil
}

// Replace swaps in a complete snapshot and returns the one it replaced.
// The previous snapshot is the zero value on the first call.
func (s *MemoryStorage) Replace(snapshot Snapshot) (Snapshot, error) {
	if snapshot.ID == uuid.Nil || snapshot.LoadedAt.IsZero() {
		return Snapshot{}, ErrInvalidSnapshot
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.current
	s.current = snapshot
	if s.loaded {
		s.replaced++
	}
	s.loaded = true

	return previous, nil
}

// Reloads reports how many times a loaded snapshot has been replaced.
func (s *MemoryStorage) Reloads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.replaced
}
