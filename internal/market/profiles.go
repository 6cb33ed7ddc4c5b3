package market

import (
	"sync"

	"github.com/xtrntr/fleamarket/internal/models"
)

// ProfileStore holds the loaded profiles and serializes access per profile:
// settlement and a buy confirmation can race on the same seller, but two
// different profiles never contend on one lock.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]*models.Profile
	locks    map[string]*sync.Mutex
}

// NewProfileStore creates an empty profile store.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{
		profiles: make(map[string]*models.Profile),
		locks:    make(map[string]*sync.Mutex),
	}
}

// Register adds a loaded profile. Registering an id twice replaces the
// profile but keeps its lock.
func (s *ProfileStore) Register(p *models.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
	if _, ok := s.locks[p.ID]; !ok {
		s.locks[p.ID] = &sync.Mutex{}
	}
}

// IDs returns a snapshot of all registered profile ids.
func (s *ProfileStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.profiles))
	for id := range s.profiles {
		ids = append(ids, id)
	}
	return ids
}

// With runs fn with the profile's lock held. Returns ErrProfileNotFound when
// the profile is unknown.
func (s *ProfileStore) With(id string, fn func(*models.Profile) error) error {
	s.mu.RLock()
	p, ok := s.profiles[id]
	lock := s.locks[id]
	s.mu.RUnlock()
	if !ok {
		return ErrProfileNotFound
	}

	lock.Lock()
	defer lock.Unlock()
	return fn(p)
}
