package project

import (
	"fmt"
	"sync"

	"github.com/book-expert/voiceover-service/internal/core"
)

type entry struct {
	project Project
	attempt uint64
}

// Store is an ordered, newest-first collection of projects keyed by id with one active
// selection. Every mutation replaces the stored record with an updated copy and publishes
// a Change.
type Store struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	order    []string
	activeID string
	bus      *EventBus
}

// NewStore creates an empty store publishing to bus.
func NewStore(bus *EventBus) *Store {
	if bus == nil {
		bus = NewEventBus(defaultMaxEvents)
	}

	return &Store{
		entries: make(map[string]*entry),
		bus:     bus,
	}
}

// Events returns the bus changes are published on.
func (s *Store) Events() *EventBus {
	return s.bus
}

// Add inserts p at the front, selects it, and opens its first attempt.
func (s *Store) Add(p Project) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[p.ID]; exists {
		return 0, fmt.Errorf("%w: duplicate project id '%s'", core.ErrValidation, p.ID)
	}

	stored := &entry{project: p.clone(), attempt: 1}
	s.entries[p.ID] = stored
	s.order = append([]string{p.ID}, s.order...)
	s.activeID = p.ID

	s.publishLocked(ChangeCreated, stored.project)

	return stored.attempt, nil
}

// Get returns a copy of the project with the given id.
func (s *Store) Get(id string) (Project, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.entries[id]
	if !ok {
		return Project{}, false
	}

	return stored.project.clone(), true
}

// List returns copies of every project, newest first.
func (s *Store) List() []Project {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Project, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id].project.clone())
	}

	return out
}

// ActiveID returns the selected project id or "" when nothing is selected.
func (s *Store) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.activeID
}

// SetActive selects id. An empty id clears the selection.
func (s *Store) SetActive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		if _, ok := s.entries[id]; !ok {
			return fmt.Errorf("%w: '%s'", core.ErrProjectNotFound, id)
		}
	}

	s.activeID = id
	s.bus.Publish(Change{Type: ChangeActive, ProjectID: id, ActiveID: id})

	return nil
}

// Update applies mutate to a copy of the project and stores the result. It does not
// touch the attempt counter.
func (s *Store) Update(id string, mutate func(*Project)) (Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.entries[id]
	if !ok {
		return Project{}, fmt.Errorf("%w: '%s'", core.ErrProjectNotFound, id)
	}

	return s.replaceLocked(stored, mutate), nil
}

// BeginAttempt supersedes any in-flight attempt for id, applies mutate, and returns the
// token the new attempt must present to ApplyAttempt.
func (s *Store) BeginAttempt(id string, mutate func(*Project)) (uint64, Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.entries[id]
	if !ok {
		return 0, Project{}, fmt.Errorf("%w: '%s'", core.ErrProjectNotFound, id)
	}

	stored.attempt++

	return stored.attempt, s.replaceLocked(stored, mutate), nil
}

// ApplyAttempt applies mutate only when id still exists and token is its latest attempt.
// It reports whether the write happened.
func (s *Store) ApplyAttempt(id string, token uint64, mutate func(*Project)) (Project, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.entries[id]
	if !ok || stored.attempt != token {
		return Project{}, false
	}

	return s.replaceLocked(stored, mutate), true
}

// Current reports whether token is still the latest attempt for id.
func (s *Store) Current(id string, token uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.entries[id]

	return ok && stored.attempt == token
}

// Delete removes id regardless of state and returns the removed record so the caller
// can release what it owns. Deleting the active project clears the selection.
func (s *Store) Delete(id string) (Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.entries[id]
	if !ok {
		return Project{}, fmt.Errorf("%w: '%s'", core.ErrProjectNotFound, id)
	}

	delete(s.entries, id)

	for i, candidate := range s.order {
		if candidate == id {
			s.order = append(s.order[:i:i], s.order[i+1:]...)

			break
		}
	}

	if s.activeID == id {
		s.activeID = ""
	}

	removed := stored.project.clone()
	s.bus.Publish(Change{Type: ChangeDeleted, ProjectID: id, ActiveID: s.activeID})

	return removed, nil
}

func (s *Store) replaceLocked(stored *entry, mutate func(*Project)) Project {
	updated := stored.project.clone()
	if mutate != nil {
		mutate(&updated)
	}

	stored.project = updated

	return s.publishLocked(ChangeUpdated, updated)
}

func (s *Store) publishLocked(changeType ChangeType, p Project) Project {
	snapshot := p.clone()
	s.bus.Publish(Change{
		Type:      changeType,
		ProjectID: p.ID,
		ActiveID:  s.activeID,
		Project:   &snapshot,
	})

	return p.clone()
}
