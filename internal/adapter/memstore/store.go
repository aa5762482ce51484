// Package memstore keeps assessment records in memory. It implements the
// same contract as the file-backed store and is used for ephemeral runs
// and in tests.
package memstore

import (
	"sync"

	"bytemomo/redstorm/internal/domain"
	"bytemomo/redstorm/internal/entity"
)

type Store struct {
	mu      sync.RWMutex
	records map[string]*entity.Assessment
}

func New() *Store {
	return &Store{records: make(map[string]*entity.Assessment)}
}

func (s *Store) Create(a *entity.Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[a.ID]; exists {
		return &domain.StoreError{Op: "create", ID: a.ID, Err: domain.ErrExists}
	}
	s.records[a.ID] = a.Clone()
	return nil
}

func (s *Store) Get(id string) (*entity.Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return a.Clone(), nil
}

func (s *Store) UpdateStatus(id string, upd domain.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	return domain.Apply(a, upd)
}

func (s *Store) ListActive(clientID string) ([]*entity.Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*entity.Assessment
	for _, a := range s.records {
		if !a.Status.Active() {
			continue
		}
		if clientID != "" && a.ClientID != clientID {
			continue
		}
		out = append(out, a.Clone())
	}
	return out, nil
}

func (s *Store) List() ([]*entity.Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*entity.Assessment, 0, len(s.records))
	for _, a := range s.records {
		out = append(out, a.Clone())
	}
	return out, nil
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.records, id)
	return nil
}
