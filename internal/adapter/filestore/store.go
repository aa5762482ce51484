// Package filestore persists one JSON file per assessment record under
// <dir>/assessments. Writes go through a temp file and rename so a crash
// never leaves a half-written record, and every record round-trips
// losslessly through update cycles.
package filestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"bytemomo/redstorm/internal/domain"
	"bytemomo/redstorm/internal/entity"
)

type Store struct {
	dir string

	// Serializes writes per store; records are independent files so a
	// single mutex is enough to satisfy single-writer-per-assessment.
	mu sync.Mutex
}

// New creates the assessments directory and returns the store.
func New(baseDir string) (*Store, error) {
	dir := filepath.Join(baseDir, "assessments")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &domain.StoreError{Op: "init", Err: err}
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory holding the record files.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *Store) Create(a *entity.Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.path(a.ID)); err == nil {
		return &domain.StoreError{Op: "create", ID: a.ID, Err: domain.ErrExists}
	}
	return s.write(a)
}

func (s *Store) Get(id string) (*entity.Assessment, error) {
	return s.read(id)
}

func (s *Store) UpdateStatus(id string, upd domain.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.read(id)
	if err != nil {
		return err
	}
	if err := domain.Apply(a, upd); err != nil {
		return err
	}
	return s.write(a)
}

func (s *Store) ListActive(clientID string) ([]*entity.Assessment, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	var out []*entity.Assessment
	for _, a := range all {
		if !a.Status.Active() {
			continue
		}
		if clientID != "" && a.ClientID != clientID {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) List() ([]*entity.Assessment, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &domain.StoreError{Op: "list", Err: err}
	}
	var out []*entity.Assessment
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		a, err := s.read(id)
		if err != nil {
			// A record may disappear between ReadDir and read.
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			log.WithField("record", e.Name()).WithError(err).Warn("Skipping unreadable assessment record")
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return domain.ErrNotFound
	}
	if err != nil {
		return &domain.StoreError{Op: "delete", ID: id, Err: err}
	}
	return nil
}

func (s *Store) read(id string) (*entity.Assessment, error) {
	b, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, &domain.StoreError{Op: "read", ID: id, Err: err}
	}
	var a entity.Assessment
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, &domain.StoreError{Op: "decode", ID: id, Err: err}
	}
	return &a, nil
}

func (s *Store) write(a *entity.Assessment) error {
	b, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return &domain.StoreError{Op: "encode", ID: a.ID, Err: err}
	}
	tmp, err := os.CreateTemp(s.dir, a.ID+".tmp-*")
	if err != nil {
		return &domain.StoreError{Op: "write", ID: a.ID, Err: err}
	}
	name := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(name)
		return &domain.StoreError{Op: "write", ID: a.ID, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return &domain.StoreError{Op: "write", ID: a.ID, Err: err}
	}
	if err := os.Rename(name, s.path(a.ID)); err != nil {
		os.Remove(name)
		return &domain.StoreError{Op: "write", ID: a.ID, Err: fmt.Errorf("rename: %w", err)}
	}
	return nil
}
