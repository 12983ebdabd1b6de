package instance

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const storeVersion = "1"

// Store persists instance records in a single JSON document. Every
// mutation is written through to disk immediately so progress made
// mid-update survives a crash.
type Store struct {
	mu      sync.RWMutex
	path    string
	records []Record
}

// NewStore opens the instance store at path. A missing file yields an
// empty store.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads the store from disk, replacing in-memory state.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.records = nil
			return nil
		}
		return fmt.Errorf("failed to read instance store: %w", err)
	}

	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse instance store %s: %w", s.path, err)
	}

	s.records = file.Instances
	return nil
}

// Save writes the store to disk atomically.
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saveLocked()
}

// saveLocked writes the document. Callers must hold s.mu.
func (s *Store) saveLocked() error {
	file := storeFile{Version: storeVersion, Instances: s.records}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal instance store: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write instance store: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace instance store: %w", err)
	}

	return nil
}

// List returns all registered instances in registration order.
func (s *Store) List() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, cloneRecord(rec))
	}
	return out
}

// Get returns the instance with the given id.
func (s *Store) Get(id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.records {
		if rec.ID == id {
			return cloneRecord(rec), nil
		}
	}
	return Record{}, fmt.Errorf("instance not found: %s", id)
}

// Add registers a new instance and persists the store.
func (s *Store) Add(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.find(rec.ID) != nil {
		return fmt.Errorf("instance already exists: %s", rec.ID)
	}

	s.records = append(s.records, cloneRecord(rec))
	return s.saveLocked()
}

// Remove deletes an instance and persists the store.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, rec := range s.records {
		if rec.ID == id {
			s.records = append(s.records[:i], s.records[i+1:]...)
			return s.saveLocked()
		}
	}
	return fmt.Errorf("instance not found: %s", id)
}

// SetState records a lifecycle transition. Reaching ready stamps
// LastUpdate and clears any previous error.
func (s *Store) SetState(id string, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.find(id)
	if rec == nil {
		return fmt.Errorf("instance not found: %s", id)
	}

	rec.State = state
	if state == StateReady {
		rec.LastUpdate = time.Now().UTC()
		rec.LastError = ""
	}
	return s.saveLocked()
}

// SetFailure marks the instance failed and records why.
func (s *Store) SetFailure(id string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.find(id)
	if rec == nil {
		return fmt.Errorf("instance not found: %s", id)
	}

	rec.State = StateFailed
	rec.LastUpdate = time.Now().UTC()
	if cause != nil {
		rec.LastError = cause.Error()
	}
	return s.saveLocked()
}

// SetInstalled records one confirmed package version and persists it.
func (s *Store) SetInstalled(id, pkg, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.find(id)
	if rec == nil {
		return fmt.Errorf("instance not found: %s", id)
	}

	if rec.Installed == nil {
		rec.Installed = make(map[string]string)
	}
	rec.Installed[pkg] = version
	return s.saveLocked()
}

// RemoveInstalled drops one package from the installed set and persists
// the change. Removing an absent package is a no-op.
func (s *Store) RemoveInstalled(id, pkg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.find(id)
	if rec == nil {
		return fmt.Errorf("instance not found: %s", id)
	}

	delete(rec.Installed, pkg)
	return s.saveLocked()
}

// Installed returns a copy of the instance's confirmed package versions.
func (s *Store) Installed(id string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.records {
		if rec.ID == id {
			return cloneInstalled(rec.Installed), nil
		}
	}
	return nil, fmt.Errorf("instance not found: %s", id)
}

// find returns a pointer into the backing slice. Callers must hold s.mu.
func (s *Store) find(id string) *Record {
	for i := range s.records {
		if s.records[i].ID == id {
			return &s.records[i]
		}
	}
	return nil
}

func cloneRecord(rec Record) Record {
	out := rec
	out.Installed = cloneInstalled(rec.Installed)
	return out
}

func cloneInstalled(installed map[string]string) map[string]string {
	if installed == nil {
		return nil
	}
	out := make(map[string]string, len(installed))
	for k, v := range installed {
		out[k] = v
	}
	return out
}
