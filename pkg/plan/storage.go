package plan

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const DefaultStorageFileName = ".yieldroute-plans.json"

// Storage persists computed plans so a plan can be executed or inspected
// later by id. Writes go to a temp file first and are renamed into place
// so a crash never leaves a truncated store.
type Storage struct {
	filePath string
	mu       sync.RWMutex
	plans    map[string]*AllocationPlan
}

type planFile struct {
	Plans map[string]*AllocationPlan `json:"plans"`
}

// NewStorage opens (or lazily creates) the plan store at filePath. An
// empty path defaults to the user's home directory.
func NewStorage(filePath string) (*Storage, error) {
	if filePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		filePath = filepath.Join(home, DefaultStorageFileName)
	}

	s := &Storage{
		filePath: filePath,
		plans:    make(map[string]*AllocationPlan),
	}

	if err := s.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load plans: %w", err)
		}
	}
	return s, nil
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	var f planFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to unmarshal plans: %w", err)
	}

	s.plans = f.Plans
	if s.plans == nil {
		s.plans = make(map[string]*AllocationPlan)
	}
	return nil
}

func (s *Storage) save() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(planFile{Plans: s.plans}, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal plans: %w", err)
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile := s.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write plans: %w", err)
	}
	if err := os.Rename(tempFile, s.filePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Create stores a new plan.
func (s *Storage) Create(p *AllocationPlan) error {
	s.mu.Lock()
	if _, exists := s.plans[p.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("plan %s already exists", p.ID)
	}
	s.plans[p.ID] = p
	s.mu.Unlock()

	return s.save()
}

// Get retrieves a plan by id.
func (s *Storage) Get(id string) (*AllocationPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.plans[id]
	if !exists {
		return nil, fmt.Errorf("plan %s not found", id)
	}
	return p, nil
}

// Delete removes a plan.
func (s *Storage) Delete(id string) error {
	s.mu.Lock()
	if _, exists := s.plans[id]; !exists {
		s.mu.Unlock()
		return fmt.Errorf("plan %s not found", id)
	}
	delete(s.plans, id)
	s.mu.Unlock()

	return s.save()
}

// List returns summaries of all stored plans, newest first.
func (s *Storage) List() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Summary, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, p.ToSummary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Count returns the number of stored plans.
func (s *Storage) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.plans)
}

// GetFilePath returns the backing file path.
func (s *Storage) GetFilePath() string {
	return s.filePath
}
