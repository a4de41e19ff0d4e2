package engine

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// LoopStore persists loops as a JSON file.
type LoopStore struct {
	path string
}

// NewLoopStore returns a store backed by path.
func NewLoopStore(path string) *LoopStore {
	return &LoopStore{path: path}
}

// Path returns the backing file path.
func (s *LoopStore) Path() string { return s.path }

// Load reads the saved loops, or returns none if the file does not exist.
func (s *LoopStore) Load() ([]*Loop, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read loops: %w", err)
	}

	var raw []*Loop
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse loops %s: %w", s.path, err)
	}
	loops := raw[:0]
	for i, l := range raw {
		if l == nil || len(l.Events) == 0 {
			log.Printf("Skipping saved loop %d in %s: no events", i, s.path)
			continue
		}
		loops = append(loops, l)
	}
	return loops, nil
}

// Save writes all loops, replacing the file atomically.
func (s *LoopStore) Save(loops []*Loop) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create loops dir: %w", err)
	}

	if loops == nil {
		loops = []*Loop{}
	}
	data, err := json.MarshalIndent(loops, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal loops: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write loops: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace loops: %w", err)
	}
	return nil
}
