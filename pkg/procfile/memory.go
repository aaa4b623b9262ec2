package procfile

import (
	"fmt"
	"io/fs"
	"sync"

	"github.com/gator-daq/gatorproc/pkg/wfs"
)

// MemoryStore keeps artifacts in a map. Load returns copies so callers can
// not alter what was saved.
type MemoryStore struct {
	mu        sync.Mutex
	artifacts map[string]*Artifact
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{artifacts: make(map[string]*Artifact)}
}

func (s *MemoryStore) Save(path string, a *Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[path] = clone(a)
	return nil
}

func (s *MemoryStore) Load(path string) (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[path]
	if !ok {
		return nil, &ErrRead{Filename: path, Err: fs.ErrNotExist}
	}
	return clone(a), nil
}

// Paths lists the saved artifacts.
func (s *MemoryStore) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.artifacts))
	for p := range s.artifacts {
		paths = append(paths, p)
	}
	return paths
}

func clone(a *Artifact) *Artifact {
	c := *a
	if a.Table != nil {
		t, err := wfs.FromMatrix(a.Table.Columns(), a.Table.Types(), a.Table.Matrix())
		if err != nil {
			panic(fmt.Sprintf("cloning feature table: %v", err))
		}
		if a.Table.NCols() == 0 {
			t = wfs.NewFeatureTable(a.Table.NRows())
		}
		c.Table = t
	}
	if a.Metadata != nil {
		m := *a.Metadata
		c.Metadata = &m
	}
	c.DaqSettings = append([]byte(nil), a.DaqSettings...)
	c.ProcSettings = append([]byte(nil), a.ProcSettings...)
	return &c
}
