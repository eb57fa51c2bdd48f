package flow

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mnemnk/runtime/internal/common/logger"
	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("flow: not found")
	ErrNodeNotFound = errors.New("flow: node not found")
	ErrEdgeNotFound = errors.New("flow: edge not found")
)

// Store holds the in-memory set of named flows, persisted as JSON files
// under <dataRoot>/agent_flows/.
type Store struct {
	mu       sync.RWMutex
	flowsDir string
	flows    map[string]*Flow
	log      *logger.Logger
}

// NewStore creates a Store rooted at <dataRoot>/agent_flows/. Call Load to
// populate it from disk.
func NewStore(dataRoot string, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Default()
	}
	return &Store{
		flowsDir: filepath.Join(dataRoot, "agent_flows"),
		flows:    make(map[string]*Flow),
		log:      log,
	}
}

// Load parses every *.json file under the flows directory into the store.
// Malformed files are logged and skipped; other files still load, per
// spec.md §7's flow-load error policy.
func (s *Store) Load() error {
	entries, err := os.ReadDir(s.flowsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read flows dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.flowsDir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			s.log.Warn("flow: cannot read file", zap.Error(err), zap.String("path", path))
			continue
		}
		var f Flow
		if err := json.Unmarshal(raw, &f); err != nil {
			s.log.Warn("flow: malformed flow file, skipping", zap.Error(err), zap.String("path", path))
			continue
		}
		f.Path = path
		if f.Name == "" {
			f.Name = strings.TrimSuffix(e.Name(), ".json")
		}
		s.mu.Lock()
		s.flows[f.Name] = &f
		s.mu.Unlock()
	}
	return nil
}

// List returns the names of every loaded flow, sorted for stable output.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.flows))
	for name := range s.flows {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Get returns a copy of the named flow.
func (s *Store) Get(name string) (*Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flows[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	clone := *f
	clone.Nodes = append([]Node(nil), f.Nodes...)
	clone.Edges = append([]Edge(nil), f.Edges...)
	return &clone, nil
}

// uniquify appends "1", "2", ... to base until it no longer collides with an
// existing flow name. Caller must hold s.mu.
func (s *Store) uniquify(base string) string {
	if _, exists := s.flows[base]; !exists {
		return base
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s%d", base, i)
		if _, exists := s.flows[candidate]; !exists {
			return candidate
		}
	}
}

// New creates a fresh empty flow named name (uniquified on collision) and
// inserts it into the store. It is not yet saved to disk.
func (s *Store) New(name string) *Flow {
	s.mu.Lock()
	defer s.mu.Unlock()
	unique := s.uniquify(name)
	f := &Flow{Name: unique}
	s.flows[unique] = f
	return f
}

// Rename renames oldName to a uniquified version of newName, retaining the
// flow's original Path so the next Save still writes the original file.
func (s *Store) Rename(oldName, newName string) (*Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[oldName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, oldName)
	}
	unique := s.uniquify(newName)
	delete(s.flows, oldName)
	f.Name = unique
	s.flows[unique] = f
	return f, nil
}

// Save serializes f to its Path, choosing <dataRoot>/agent_flows/<name>.json
// on first save when Path is unset.
func (s *Store) Save(f *Flow) error {
	s.mu.Lock()
	if f.Path == "" {
		f.Path = filepath.Join(s.flowsDir, f.Name+".json")
	}
	raw, err := json.MarshalIndent(f, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal flow: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0755); err != nil {
		return fmt.Errorf("mkdir flows dir: %w", err)
	}
	if err := os.WriteFile(f.Path, raw, 0644); err != nil {
		return fmt.Errorf("write flow file: %w", err)
	}
	s.mu.Lock()
	s.flows[f.Name] = f
	s.mu.Unlock()
	return nil
}

// Import parses an external flow file and inserts it with a uniquified
// name, without retaining the external path — the next Save picks a fresh
// path under the flows directory.
func (s *Store) Import(path string) (*Flow, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read import file: %w", err)
	}
	var f Flow
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse import file: %w", err)
	}
	f.Path = ""

	s.mu.Lock()
	defer s.mu.Unlock()
	unique := s.uniquify(f.Name)
	f.Name = unique
	s.flows[unique] = &f
	clone := f
	return &clone, nil
}

// AddNode appends a node to the named flow.
func (s *Store) AddNode(flowName string, n Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[flowName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, flowName)
	}
	f.Nodes = append(f.Nodes, n)
	return nil
}

// DeleteNode removes a node (and any edges touching it) from the named
// flow.
func (s *Store) DeleteNode(flowName, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[flowName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, flowName)
	}
	idx := -1
	for i, n := range f.Nodes {
		if n.ID == nodeID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	f.Nodes = append(f.Nodes[:idx], f.Nodes[idx+1:]...)

	kept := f.Edges[:0]
	for _, e := range f.Edges {
		if e.SourceID != nodeID && e.TargetID != nodeID {
			kept = append(kept, e)
		}
	}
	f.Edges = kept
	return nil
}

// AddEdge appends an edge to the named flow.
func (s *Store) AddEdge(flowName string, e Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[flowName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, flowName)
	}
	f.Edges = append(f.Edges, e)
	return nil
}

// DeleteEdge removes an edge from the named flow.
func (s *Store) DeleteEdge(flowName, edgeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[flowName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, flowName)
	}
	idx := -1
	for i, e := range f.Edges {
		if e.ID == edgeID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("%w: %s", ErrEdgeNotFound, edgeID)
	}
	f.Edges = append(f.Edges[:idx], f.Edges[idx+1:]...)
	return nil
}

// AllEnabled returns every loaded flow, for the reconcile loop to compute
// "want" across the whole flow set.
func (s *Store) AllEnabled() []*Flow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Flow, 0, len(s.flows))
	for _, f := range s.flows {
		out = append(out, f)
	}
	return out
}
