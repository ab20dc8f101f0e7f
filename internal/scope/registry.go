package scope

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Registry errors.
var (
	ErrRegistryCorrupted = errors.New("scope registry file corrupted")
)

// registryData is the persisted registry structure.
// factor id -> dimension -> sorted list of observed values.
type registryData struct {
	Version int                            `json:"version"`
	Seen    map[string]map[string][]string `json:"seen"`
}

// Registry tracks, per factor, which concrete dimension values have been
// observed in submitted evidence. It is pure bookkeeping: the engine uses
// it to enumerate known domains, systems and teams when the orchestrator
// asks what contexts exist.
//
// The registry is an explicit object, never a package singleton, so
// multiple isolated engines can run in one process. Persistence is
// optional: an empty path keeps the registry in memory only.
type Registry struct {
	mu       sync.RWMutex
	filePath string
	seen     map[string]map[string]map[string]struct{}
}

// NewRegistry creates a registry backed by the given JSON file. If the
// file exists it is loaded; if path is empty the registry is memory only.
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{
		filePath: path,
		seen:     make(map[string]map[string]map[string]struct{}),
	}
	if path == "" {
		return r, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}
	if err := r.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load scope registry: %w", err)
	}
	return r, nil
}

// Observe records the concrete values pinned by key for a factor.
// Unspecified dimensions are ignored. Idempotent.
func (r *Registry) Observe(factorID string, key Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := false
	for _, dim := range key.Specified() {
		byDim := r.seen[factorID]
		if byDim == nil {
			byDim = make(map[string]map[string]struct{})
			r.seen[factorID] = byDim
		}
		values := byDim[dim]
		if values == nil {
			values = make(map[string]struct{})
			byDim[dim] = values
		}
		if _, ok := values[key[dim]]; !ok {
			values[key[dim]] = struct{}{}
			changed = true
		}
	}
	if !changed || r.filePath == "" {
		return nil
	}
	return r.save()
}

// Values returns the observed values for one dimension of a factor, sorted.
func (r *Registry) Values(factorID, dim string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	values := r.seen[factorID][dim]
	out := make([]string, 0, len(values))
	for v := range values {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Dimensions returns the dimensions with at least one observed value for a
// factor, sorted.
func (r *Registry) Dimensions(factorID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byDim := r.seen[factorID]
	out := make([]string, 0, len(byDim))
	for dim := range byDim {
		out = append(out, dim)
	}
	sort.Strings(out)
	return out
}

// Factors returns every factor id with observed scope values, sorted.
func (r *Registry) Factors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.seen))
	for id := range r.seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// load reads the registry from disk.
func (r *Registry) load() error {
	data, err := os.ReadFile(r.filePath)
	if err != nil {
		return err
	}

	var rd registryData
	if err := json.Unmarshal(data, &rd); err != nil {
		return fmt.Errorf("%w: %v", ErrRegistryCorrupted, err)
	}

	seen := make(map[string]map[string]map[string]struct{}, len(rd.Seen))
	for factorID, byDim := range rd.Seen {
		seen[factorID] = make(map[string]map[string]struct{}, len(byDim))
		for dim, values := range byDim {
			set := make(map[string]struct{}, len(values))
			for _, v := range values {
				set[v] = struct{}{}
			}
			seen[factorID][dim] = set
		}
	}
	r.seen = seen
	return nil
}

// save writes the registry to disk atomically (tmp + rename).
// Caller must hold r.mu.
func (r *Registry) save() error {
	rd := registryData{
		Version: 1,
		Seen:    make(map[string]map[string][]string, len(r.seen)),
	}
	for factorID, byDim := range r.seen {
		rd.Seen[factorID] = make(map[string][]string, len(byDim))
		for dim, values := range byDim {
			list := make([]string, 0, len(values))
			for v := range values {
				list = append(list, v)
			}
			sort.Strings(list)
			rd.Seen[factorID][dim] = list
		}
	}

	data, err := json.MarshalIndent(rd, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal scope registry: %w", err)
	}

	tmpPath := r.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write scope registry: %w", err)
	}
	if err := os.Rename(tmpPath, r.filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename scope registry: %w", err)
	}
	return nil
}
