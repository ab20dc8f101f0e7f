package factorbank

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/factord/internal/evidence"
)

// MemoryStore is an in-memory Store for tests and single-process use.
type MemoryStore struct {
	mu       sync.RWMutex
	byID     map[string]*Instance
	byScope  map[string]map[string]string // factorID -> canonical scope -> instance id
	byFactor map[string]map[string]struct{}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]*Instance),
		byScope:  make(map[string]map[string]string),
		byFactor: make(map[string]map[string]struct{}),
	}
}

// GetInstances returns copies of all instances for a factor.
func (s *MemoryStore) GetInstances(ctx context.Context, factorID string) ([]*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byFactor[factorID]
	out := make([]*Instance, 0, len(ids))
	for id := range ids {
		out = append(out, s.byID[id].Clone())
	}
	return out, nil
}

// GetInstance returns a copy of one instance by id.
func (s *MemoryStore) GetInstance(ctx context.Context, id string) (*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	return inst.Clone(), nil
}

// GetByScope returns the live instance for a factor's canonical scope.
func (s *MemoryStore) GetByScope(ctx context.Context, factorID, canonicalScope string) (*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byScope[factorID][canonicalScope]
	if !ok {
		return nil, fmt.Errorf("%w: factor %s scope %s", ErrInstanceNotFound, factorID, canonicalScope)
	}
	return s.byID[id].Clone(), nil
}

// PutInstance creates or updates an instance under optimistic versioning.
func (s *MemoryStore) PutInstance(ctx context.Context, inst *Instance, expectedVersion uint64) (*Instance, error) {
	if inst == nil {
		return nil, ErrInvalidInstance
	}
	if err := inst.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInstance, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	canonical := inst.Scope.Canonical()
	existing, exists := s.byID[inst.ID]

	if expectedVersion == 0 {
		if exists {
			return nil, fmt.Errorf("%w: %s", ErrVersionConflict, inst.ID)
		}
		if _, taken := s.byScope[inst.FactorID][canonical]; taken {
			return nil, fmt.Errorf("%w: factor %s scope %s", ErrDuplicateScope, inst.FactorID, canonical)
		}
	} else {
		if !exists {
			return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, inst.ID)
		}
		if existing.Version != expectedVersion {
			return nil, fmt.Errorf("%w: %s expected %d have %d", ErrVersionConflict, inst.ID, expectedVersion, existing.Version)
		}
	}

	stored := inst.Clone()
	stored.Version = expectedVersion + 1
	stored.UpdatedAt = time.Now().UTC()

	s.byID[stored.ID] = stored
	if s.byScope[stored.FactorID] == nil {
		s.byScope[stored.FactorID] = make(map[string]string)
	}
	s.byScope[stored.FactorID][canonical] = stored.ID
	if s.byFactor[stored.FactorID] == nil {
		s.byFactor[stored.FactorID] = make(map[string]struct{})
	}
	s.byFactor[stored.FactorID][stored.ID] = struct{}{}

	return stored.Clone(), nil
}

// AppendEvidence appends one piece under optimistic versioning.
func (s *MemoryStore) AppendEvidence(ctx context.Context, id string, piece evidence.Piece, expectedVersion uint64) (*Instance, error) {
	if err := piece.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	if inst.Version != expectedVersion {
		return nil, fmt.Errorf("%w: %s expected %d have %d", ErrVersionConflict, id, expectedVersion, inst.Version)
	}

	inst.Evidence = append(inst.Evidence, piece)
	inst.Version++
	inst.UpdatedAt = time.Now().UTC()

	return inst.Clone(), nil
}

var _ Store = (*MemoryStore)(nil)
