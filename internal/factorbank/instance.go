// Package factorbank stores factor instances: one per (factor, scope)
// pair, each accumulating an append-only evidence list. The engine
// consumes the Store interface; durability, tenant isolation and indexing
// belong to the implementation behind it.
package factorbank

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/factord/internal/evidence"
	"github.com/fyrsmithlabs/factord/internal/scope"
)

// Store errors.
var (
	ErrInstanceNotFound = errors.New("instance not found")
	ErrVersionConflict  = errors.New("instance version conflict")
	ErrDuplicateScope   = errors.New("instance already exists for scope")
	ErrInvalidInstance  = errors.New("invalid instance")
)

// Instance is one stored (factor, scope) assertion with its accumulated
// evidence. Evidence is never deleted or mutated; value, confidence and
// contested are derived on demand and never stored here.
type Instance struct {
	// ID is the unique instance identifier (UUID).
	ID string `json:"id"`

	// FactorID identifies the factor this instance asserts about.
	FactorID string `json:"factor_id"`

	// Scope pins the declared dimensions this assertion applies to.
	Scope scope.Key `json:"scope"`

	// Evidence is the append-only evidence list, ordered by arrival.
	Evidence []evidence.Piece `json:"evidence"`

	// Refines is the id of the strictly less specific instance this one
	// refines, or empty. Acyclic by construction: specificity strictly
	// decreases along Refines, asserted at link time.
	Refines string `json:"refines,omitempty"`

	// RefinedBy holds the ids of strictly more specific instances.
	RefinedBy []string `json:"refined_by,omitempty"`

	// SynthesizedFrom holds sibling instance ids when this instance was
	// created by generic synthesis rather than direct evidence.
	SynthesizedFrom []string `json:"synthesized_from,omitempty"`

	// Version is the optimistic concurrency token, bumped on every write.
	Version uint64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewInstance creates an empty instance for a factor and scope with a
// generated UUID.
func NewInstance(factorID string, key scope.Key) *Instance {
	now := time.Now().UTC()
	return &Instance{
		ID:        uuid.New().String(),
		FactorID:  factorID,
		Scope:     key.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsSynthesized reports whether the instance was produced by generic
// synthesis from siblings instead of direct evidence.
func (i *Instance) IsSynthesized() bool {
	return len(i.SynthesizedFrom) > 0
}

// Clone returns a deep copy so callers can never alias store state.
func (i *Instance) Clone() *Instance {
	out := *i
	out.Scope = i.Scope.Clone()
	out.Evidence = append([]evidence.Piece(nil), i.Evidence...)
	out.RefinedBy = append([]string(nil), i.RefinedBy...)
	out.SynthesizedFrom = append([]string(nil), i.SynthesizedFrom...)
	return &out
}

// Validate checks structural invariants before a write.
func (i *Instance) Validate() error {
	if i.ID == "" {
		return errors.New("instance ID cannot be empty")
	}
	if _, err := uuid.Parse(i.ID); err != nil {
		return errors.New("invalid instance ID format")
	}
	if i.FactorID == "" {
		return errors.New("instance factor ID cannot be empty")
	}
	for _, p := range i.Evidence {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}
