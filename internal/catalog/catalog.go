// Package catalog provides the static factor catalog: the set of factor
// definitions (scope dimensions, 1-5 scale descriptions) the engine
// resolves against. The catalog is loaded once at startup and treated as
// immutable configuration; the engine never mutates it.
package catalog

import (
	"errors"
	"fmt"
	"sort"

	"github.com/fyrsmithlabs/factord/internal/scope"
)

// Catalog errors.
var (
	ErrUnknownFactor   = errors.New("unknown factor id")
	ErrInvalidScope    = errors.New("invalid scope")
	ErrDuplicateFactor = errors.New("duplicate factor id")
	ErrEmptyFactorID   = errors.New("factor id cannot be empty")
	ErrNoDimensions    = errors.New("factor must declare at least one scope dimension")
	ErrDuplicateDim    = errors.New("duplicate scope dimension")
	ErrIncompleteScale = errors.New("factor scale must describe all five levels")
)

// FactorDefinition describes one assessable factor: its identity, the
// ordered scope dimensions instances of it may pin, and the meaning of
// each point on its 1-5 scale.
type FactorDefinition struct {
	// FactorID is the stable identifier (e.g. "data_quality").
	FactorID string `koanf:"factor_id" json:"factor_id"`

	// Name is the human-readable factor name.
	Name string `koanf:"name" json:"name"`

	// Description explains what the factor measures.
	Description string `koanf:"description" json:"description,omitempty"`

	// ScopeDimensions is the ordered list of dimensions instances may set
	// (e.g. [domain, system, team]). Instances may only pin dimensions
	// declared here.
	ScopeDimensions []string `koanf:"scope_dimensions" json:"scope_dimensions"`

	// Scale holds the description of each rating level, index 0 = rating 1.
	Scale []string `koanf:"scale" json:"scale"`
}

// Validate checks the definition for structural problems.
func (d *FactorDefinition) Validate() error {
	if d.FactorID == "" {
		return ErrEmptyFactorID
	}
	if len(d.ScopeDimensions) == 0 {
		return fmt.Errorf("%w: factor %q", ErrNoDimensions, d.FactorID)
	}
	seen := make(map[string]struct{}, len(d.ScopeDimensions))
	for _, dim := range d.ScopeDimensions {
		if dim == "" {
			return fmt.Errorf("%w: factor %q has an empty dimension name", ErrInvalidScope, d.FactorID)
		}
		if _, ok := seen[dim]; ok {
			return fmt.Errorf("%w: factor %q dimension %q", ErrDuplicateDim, d.FactorID, dim)
		}
		seen[dim] = struct{}{}
	}
	if len(d.Scale) != 5 {
		return fmt.Errorf("%w: factor %q has %d levels", ErrIncompleteScale, d.FactorID, len(d.Scale))
	}
	return nil
}

// Declares reports whether dim is one of the factor's scope dimensions.
func (d *FactorDefinition) Declares(dim string) bool {
	for _, declared := range d.ScopeDimensions {
		if declared == dim {
			return true
		}
	}
	return false
}

// ValidateScope checks that every dimension pinned by key is declared by
// the factor. Returns ErrInvalidScope naming the first offending
// dimension.
func (d *FactorDefinition) ValidateScope(key scope.Key) error {
	for _, dim := range key.Specified() {
		if !d.Declares(dim) {
			return fmt.Errorf("%w: dimension %q not declared by factor %q", ErrInvalidScope, dim, d.FactorID)
		}
	}
	return nil
}

// Catalog is an immutable set of factor definitions indexed by id.
type Catalog struct {
	factors map[string]*FactorDefinition
}

// New builds a catalog from definitions, validating each and rejecting
// duplicate ids.
func New(defs []FactorDefinition) (*Catalog, error) {
	factors := make(map[string]*FactorDefinition, len(defs))
	for i := range defs {
		def := defs[i]
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if _, ok := factors[def.FactorID]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateFactor, def.FactorID)
		}
		factors[def.FactorID] = &def
	}
	return &Catalog{factors: factors}, nil
}

// Get returns the definition for a factor id.
func (c *Catalog) Get(factorID string) (*FactorDefinition, error) {
	def, ok := c.factors[factorID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFactor, factorID)
	}
	return def, nil
}

// FactorIDs returns all factor ids in sorted order.
func (c *Catalog) FactorIDs() []string {
	ids := make([]string, 0, len(c.factors))
	for id := range c.factors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of factors in the catalog.
func (c *Catalog) Len() int {
	return len(c.factors)
}
