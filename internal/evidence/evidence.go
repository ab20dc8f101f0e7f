// Package evidence defines evidence pieces and the tiered, Bayesian-shrunk
// aggregation that turns an instance's accumulated evidence into a current
// value and a calibrated confidence.
//
// Each piece carries a 1-5 rating and a 1-5 tier. Tier expresses how
// specific and certain the underlying statement was: tier 1 is a vague
// inference, tier 5 an explicit user-confirmed statement. Tier weight grows
// geometrically (3x per step) so a concrete example dominates a vague
// inference instead of averaging weakly against it. Sparse evidence is
// shrunk toward a neutral prior and only trusted as total weight grows.
package evidence

import (
	"errors"
	"fmt"
	"time"
)

// Rating and tier bounds.
const (
	MinRating = 1
	MaxRating = 5
	MinTier   = 1
	MaxTier   = 5
)

// Evidence errors.
var (
	ErrNoEvidence    = errors.New("no evidence")
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
	ErrInvalidTier   = errors.New("tier must be between 1 and 5")
)

// Piece is one immutable unit of evidence. Evidence is append-only:
// corrections arrive as new pieces (optionally user-confirmed), never as
// edits or deletions.
type Piece struct {
	// Rating is the asserted 1-5 scale value.
	Rating int `json:"rating"`

	// Tier is the caller-supplied specificity/certainty of the statement
	// (1 = inferred, 5 = explicit user confirmation).
	Tier int `json:"tier"`

	// Timestamp is when the evidence was produced.
	Timestamp time.Time `json:"timestamp"`

	// SourceRef is an opaque reference to the origin (e.g. conversation id).
	SourceRef string `json:"source_ref,omitempty"`

	// UserConfirmed marks the piece as explicitly confirmed by the user.
	// Confirmed pieces are treated as ground truth, not as one more sample.
	UserConfirmed bool `json:"user_confirmed,omitempty"`
}

// Validate checks rating and tier bounds.
func (p Piece) Validate() error {
	if p.Rating < MinRating || p.Rating > MaxRating {
		return fmt.Errorf("%w: got %d", ErrInvalidRating, p.Rating)
	}
	if p.Tier < MinTier || p.Tier > MaxTier {
		return fmt.Errorf("%w: got %d", ErrInvalidTier, p.Tier)
	}
	return nil
}

// TierWeight returns the evidentiary weight of a tier: 3^(tier-1), so
// tier 1 weighs 1 and tier 5 weighs 81.
func TierWeight(tier int) float64 {
	w := 1.0
	for i := MinTier; i < tier; i++ {
		w *= 3.0
	}
	return w
}
