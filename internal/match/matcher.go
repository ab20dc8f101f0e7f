// Package match ranks stored factor instances against a requested,
// possibly partial, scope and selects the most applicable one.
//
// Each declared dimension contributes equally to a match score in [0, 1].
// A generic instance value matching a concrete request contributes a
// dampened share: the fact plausibly applies but was not asserted at that
// specificity. A conflicting concrete value invalidates the whole match,
// so absence of information is never rendered as a bad rating.
package match

import (
	"fmt"
	"sort"

	"github.com/fyrsmithlabs/factord/internal/catalog"
	"github.com/fyrsmithlabs/factord/internal/factorbank"
	"github.com/fyrsmithlabs/factord/internal/scope"
)

// DefaultDampening is the default share a generic instance value earns
// against a concrete request.
const DefaultDampening = 0.6

// Candidate pairs an instance with its current aggregated confidence,
// which breaks score ties during selection.
type Candidate struct {
	Instance   *factorbank.Instance
	Confidence float64
}

// RankedMatch is one scored candidate.
type RankedMatch struct {
	Instance   *factorbank.Instance
	Score      float64
	Confidence float64
}

// Matcher scores and ranks candidates for a requested scope.
type Matcher struct {
	dampening float64
}

// NewMatcher creates a matcher with the given dampening constant, which
// must lie strictly between 0 and 1.
func NewMatcher(dampening float64) (*Matcher, error) {
	if dampening <= 0 || dampening >= 1 {
		return nil, fmt.Errorf("dampening must be in (0, 1), got %v", dampening)
	}
	return &Matcher{dampening: dampening}, nil
}

// Resolve scores every candidate against the requested scope and returns
// applicable ones ranked best first. Candidates with conflicting concrete
// values are excluded entirely.
//
// The order is total: score desc, confidence desc, updated_at desc,
// instance id asc. Repeated queries against unchanged state are therefore
// bit-for-bit reproducible.
func (m *Matcher) Resolve(def *catalog.FactorDefinition, candidates []Candidate, requested scope.Key) []RankedMatch {
	matches := make([]RankedMatch, 0, len(candidates))
	for _, c := range candidates {
		score := m.score(def.ScopeDimensions, c.Instance.Scope, requested)
		if score <= 0 {
			continue
		}
		matches = append(matches, RankedMatch{
			Instance:   c.Instance,
			Score:      score,
			Confidence: c.Confidence,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if !a.Instance.UpdatedAt.Equal(b.Instance.UpdatedAt) {
			return a.Instance.UpdatedAt.After(b.Instance.UpdatedAt)
		}
		return a.Instance.ID < b.Instance.ID
	})
	return matches
}

// Best returns the top-ranked applicable candidate. The second return is
// false when no candidate applies; callers must treat that as "not yet
// assessed", never as a low rating.
func (m *Matcher) Best(def *catalog.FactorDefinition, candidates []Candidate, requested scope.Key) (RankedMatch, bool) {
	matches := m.Resolve(def, candidates, requested)
	if len(matches) == 0 {
		return RankedMatch{}, false
	}
	return matches[0], true
}

// score computes the per-dimension match score, or 0 when any concrete
// requested value conflicts with a concrete instance value.
func (m *Matcher) score(dims []string, instScope, requested scope.Key) float64 {
	share := 1.0 / float64(len(dims))
	total := 0.0
	for _, dim := range dims {
		want := requested.Value(dim)
		have := instScope.Value(dim)
		switch {
		case want == "":
			// Caller doesn't care about this dimension.
			total += share
		case have == want:
			total += share
		case have == "":
			// Generic fact plausibly applies at this specificity.
			total += m.dampening * share
		default:
			// Concrete mismatch invalidates the whole match.
			return 0
		}
	}
	return total
}
