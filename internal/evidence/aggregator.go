package evidence

import (
	"fmt"
)

// Default aggregation parameters. The source material never converged on
// "correct" values, so these are configuration with stated defaults, not
// constants.
const (
	// DefaultPriorMean is the neutral prior, the midpoint of the 1-5 scale.
	DefaultPriorMean = 3.0

	// DefaultPseudocount is the prior's strength in tier-1-weight units.
	DefaultPseudocount = 10.0

	// DefaultConfidenceCap bounds confidence absent explicit confirmation.
	DefaultConfidenceCap = 0.95

	// DefaultContestedHigh and DefaultContestedLow define strong
	// disagreement: evidence at or above the high threshold coexisting
	// with evidence at or below the low one.
	DefaultContestedHigh = 4.0
	DefaultContestedLow  = 2.0

	// contestedMinTier is the minimum tier for a piece to count toward the
	// contested flag.
	contestedMinTier = 3
)

// Config holds the aggregation parameters.
type Config struct {
	// PriorMean is the value sparse evidence is shrunk toward.
	PriorMean float64 `koanf:"prior_mean"`

	// Pseudocount controls how much total weight is needed before the
	// evidence dominates the prior.
	Pseudocount float64 `koanf:"pseudocount"`

	// ConfidenceCap is the ceiling on confidence for unconfirmed evidence.
	ConfidenceCap float64 `koanf:"confidence_cap"`

	// ContestedHigh is the rating at or above which tier-qualified
	// evidence counts as strong agreement.
	ContestedHigh float64 `koanf:"contested_high"`

	// ContestedLow is the rating at or below which tier-qualified
	// evidence counts as strong disagreement.
	ContestedLow float64 `koanf:"contested_low"`
}

// DefaultConfig returns the default aggregation parameters.
func DefaultConfig() Config {
	return Config{
		PriorMean:     DefaultPriorMean,
		Pseudocount:   DefaultPseudocount,
		ConfidenceCap: DefaultConfidenceCap,
		ContestedHigh: DefaultContestedHigh,
		ContestedLow:  DefaultContestedLow,
	}
}

// Validate checks the parameters for sanity.
func (c Config) Validate() error {
	if c.PriorMean < MinRating || c.PriorMean > MaxRating {
		return fmt.Errorf("prior_mean must be within the rating scale, got %v", c.PriorMean)
	}
	if c.Pseudocount <= 0 {
		return fmt.Errorf("pseudocount must be positive, got %v", c.Pseudocount)
	}
	if c.ConfidenceCap <= 0 || c.ConfidenceCap > 1 {
		return fmt.Errorf("confidence_cap must be in (0, 1], got %v", c.ConfidenceCap)
	}
	if c.ContestedLow < MinRating || c.ContestedHigh > MaxRating || c.ContestedLow >= c.ContestedHigh {
		return fmt.Errorf("contested thresholds must satisfy %d <= low < high <= %d, got low %v high %v",
			MinRating, MaxRating, c.ContestedLow, c.ContestedHigh)
	}
	return nil
}

// Result is the derived state of an evidence list. It is always recomputed
// from evidence, never stored.
type Result struct {
	// Value is the shrinkage-adjusted current estimate on the 1-5 scale.
	Value float64 `json:"value"`

	// Confidence is in [0, 1], capped unless a piece was user-confirmed.
	Confidence float64 `json:"confidence"`

	// Contested is set when strong, tier-qualified disagreement exists.
	// Callers must surface the flag rather than present a settled number.
	Contested bool `json:"contested"`

	// WeightedMean is the raw tier-weighted average rating before
	// shrinkage. Used when a synthesized parent treats this instance as a
	// single weighted observation.
	WeightedMean float64 `json:"weighted_mean"`

	// TotalWeight is the summed tier weight of all pieces.
	TotalWeight float64 `json:"total_weight"`
}

// Summary is one pre-aggregated observation: a sibling instance folded into
// a synthesized parent contributes its own weighted mean at its own total
// weight.
type Summary struct {
	WeightedMean float64
	TotalWeight  float64
}

// Aggregator computes values and confidences from evidence lists.
type Aggregator struct {
	cfg Config
}

// NewAggregator creates an aggregator with validated parameters.
func NewAggregator(cfg Config) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid aggregation config: %w", err)
	}
	return &Aggregator{cfg: cfg}, nil
}

// Aggregate computes the current value, confidence and contested flag for
// an ordered evidence list.
//
// value      = (TW / (TW + C)) * WAR + (C / (TW + C)) * prior
// confidence = 1 - C / (TW + C), capped at ConfidenceCap
//
// where TW is the summed tier weight and WAR the tier-weighted average
// rating. A user-confirmed piece short-circuits the formula for its
// rating: value is the rating exactly and confidence is at least the cap.
// When several confirmed pieces exist the latest by arrival order wins.
func (a *Aggregator) Aggregate(pieces []Piece) (Result, error) {
	if len(pieces) == 0 {
		return Result{}, ErrNoEvidence
	}

	var (
		totalWeight   float64
		weightedSum   float64
		confirmed     *Piece
		highContested bool
		lowContested  bool
	)
	for i := range pieces {
		p := pieces[i]
		if err := p.Validate(); err != nil {
			return Result{}, fmt.Errorf("piece %d: %w", i, err)
		}

		w := TierWeight(p.Tier)
		totalWeight += w
		weightedSum += w * float64(p.Rating)

		if p.UserConfirmed {
			confirmed = &pieces[i]
		}
		if p.Tier >= contestedMinTier {
			if float64(p.Rating) >= a.cfg.ContestedHigh {
				highContested = true
			}
			if float64(p.Rating) <= a.cfg.ContestedLow {
				lowContested = true
			}
		}
	}

	war := weightedSum / totalWeight
	shrink := totalWeight / (totalWeight + a.cfg.Pseudocount)
	res := Result{
		Value:        shrink*war + (1-shrink)*a.cfg.PriorMean,
		Confidence:   shrink,
		Contested:    highContested && lowContested,
		WeightedMean: war,
		TotalWeight:  totalWeight,
	}
	if res.Confidence > a.cfg.ConfidenceCap {
		res.Confidence = a.cfg.ConfidenceCap
	}

	if confirmed != nil {
		res.Value = float64(confirmed.Rating)
		if res.Confidence < a.cfg.ConfidenceCap {
			res.Confidence = a.cfg.ConfidenceCap
		}
	}
	return res, nil
}

// AggregateSummaries applies the same shrinkage formula to pre-aggregated
// observations, used when synthesizing a generic parent from sibling
// instances: each sibling contributes its (weighted mean, total weight)
// pair as a single observation. Contested is set when the observations'
// means straddle the configured thresholds.
func (a *Aggregator) AggregateSummaries(summaries []Summary) (Result, error) {
	if len(summaries) == 0 {
		return Result{}, ErrNoEvidence
	}

	var (
		totalWeight   float64
		weightedSum   float64
		highContested bool
		lowContested  bool
	)
	for _, s := range summaries {
		if s.TotalWeight <= 0 {
			continue
		}
		totalWeight += s.TotalWeight
		weightedSum += s.TotalWeight * s.WeightedMean
		if s.WeightedMean >= a.cfg.ContestedHigh {
			highContested = true
		}
		if s.WeightedMean <= a.cfg.ContestedLow {
			lowContested = true
		}
	}
	if totalWeight == 0 {
		return Result{}, ErrNoEvidence
	}

	war := weightedSum / totalWeight
	shrink := totalWeight / (totalWeight + a.cfg.Pseudocount)
	res := Result{
		Value:        shrink*war + (1-shrink)*a.cfg.PriorMean,
		Confidence:   shrink,
		Contested:    highContested && lowContested,
		WeightedMean: war,
		TotalWeight:  totalWeight,
	}
	if res.Confidence > a.cfg.ConfidenceCap {
		res.Confidence = a.cfg.ConfidenceCap
	}
	return res, nil
}
