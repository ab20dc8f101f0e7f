// Package relationship maintains the refinement graph between factor
// instances at different specificity levels and triggers generic synthesis
// when enough siblings imply a parent-level fact.
//
// The graph is an arena of instances indexed by id with explicit
// parent/children links, not recursive object references. Acyclicity is
// guaranteed by construction: Refines only ever points from a strictly
// more specific scope to a strictly less specific one, asserted at link
// time rather than discovered by traversal.
package relationship

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/factord/internal/events"
	"github.com/fyrsmithlabs/factord/internal/evidence"
	"github.com/fyrsmithlabs/factord/internal/factorbank"
	"github.com/fyrsmithlabs/factord/internal/scope"
)

// Defaults for synthesis behavior.
const (
	// DefaultMinSiblings is how many siblings must share an immediate
	// parent scope before a generic parent is synthesized.
	DefaultMinSiblings = 2

	// DefaultDivergenceThreshold is how far (on the rating scale) an
	// organic parent may drift from what its children imply before the
	// sibling links are attached to it anyway.
	DefaultDivergenceThreshold = 1.0

	// DefaultDebounce coalesces rapid appends into one synthesis pass.
	DefaultDebounce = 200 * time.Millisecond
)

// ErrNotMoreSpecific is returned when a refinement link would not strictly
// increase specificity.
var ErrNotMoreSpecific = errors.New("refinement must point to a strictly less specific scope")

// Config holds synthesis parameters.
type Config struct {
	// MinSiblings is the K in "at least K siblings share a parent scope".
	MinSiblings int `koanf:"min_siblings"`

	// DivergenceThreshold bounds organic-parent drift before synthesis
	// links are attached to an existing organic parent.
	DivergenceThreshold float64 `koanf:"divergence_threshold"`

	// Debounce is the coalescing window for deferred synthesis.
	Debounce time.Duration `koanf:"debounce"`
}

// DefaultConfig returns the default synthesis parameters.
func DefaultConfig() Config {
	return Config{
		MinSiblings:         DefaultMinSiblings,
		DivergenceThreshold: DefaultDivergenceThreshold,
		Debounce:            DefaultDebounce,
	}
}

// Validate checks the parameters for sanity.
func (c Config) Validate() error {
	if c.MinSiblings < 2 {
		return fmt.Errorf("min_siblings must be at least 2, got %d", c.MinSiblings)
	}
	if c.DivergenceThreshold < 0 {
		return fmt.Errorf("divergence_threshold cannot be negative, got %v", c.DivergenceThreshold)
	}
	if c.Debounce < 0 {
		return fmt.Errorf("debounce cannot be negative, got %v", c.Debounce)
	}
	return nil
}

// Manager maintains refinement links and performs synthesis passes. It is
// invoked after evidence appends commit, never inline on the write path.
type Manager struct {
	store  factorbank.Store
	agg    *evidence.Aggregator
	cfg    Config
	logger *zap.Logger
	pub    events.Publisher
}

// Option configures a Manager.
type Option func(*Manager)

// WithPublisher makes the manager announce synthesized instances.
func WithPublisher(pub events.Publisher) Option {
	return func(m *Manager) {
		m.pub = pub
	}
}

// NewManager creates a relationship manager.
func NewManager(store factorbank.Store, agg *evidence.Aggregator, logger *zap.Logger, cfg Config, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if agg == nil {
		return nil, fmt.Errorf("aggregator cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid relationship config: %w", err)
	}

	m := &Manager{store: store, agg: agg, cfg: cfg, logger: logger, pub: events.NopPublisher{}}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// LinkRefinement wires a newly created instance into the refinement graph:
// it refines the closest strictly less specific existing instance, and
// adopts any existing strictly more specific instances that previously
// refined that same ancestor (or nothing).
func (m *Manager) LinkRefinement(ctx context.Context, created *factorbank.Instance) error {
	all, err := m.store.GetInstances(ctx, created.FactorID)
	if err != nil {
		return fmt.Errorf("loading instances for refinement: %w", err)
	}

	byID := make(map[string]*factorbank.Instance, len(all))
	for _, inst := range all {
		byID[inst.ID] = inst
	}
	self := byID[created.ID]
	if self == nil {
		return fmt.Errorf("%w: %s", factorbank.ErrInstanceNotFound, created.ID)
	}

	if parent := closestAncestor(self, all); parent != nil {
		if err := m.link(ctx, self, parent); err != nil {
			return err
		}
	}

	// Adopt children: strictly more specific instances whose current
	// parent is more generic than (or absent compared to) this one.
	for _, child := range all {
		if child.ID == self.ID || scope.Compare(child.Scope, self.Scope) != scope.MoreSpecific {
			continue
		}
		cur := byID[child.Refines]
		if cur != nil && scope.Compare(self.Scope, cur.Scope) != scope.MoreSpecific {
			continue // current parent is already at least as close
		}
		if err := m.link(ctx, child, self); err != nil {
			return err
		}
	}
	return nil
}

// link sets child.Refines = parent.ID and registers the back-edge,
// asserting the specificity invariant. A stale write is re-read and
// re-applied once before surfacing.
func (m *Manager) link(ctx context.Context, child, parent *factorbank.Instance) error {
	if scope.Compare(child.Scope, parent.Scope) != scope.MoreSpecific {
		return fmt.Errorf("%w: %s -> %s", ErrNotMoreSpecific, child.Scope.Canonical(), parent.Scope.Canonical())
	}

	prevParent := child.Refines
	if err := m.updateWithRetry(ctx, child.ID, func(inst *factorbank.Instance) {
		inst.Refines = parent.ID
	}); err != nil {
		return err
	}
	if err := m.updateWithRetry(ctx, parent.ID, func(inst *factorbank.Instance) {
		inst.RefinedBy = addID(inst.RefinedBy, child.ID)
	}); err != nil {
		return err
	}
	if prevParent != "" && prevParent != parent.ID {
		if err := m.updateWithRetry(ctx, prevParent, func(inst *factorbank.Instance) {
			inst.RefinedBy = removeID(inst.RefinedBy, child.ID)
		}); err != nil {
			return err
		}
	}

	m.logger.Debug("refinement linked",
		zap.String("factor_id", child.FactorID),
		zap.String("child_scope", child.Scope.Canonical()),
		zap.String("parent_scope", parent.Scope.Canonical()))
	return nil
}

// Synthesize runs one synthesis pass over a factor: for every candidate
// parent scope with at least MinSiblings non-synthesized children, create
// the synthesized parent or refresh its sibling links. Synthesized parents
// are not themselves used as synthesis sources (single synthesis level).
func (m *Manager) Synthesize(ctx context.Context, factorID string) error {
	all, err := m.store.GetInstances(ctx, factorID)
	if err != nil {
		return fmt.Errorf("loading instances for synthesis: %w", err)
	}

	byScope := make(map[string]*factorbank.Instance, len(all))
	for _, inst := range all {
		byScope[inst.Scope.Canonical()] = inst
	}

	// Group organic instances under each immediate-parent scope.
	type group struct {
		key      scope.Key
		siblings []*factorbank.Instance
	}
	groups := make(map[string]*group)
	for _, inst := range all {
		if inst.IsSynthesized() || len(inst.Evidence) == 0 {
			continue
		}
		for _, parentKey := range scope.ImmediateParents(inst.Scope) {
			canonical := parentKey.Canonical()
			g := groups[canonical]
			if g == nil {
				g = &group{key: parentKey}
				groups[canonical] = g
			}
			g.siblings = append(g.siblings, inst)
		}
	}

	// Deterministic pass order.
	canonicals := make([]string, 0, len(groups))
	for c := range groups {
		canonicals = append(canonicals, c)
	}
	sort.Strings(canonicals)

	for _, canonical := range canonicals {
		g := groups[canonical]
		if len(g.siblings) < m.cfg.MinSiblings {
			continue
		}
		if err := m.synthesizeParent(ctx, factorID, g.key, g.siblings, byScope[canonical]); err != nil {
			return err
		}
	}
	return nil
}

// synthesizeParent creates or refreshes one synthesized parent.
func (m *Manager) synthesizeParent(ctx context.Context, factorID string, parentKey scope.Key, siblings []*factorbank.Instance, existing *factorbank.Instance) error {
	siblingIDs := make([]string, 0, len(siblings))
	for _, s := range siblings {
		siblingIDs = append(siblingIDs, s.ID)
	}
	sort.Strings(siblingIDs)

	if existing == nil {
		inst := factorbank.NewInstance(factorID, parentKey)
		inst.SynthesizedFrom = siblingIDs
		if _, err := m.store.PutInstance(ctx, inst, 0); err != nil {
			if errors.Is(err, factorbank.ErrDuplicateScope) {
				return nil // raced with an organic create; next pass picks it up
			}
			return fmt.Errorf("creating synthesized parent: %w", err)
		}
		m.logger.Info("synthesized generic instance",
			zap.String("factor_id", factorID),
			zap.String("scope", parentKey.Canonical()),
			zap.Int("siblings", len(siblingIDs)))
		if err := m.LinkRefinement(ctx, inst); err != nil {
			return err
		}
		if err := m.pub.Publish(ctx, events.New(events.TypeInstanceSynthesized, factorID, inst.ID, parentKey.Canonical())); err != nil {
			m.logger.Warn("failed to publish synthesis event", zap.Error(err))
		}
		return nil
	}

	if existing.IsSynthesized() {
		if equalIDs(existing.SynthesizedFrom, siblingIDs) {
			return nil
		}
		return m.updateWithRetry(ctx, existing.ID, func(inst *factorbank.Instance) {
			inst.SynthesizedFrom = siblingIDs
		})
	}

	// Organic parent: attach sibling links only when its own evidence has
	// diverged from what the children imply beyond the threshold.
	diverged, gap, err := m.organicDiverged(existing, siblings)
	if err != nil {
		return err
	}
	if !diverged {
		return nil
	}
	m.logger.Warn("organic parent diverged from siblings, attaching synthesis links",
		zap.String("factor_id", factorID),
		zap.String("scope", parentKey.Canonical()),
		zap.Float64("gap", gap))
	return m.updateWithRetry(ctx, existing.ID, func(inst *factorbank.Instance) {
		inst.SynthesizedFrom = siblingIDs
	})
}

// organicDiverged compares an organic parent's own aggregate against the
// value its children imply.
func (m *Manager) organicDiverged(parent *factorbank.Instance, siblings []*factorbank.Instance) (bool, float64, error) {
	own, err := m.agg.Aggregate(parent.Evidence)
	if err != nil {
		if errors.Is(err, evidence.ErrNoEvidence) {
			return true, 0, nil
		}
		return false, 0, err
	}

	summaries := make([]evidence.Summary, 0, len(siblings))
	for _, s := range siblings {
		res, err := m.agg.Aggregate(s.Evidence)
		if err != nil {
			return false, 0, err
		}
		summaries = append(summaries, evidence.Summary{WeightedMean: res.WeightedMean, TotalWeight: res.TotalWeight})
	}
	implied, err := m.agg.AggregateSummaries(summaries)
	if err != nil {
		return false, 0, err
	}

	gap := own.Value - implied.Value
	if gap < 0 {
		gap = -gap
	}
	return gap > m.cfg.DivergenceThreshold, gap, nil
}

// updateWithRetry applies mutate under optimistic versioning, re-reading
// and re-applying once on conflict per the single-retry policy.
func (m *Manager) updateWithRetry(ctx context.Context, id string, mutate func(*factorbank.Instance)) error {
	for attempt := 0; attempt < 2; attempt++ {
		inst, err := m.store.GetInstance(ctx, id)
		if err != nil {
			return err
		}
		mutate(inst)
		_, err = m.store.PutInstance(ctx, inst, inst.Version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, factorbank.ErrVersionConflict) || attempt == 1 {
			return err
		}
	}
	return nil
}

// closestAncestor returns the strictly less specific instance with the
// most pinned dimensions, ties broken by canonical scope order.
func closestAncestor(self *factorbank.Instance, all []*factorbank.Instance) *factorbank.Instance {
	var best *factorbank.Instance
	for _, other := range all {
		if other.ID == self.ID || scope.Compare(self.Scope, other.Scope) != scope.MoreSpecific {
			continue
		}
		if best == nil {
			best = other
			continue
		}
		bestDims, otherDims := len(best.Scope.Specified()), len(other.Scope.Specified())
		if otherDims > bestDims ||
			(otherDims == bestDims && other.Scope.Canonical() < best.Scope.Canonical()) {
			best = other
		}
	}
	return best
}

func addID(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	out := append(ids, id)
	sort.Strings(out)
	return out
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
