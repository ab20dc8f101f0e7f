// Package engine exposes the scoped evidence resolution engine: it stores
// incremental, partially-specific assertions about an organization and
// resolves queries against the most applicable stored assertion, producing
// a calibrated confidence from the accumulated evidence.
//
// The engine is a library boundary, not a service protocol. Every
// operation is a blocking call; synthesis runs deferred and debounced
// after appends commit. Absence of information is a typed sentinel
// (ErrNoApplicableInstance), never a low rating.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/factord/internal/catalog"
	"github.com/fyrsmithlabs/factord/internal/events"
	"github.com/fyrsmithlabs/factord/internal/evidence"
	"github.com/fyrsmithlabs/factord/internal/factorbank"
	"github.com/fyrsmithlabs/factord/internal/match"
	"github.com/fyrsmithlabs/factord/internal/relationship"
	"github.com/fyrsmithlabs/factord/internal/scope"
)

// ErrNoApplicableInstance is the expected, common outcome of resolving a
// scope nothing applies to. It must never be conflated with a low score:
// "not yet assessed" and "assessed low" are different answers.
var ErrNoApplicableInstance = errors.New("no applicable instance")

// State is the derived lifecycle state of an instance. It is recomputed
// from evidence, never stored, and no state is terminal.
type State string

const (
	// StateUnconfirmed covers instances with only unconfirmed evidence.
	StateUnconfirmed State = "unconfirmed"

	// StateConfirmed covers instances whose latest ground truth is a
	// user-confirmed piece, absent active contradiction.
	StateConfirmed State = "confirmed"

	// StateContested covers instances with strong tier-qualified
	// disagreement that the caller must surface.
	StateContested State = "contested"
)

// Resolution is the answer to a resolve query.
type Resolution struct {
	// FactorID echoes the queried factor.
	FactorID string `json:"factor_id"`

	// InstanceID identifies the instance the answer came from.
	InstanceID string `json:"instance_id"`

	// Value is the shrinkage-adjusted estimate on the 1-5 scale.
	Value float64 `json:"value"`

	// Confidence is in [0, 1].
	Confidence float64 `json:"confidence"`

	// Contested warns that the evidence disagrees strongly; callers must
	// surface it rather than present a settled number.
	Contested bool `json:"contested"`

	// State is the matched instance's derived lifecycle state.
	State State `json:"state"`

	// MatchedScope is the scope of the instance that answered.
	MatchedScope scope.Key `json:"matched_scope"`

	// MatchScore is the applicability score in (0, 1].
	MatchScore float64 `json:"match_score"`
}

// Snapshot is the derived state of one instance.
type Snapshot struct {
	Result evidence.Result `json:"result"`
	State  State           `json:"state"`
}

// Hierarchy is the instance tree of one factor, for UI display.
type Hierarchy struct {
	FactorID string           `json:"factor_id"`
	Roots    []*HierarchyNode `json:"roots"`
}

// HierarchyNode is one instance with its refinement children.
type HierarchyNode struct {
	Instance *factorbank.Instance `json:"instance"`
	Snapshot *Snapshot            `json:"snapshot,omitempty"`
	Children []*HierarchyNode     `json:"children,omitempty"`
}

// Options configures a Service.
type Options struct {
	// Dampening is the generic-match dampening constant in (0, 1).
	Dampening float64

	// Aggregation holds the shrinkage parameters.
	Aggregation evidence.Config

	// Relationship holds synthesis parameters.
	Relationship relationship.Config

	// Deferred enables the background debounced synthesis scheduler.
	// When false, synthesis runs synchronously inside SubmitEvidence,
	// which tests and simple embedders rely on.
	Deferred bool
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		Dampening:    match.DefaultDampening,
		Aggregation:  evidence.DefaultConfig(),
		Relationship: relationship.DefaultConfig(),
		Deferred:     true,
	}
}

// Service is the engine facade the orchestration layer talks to.
type Service struct {
	catalog  *catalog.Catalog
	store    factorbank.Store
	registry *scope.Registry
	matcher  *match.Matcher
	agg      *evidence.Aggregator
	rel      *relationship.Manager
	sched    *relationship.Scheduler
	pub      events.Publisher
	logger   *zap.Logger
	cache    *snapshotCache
}

// NewService assembles an engine over a catalog, a store and a scope
// registry. pub may be nil to disable event publication.
func NewService(cat *catalog.Catalog, store factorbank.Store, registry *scope.Registry, pub events.Publisher, logger *zap.Logger, opts Options) (*Service, error) {
	if cat == nil {
		return nil, fmt.Errorf("catalog cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if pub == nil {
		pub = events.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	matcher, err := match.NewMatcher(opts.Dampening)
	if err != nil {
		return nil, err
	}
	agg, err := evidence.NewAggregator(opts.Aggregation)
	if err != nil {
		return nil, err
	}
	rel, err := relationship.NewManager(store, agg, logger.Named("relationship"), opts.Relationship,
		relationship.WithPublisher(pub))
	if err != nil {
		return nil, err
	}

	s := &Service{
		catalog:  cat,
		store:    store,
		registry: registry,
		matcher:  matcher,
		agg:      agg,
		rel:      rel,
		pub:      pub,
		logger:   logger,
		cache:    newSnapshotCache(),
	}
	if opts.Deferred {
		sched, err := relationship.NewScheduler(rel, logger.Named("scheduler"))
		if err != nil {
			return nil, err
		}
		s.sched = sched
	}
	return s, nil
}

// Start launches the deferred synthesis scheduler, if enabled.
func (s *Service) Start() error {
	if s.sched == nil {
		return nil
	}
	return s.sched.Start()
}

// Stop stops the scheduler after a final drain.
func (s *Service) Stop() {
	if s.sched != nil {
		s.sched.Stop()
	}
}

// Flush forces any pending deferred synthesis to run now.
func (s *Service) Flush(ctx context.Context) error {
	if s.sched == nil {
		return nil
	}
	return s.sched.Flush(ctx)
}

// Registry exposes the scope registry for callers enumerating known
// dimension values.
func (s *Service) Registry() *scope.Registry {
	return s.registry
}

// Catalog exposes the immutable factor catalog.
func (s *Service) Catalog() *catalog.Catalog {
	return s.catalog
}

// Resolve answers "what do we currently believe about this factor at this
// scope, and how sure are we". Structural misuse (unknown factor, invalid
// scope) fails immediately; a scope nothing applies to returns
// ErrNoApplicableInstance.
func (s *Service) Resolve(ctx context.Context, factorID string, requested scope.Key) (*Resolution, error) {
	started := time.Now()

	def, err := s.catalog.Get(factorID)
	if err != nil {
		return nil, err
	}
	if err := def.ValidateScope(requested); err != nil {
		return nil, err
	}

	candidates, err := s.candidates(ctx, factorID)
	if err != nil {
		return nil, err
	}

	best, ok := s.matcher.Best(def, candidates.ranked, requested)
	if !ok {
		resolveTotal.WithLabelValues(outcomeNoMatch).Inc()
		resolveDuration.Observe(time.Since(started).Seconds())
		return nil, fmt.Errorf("%w: factor %s scope %s", ErrNoApplicableInstance, factorID, requested.Canonical())
	}

	snap := candidates.snapshots[best.Instance.ID]
	res := &Resolution{
		FactorID:     factorID,
		InstanceID:   best.Instance.ID,
		Value:        snap.Result.Value,
		Confidence:   snap.Result.Confidence,
		Contested:    snap.Result.Contested,
		State:        snap.State,
		MatchedScope: best.Instance.Scope,
		MatchScore:   best.Score,
	}

	outcome := outcomeMatched
	if res.Contested {
		outcome = outcomeContested
	}
	resolveTotal.WithLabelValues(outcome).Inc()
	resolveDuration.Observe(time.Since(started).Seconds())

	s.logger.Debug("resolved factor",
		zap.String("factor_id", factorID),
		zap.String("requested_scope", requested.Canonical()),
		zap.String("matched_scope", res.MatchedScope.Canonical()),
		zap.Float64("score", res.MatchScore),
		zap.Float64("value", res.Value),
		zap.Bool("contested", res.Contested))
	return res, nil
}

// SubmitEvidence validates and appends one evidence piece, creating the
// instance on first evidence for a previously unseen scope. Returns the
// instance id. A stale append is re-read and re-applied once before the
// conflict surfaces.
func (s *Service) SubmitEvidence(ctx context.Context, factorID string, key scope.Key, piece evidence.Piece) (string, error) {
	def, err := s.catalog.Get(factorID)
	if err != nil {
		return "", err
	}
	if err := def.ValidateScope(key); err != nil {
		return "", err
	}
	if err := piece.Validate(); err != nil {
		return "", err
	}

	inst, prev, created, err := s.appendOrCreate(ctx, factorID, key, piece)
	if err != nil {
		return "", err
	}
	appendTotal.Inc()

	// Whether the instance was already contested before this append, so
	// the contested event fires only on the transition.
	wasContested := false
	if prev != nil {
		if snap, err := s.snapshot(ctx, prev); err == nil {
			wasContested = snap.State == StateContested
		}
	}

	if err := s.registry.Observe(factorID, key); err != nil {
		// Bookkeeping failure must not lose the committed evidence.
		s.logger.Warn("scope registry update failed", zap.Error(err))
	}
	s.cache.invalidate(inst.ID)

	if created {
		if err := s.rel.LinkRefinement(ctx, inst); err != nil {
			s.logger.Warn("refinement linking failed",
				zap.String("instance_id", inst.ID),
				zap.Error(err))
		}
	}

	if s.sched != nil {
		s.sched.Notify(factorID)
	} else {
		if err := s.rel.Synthesize(ctx, factorID); err != nil {
			s.logger.Warn("synthesis failed", zap.String("factor_id", factorID), zap.Error(err))
		}
	}

	s.publish(ctx, events.New(events.TypeEvidenceAppended, factorID, inst.ID, key.Canonical()))
	if snap, err := s.snapshot(ctx, inst); err == nil && snap.State == StateContested && !wasContested {
		contestedTotal.Inc()
		s.publish(ctx, events.New(events.TypeInstanceContested, factorID, inst.ID, key.Canonical()))
	}

	s.logger.Info("evidence submitted",
		zap.String("factor_id", factorID),
		zap.String("scope", key.Canonical()),
		zap.String("instance_id", inst.ID),
		zap.Int("rating", piece.Rating),
		zap.Int("tier", piece.Tier),
		zap.Bool("created", created))
	return inst.ID, nil
}

// GetHierarchy returns the factor's instances as a refinement tree, roots
// first, children sorted by canonical scope for stable display.
func (s *Service) GetHierarchy(ctx context.Context, factorID string) (*Hierarchy, error) {
	if _, err := s.catalog.Get(factorID); err != nil {
		return nil, err
	}

	all, err := s.store.GetInstances(ctx, factorID)
	if err != nil {
		return nil, err
	}

	nodes := make(map[string]*HierarchyNode, len(all))
	for _, inst := range all {
		node := &HierarchyNode{Instance: inst}
		if snap, err := s.snapshot(ctx, inst); err == nil {
			node.Snapshot = snap
		}
		nodes[inst.ID] = node
	}

	var roots []*HierarchyNode
	for _, inst := range all {
		node := nodes[inst.ID]
		if parent, ok := nodes[inst.Refines]; ok {
			parent.Children = append(parent.Children, node)
		} else {
			roots = append(roots, node)
		}
	}

	sortNodes(roots)
	for _, node := range nodes {
		sortNodes(node.Children)
	}

	return &Hierarchy{FactorID: factorID, Roots: roots}, nil
}

// appendOrCreate finds the live instance for the scope and appends, or
// creates it on first evidence. Races on either path are retried once.
// The second return is the instance as it was before the append, nil when
// this call created it.
func (s *Service) appendOrCreate(ctx context.Context, factorID string, key scope.Key, piece evidence.Piece) (*factorbank.Instance, *factorbank.Instance, bool, error) {
	canonical := key.Canonical()

	for attempt := 0; attempt < 2; attempt++ {
		existing, err := s.store.GetByScope(ctx, factorID, canonical)
		if errors.Is(err, factorbank.ErrInstanceNotFound) {
			inst := factorbank.NewInstance(factorID, key)
			inst.Evidence = []evidence.Piece{piece}
			stored, err := s.store.PutInstance(ctx, inst, 0)
			if errors.Is(err, factorbank.ErrDuplicateScope) {
				continue // lost the create race; append instead
			}
			if err != nil {
				return nil, nil, false, err
			}
			return stored, nil, true, nil
		}
		if err != nil {
			return nil, nil, false, err
		}

		updated, err := s.store.AppendEvidence(ctx, existing.ID, piece, existing.Version)
		if errors.Is(err, factorbank.ErrVersionConflict) {
			conflictTotal.Inc()
			if attempt == 0 {
				continue // re-read and re-apply once
			}
			return nil, nil, false, err
		}
		if err != nil {
			return nil, nil, false, err
		}
		return updated, existing, false, nil
	}
	return nil, nil, false, fmt.Errorf("%w: factor %s scope %s", factorbank.ErrVersionConflict, factorID, canonical)
}

func (s *Service) publish(ctx context.Context, evt events.Event) {
	if err := s.pub.Publish(ctx, evt); err != nil {
		s.logger.Warn("event publish failed",
			zap.String("type", string(evt.Type)),
			zap.Error(err))
	}
}

func sortNodes(nodes []*HierarchyNode) {
	sort.Slice(nodes, func(i, j int) bool {
		a, b := nodes[i].Instance, nodes[j].Instance
		ad, bd := len(a.Scope.Specified()), len(b.Scope.Specified())
		if ad != bd {
			return ad < bd
		}
		return a.Scope.Canonical() < b.Scope.Canonical()
	})
}
