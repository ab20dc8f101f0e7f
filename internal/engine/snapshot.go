package engine

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/factord/internal/evidence"
	"github.com/fyrsmithlabs/factord/internal/factorbank"
	"github.com/fyrsmithlabs/factord/internal/match"
)

// candidateSet is one factor's instances prepared for matching, with the
// derived snapshot per instance.
type candidateSet struct {
	ranked    []match.Candidate
	snapshots map[string]*Snapshot
}

// candidates loads a factor's instances and derives each one's snapshot.
// Instances whose value cannot be derived (a synthesized parent whose
// sources all vanished) are skipped rather than failing the query.
func (s *Service) candidates(ctx context.Context, factorID string) (*candidateSet, error) {
	all, err := s.store.GetInstances(ctx, factorID)
	if err != nil {
		return nil, err
	}

	set := &candidateSet{
		ranked:    make([]match.Candidate, 0, len(all)),
		snapshots: make(map[string]*Snapshot, len(all)),
	}
	for _, inst := range all {
		snap, err := s.snapshot(ctx, inst)
		if err != nil {
			s.logger.Debug("skipping instance without derivable value", zap.String("instance_id", inst.ID))
			continue
		}
		set.snapshots[inst.ID] = snap
		set.ranked = append(set.ranked, match.Candidate{
			Instance:   inst,
			Confidence: snap.Result.Confidence,
		})
	}
	return set, nil
}

// snapshot derives the current value, confidence, contested flag and state
// for one instance. Organic instances aggregate their own evidence and are
// cached by (id, version). Synthesized instances blend their source
// siblings' summaries with any own evidence and are recomputed every time,
// since their value depends on other instances' versions.
func (s *Service) snapshot(ctx context.Context, inst *factorbank.Instance) (*Snapshot, error) {
	if !inst.IsSynthesized() {
		if snap, ok := s.cache.get(inst.ID, inst.Version); ok {
			return snap, nil
		}
		res, err := s.agg.Aggregate(inst.Evidence)
		if err != nil {
			return nil, err
		}
		snap := &Snapshot{Result: res, State: deriveState(res, inst.Evidence)}
		s.cache.put(inst.ID, inst.Version, snap)
		return snap, nil
	}
	return s.synthesizedSnapshot(ctx, inst)
}

// synthesizedSnapshot blends each source sibling's raw weighted mean, at
// its total weight, as one observation. An organic instance that was later
// marked synthesized keeps contributing its own evidence the same way, so
// an unconfirmed assertion is outvoted gradually, never discarded. A
// user-confirmed piece in the own evidence stays ground truth for this
// scope: its rating overrides the blended value rather than being outvoted
// by siblings.
func (s *Service) synthesizedSnapshot(ctx context.Context, inst *factorbank.Instance) (*Snapshot, error) {
	summaries := make([]evidence.Summary, 0, len(inst.SynthesizedFrom)+1)
	var (
		contested bool
		ownRes    *evidence.Result
	)

	for _, srcID := range inst.SynthesizedFrom {
		src, err := s.store.GetInstance(ctx, srcID)
		if err != nil {
			continue // source removed; blend what remains
		}
		res, err := s.agg.Aggregate(src.Evidence)
		if err != nil {
			continue
		}
		summaries = append(summaries, evidence.Summary{
			WeightedMean: res.WeightedMean,
			TotalWeight:  res.TotalWeight,
		})
		if res.Contested {
			contested = true
		}
	}

	if len(inst.Evidence) > 0 {
		res, err := s.agg.Aggregate(inst.Evidence)
		if err == nil {
			ownRes = &res
			summaries = append(summaries, evidence.Summary{
				WeightedMean: res.WeightedMean,
				TotalWeight:  res.TotalWeight,
			})
			if res.Contested {
				contested = true
			}
		}
	}

	res, err := s.agg.AggregateSummaries(summaries)
	if err != nil {
		return nil, err
	}
	res.Contested = res.Contested || contested

	confirmed := hasConfirmed(inst.Evidence)
	if confirmed && ownRes != nil {
		// ownRes already carries the confirmed override: value is the
		// confirmed rating, confidence at least the cap.
		res.Value = ownRes.Value
		if ownRes.Confidence > res.Confidence {
			res.Confidence = ownRes.Confidence
		}
	}

	state := StateUnconfirmed
	if confirmed {
		state = StateConfirmed
	}
	if res.Contested {
		state = StateContested
	}
	return &Snapshot{Result: res, State: state}, nil
}

func hasConfirmed(pieces []evidence.Piece) bool {
	for _, p := range pieces {
		if p.UserConfirmed {
			return true
		}
	}
	return false
}

// deriveState maps an aggregation result onto the lifecycle state.
// Contested beats confirmed: active disagreement must be surfaced even
// over a prior confirmation.
func deriveState(res evidence.Result, pieces []evidence.Piece) State {
	if res.Contested {
		return StateContested
	}
	if hasConfirmed(pieces) {
		return StateConfirmed
	}
	return StateUnconfirmed
}

// snapshotCache memoizes organic snapshots by (instance id, version).
// Append-only versioning makes entries immutable once written.
type snapshotCache struct {
	mu      sync.RWMutex
	entries map[string]cachedSnapshot
}

type cachedSnapshot struct {
	version uint64
	snap    *Snapshot
}

func newSnapshotCache() *snapshotCache {
	return &snapshotCache{entries: make(map[string]cachedSnapshot)}
}

func (c *snapshotCache) get(id string, version uint64) (*Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if !ok || e.version != version {
		return nil, false
	}
	return e.snap, true
}

func (c *snapshotCache) put(id string, version uint64, snap *Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = cachedSnapshot{version: version, snap: snap}
}

func (c *snapshotCache) invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}
