package relationship

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/factord/internal/evidence"
	"github.com/fyrsmithlabs/factord/internal/factorbank"
	"github.com/fyrsmithlabs/factord/internal/scope"
)

func newTestManager(t *testing.T) (*Manager, factorbank.Store) {
	t.Helper()

	store := factorbank.NewMemoryStore()
	agg, err := evidence.NewAggregator(evidence.DefaultConfig())
	require.NoError(t, err)

	m, err := NewManager(store, agg, zap.NewNop(), DefaultConfig())
	require.NoError(t, err)
	return m, store
}

func createWithEvidence(t *testing.T, store factorbank.Store, factorID string, key scope.Key, pieces ...evidence.Piece) *factorbank.Instance {
	t.Helper()

	inst := factorbank.NewInstance(factorID, key)
	cur, err := store.PutInstance(context.Background(), inst, 0)
	require.NoError(t, err)
	for _, p := range pieces {
		cur, err = store.AppendEvidence(context.Background(), inst.ID, p, cur.Version)
		require.NoError(t, err)
	}
	return cur
}

func p(rating, tier int) evidence.Piece {
	return evidence.Piece{Rating: rating, Tier: tier, Timestamp: time.Now().UTC()}
}

func TestLinkRefinement_ChildToClosestAncestor(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	generic := createWithEvidence(t, store, "data_quality", scope.Key{}, p(3, 2))
	domain := createWithEvidence(t, store, "data_quality", scope.Key{"domain": "sales"}, p(3, 2))
	require.NoError(t, m.LinkRefinement(ctx, domain))

	system := createWithEvidence(t, store, "data_quality", scope.Key{"domain": "sales", "system": "crm"}, p(2, 3))
	require.NoError(t, m.LinkRefinement(ctx, system))

	// The system-level instance refines the domain-level one, not the
	// generic root.
	got, err := store.GetInstance(ctx, system.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ID, got.Refines)

	gotDomain, err := store.GetInstance(ctx, domain.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.ID, gotDomain.Refines)
	assert.Contains(t, gotDomain.RefinedBy, system.ID)
}

func TestLinkRefinement_AdoptsExistingChildren(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	generic := createWithEvidence(t, store, "data_quality", scope.Key{}, p(3, 2))
	system := createWithEvidence(t, store, "data_quality", scope.Key{"domain": "sales", "system": "crm"}, p(2, 3))
	require.NoError(t, m.LinkRefinement(ctx, system))

	// The system instance initially refines the generic root.
	got, err := store.GetInstance(ctx, system.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.ID, got.Refines)

	// A domain-level instance created later slots in between.
	domain := createWithEvidence(t, store, "data_quality", scope.Key{"domain": "sales"}, p(3, 2))
	require.NoError(t, m.LinkRefinement(ctx, domain))

	got, err = store.GetInstance(ctx, system.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ID, got.Refines)

	gotGeneric, err := store.GetInstance(ctx, generic.ID)
	require.NoError(t, err)
	assert.NotContains(t, gotGeneric.RefinedBy, system.ID)
	assert.Contains(t, gotGeneric.RefinedBy, domain.ID)
}

func TestSynthesize_CreatesParentFromSiblings(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	createWithEvidence(t, store, "data_quality",
		scope.Key{"domain": "sales", "system": "crm"}, p(2, 3))
	createWithEvidence(t, store, "data_quality",
		scope.Key{"domain": "sales", "system": "web"}, p(4, 3))

	require.NoError(t, m.Synthesize(ctx, "data_quality"))

	parent, err := store.GetByScope(ctx, "data_quality", "domain=sales")
	require.NoError(t, err)
	assert.True(t, parent.IsSynthesized())
	assert.Len(t, parent.SynthesizedFrom, 2)
	assert.Empty(t, parent.Evidence)
}

func TestSynthesize_BelowMinSiblingsNoParent(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	createWithEvidence(t, store, "data_quality",
		scope.Key{"domain": "sales", "system": "crm"}, p(2, 3))

	require.NoError(t, m.Synthesize(ctx, "data_quality"))

	_, err := store.GetByScope(ctx, "data_quality", "domain=sales")
	assert.ErrorIs(t, err, factorbank.ErrInstanceNotFound)
}

func TestSynthesize_OrganicParentUntouchedWhenClose(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	// Organic parent agrees with what the children imply.
	parent := createWithEvidence(t, store, "data_quality",
		scope.Key{"domain": "sales"}, p(3, 3))
	createWithEvidence(t, store, "data_quality",
		scope.Key{"domain": "sales", "system": "crm"}, p(3, 3))
	createWithEvidence(t, store, "data_quality",
		scope.Key{"domain": "sales", "system": "web"}, p(3, 3))

	require.NoError(t, m.Synthesize(ctx, "data_quality"))

	got, err := store.GetInstance(ctx, parent.ID)
	require.NoError(t, err)
	assert.False(t, got.IsSynthesized())
}

func TestSynthesize_DivergedOrganicParentGetsLinks(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	// Organic parent asserts 5 while heavy child evidence implies ~1.
	parent := createWithEvidence(t, store, "data_quality",
		scope.Key{"domain": "sales"}, p(5, 5))
	createWithEvidence(t, store, "data_quality",
		scope.Key{"domain": "sales", "system": "crm"}, p(1, 5), p(1, 5))
	createWithEvidence(t, store, "data_quality",
		scope.Key{"domain": "sales", "system": "web"}, p(1, 5), p(1, 5))

	require.NoError(t, m.Synthesize(ctx, "data_quality"))

	got, err := store.GetInstance(ctx, parent.ID)
	require.NoError(t, err)
	assert.True(t, got.IsSynthesized())
	assert.Len(t, got.SynthesizedFrom, 2)
	// Own evidence is preserved: the engine is append-only.
	assert.Len(t, got.Evidence, 1)
}

func TestSynthesize_SynthesizedParentsNotSources(t *testing.T) {
	// A synthesized parent must not itself seed a grandparent synthesis:
	// single synthesis level only.
	m, store := newTestManager(t)
	ctx := context.Background()

	createWithEvidence(t, store, "data_quality",
		scope.Key{"domain": "sales", "system": "crm"}, p(2, 3))
	createWithEvidence(t, store, "data_quality",
		scope.Key{"domain": "sales", "system": "web"}, p(4, 3))
	createWithEvidence(t, store, "data_quality",
		scope.Key{"domain": "finance", "system": "erp"}, p(3, 3))
	createWithEvidence(t, store, "data_quality",
		scope.Key{"domain": "finance", "system": "bi"}, p(3, 3))

	require.NoError(t, m.Synthesize(ctx, "data_quality"))
	// Second pass with the synthesized domain parents present.
	require.NoError(t, m.Synthesize(ctx, "data_quality"))

	_, err := store.GetByScope(ctx, "data_quality", scope.Generic)
	assert.ErrorIs(t, err, factorbank.ErrInstanceNotFound)
}

func TestSynthesize_RefreshesSiblingLinks(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	createWithEvidence(t, store, "data_quality",
		scope.Key{"domain": "sales", "system": "crm"}, p(2, 3))
	createWithEvidence(t, store, "data_quality",
		scope.Key{"domain": "sales", "system": "web"}, p(4, 3))
	require.NoError(t, m.Synthesize(ctx, "data_quality"))

	// A third sibling arrives; the synthesized parent picks it up.
	createWithEvidence(t, store, "data_quality",
		scope.Key{"domain": "sales", "system": "erp"}, p(3, 3))
	require.NoError(t, m.Synthesize(ctx, "data_quality"))

	parent, err := store.GetByScope(ctx, "data_quality", "domain=sales")
	require.NoError(t, err)
	assert.Len(t, parent.SynthesizedFrom, 3)
}

func TestScheduler_DebouncedFlush(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	s, err := NewScheduler(m, zap.NewNop())
	require.NoError(t, err)

	createWithEvidence(t, store, "data_quality",
		scope.Key{"domain": "sales", "system": "crm"}, p(2, 3))
	createWithEvidence(t, store, "data_quality",
		scope.Key{"domain": "sales", "system": "web"}, p(4, 3))

	// Multiple notifications coalesce into one pending entry.
	s.Notify("data_quality")
	s.Notify("data_quality")
	require.NoError(t, s.Flush(ctx))

	parent, err := store.GetByScope(ctx, "data_quality", "domain=sales")
	require.NoError(t, err)
	assert.True(t, parent.IsSynthesized())

	// Nothing pending after a flush.
	require.NoError(t, s.Flush(ctx))
}

func TestScheduler_StartStop(t *testing.T) {
	m, _ := newTestManager(t)

	s, err := NewScheduler(m, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.Start())
	assert.Error(t, s.Start()) // already running

	s.Stop()
	s.Stop() // no-op

	// Restartable after stop.
	require.NoError(t, s.Start())
	s.Stop()
}

func TestScheduler_BackgroundDrain(t *testing.T) {
	m, store := newTestManager(t)

	cfg := DefaultConfig()
	cfg.Debounce = 10 * time.Millisecond
	agg, err := evidence.NewAggregator(evidence.DefaultConfig())
	require.NoError(t, err)
	m, err = NewManager(store, agg, zap.NewNop(), cfg)
	require.NoError(t, err)

	s, err := NewScheduler(m, zap.NewNop())
	require.NoError(t, err)

	createWithEvidence(t, store, "data_quality",
		scope.Key{"domain": "sales", "system": "crm"}, p(2, 3))
	createWithEvidence(t, store, "data_quality",
		scope.Key{"domain": "sales", "system": "web"}, p(4, 3))

	require.NoError(t, s.Start())
	s.Notify("data_quality")

	require.Eventually(t, func() bool {
		_, err := store.GetByScope(context.Background(), "data_quality", "domain=sales")
		return err == nil
	}, time.Second, 5*time.Millisecond)

	s.Stop()
}
