package factorbank

import (
	"context"

	"github.com/fyrsmithlabs/factord/internal/evidence"
)

// Store is the persistence boundary the engine consumes. Implementations
// own durability, multi-tenant isolation and indexing.
//
// All writes carry the caller's last-seen version; a stale version fails
// with ErrVersionConflict. Appends for one instance are thereby serialized
// while reads stay lock-free and may observe a slightly stale snapshot.
type Store interface {
	// GetInstances returns all instances for a factor. Order is
	// unspecified; callers needing determinism sort themselves.
	GetInstances(ctx context.Context, factorID string) ([]*Instance, error)

	// GetInstance returns one instance by id, or ErrInstanceNotFound.
	GetInstance(ctx context.Context, id string) (*Instance, error)

	// GetByScope returns the live instance for a factor's canonical scope
	// string, or ErrInstanceNotFound. At most one live instance exists per
	// (factor, scope) pair.
	GetByScope(ctx context.Context, factorID, canonicalScope string) (*Instance, error)

	// PutInstance writes an instance. expectedVersion 0 creates it
	// (failing with ErrDuplicateScope if the scope is taken); a non-zero
	// expectedVersion updates and fails with ErrVersionConflict when
	// stale. The stored version is bumped on success.
	PutInstance(ctx context.Context, inst *Instance, expectedVersion uint64) (*Instance, error)

	// AppendEvidence appends one piece to an instance and returns the
	// updated copy. Fails with ErrVersionConflict when expectedVersion is
	// stale.
	AppendEvidence(ctx context.Context, id string, piece evidence.Piece, expectedVersion uint64) (*Instance, error)
}
