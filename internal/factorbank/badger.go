package factorbank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/fyrsmithlabs/factord/internal/evidence"
)

// Key layout:
//
//	i:<instance id>                      -> JSON instance
//	s:<factor id>\x00<canonical scope>   -> instance id
//	f:<factor id>\x00<instance id>       -> empty (factor index)
const (
	prefixInstance = "i:"
	prefixScope    = "s:"
	prefixFactor   = "f:"
	keySeparator   = "\x00"
)

// BadgerStore is a durable Store on BadgerDB. Version checks run inside
// read-write transactions, so concurrent appends to one instance serialize
// at the storage layer as well.
type BadgerStore struct {
	db *badger.DB
}

// BadgerOptions configures a BadgerStore.
type BadgerOptions struct {
	// DataDir is the storage directory. Ignored when InMemory is set.
	DataDir string

	// InMemory keeps all data in memory; useful for tests.
	InMemory bool

	// SyncWrites fsyncs every write at a throughput cost.
	SyncWrites bool
}

// NewBadgerStore opens a BadgerDB-backed store.
func NewBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir).
		WithLogger(nil).
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close releases the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func instanceKey(id string) []byte {
	return []byte(prefixInstance + id)
}

func scopeKey(factorID, canonical string) []byte {
	return []byte(prefixScope + factorID + keySeparator + canonical)
}

func factorKey(factorID, id string) []byte {
	return []byte(prefixFactor + factorID + keySeparator + id)
}

func factorPrefix(factorID string) []byte {
	return []byte(prefixFactor + factorID + keySeparator)
}

func decodeInstance(val []byte) (*Instance, error) {
	var inst Instance
	if err := json.Unmarshal(val, &inst); err != nil {
		return nil, fmt.Errorf("failed to decode instance: %w", err)
	}
	return &inst, nil
}

func getInstanceTxn(txn *badger.Txn, id string) (*Instance, error) {
	item, err := txn.Get(instanceKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	var inst *Instance
	err = item.Value(func(val []byte) error {
		var decodeErr error
		inst, decodeErr = decodeInstance(val)
		return decodeErr
	})
	return inst, err
}

func putInstanceTxn(txn *badger.Txn, inst *Instance) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("failed to encode instance: %w", err)
	}
	if err := txn.Set(instanceKey(inst.ID), data); err != nil {
		return err
	}
	if err := txn.Set(scopeKey(inst.FactorID, inst.Scope.Canonical()), []byte(inst.ID)); err != nil {
		return err
	}
	return txn.Set(factorKey(inst.FactorID, inst.ID), []byte{})
}

// GetInstances returns all instances for a factor.
func (s *BadgerStore) GetInstances(ctx context.Context, factorID string) ([]*Instance, error) {
	var out []*Instance
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := factorPrefix(factorID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id := string(it.Item().Key()[len(prefix):])
			inst, err := getInstanceTxn(txn, id)
			if err != nil {
				return err
			}
			out = append(out, inst)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetInstance returns one instance by id.
func (s *BadgerStore) GetInstance(ctx context.Context, id string) (*Instance, error) {
	var inst *Instance
	err := s.db.View(func(txn *badger.Txn) error {
		var getErr error
		inst, getErr = getInstanceTxn(txn, id)
		return getErr
	})
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// GetByScope returns the live instance for a factor's canonical scope.
func (s *BadgerStore) GetByScope(ctx context.Context, factorID, canonicalScope string) (*Instance, error) {
	var inst *Instance
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(scopeKey(factorID, canonicalScope))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: factor %s scope %s", ErrInstanceNotFound, factorID, canonicalScope)
		}
		if err != nil {
			return err
		}

		var id string
		if err := item.Value(func(val []byte) error {
			id = string(val)
			return nil
		}); err != nil {
			return err
		}

		var getErr error
		inst, getErr = getInstanceTxn(txn, id)
		return getErr
	})
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// PutInstance creates or updates an instance under optimistic versioning.
func (s *BadgerStore) PutInstance(ctx context.Context, inst *Instance, expectedVersion uint64) (*Instance, error) {
	if inst == nil {
		return nil, ErrInvalidInstance
	}
	if err := inst.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInstance, err)
	}

	stored := inst.Clone()
	err := s.db.Update(func(txn *badger.Txn) error {
		existing, err := getInstanceTxn(txn, inst.ID)
		switch {
		case expectedVersion == 0:
			if err == nil {
				return fmt.Errorf("%w: %s", ErrVersionConflict, inst.ID)
			}
			if !errors.Is(err, ErrInstanceNotFound) {
				return err
			}
			if _, err := txn.Get(scopeKey(inst.FactorID, inst.Scope.Canonical())); err == nil {
				return fmt.Errorf("%w: factor %s scope %s", ErrDuplicateScope, inst.FactorID, inst.Scope.Canonical())
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		case err != nil:
			return err
		case existing.Version != expectedVersion:
			return fmt.Errorf("%w: %s expected %d have %d", ErrVersionConflict, inst.ID, expectedVersion, existing.Version)
		}

		stored.Version = expectedVersion + 1
		stored.UpdatedAt = time.Now().UTC()
		return putInstanceTxn(txn, stored)
	})
	if err != nil {
		return nil, err
	}
	return stored.Clone(), nil
}

// AppendEvidence appends one piece under optimistic versioning.
func (s *BadgerStore) AppendEvidence(ctx context.Context, id string, piece evidence.Piece, expectedVersion uint64) (*Instance, error) {
	if err := piece.Validate(); err != nil {
		return nil, err
	}

	var updated *Instance
	err := s.db.Update(func(txn *badger.Txn) error {
		inst, err := getInstanceTxn(txn, id)
		if err != nil {
			return err
		}
		if inst.Version != expectedVersion {
			return fmt.Errorf("%w: %s expected %d have %d", ErrVersionConflict, id, expectedVersion, inst.Version)
		}

		inst.Evidence = append(inst.Evidence, piece)
		inst.Version++
		inst.UpdatedAt = time.Now().UTC()

		if err := putInstanceTxn(txn, inst); err != nil {
			return err
		}
		updated = inst
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

var _ Store = (*BadgerStore)(nil)
