package storage

import (
	"context"
	"encoding/json"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/orbit-sh/orbitd/internal/models"
)

// Store persists reconciler state across daemon restarts. Kept minimal,
// allows swapping implementations.
type Store interface {
	SaveWorkload(ctx context.Context, spec models.WorkloadSpec) error
	DeleteWorkload(ctx context.Context, name string) error
	ListWorkloads(ctx context.Context) ([]models.WorkloadSpec, error)

	SaveInstance(ctx context.Context, rec models.InstanceRecord) error
	DeleteInstance(ctx context.Context, id string) error
	ListInstances(ctx context.Context) ([]models.InstanceRecord, error)

	Close() error
}

// BadgerStore implements Store with Badger DB.
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(path string) (Store, error) {
	opts := badger.DefaultOptions(filepath.Clean(path))
	opts.Logger = nil                         // badger's own logging is noise here
	opts = opts.WithValueLogFileSize(1 << 20) // smaller value log for local dev
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func workloadKey(name string) []byte {
	return []byte("workload:" + name)
}

func instanceKey(id string) []byte {
	return []byte("instance:" + id)
}

func (s *BadgerStore) SaveWorkload(ctx context.Context, spec models.WorkloadSpec) error {
	return s.put(workloadKey(spec.Name), spec)
}

func (s *BadgerStore) DeleteWorkload(ctx context.Context, name string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(workloadKey(name))
	})
}

func (s *BadgerStore) ListWorkloads(ctx context.Context) ([]models.WorkloadSpec, error) {
	var out []models.WorkloadSpec
	err := s.scan([]byte("workload:"), func(v []byte) error {
		var spec models.WorkloadSpec
		if err := json.Unmarshal(v, &spec); err != nil {
			return err
		}
		out = append(out, spec)
		return nil
	})
	return out, err
}

func (s *BadgerStore) SaveInstance(ctx context.Context, rec models.InstanceRecord) error {
	return s.put(instanceKey(rec.ID), rec)
}

func (s *BadgerStore) DeleteInstance(ctx context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(instanceKey(id))
	})
}

func (s *BadgerStore) ListInstances(ctx context.Context) ([]models.InstanceRecord, error) {
	var out []models.InstanceRecord
	err := s.scan([]byte("instance:"), func(v []byte) error {
		var rec models.InstanceRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

func (s *BadgerStore) put(key []byte, v any) error {
	return s.db.Update(func(txn *badger.Txn) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
}

func (s *BadgerStore) scan(prefix []byte, fn func(v []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}
