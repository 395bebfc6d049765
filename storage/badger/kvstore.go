package badger

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v2"

	"github.com/mnlabs/quorum-go/storage"
)

// KVStore adapts a badger database to the storage.KVStore contract. Badger
// iterates keys in lexicographic order, which the time-bucketed indices
// depend on.
type KVStore struct {
	db *badger.DB
}

var _ storage.KVStore = (*KVStore)(nil)

func NewKVStore(db *badger.DB) *KVStore {
	return &KVStore{db: db}
}

func (s *KVStore) Get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("could not load data: %w", err)
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *KVStore) Has(key []byte) (bool, error) {
	var exists bool
	err := s.db.View(func(tx *badger.Txn) error {
		_, err := tx.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			exists = false
			return nil
		}
		if err != nil {
			return fmt.Errorf("could not check existence: %w", err)
		}
		exists = true
		return nil
	})
	return exists, err
}

func (s *KVStore) Put(key []byte, value []byte) error {
	return s.db.Update(func(tx *badger.Txn) error {
		return tx.Set(key, value)
	})
}

func (s *KVStore) Delete(key []byte) error {
	return s.db.Update(func(tx *badger.Txn) error {
		return tx.Delete(key)
	})
}

func (s *KVStore) Iterate(prefix []byte, fn func(key []byte, value []byte) error) error {
	return s.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := tx.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				return fn(item.Key(), val)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *KVStore) NewBatch() storage.KVBatch {
	return &kvBatch{tx: s.db.NewTransaction(true)}
}

// kvBatch collects writes in one read-write transaction, so a failed Commit
// leaves the store untouched. Put and Delete errors are deferred to Commit.
type kvBatch struct {
	tx  *badger.Txn
	err error
}

func (b *kvBatch) Put(key []byte, value []byte) {
	if b.err != nil {
		return
	}
	b.err = b.tx.Set(key, value)
}

func (b *kvBatch) Delete(key []byte) {
	if b.err != nil {
		return
	}
	b.err = b.tx.Delete(key)
}

func (b *kvBatch) Commit() error {
	if b.err != nil {
		b.tx.Discard()
		return b.err
	}
	return b.tx.Commit()
}
