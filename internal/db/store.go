package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

var ErrNotFound = errors.New("key not found")

// Store is a namespaced key/value store on top of badger.
type Store struct {
	db *badger.DB
}

// NewStore opens (or creates) a badger database under dataDir. A nil log
// silences badger.
func NewStore(dataDir string, log logrus.FieldLogger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	opts := badger.DefaultOptions(filepath.Join(dataDir, "badger"))
	opts.Logger = nil
	if log != nil {
		opts.Logger = log.WithField("component", "badger")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(namespace, key string) ([]byte, error) {
	var value []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(namespace + key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	return value, err
}

func (s *Store) Set(namespace, key string, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(namespace+key), value)
	})
}

func (s *Store) Delete(namespace, key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(namespace + key))
	})
}

// Scan calls fn for every key under namespace+prefix in key order. The key
// passed to fn has the namespace stripped; value is only valid during the
// call.
func (s *Store) Scan(namespace, prefix string, fn func(key string, value []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		fullPrefix := []byte(namespace + prefix)
		for it.Seek(fullPrefix); it.ValidForPrefix(fullPrefix); it.Next() {
			item := it.Item()
			key := string(item.Key())
			err := item.Value(func(val []byte) error {
				return fn(key[len(namespace):], val)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}
