package bolt

import (
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/chenziqing0111/agent-core-2/internal/core/domain"
)

var snapshotBucket = []byte("index_snapshots")

// Store keeps index snapshots in a single bbolt file.
type Store struct {
	db *bbolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create snapshot bucket: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Load(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(snapshotBucket).Get([]byte(key))
		if v == nil {
			return domain.WrapError(domain.ErrSnapshotNotFound, "load snapshot", fmt.Errorf("key %q", key))
		}
		// values are only valid inside the transaction
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Save(_ context.Context, key string, data []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(snapshotBucket).Put([]byte(key), data); err != nil {
			return fmt.Errorf("put snapshot: %w", err)
		}
		return nil
	})
}

func (s *Store) Delete(_ context.Context, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(snapshotBucket).Delete([]byte(key))
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}
