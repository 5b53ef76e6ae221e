// Package persistence is the durable store behind one xlnd process: a
// boltdb-backed recovery path for every entity's config, accounts,
// j-block chain, and j-batch state (§6's persistence interface). Grounded
// on channeldb/db.go's Open/createChannelDB shape — a single bolt.DB file
// under a data directory, its top-level buckets created once up front in
// one atomic transaction, with nothing in this package's own API exposed
// beyond what the entity layer actually needs recovered.
package persistence

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/boltdb/bolt"

	"github.com/xlnfinance/xln/xlnwire"
)

const (
	dbFileName       = "xln.db"
	dbFilePermission = 0600
)

// ErrEntityNotFound is returned by LoadEntity when no snapshot has ever
// been saved for the requested id.
var ErrEntityNotFound = errors.New("persistence: no snapshot stored for entity")

var (
	entityBucket = []byte("entities")
	metaBucket   = []byte("meta")
)

// Store is the primary datastore for the xlnd daemon: one entity's
// snapshot per key, each write an independent atomic bolt transaction
// (§6: "atomic append-then-publish" — boltdb's own copy-on-write B+tree
// already makes a single Update call all-or-nothing, so no separate
// write-ahead log is layered on top, exactly as channeldb relies on bolt
// alone for its own durability).
type Store struct {
	*bolt.DB
	path string
}

// Open opens (creating if necessary) the boltdb file under dataDir,
// ensuring every top-level bucket this package uses exists.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, err
	}
	path := filepath.Join(dataDir, dbFileName)

	bdb, err := bolt.Open(path, dbFilePermission, nil)
	if err != nil {
		return nil, err
	}

	store := &Store{DB: bdb, path: path}
	if err := bdb.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(entityBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	}); err != nil {
		bdb.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying bolt.DB.
func (s *Store) Close() error {
	return s.DB.Close()
}

// SaveEntity persists snap under its EntityID key, replacing any prior
// snapshot in a single transaction.
func (s *Store) SaveEntity(snap EntitySnapshot) error {
	blob, err := snap.encode()
	if err != nil {
		return err
	}
	return s.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(entityBucket).Put(snap.ID[:], blob)
	})
}

// LoadEntity recovers the last snapshot saved for id, or ErrEntityNotFound
// if none exists.
func (s *Store) LoadEntity(id xlnwire.EntityID) (*EntitySnapshot, error) {
	var blob []byte
	if err := s.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(entityBucket).Get(id[:])
		if v == nil {
			return ErrEntityNotFound
		}
		blob = append([]byte(nil), v...)
		return nil
	}); err != nil {
		return nil, err
	}
	snap, err := decodeEntitySnapshot(blob)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// ListEntityIDs returns every entity this store currently has a snapshot
// for, in bolt's own key order.
func (s *Store) ListEntityIDs() ([]xlnwire.EntityID, error) {
	var ids []xlnwire.EntityID
	err := s.View(func(tx *bolt.Tx) error {
		return tx.Bucket(entityBucket).ForEach(func(k, _ []byte) error {
			var id xlnwire.EntityID
			copy(id[:], k)
			ids = append(ids, id)
			return nil
		})
	})
	return ids, err
}
