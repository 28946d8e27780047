// Package catalog keeps committed nodes in a badger database, keyed by
// parent and sequence number.
package catalog

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/bsm/lsmerge"
	"github.com/dgraph-io/badger"
	pkgerrors "github.com/pkg/errors"
)

// ErrNotFound is returned when a node cannot be found.
var ErrNotFound = errors.New("catalog: not found")

// ErrStale is returned when a node is stored with a generation that is not
// newer than the stored one.
var ErrStale = errors.New("catalog: stale generation")

const keyPrefix = 'n'

// Store is a node catalog.
type Store struct {
	db  *badger.DB
	cmp lsmerge.Comparator
}

// Open opens a catalog in dir. A nil comparator defaults to the
// bytewise comparator.
func Open(dir string, cmp lsmerge.Comparator) (*Store, error) {
	opts := badger.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir

	db, err := badger.Open(opts)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "catalog: open")
	}
	return &Store{db: db, cmp: cmp}, nil
}

// Put stores a committed node. It fails with ErrStale if a node with the
// same parent and sequence and a generation >= the node's is already stored.
func (s *Store) Put(node *lsmerge.Node) error {
	id := node.ID()

	var buf bytes.Buffer
	buf.Grow(node.Size())
	if _, err := node.WriteTo(&buf); err != nil {
		return err
	}

	key := nodeKey(id.Parent, id.Seq)
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == nil {
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			prev, err := lsmerge.OpenNode(bytes.NewReader(val), 0, s.cmp)
			if err != nil {
				return pkgerrors.Wrapf(err, "catalog: node %s", id)
			}
			if prev.Index().Header.ID.Gen >= id.Gen {
				return ErrStale
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(key, buf.Bytes())
	})
}

// Get opens the node stored for parent and seq.
func (s *Store) Get(parent, seq uint32) (*lsmerge.Reader, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(nodeKey(parent, seq))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return lsmerge.OpenNode(bytes.NewReader(val), 0, s.cmp)
}

// List returns the identities of all nodes stored for parent, ordered by
// sequence number.
func (s *Store) List(parent uint32) ([]lsmerge.NodeID, error) {
	var ids []lsmerge.NodeID
	prefix := nodeKey(parent, 0)[:5]

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			node, err := lsmerge.OpenNode(bytes.NewReader(val), 0, s.cmp)
			if err != nil {
				return err
			}
			ids = append(ids, node.Index().Header.ID)
		}
		return nil
	})
	return ids, err
}

// Delete removes a node.
func (s *Store) Delete(parent, seq uint32) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(nodeKey(parent, seq))
	})
}

// Close closes the catalog.
func (s *Store) Close() error {
	return s.db.Close()
}

func nodeKey(parent, seq uint32) []byte {
	key := make([]byte, 9)
	key[0] = keyPrefix
	binary.BigEndian.PutUint32(key[1:], parent)
	binary.BigEndian.PutUint32(key[5:], seq)
	return key
}
