package storage

import (
	"fmt"
	"io"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// BadgerDB implements DB using Badger.
type BadgerDB struct {
	db *badger.DB
}

// NewBadger creates a new Badger database at the given path.
func NewBadger(path string) (*BadgerDB, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable badger's built-in logging.

	db, err := badger.Open(opts)
	if err != nil {
		errMsg := err.Error()
		if strings.Contains(errMsg, "Cannot acquire directory lock") ||
			strings.Contains(errMsg, "resource temporarily unavailable") {
			return nil, fmt.Errorf("database at %s is locked by another process (is another klingnetd instance running?): %w", path, err)
		}
		return nil, fmt.Errorf("open database at %s: %w", path, err)
	}
	return &BadgerDB{db: db}, nil
}

// Get retrieves a value by key. Returns an error if the key does not exist.
func (b *BadgerDB) Get(key []byte) ([]byte, error) {
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("key not found")
	}
	if err != nil {
		return nil, fmt.Errorf("badger get: %w", err)
	}
	return val, nil
}

// Put stores a key-value pair.
func (b *BadgerDB) Put(key, value []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return fmt.Errorf("badger put: %w", err)
	}
	return nil
}

// Delete removes a key.
func (b *BadgerDB) Delete(key []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		return fmt.Errorf("badger delete: %w", err)
	}
	return nil
}

// Has checks if a key exists.
func (b *BadgerDB) Has(key []byte) (bool, error) {
	var exists bool
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("badger has: %w", err)
	}
	return exists, nil
}

// ForEach iterates over all keys with the given prefix.
func (b *BadgerDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			err := item.Value(func(val []byte) error {
				return fn(key, val)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the database.
func (b *BadgerDB) Close() error {
	return b.db.Close()
}

// NewBatch returns an atomic write batch backed by Badger's own
// WriteBatch, so PrefixDB.NewBatch gets real atomicity instead of its
// non-atomic fallback.
func (b *BadgerDB) NewBatch() Batch {
	return &badgerBatch{wb: b.db.NewWriteBatch()}
}

type badgerBatch struct {
	wb *badger.WriteBatch
}

func (bb *badgerBatch) Put(key, value []byte) error {
	return bb.wb.Set(key, value)
}

func (bb *badgerBatch) Delete(key []byte) error {
	return bb.wb.Delete(key)
}

func (bb *badgerBatch) Commit() error {
	return bb.wb.Flush()
}

// Transact runs fn inside a single Badger read-write transaction, giving
// every call made through the DB it's handed read-your-own-writes
// consistency and all-or-nothing commit, instead of the one-transaction-
// per-call behavior of Get/Put/Delete/Has/ForEach above.
func (b *BadgerDB) Transact(fn func(tx DB) error) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return fn(&badgerTxnDB{txn: txn})
	})
}

// badgerTxnDB implements DB over a single *badger.Txn, so a Transact
// closure's calls all land in the same transaction rather than each
// opening its own.
type badgerTxnDB struct {
	txn *badger.Txn
}

func (t *badgerTxnDB) Get(key []byte) ([]byte, error) {
	item, err := t.txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("key not found")
	}
	if err != nil {
		return nil, fmt.Errorf("badger get: %w", err)
	}
	return item.ValueCopy(nil)
}

func (t *badgerTxnDB) Put(key, value []byte) error {
	if err := t.txn.Set(key, value); err != nil {
		return fmt.Errorf("badger put: %w", err)
	}
	return nil
}

func (t *badgerTxnDB) Delete(key []byte) error {
	if err := t.txn.Delete(key); err != nil {
		return fmt.Errorf("badger delete: %w", err)
	}
	return nil
}

func (t *badgerTxnDB) Has(key []byte) (bool, error) {
	_, err := t.txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("badger has: %w", err)
	}
	return true, nil
}

func (t *badgerTxnDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		err := item.Value(func(val []byte) error {
			return fn(key, val)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *badgerTxnDB) Close() error { return nil }

// Backup streams a full copy of the database (every key at or above
// sinceVersion) to w, in Badger's native backup format. It underlies the
// savepoint mechanism (see savepoint.go): a savepoint is simply a backup
// taken at a given height and kept on disk until superseded.
func (b *BadgerDB) Backup(w io.Writer, sinceVersion uint64) (uint64, error) {
	return b.db.Backup(w, sinceVersion)
}

// Load restores a database from a stream produced by Backup, used when
// rolling back to a savepoint: the savepoint manager calls DropAll to
// empty the live database first, then Load replays the chosen backup
// into it.
func (b *BadgerDB) Load(r io.Reader) error {
	return b.db.Load(r, 256)
}

// DropAll empties the database in place, without closing it, so a
// savepoint restore doesn't need to reopen the store or re-wire every
// component that holds a reference into it.
func (b *BadgerDB) DropAll() error {
	return b.db.DropAll()
}
