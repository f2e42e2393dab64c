// Package storage provides database abstractions.
package storage

// DB is the interface for key-value storage.
type DB interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach iterates over all keys with the given prefix.
	// The callback receives a copy of the key and value.
	// Return a non-nil error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

// Batch groups a set of Put/Delete operations for atomic commit.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Commit() error
}

// Batcher is implemented by a DB that can produce an atomic Batch. Not
// every DB backend can (the in-memory test double commits immediately),
// so callers that want atomicity must type-assert for it, falling back
// to individual writes otherwise — see PrefixDB.NewBatch.
type Batcher interface {
	NewBatch() Batch
}

// Transactor is implemented by a DB that can run a closure inside a
// single atomic read-write transaction. Every Get/Put/Delete/Has/ForEach
// call made through the DB handed to fn reads and writes within that one
// transaction — later reads see earlier writes from the same fn call —
// and, if fn returns nil, the whole set of writes is committed together;
// a non-nil return discards all of them. Not every backend can (the
// in-memory test double has no isolation boundary), so callers needing
// atomicity across several components must type-assert for it.
type Transactor interface {
	Transact(fn func(tx DB) error) error
}
