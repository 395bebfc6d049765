package storage

// KVStore is the narrow contract the persistence layer consumes from the
// underlying key-value engine. Composite keys are encoded by the caller;
// the engine must preserve lexicographic key ordering so that prefix scans
// over time-bucketed keys observe oldest-first order.
type KVStore interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(key []byte) ([]byte, error)

	// Has checks existence without loading the value.
	Has(key []byte) (bool, error)

	// Put stores the value under key, overwriting any previous value.
	Put(key []byte, value []byte) error

	// Delete removes the key if present; missing keys are a no-op.
	Delete(key []byte) error

	// Iterate calls fn for every key with the given prefix, in lexicographic
	// key order. Returning an error from fn stops the iteration.
	Iterate(prefix []byte, fn func(key []byte, value []byte) error) error

	// NewBatch returns an empty write batch. Batches apply atomically.
	NewBatch() KVBatch
}

// KVBatch accumulates puts and deletes which are applied as one atomic unit
// on Commit. A failed Commit leaves the store untouched.
type KVBatch interface {
	Put(key []byte, value []byte)
	Delete(key []byte)
	Commit() error
}
