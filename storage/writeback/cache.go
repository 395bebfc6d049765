// Package writeback provides a bounded, FIFO-ordered write-back cache layered
// over a persistent key-value store. Writes and erases accumulate in memory
// and are applied to the backing store as one atomic batch on Flush. The
// cache holds at most a configured number of pending writes; overflow drops
// the oldest pending write from memory without touching the backing store.
package writeback

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mnlabs/quorum-go/storage"
)

// Codec translates cache keys and values to their stored representation.
type Codec[K comparable, V any] struct {
	EncodeKey   func(K) []byte
	EncodeValue func(V) ([]byte, error)
	DecodeValue func([]byte) (V, error)
}

type pendingEntry[K comparable, V any] struct {
	key K
	val V
}

// Cache is a bounded write-back cache. All methods are safe for concurrent
// use; a single mutex guards the pending structures, and Flush is never
// interleaved with mutation.
type Cache[K comparable, V any] struct {
	mu    sync.Mutex
	log   zerolog.Logger
	store storage.KVStore
	codec Codec[K, V]
	limit int

	pending     map[K]*list.Element // K -> *pendingEntry in fifo
	fifo        *list.List
	erased      map[K]struct{}
	flushOnRead bool
}

type Option func(*config)

type config struct {
	limit int
}

// WithLimit caps the number of pending writes. Zero means unbounded.
func WithLimit(limit int) Option {
	return func(c *config) {
		c.limit = limit
	}
}

func NewCache[K comparable, V any](log zerolog.Logger, store storage.KVStore, codec Codec[K, V], options ...Option) *Cache[K, V] {
	cfg := config{}
	for _, option := range options {
		option(&cfg)
	}
	return &Cache[K, V]{
		log:     log.With().Str("component", "writeback_cache").Logger(),
		store:   store,
		codec:   codec,
		limit:   cfg.limit,
		pending: make(map[K]*list.Element),
		fifo:    list.New(),
		erased:  make(map[K]struct{}),
	}
}

// Read returns the value for the key, consulting pending writes first and
// falling back to the backing store. A key with a pending erase reads as
// missing regardless of the backing store's contents.
func (c *Cache[K, V]) Read(key K) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	c.maybeFlushBeforeRead()

	if elem, ok := c.pending[key]; ok {
		return elem.Value.(*pendingEntry[K, V]).val, nil
	}
	if _, ok := c.erased[key]; ok {
		return zero, storage.ErrNotFound
	}

	data, err := c.store.Get(c.codec.EncodeKey(key))
	if err != nil {
		return zero, err
	}
	val, err := c.codec.DecodeValue(data)
	if err != nil {
		return zero, fmt.Errorf("could not decode cached value: %w", err)
	}
	return val, nil
}

// Exists reports whether the key is visible, with the same pending-erase
// semantics as Read.
func (c *Cache[K, V]) Exists(key K) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.maybeFlushBeforeRead()

	if _, ok := c.pending[key]; ok {
		return true, nil
	}
	if _, ok := c.erased[key]; ok {
		return false, nil
	}
	return c.store.Has(c.codec.EncodeKey(key))
}

// Write upserts a pending write for the key. If the key already has a
// pending write it is replaced in place and moved to the back of the FIFO
// order. When the pending write count exceeds the limit, the oldest pending
// write is dropped from memory only; pending erases never count against the
// limit, so a backlog of erases cannot evict the write just inserted.
func (c *Cache[K, V]) Write(key K, val V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.pending[key]; ok {
		c.fifo.Remove(elem)
		delete(c.pending, key)
	}
	c.pending[key] = c.fifo.PushBack(&pendingEntry[K, V]{key: key, val: val})
	delete(c.erased, key)

	if c.limit > 0 && len(c.pending) > c.limit {
		oldest := c.fifo.Front()
		if oldest != nil {
			c.fifo.Remove(oldest)
			delete(c.pending, oldest.Value.(*pendingEntry[K, V]).key)
		}
	}
}

// Erase removes any pending write for the key and records a pending erase.
// It also arms a flush before the next read, so stale in-flight readers of
// the backing store observe the erase consistently.
func (c *Cache[K, V]) Erase(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.flushOnRead = true
	if elem, ok := c.pending[key]; ok {
		c.fifo.Remove(elem)
		delete(c.pending, key)
	}
	c.erased[key] = struct{}{}
}

// Flush applies all pending writes and erases to the backing store as one
// atomic batch. On failure the pending state is left completely untouched so
// the caller can retry; on success it is cleared.
func (c *Cache[K, V]) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flush()
}

// Close flushes any remaining pending state.
func (c *Cache[K, V]) Close() error {
	return c.Flush()
}

// PendingWrites returns the current number of pending writes.
func (c *Cache[K, V]) PendingWrites() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// PendingErases returns the current number of pending erases.
func (c *Cache[K, V]) PendingErases() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.erased)
}

func (c *Cache[K, V]) maybeFlushBeforeRead() {
	if !c.flushOnRead {
		return
	}
	c.flushOnRead = false
	if err := c.flush(); err != nil {
		c.log.Warn().Err(err).Msg("could not flush cache before read")
	}
}

func (c *Cache[K, V]) flush() error {
	if len(c.pending) == 0 && len(c.erased) == 0 {
		return nil
	}

	batch := c.store.NewBatch()
	for elem := c.fifo.Front(); elem != nil; elem = elem.Next() {
		entry := elem.Value.(*pendingEntry[K, V])
		data, err := c.codec.EncodeValue(entry.val)
		if err != nil {
			return fmt.Errorf("could not encode pending value: %w", err)
		}
		batch.Put(c.codec.EncodeKey(entry.key), data)
	}
	for key := range c.erased {
		batch.Delete(c.codec.EncodeKey(key))
	}

	err := batch.Commit()
	if err != nil {
		return fmt.Errorf("could not commit write-back batch: %w", err)
	}

	c.log.Debug().
		Int("writes", len(c.pending)).
		Int("erases", len(c.erased)).
		Msg("flushed write-back cache")

	c.pending = make(map[K]*list.Element)
	c.fifo.Init()
	c.erased = make(map[K]struct{})
	return nil
}
