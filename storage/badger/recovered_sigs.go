package badger

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v2"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"github.com/mnlabs/quorum-go/model/llq"
	"github.com/mnlabs/quorum-go/storage"
	"github.com/mnlabs/quorum-go/storage/badger/operation"
)

const (
	// existenceCacheSize bounds each of the three existence caches.
	existenceCacheSize = 30000

	// cleanupChunkSize bounds how many records a single cleanup transaction
	// removes, to keep transactions small during large sweeps.
	cleanupChunkSize = 256
)

// RecoveredSigs is the badger-backed implementation of the multi-indexed
// recovered-signature store. Existence checks are fronted by LRU caches that
// hold both positive and negative results; the caches are only updated after
// the corresponding database write succeeded.
type RecoveredSigs struct {
	db    *badger.DB
	log   zerolog.Logger
	clock func() time.Time

	hasForID      *lru.Cache // id -> bool
	hasForSession *lru.Cache // sign hash -> bool
	hasForHash    *lru.Cache // content hash -> bool
}

var _ storage.RecoveredSigs = (*RecoveredSigs)(nil)

type RecoveredSigsOption func(*RecoveredSigs)

// WithClock overrides the wall clock used for write-time bucketing.
func WithClock(clock func() time.Time) RecoveredSigsOption {
	return func(r *RecoveredSigs) {
		r.clock = clock
	}
}

func NewRecoveredSigs(log zerolog.Logger, db *badger.DB, options ...RecoveredSigsOption) *RecoveredSigs {
	hasForID, _ := lru.New(existenceCacheSize)
	hasForSession, _ := lru.New(existenceCacheSize)
	hasForHash, _ := lru.New(existenceCacheSize)
	r := &RecoveredSigs{
		db:            db,
		log:           log.With().Str("component", "recovered_sigs").Logger(),
		clock:         time.Now,
		hasForID:      hasForID,
		hasForSession: hasForSession,
		hasForHash:    hasForHash,
	}
	for _, option := range options {
		option(r)
	}
	return r
}

func (r *RecoveredSigs) Has(id llq.Identifier, msgHash llq.Identifier) (bool, error) {
	var exists bool
	err := r.db.View(operation.CheckRecoveredSig(id, msgHash, &exists))
	if err != nil {
		return false, fmt.Errorf("could not check recovered signature: %w", err)
	}
	return exists, nil
}

func (r *RecoveredSigs) HasForID(id llq.Identifier) (bool, error) {
	return r.cachedCheck(r.hasForID, id, operation.CheckRecoveredSigForID)
}

func (r *RecoveredSigs) HasForSession(signHash llq.Identifier) (bool, error) {
	return r.cachedCheck(r.hasForSession, signHash, operation.CheckRecoveredSigForSession)
}

func (r *RecoveredSigs) HasForHash(hash llq.Identifier) (bool, error) {
	return r.cachedCheck(r.hasForHash, hash, operation.CheckRecoveredSigForHash)
}

func (r *RecoveredSigs) cachedCheck(cache *lru.Cache, key llq.Identifier, checkOp func(llq.Identifier, *bool) func(*badger.Txn) error) (bool, error) {
	if cached, ok := cache.Get(key); ok {
		return cached.(bool), nil
	}
	var exists bool
	err := r.db.View(checkOp(key, &exists))
	if err != nil {
		return false, fmt.Errorf("could not check recovered signature index: %w", err)
	}
	cache.Add(key, exists)
	return exists, nil
}

func (r *RecoveredSigs) ByID(id llq.Identifier) (*llq.RecoveredSig, error) {
	var recSig llq.RecoveredSig
	err := r.db.View(operation.RetrieveRecoveredSig(id, &recSig))
	if err != nil {
		return nil, err
	}
	return &recSig, nil
}

func (r *RecoveredSigs) ByHash(hash llq.Identifier) (*llq.RecoveredSig, error) {
	var id llq.Identifier
	err := r.db.View(operation.RetrieveRecoveredSigID(hash, &id))
	if err != nil {
		return nil, err
	}
	// A truncated record keeps its hash index entry but loses the record
	// itself, in which case the lookup falls through to not found.
	return r.ByID(id)
}

func (r *RecoveredSigs) Store(recSig *llq.RecoveredSig) error {
	hash := recSig.Hash()
	signHash := recSig.SignHash()

	var existing llq.RecoveredSig
	err := r.db.View(operation.RetrieveRecoveredSig(recSig.ID, &existing))
	if err == nil {
		if existing.Hash() == hash {
			return nil
		}
		return storage.ErrDataMismatch
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("could not check for existing recovered signature: %w", err)
	}

	writeTime := uint32(r.clock().Unix())
	err = r.db.Update(applyAll(
		operation.UpsertRecoveredSig(recSig),
		operation.UpsertRecoveredSigPair(recSig.ID, recSig.MsgHash, writeTime),
		operation.UpsertRecoveredSigHashIndex(hash, recSig.ID),
		operation.UpsertRecoveredSigSessionIndex(signHash),
		operation.UpsertRecoveredSigTimeIndex(writeTime, recSig.ID, hash),
	))
	if err != nil {
		return fmt.Errorf("could not store recovered signature: %w", err)
	}

	r.hasForID.Add(recSig.ID, true)
	r.hasForSession.Add(signHash, true)
	r.hasForHash.Add(hash, true)
	return nil
}

func (r *RecoveredSigs) Remove(id llq.Identifier) error {
	return r.remove(id, true)
}

func (r *RecoveredSigs) Truncate(id llq.Identifier) error {
	return r.remove(id, false)
}

// remove deletes the record and its id-keyed indices. With full removal the
// content-hash index and the time bucket go as well; a truncation keeps both
// so the aging sweep can clear the remains later.
func (r *RecoveredSigs) remove(id llq.Identifier, full bool) error {
	var recSig llq.RecoveredSig
	err := r.db.View(operation.RetrieveRecoveredSig(id, &recSig))
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("could not load recovered signature: %w", err)
	}

	hash := recSig.Hash()
	signHash := recSig.SignHash()

	ops := []func(*badger.Txn) error{
		operation.RemoveRecoveredSig(id),
		operation.RemoveRecoveredSigPair(id, recSig.MsgHash),
		operation.RemoveRecoveredSigSessionIndex(signHash),
	}
	if full {
		var writeTime uint32
		err = r.db.View(operation.RetrieveRecoveredSigTime(id, recSig.MsgHash, &writeTime))
		if err == nil {
			ops = append(ops, operation.RemoveRecoveredSigTimeIndex(writeTime, id))
		} else if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("could not load recovered signature write time: %w", err)
		}
		ops = append(ops, operation.RemoveRecoveredSigHashIndex(hash))
	}

	err = r.db.Update(applyAll(ops...))
	if err != nil {
		return fmt.Errorf("could not remove recovered signature: %w", err)
	}

	r.hasForID.Add(id, false)
	r.hasForSession.Add(signHash, false)
	if full {
		r.hasForHash.Add(hash, false)
	}
	return nil
}

type agedRecSig struct {
	writeTime uint32
	id        llq.Identifier
	hash      llq.Identifier
}

func (r *RecoveredSigs) CleanupOldRecoveredSigs(maxAge time.Duration) (int, error) {
	cutoff := r.cutoff(maxAge)

	var aged []agedRecSig
	err := r.db.View(operation.TraverseRecSigTimeIndex(func(writeTime uint32, id llq.Identifier, hash llq.Identifier) error {
		if int64(writeTime) > cutoff {
			return errTraverseDone
		}
		aged = append(aged, agedRecSig{writeTime: writeTime, id: id, hash: hash})
		return nil
	}))
	if err != nil && !errors.Is(err, errTraverseDone) {
		return 0, fmt.Errorf("could not scan aged recovered signatures: %w", err)
	}

	for start := 0; start < len(aged); start += cleanupChunkSize {
		end := start + cleanupChunkSize
		if end > len(aged) {
			end = len(aged)
		}
		err := r.cleanupChunk(aged[start:end])
		if err != nil {
			return start, err
		}
	}

	if len(aged) > 0 {
		r.log.Debug().Int("removed", len(aged)).Msg("removed aged recovered signatures")
	}
	return len(aged), nil
}

func (r *RecoveredSigs) cleanupChunk(chunk []agedRecSig) error {
	type removedSig struct {
		id       llq.Identifier
		hash     llq.Identifier
		signHash llq.Identifier
		full     bool
	}
	removed := make([]removedSig, 0, len(chunk))

	err := r.db.Update(func(tx *badger.Txn) error {
		for _, entry := range chunk {
			var recSig llq.RecoveredSig
			err := operation.RetrieveRecoveredSig(entry.id, &recSig)(tx)
			if err == nil {
				signHash := recSig.SignHash()
				err = applyAll(
					operation.RemoveRecoveredSig(entry.id),
					operation.RemoveRecoveredSigPair(entry.id, recSig.MsgHash),
					operation.RemoveRecoveredSigSessionIndex(signHash),
				)(tx)
				if err != nil {
					return err
				}
				removed = append(removed, removedSig{id: entry.id, hash: entry.hash, signHash: signHash, full: true})
			} else if errors.Is(err, storage.ErrNotFound) {
				// Truncated earlier; only the hash index and time bucket remain.
				removed = append(removed, removedSig{id: entry.id, hash: entry.hash})
			} else {
				return err
			}
			err = applyAll(
				operation.RemoveRecoveredSigHashIndex(entry.hash),
				operation.RemoveRecoveredSigTimeIndex(entry.writeTime, entry.id),
			)(tx)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("could not remove aged recovered signatures: %w", err)
	}

	for _, rem := range removed {
		r.hasForID.Add(rem.id, false)
		r.hasForHash.Add(rem.hash, false)
		if rem.full {
			r.hasForSession.Add(rem.signHash, false)
		}
	}
	return nil
}

func (r *RecoveredSigs) HasVotedOnID(id llq.Identifier) (bool, error) {
	var exists bool
	err := r.db.View(operation.CheckVote(id, &exists))
	if err != nil {
		return false, fmt.Errorf("could not check vote: %w", err)
	}
	return exists, nil
}

func (r *RecoveredSigs) VoteForID(id llq.Identifier) (llq.Identifier, error) {
	var msgHash llq.Identifier
	err := r.db.View(operation.RetrieveVote(id, &msgHash))
	if err != nil {
		return llq.ZeroID, err
	}
	return msgHash, nil
}

func (r *RecoveredSigs) StoreVote(id llq.Identifier, msgHash llq.Identifier) error {
	writeTime := uint32(r.clock().Unix())
	err := r.db.Update(applyAll(
		operation.UpsertVote(id, msgHash),
		operation.UpsertVoteTimeIndex(writeTime, id),
	))
	if err != nil {
		return fmt.Errorf("could not store vote: %w", err)
	}
	return nil
}

func (r *RecoveredSigs) RemoveVote(id llq.Identifier) error {
	// The time bucket is left behind; the aging sweep skips entries whose
	// vote record is already gone.
	err := r.db.Update(operation.RemoveVote(id))
	if err != nil {
		return fmt.Errorf("could not remove vote: %w", err)
	}
	return nil
}

func (r *RecoveredSigs) CleanupOldVotes(maxAge time.Duration) (int, error) {
	cutoff := r.cutoff(maxAge)

	type agedVote struct {
		writeTime uint32
		id        llq.Identifier
	}
	var aged []agedVote
	err := r.db.View(operation.TraverseTimeKeys(operation.VoteTimePrefix(), func(writeTime uint32, id llq.Identifier) error {
		if int64(writeTime) > cutoff {
			return errTraverseDone
		}
		aged = append(aged, agedVote{writeTime: writeTime, id: id})
		return nil
	}))
	if err != nil && !errors.Is(err, errTraverseDone) {
		return 0, fmt.Errorf("could not scan aged votes: %w", err)
	}

	removed := 0
	for start := 0; start < len(aged); start += cleanupChunkSize {
		end := start + cleanupChunkSize
		if end > len(aged) {
			end = len(aged)
		}
		err := r.db.Update(func(tx *badger.Txn) error {
			for _, entry := range aged[start:end] {
				var exists bool
				err := operation.CheckVote(entry.id, &exists)(tx)
				if err != nil {
					return err
				}
				if exists {
					err = operation.RemoveVote(entry.id)(tx)
					if err != nil {
						return err
					}
					removed++
				}
				err = operation.RemoveVoteTimeIndex(entry.writeTime, entry.id)(tx)
				if err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return removed, fmt.Errorf("could not remove aged votes: %w", err)
		}
	}
	return removed, nil
}

// cutoff converts a retention age into the newest write time (inclusive) that
// the sweep removes. A zero age removes everything written up to now.
func (r *RecoveredSigs) cutoff(maxAge time.Duration) int64 {
	return r.clock().Add(-maxAge).Unix()
}

// errTraverseDone stops a time-index traversal once entries are newer than
// the cutoff; keys are ordered oldest-first.
var errTraverseDone = errors.New("traverse done")

// applyAll runs the given operations in order within one transaction.
func applyAll(ops ...func(*badger.Txn) error) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		for _, op := range ops {
			err := op(tx)
			if err != nil {
				return err
			}
		}
		return nil
	}
}
