package storage

import (
	"time"

	"github.com/mnlabs/quorum-go/model/llq"
)

// RecoveredSigs is the persistent, multi-indexed store of recovered threshold
// signatures and per-id vote records.
//
// The same logical record is reachable by id, by (id, msgHash), by content
// hash and by sign hash. Truncate is a deliberate partial delete: it frees
// the record but leaves the content-hash index behind so that "seen before"
// checks keep answering true until the aging sweep removes the remains.
type RecoveredSigs interface {
	Has(id llq.Identifier, msgHash llq.Identifier) (bool, error)
	HasForID(id llq.Identifier) (bool, error)
	HasForSession(signHash llq.Identifier) (bool, error)
	HasForHash(hash llq.Identifier) (bool, error)

	ByID(id llq.Identifier) (*llq.RecoveredSig, error)
	ByHash(hash llq.Identifier) (*llq.RecoveredSig, error)

	// Store persists the recovered signature under all indices. Storing the
	// same record twice is idempotent; storing a different record for an id
	// that already has one returns ErrDataMismatch and leaves the stored
	// record untouched.
	Store(recSig *llq.RecoveredSig) error

	// Remove deletes all indices for the id.
	Remove(id llq.Identifier) error

	// Truncate removes the record and the id-keyed indices but keeps the
	// content-hash index entry.
	Truncate(id llq.Identifier) error

	// CleanupOldRecoveredSigs removes every record whose write time is at
	// least maxAge in the past, in bounded batches.
	CleanupOldRecoveredSigs(maxAge time.Duration) (int, error)

	HasVotedOnID(id llq.Identifier) (bool, error)
	VoteForID(id llq.Identifier) (llq.Identifier, error)
	StoreVote(id llq.Identifier, msgHash llq.Identifier) error
	RemoveVote(id llq.Identifier) error
	CleanupOldVotes(maxAge time.Duration) (int, error)
}
