package storage

import (
	"github.com/mnlabs/quorum-go/model/llq"
)

// Contributions stores verified DKG contribution data keyed by
// (quorum hash, member proTxHash). Each pair is written at most twice: once
// when the original contribution verifies, once more when a justification
// retroactively discloses a valid share. It is never otherwise mutated.
type Contributions interface {
	StoreVerificationVector(quorumHash llq.Identifier, member llq.Identifier, vvec [][]byte) error
	StoreSecretShare(quorumHash llq.Identifier, member llq.Identifier, share []byte) error

	VerificationVector(quorumHash llq.Identifier, member llq.Identifier) ([][]byte, error)
	SecretShare(quorumHash llq.Identifier, member llq.Identifier) ([]byte, error)

	// CleanupOld scans all persisted keys and erases those whose owning
	// quorum the callback reports as stale (unknown base block or beyond the
	// retention depth). It returns the number of erased entries.
	CleanupOld(isStale func(quorumHash llq.Identifier) bool) (int, error)

	// Flush forces pending writes down to the backing store.
	Flush() error
}
