package llq

// QuorumType distinguishes the parameter sets a chain may run in parallel
// (e.g. chain-locks vs instant-send quorums).
type QuorumType uint8

const (
	QuorumTypeChainLocks  QuorumType = 1
	QuorumTypeInstantSend QuorumType = 2
)

// QuorumParams holds the consensus parameters of one quorum type.
type QuorumParams struct {
	Type QuorumType

	// Size is the number of members selected for a quorum of this type.
	Size int

	// MinSize is the minimum number of valid members for quorum formation to
	// succeed; sessions that fall below it produce no commitment.
	MinSize int

	// Threshold is the number of signature shares required to recover a
	// threshold signature under the quorum key.
	Threshold int

	// ActiveCount is how many of the most recent quorums of this type are
	// considered active for signing-quorum selection.
	ActiveCount int

	// MaxStoreDepth is the retention depth, in blocks, of per-quorum DKG
	// data; records whose base block is older are swept.
	MaxStoreDepth int

	// IndexedCommitments allows a session to finalize more than one
	// non-conflicting commitment. Quorum types without indexed commitments
	// keep only the first aggregatable group.
	IndexedCommitments bool
}

// TestnetChainLocksParams returns the chain-locks parameter set used across
// tests and small deployments.
func TestnetChainLocksParams() QuorumParams {
	return QuorumParams{
		Type:          QuorumTypeChainLocks,
		Size:          5,
		MinSize:       4,
		Threshold:     3,
		ActiveCount:   4,
		MaxStoreDepth: 4 * 576,
	}
}
