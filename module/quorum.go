package module

import (
	"github.com/mnlabs/quorum-go/model/llq"
)

// QuorumRegistry exposes the set of formed quorums to the signing layer.
// Quorums enter the registry when their final commitment is mined and leave
// it when they age beyond the active window.
type QuorumRegistry interface {

	// Quorum returns the quorum with the given base block hash, or
	// storage.ErrNotFound when no such quorum is known.
	Quorum(quorumType llq.QuorumType, quorumHash llq.Identifier) (*llq.Quorum, error)

	// QuorumByHash resolves a quorum by base block hash alone; quorum base
	// blocks are unique across types.
	QuorumByHash(quorumHash llq.Identifier) (*llq.Quorum, error)

	// ActiveQuorums returns the quorums currently eligible for signing,
	// newest first.
	ActiveQuorums(quorumType llq.QuorumType) ([]*llq.Quorum, error)

	// IsActive reports whether the quorum is within the active window.
	IsActive(quorumType llq.QuorumType, quorumHash llq.Identifier) (bool, error)
}
