package module

import (
	"github.com/mnlabs/quorum-go/model/llq"
)

// ChainOracle answers the minimal chain queries the quorum subsystem needs:
// where the tip is, and at which height a quorum's base block was mined.
// Implementations sit on top of the node's block index.
type ChainOracle interface {

	// TipHeight returns the height of the current chain tip.
	TipHeight() (uint64, error)

	// BlockHeight returns the height of the block with the given hash, or
	// storage.ErrNotFound when the block is not part of the active chain.
	BlockHeight(blockHash llq.Identifier) (uint64, error)
}
