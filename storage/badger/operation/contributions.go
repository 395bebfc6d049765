package operation

import (
	"fmt"

	"github.com/mnlabs/quorum-go/model/llq"
)

// Contribution data flows through the write-back cache rather than through
// transaction closures, so this file only exposes the key layout.

func VerificationVectorKey(quorumHash llq.Identifier, member llq.Identifier) []byte {
	return makePrefix(codeVerificationVector, quorumHash, member)
}

func VerificationVectorPrefix() []byte {
	return makePrefix(codeVerificationVector)
}

func SecretShareKey(quorumHash llq.Identifier, member llq.Identifier) []byte {
	return makePrefix(codeSecretShare, quorumHash, member)
}

func SecretSharePrefix() []byte {
	return makePrefix(codeSecretShare)
}

// ParseContributionKey splits a contribution key into its quorum hash and
// member parts, for stale-quorum sweeps over the raw key space.
func ParseContributionKey(key []byte) (llq.Identifier, llq.Identifier, error) {
	if len(key) != 1+32+32 {
		return llq.ZeroID, llq.ZeroID, fmt.Errorf("invalid contribution key length: %d", len(key))
	}
	return llq.HashToID(key[1:33]), llq.HashToID(key[33:]), nil
}
