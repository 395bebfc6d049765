package unittest

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mnlabs/quorum-go/model/llq"
	"github.com/mnlabs/quorum-go/module"
)

func IdentifierFixture() llq.Identifier {
	var id llq.Identifier
	_, _ = rand.Read(id[:])
	return id
}

func IdentifierListFixture(n int) []llq.Identifier {
	ids := make([]llq.Identifier, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, IdentifierFixture())
	}
	return ids
}

// RecoveredSigFixture returns a structurally complete recovered signature
// with random content. The signature bytes do not verify; storage tests do
// not need them to.
func RecoveredSigFixture() *llq.RecoveredSig {
	sig := make([]byte, 64)
	_, _ = rand.Read(sig)
	return &llq.RecoveredSig{
		QuorumHash: IdentifierFixture(),
		ID:         IdentifierFixture(),
		MsgHash:    IdentifierFixture(),
		Sig:        sig,
	}
}

// MasternodeFixtures returns n masternodes with freshly generated operator
// key pairs, together with the matching secret keys in the same order.
func MasternodeFixtures(t testing.TB, scheme module.ThresholdScheme, n int) ([]*llq.Masternode, [][]byte) {
	nodes := make([]*llq.Masternode, 0, n)
	secrets := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		secret, public, err := scheme.GenerateKeyPair()
		require.NoError(t, err)
		nodes = append(nodes, &llq.Masternode{
			ProTxHash:      IdentifierFixture(),
			OperatorPubKey: public,
		})
		secrets = append(secrets, secret)
	}
	return nodes, secrets
}
