package thresholdbls

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnlabs/quorum-go/utils/unittest"
)

func TestSignVerifyRoundtrip(t *testing.T) {
	scheme := NewScheme()
	secret, public, err := scheme.GenerateKeyPair()
	require.NoError(t, err)

	msg := []byte("message to sign")
	sig, err := scheme.Sign(secret, msg)
	require.NoError(t, err)
	require.NoError(t, scheme.Verify(public, msg, sig))

	assert.Error(t, scheme.Verify(public, []byte("other message"), sig))

	_, otherPublic, err := scheme.GenerateKeyPair()
	require.NoError(t, err)
	assert.Error(t, scheme.Verify(otherPublic, msg, sig))
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	scheme := NewScheme()
	secret, public, err := scheme.GenerateKeyPair()
	require.NoError(t, err)

	plaintext := []byte("secret share material")
	ciphertext, err := scheme.Encrypt(public, plaintext)
	require.NoError(t, err)

	decrypted, err := scheme.Decrypt(secret, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)

	otherSecret, _, err := scheme.GenerateKeyPair()
	require.NoError(t, err)
	_, err = scheme.Decrypt(otherSecret, ciphertext)
	assert.Error(t, err)
}

func TestContributionShareVerification(t *testing.T) {
	scheme := NewScheme()
	vvec, shares, err := scheme.GenerateContribution(3, 5)
	require.NoError(t, err)
	require.Len(t, vvec, 3)
	require.Len(t, shares, 5)

	for i, share := range shares {
		assert.True(t, scheme.VerifyContributionShare(i, share, vvec))
	}

	// A share does not verify at the wrong index or after corruption.
	assert.False(t, scheme.VerifyContributionShare(1, shares[0], vvec))
	corrupted := append([]byte(nil), shares[0]...)
	corrupted[len(corrupted)-1] ^= 0x01
	assert.False(t, scheme.VerifyContributionShare(0, corrupted, vvec))
}

// TestDistributedKeyRoundtrip runs the full key arithmetic of a 5-member
// quorum with threshold 3: every member deals a contribution, shares and
// vectors are aggregated, three members sign and the recovered signature
// verifies under the quorum public key.
func TestDistributedKeyRoundtrip(t *testing.T) {
	scheme := NewScheme()
	const (
		n         = 5
		threshold = 3
	)

	vvecs := make([][][]byte, n)
	dealt := make([][][]byte, n) // dealer -> recipient -> share
	for dealer := 0; dealer < n; dealer++ {
		vvec, shares, err := scheme.GenerateContribution(threshold, n)
		require.NoError(t, err)
		vvecs[dealer] = vvec
		dealt[dealer] = shares
	}

	quorumVVec, err := scheme.AggregateVerificationVectors(vvecs)
	require.NoError(t, err)
	quorumKey, err := scheme.QuorumPublicKey(quorumVVec)
	require.NoError(t, err)

	skShares := make([][]byte, n)
	for member := 0; member < n; member++ {
		received := make([][]byte, 0, n)
		for dealer := 0; dealer < n; dealer++ {
			received = append(received, dealt[dealer][member])
		}
		skShares[member], err = scheme.AggregateSecretShares(received)
		require.NoError(t, err)
	}

	msg := []byte("quorum signing request")
	sigShares := make(map[int][]byte)
	for _, member := range []int{0, 2, 4} {
		sigShare, err := scheme.SignShare(skShares[member], member, msg)
		require.NoError(t, err)
		require.NoError(t, scheme.VerifyShare(quorumVVec, member, msg, sigShare))
		sigShares[member] = sigShare
	}

	recovered, err := scheme.RecoverSignature(threshold, n, sigShares, msg)
	require.NoError(t, err)
	require.NoError(t, scheme.Verify(quorumKey, msg, recovered))

	// Any other share subset of size threshold recovers the same signature.
	otherShares := make(map[int][]byte)
	for _, member := range []int{1, 2, 3} {
		sigShare, err := scheme.SignShare(skShares[member], member, msg)
		require.NoError(t, err)
		otherShares[member] = sigShare
	}
	otherRecovered, err := scheme.RecoverSignature(threshold, n, otherShares, msg)
	require.NoError(t, err)
	assert.Equal(t, recovered, otherRecovered)

	// Below the threshold, recovery is refused.
	delete(otherShares, 1)
	_, err = scheme.RecoverSignature(threshold, n, otherShares, msg)
	assert.Error(t, err)
}

func TestAggregatedVerification(t *testing.T) {
	scheme := NewScheme()
	msg := []byte("shared message")

	sigs := make([][]byte, 0, 3)
	publics := make([][]byte, 0, 3)
	for i := 0; i < 3; i++ {
		secret, public, err := scheme.GenerateKeyPair()
		require.NoError(t, err)
		sig, err := scheme.Sign(secret, msg)
		require.NoError(t, err)
		sigs = append(sigs, sig)
		publics = append(publics, public)
	}

	aggSig, err := scheme.AggregateSignatures(sigs)
	require.NoError(t, err)
	aggPub, err := scheme.AggregatePublicKeys(publics)
	require.NoError(t, err)
	require.NoError(t, scheme.Verify(aggPub, msg, aggSig))
}

func TestBatchVerifier(t *testing.T) {
	scheme := NewScheme()

	type signer struct {
		secret []byte
		public []byte
	}
	signers := make([]signer, 4)
	for i := range signers {
		secret, public, err := scheme.GenerateKeyPair()
		require.NoError(t, err)
		signers[i] = signer{secret: secret, public: public}
	}

	msgHash := unittest.IdentifierFixture()
	otherHash := unittest.IdentifierFixture()

	verifier := scheme.NewBatchVerifier()
	sources := unittest.IdentifierListFixture(4)
	msgIDs := unittest.IdentifierListFixture(4)

	// Three honest messages over two distinct hashes, one bad signature.
	for i, s := range signers[:3] {
		hash := msgHash
		if i == 2 {
			hash = otherHash
		}
		sig, err := scheme.Sign(s.secret, hash.Bytes())
		require.NoError(t, err)
		verifier.PushMessage(sources[i], msgIDs[i], hash, sig, s.public)
	}
	badSig, err := scheme.Sign(signers[3].secret, otherHash.Bytes())
	require.NoError(t, err)
	verifier.PushMessage(sources[3], msgIDs[3], msgHash, badSig, signers[3].public)

	badSources, badMessages := verifier.Verify()
	require.Len(t, badSources, 1)
	assert.Contains(t, badSources, sources[3])
	require.Len(t, badMessages, 1)
	assert.Contains(t, badMessages, msgIDs[3])
}

func TestBatchVerifierAllHonest(t *testing.T) {
	scheme := NewScheme()
	msgHash := unittest.IdentifierFixture()

	verifier := scheme.NewBatchVerifier()
	for i := 0; i < 3; i++ {
		secret, public, err := scheme.GenerateKeyPair()
		require.NoError(t, err)
		sig, err := scheme.Sign(secret, msgHash.Bytes())
		require.NoError(t, err)
		verifier.PushMessage(unittest.IdentifierFixture(), unittest.IdentifierFixture(), msgHash, sig, public)
	}

	badSources, badMessages := verifier.Verify()
	assert.Empty(t, badSources)
	assert.Empty(t, badMessages)
}
