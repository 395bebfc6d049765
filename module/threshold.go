package module

import (
	"github.com/mnlabs/quorum-go/model/llq"
)

// ThresholdScheme bundles the threshold-signature operations the quorum
// subsystem depends on. Keys, verification vectors, shares and signatures
// are passed as opaque byte encodings; only the scheme implementation knows
// the curve-level representation.
type ThresholdScheme interface {

	// GenerateKeyPair returns a fresh operator key pair.
	GenerateKeyPair() (secret []byte, public []byte, err error)

	// GenerateContribution samples a random secret polynomial of degree
	// threshold-1 and returns its verification vector together with one
	// secret share per member, ordered by member index.
	GenerateContribution(threshold int, count int) (vvec [][]byte, shares [][]byte, err error)

	// VerifyContributionShare checks the secret share destined for the member
	// at the given index against the contributor's verification vector.
	VerifyContributionShare(index int, share []byte, vvec [][]byte) bool

	// AggregateVerificationVectors combines the verification vectors of all
	// accepted contributions into the quorum verification vector.
	AggregateVerificationVectors(vvecs [][][]byte) ([][]byte, error)

	// AggregateSecretShares combines the per-contribution secret shares held
	// by one member into that member's quorum secret key share.
	AggregateSecretShares(shares [][]byte) ([]byte, error)

	// QuorumPublicKey evaluates the quorum verification vector at zero.
	QuorumPublicKey(vvec [][]byte) ([]byte, error)

	// MemberPublicKeyShare evaluates the quorum verification vector at the
	// given member index, yielding the key the member's signature shares
	// verify against.
	MemberPublicKeyShare(vvec [][]byte, index int) ([]byte, error)

	// VectorHash returns a commitment hash over the verification vector.
	VectorHash(vvec [][]byte) llq.Identifier

	// Sign produces a plain signature with a secret key. Signature shares use
	// SignShare instead.
	Sign(secret []byte, msg []byte) ([]byte, error)

	// Verify checks a plain or recovered signature against a public key.
	Verify(public []byte, msg []byte, sig []byte) error

	// SignShare produces a signature share with a quorum secret key share
	// held at the given member index.
	SignShare(secretShare []byte, index int, msg []byte) ([]byte, error)

	// VerifyShare checks a signature share against the member's public key
	// share derived from the quorum verification vector.
	VerifyShare(vvec [][]byte, index int, msg []byte, sigShare []byte) error

	// RecoverSignature combines at least threshold signature shares, keyed by
	// member index, into the quorum signature.
	RecoverSignature(threshold int, count int, shares map[int][]byte, msg []byte) ([]byte, error)

	// AggregateSignatures combines signatures over distinct messages for
	// batched verification against the matching aggregate public key.
	AggregateSignatures(sigs [][]byte) ([]byte, error)

	// AggregatePublicKeys combines public keys for batched verification.
	AggregatePublicKeys(publics [][]byte) ([]byte, error)

	// Encrypt encrypts a secret share for the holder of the given public key.
	Encrypt(public []byte, plaintext []byte) ([]byte, error)

	// Decrypt reverses Encrypt with the matching secret key.
	Decrypt(secret []byte, ciphertext []byte) ([]byte, error)

	// NewBatchVerifier returns an empty verifier for one batch of messages.
	NewBatchVerifier() BatchVerifier
}

// BatchVerifier verifies many (public key, message, signature) triples at
// once, cheaply confirming an all-honest batch and otherwise narrowing the
// failures down to the sources and messages at fault. A verifier is used for
// a single batch and is not safe for concurrent use.
type BatchVerifier interface {

	// PushMessage queues a signed message for verification. The source is the
	// peer the message arrived from and msgID identifies the message within
	// the batch.
	PushMessage(source llq.Identifier, msgID llq.Identifier, msgHash llq.Identifier, sig []byte, public []byte)

	// Verify checks the queued messages and returns the set of sources that
	// sent at least one invalid signature and the set of invalid messages.
	Verify() (badSources map[llq.Identifier]struct{}, badMessages map[llq.Identifier]struct{})
}
