package module

import (
	"github.com/mnlabs/quorum-go/model/llq"
)

// ContributionSource serves verified DKG contribution data to consumers
// outside the session, primarily the signing layer deriving a quorum's
// threshold key material.
type ContributionSource interface {

	// VerifiedContributions returns the verified contribution data of the
	// members selected by the valid-member bitset, resolved against the full
	// member list in quorum order. It fails if any selected member's
	// verification vector is missing; a selected member's secret share entry
	// is nil when only the vector is known locally. The returned indexes are
	// positions in the full member list and the three slices are parallel. A
	// nil bitset selects all members.
	VerifiedContributions(quorumHash llq.Identifier, members []llq.Identifier, validMembers []bool) (indexes []int, vvecs [][][]byte, shares [][]byte, err error)

	// QuorumVerificationVector aggregates the selected members' contribution
	// vectors into the quorum verification vector. It fails if any selected
	// member's vector is missing, since a partial aggregate would not match
	// the quorum's committed public key.
	QuorumVerificationVector(quorumHash llq.Identifier, members []llq.Identifier, validMembers []bool) ([][]byte, error)

	// SecretKeyShare aggregates the local member's secret shares from the
	// selected members' contributions into its quorum secret key share. It
	// fails if any selected member's share is missing.
	SecretKeyShare(quorumHash llq.Identifier, members []llq.Identifier, validMembers []bool) ([]byte, error)
}
