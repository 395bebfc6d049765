package llq

// FinalCommitment is the aggregation of premature commitments that agree on
// (valid member set, quorum public key, vvec hash). It is only valid if at
// least MinSize members contributed. MembersSig is the aggregate of the
// signers' operator signatures, QuorumSig the recovered threshold signature
// over the commitment hash. Immutable once produced; mined externally.
type FinalCommitment struct {
	Version         uint16
	QuorumHash      Identifier
	Signers         []bool
	ValidMembers    []bool
	QuorumPublicKey []byte
	VVecHash        Identifier
	QuorumSig       []byte
	MembersSig      []byte
}

// CommitmentVersion is the only wire version this codebase produces; scheme
// migrations bump it externally together with the key encoding.
const CommitmentVersion uint16 = 1

func (fc *FinalCommitment) ID() Identifier {
	return MakeID(fc)
}

// SignHash returns the commitment hash that both aggregate signatures cover.
func (fc *FinalCommitment) SignHash() Identifier {
	return BuildCommitmentHash(fc.QuorumHash, fc.ValidMembers, fc.QuorumPublicKey, fc.VVecHash)
}

func (fc *FinalCommitment) CountSigners() int {
	return CountTrue(fc.Signers)
}

func (fc *FinalCommitment) CountValidMembers() int {
	return CountTrue(fc.ValidMembers)
}

// VerifySizes checks the structural validity of the commitment against the
// quorum parameters, without any cryptographic checks.
func (fc *FinalCommitment) VerifySizes(params QuorumParams) bool {
	if len(fc.Signers) != params.Size || len(fc.ValidMembers) != params.Size {
		return false
	}
	if fc.CountSigners() < params.MinSize || fc.CountValidMembers() < params.MinSize {
		return false
	}
	return len(fc.QuorumPublicKey) > 0 && len(fc.QuorumSig) > 0 && len(fc.MembersSig) > 0
}

// IsNull reports whether the commitment is the empty placeholder mined when
// a session failed to reach the minimum member count.
func (fc *FinalCommitment) IsNull() bool {
	return fc.CountSigners() == 0 && fc.CountValidMembers() == 0 &&
		len(fc.QuorumPublicKey) == 0 && len(fc.QuorumSig) == 0 && len(fc.MembersSig) == 0
}
