package llq

// The five DKG message types exchanged during quorum formation. All of them
// are keyed by content hash (ID) within a session; two distinct signed
// messages of the same type from the same member are kept side by side as
// evidence and mark the member bad.

// Contribution carries a member's verification vector and one encrypted
// secret-key share per quorum member, signed with the operator key.
type Contribution struct {
	QuorumHash Identifier
	MemberID   Identifier
	VVec       [][]byte
	Shares     [][]byte
	Sig        []byte
}

// ID returns the content hash of the contribution, including the signature.
func (c *Contribution) ID() Identifier {
	return MakeID(c)
}

// SignHash returns the hash the contributor's operator key signs.
func (c *Contribution) SignHash() Identifier {
	return MakeID(struct {
		Tag        string
		QuorumHash Identifier
		MemberID   Identifier
		VVec       [][]byte
		Shares     [][]byte
	}{"dkg-contrib", c.QuorumHash, c.MemberID, c.VVec, c.Shares})
}

// Signature returns the operator signature over SignHash.
func (c *Contribution) Signature() []byte {
	return c.Sig
}

// Complaint accuses a set of members of lying (bad contribution) or omitting
// their contribution entirely.
type Complaint struct {
	QuorumHash         Identifier
	MemberID           Identifier
	BadMembers         []bool
	ComplainForMembers []bool
	Sig                []byte
}

func (c *Complaint) ID() Identifier {
	return MakeID(c)
}

func (c *Complaint) SignHash() Identifier {
	return MakeID(struct {
		Tag                string
		QuorumHash         Identifier
		MemberID           Identifier
		BadMembers         []bool
		ComplainForMembers []bool
	}{"dkg-complaint", c.QuorumHash, c.MemberID, c.BadMembers, c.ComplainForMembers})
}

func (c *Complaint) Signature() []byte {
	return c.Sig
}

// JustifiedShare is one disclosed plaintext secret-key share, revealed in
// response to a complaint. Index is the ordinal index of the accusing member
// the share was originally encrypted for.
type JustifiedShare struct {
	Index uint32
	Share []byte
}

// Justification discloses the disputed shares of an accused member so the
// rest of the quorum can verify them against the published verification
// vector.
type Justification struct {
	QuorumHash    Identifier
	MemberID      Identifier
	Contributions []JustifiedShare
	Sig           []byte
}

func (j *Justification) ID() Identifier {
	return MakeID(j)
}

func (j *Justification) SignHash() Identifier {
	return MakeID(struct {
		Tag           string
		QuorumHash    Identifier
		MemberID      Identifier
		Contributions []JustifiedShare
	}{"dkg-justify", j.QuorumHash, j.MemberID, j.Contributions})
}

func (j *Justification) Signature() []byte {
	return j.Sig
}

// PrematureCommitment is a member's individual claim of the DKG outcome: the
// set of members it considers valid, the resulting quorum public key and
// verification-vector hash, its threshold-signature share over that claim
// (QuorumSigShare) and its plain operator signature (Sig).
type PrematureCommitment struct {
	QuorumHash      Identifier
	MemberID        Identifier
	ValidMembers    []bool
	QuorumPublicKey []byte
	VVecHash        Identifier
	QuorumSigShare  []byte
	Sig             []byte
}

func (c *PrematureCommitment) ID() Identifier {
	return MakeID(c)
}

// SignHash is the commitment hash both signatures cover. Commitments sharing
// a sign hash agree on (valid member set, quorum key, vvec hash) and can be
// aggregated into one final commitment.
func (c *PrematureCommitment) SignHash() Identifier {
	return BuildCommitmentHash(c.QuorumHash, c.ValidMembers, c.QuorumPublicKey, c.VVecHash)
}

func (c *PrematureCommitment) Signature() []byte {
	return c.Sig
}

func (c *PrematureCommitment) CountValidMembers() int {
	return CountTrue(c.ValidMembers)
}

// BuildCommitmentHash derives the hash of a commitment claim. Premature and
// final commitments with identical claims share this hash.
func BuildCommitmentHash(quorumHash Identifier, validMembers []bool, quorumPublicKey []byte, vvecHash Identifier) Identifier {
	return MakeID(struct {
		Tag             string
		QuorumHash      Identifier
		ValidMembers    []bool
		QuorumPublicKey []byte
		VVecHash        Identifier
	}{"dkg-commitment", quorumHash, validMembers, quorumPublicKey, vvecHash})
}
