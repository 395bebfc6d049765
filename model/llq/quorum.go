package llq

// Masternode is one entry of the deterministic masternode list: the stable
// registration hash and the operator public key used to sign DKG messages.
type Masternode struct {
	ProTxHash      Identifier
	OperatorPubKey []byte
}

// Quorum is a formed quorum as seen by the signing pipeline: the final
// commitment that created it plus the resolved membership snapshot.
type Quorum struct {
	Params     QuorumParams
	Commitment *FinalCommitment
	Members    []*Masternode
}

func (q *Quorum) Hash() Identifier {
	return q.Commitment.QuorumHash
}

func (q *Quorum) PublicKey() []byte {
	return q.Commitment.QuorumPublicKey
}

// MemberIndex returns the ordinal index of the given masternode within the
// quorum, or false if it is not a member.
func (q *Quorum) MemberIndex(proTxHash Identifier) (int, bool) {
	for i, m := range q.Members {
		if m.ProTxHash == proTxHash {
			return i, true
		}
	}
	return 0, false
}

// IsValidMember reports whether the masternode is part of the quorum's valid
// member set, i.e. survived the DKG and holds a usable key share.
func (q *Quorum) IsValidMember(proTxHash Identifier) bool {
	i, ok := q.MemberIndex(proTxHash)
	if !ok {
		return false
	}
	return i < len(q.Commitment.ValidMembers) && q.Commitment.ValidMembers[i]
}
