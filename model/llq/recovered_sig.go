package llq

// RecoveredSig is a fully recovered threshold signature over an application
// message, verifiable with only the quorum public key.
type RecoveredSig struct {
	QuorumHash Identifier
	ID         Identifier
	MsgHash    Identifier
	Sig        []byte
}

// Hash returns the content hash of the recovered signature object. It is
// distinct from the sign hash: the content hash includes the signature bytes
// and identifies the object for relay/dedup purposes.
func (rs *RecoveredSig) Hash() Identifier {
	return MakeID(rs)
}

// SignHash returns the session key (quorum, id, msgHash) the threshold
// signature covers.
func (rs *RecoveredSig) SignHash() Identifier {
	return BuildSignHash(rs.QuorumHash, rs.ID, rs.MsgHash)
}

// BuildSignHash derives the hash that quorum members sign for a given
// signing request. It doubles as the duplicate-session key.
func BuildSignHash(quorumHash, id, msgHash Identifier) Identifier {
	return HashToID(hashBytes([]byte("llq-signhash"), quorumHash[:], id[:], msgHash[:]))
}

// VoteRecord marks that the local node has asynchronously signed for an id.
type VoteRecord struct {
	ID      Identifier
	MsgHash Identifier
}
