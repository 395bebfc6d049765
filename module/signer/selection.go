package signer

import (
	"bytes"
	"sort"

	"github.com/mnlabs/quorum-go/model/llq"
)

// SelectQuorumForSigning deterministically picks the responsible quorum for
// a signing request out of the active set: every quorum is scored by hashing
// its base block hash with the request id, lowest score wins. All nodes thus
// agree on the same quorum without coordination.
func SelectQuorumForSigning(quorums []*llq.Quorum, id llq.Identifier) *llq.Quorum {
	if len(quorums) == 0 {
		return nil
	}

	type scored struct {
		score  llq.Identifier
		quorum *llq.Quorum
	}
	scores := make([]scored, 0, len(quorums))
	for _, quorum := range quorums {
		scores = append(scores, scored{
			score:  signingScore(quorum.Hash(), id),
			quorum: quorum,
		})
	}
	sort.Slice(scores, func(i, j int) bool {
		return bytes.Compare(scores[i].score[:], scores[j].score[:]) < 0
	})
	return scores[0].quorum
}

func signingScore(quorumHash llq.Identifier, id llq.Identifier) llq.Identifier {
	return llq.MakeID(struct {
		Tag        string
		QuorumHash llq.Identifier
		ID         llq.Identifier
	}{"quorum-selection", quorumHash, id})
}
