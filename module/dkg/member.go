package dkg

import (
	"github.com/mnlabs/quorum-go/model/llq"
)

// member tracks one quorum member's standing within a session. Received
// message IDs are retained per type so that a second, distinct message of
// the same type is detected as equivocation while both copies stay around
// as evidence.
type member struct {
	node  *llq.Masternode
	index int

	bad             bool
	badReason       Fault
	weComplain      bool
	someoneComplain bool

	contributions  map[llq.Identifier]struct{}
	complaints     map[llq.Identifier]struct{}
	justifications map[llq.Identifier]struct{}
	commitments    map[llq.Identifier]struct{}
}

func newMember(node *llq.Masternode, index int) *member {
	return &member{
		node:           node,
		index:          index,
		contributions:  make(map[llq.Identifier]struct{}),
		complaints:     make(map[llq.Identifier]struct{}),
		justifications: make(map[llq.Identifier]struct{}),
		commitments:    make(map[llq.Identifier]struct{}),
	}
}

// recordMessage adds the message ID to the given evidence set and reports
// whether this is a second distinct message of the same type.
func recordMessage(set map[llq.Identifier]struct{}, id llq.Identifier) (duplicate bool, equivocation bool) {
	if _, ok := set[id]; ok {
		return true, false
	}
	set[id] = struct{}{}
	return false, len(set) > 1
}

// MemberStatus is the externally visible standing of one member.
type MemberStatus struct {
	ProTxHash       llq.Identifier
	Index           int
	Bad             bool
	BadReason       string
	WeComplain      bool
	SomeoneComplain bool
	Contributions   int
	Complaints      int
	Justifications  int
	Commitments     int
}

func (m *member) status() MemberStatus {
	return MemberStatus{
		ProTxHash:       m.node.ProTxHash,
		Index:           m.index,
		Bad:             m.bad,
		BadReason:       string(m.badReason),
		WeComplain:      m.weComplain,
		SomeoneComplain: m.someoneComplain,
		Contributions:   len(m.contributions),
		Complaints:      len(m.complaints),
		Justifications:  len(m.justifications),
		Commitments:     len(m.commitments),
	}
}
