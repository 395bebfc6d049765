package module

import (
	"github.com/mnlabs/quorum-go/model/llq"
)

// DKGBroadcaster sends a member's DKG messages to the other members of the
// forming quorum. Delivery is best effort; the protocol tolerates missing
// messages by marking the silent member bad.
type DKGBroadcaster interface {
	BroadcastContribution(contribution *llq.Contribution) error
	BroadcastComplaint(complaint *llq.Complaint) error
	BroadcastJustification(justification *llq.Justification) error
	BroadcastCommitment(commitment *llq.PrematureCommitment) error
}

// SigBroadcaster relays recovered threshold signatures to the rest of the
// network once they verified locally.
type SigBroadcaster interface {
	RelayRecoveredSig(recSig *llq.RecoveredSig) error
}

// MisbehaviorReporter receives blame for peers that sent invalid data. The
// node's peer manager decides on the penalty.
type MisbehaviorReporter interface {
	ReportMisbehavior(origin llq.Identifier, reason string)
}
