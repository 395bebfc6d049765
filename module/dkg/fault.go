package dkg

// Fault names one way a member can misbehave during quorum formation. The
// names double as metric labels and as blame reasons.
type Fault string

const (
	FaultContributionOmit Fault = "contribution-omit"
	FaultContributionLie  Fault = "contribution-lie"
	FaultComplainLie      Fault = "complain-lie"
	FaultJustifyOmit      Fault = "justify-omit"
	FaultJustifyLie       Fault = "justify-lie"
	FaultCommitOmit       Fault = "commit-omit"
	FaultCommitLie        Fault = "commit-lie"
	FaultDuplicateMessage Fault = "duplicate-message"
	FaultInvalidMessage   Fault = "invalid-message"
	FaultInvalidSignature Fault = "invalid-signature"
)

// FaultInjector lets a session deliberately misbehave, to exercise the
// complaint and justification paths in multi-node tests. Production sessions
// use NoFaults.
type FaultInjector interface {
	ShouldFault(fault Fault) bool
}

type NoFaults struct{}

func (NoFaults) ShouldFault(Fault) bool { return false }

// FaultSet injects exactly the listed faults.
type FaultSet map[Fault]bool

func (fs FaultSet) ShouldFault(fault Fault) bool { return fs[fault] }
