package metrics

const (
	namespaceDKG     = "dkg"
	namespaceSigning = "signing"
)

const (
	LabelQuorumType = "quorum_type"
	LabelPhase      = "phase"
	LabelFault      = "fault"
	LabelResult     = "result"
)
