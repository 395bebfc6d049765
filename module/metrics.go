package module

import (
	"time"

	"github.com/mnlabs/quorum-go/model/llq"
)

// DKGMetrics tracks quorum formation progress.
type DKGMetrics interface {
	SessionStarted(quorumType llq.QuorumType)
	SessionPhase(quorumType llq.QuorumType, phase string)
	MemberFaulted(fault string)
	SessionFinished(quorumType llq.QuorumType, success bool)
}

// SigningMetrics tracks the threshold-signing pipeline.
type SigningMetrics interface {
	PendingSigShares(count int)
	BatchVerified(size int, duration time.Duration)
	RecoveredSigStored(quorumType llq.QuorumType)
	RecoveredSigsCleaned(count int)
	ConflictingRecoveredSig()
}
