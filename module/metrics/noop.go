package metrics

import (
	"time"

	"github.com/mnlabs/quorum-go/model/llq"
)

// NoopCollector satisfies all metrics interfaces while doing nothing, for
// tests and tools that do not export metrics.
type NoopCollector struct{}

func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

func (nc *NoopCollector) SessionStarted(quorumType llq.QuorumType)              {}
func (nc *NoopCollector) SessionPhase(quorumType llq.QuorumType, phase string)  {}
func (nc *NoopCollector) MemberFaulted(fault string)                            {}
func (nc *NoopCollector) SessionFinished(quorumType llq.QuorumType, ok bool)    {}
func (nc *NoopCollector) PendingSigShares(count int)                            {}
func (nc *NoopCollector) BatchVerified(size int, duration time.Duration)        {}
func (nc *NoopCollector) RecoveredSigStored(quorumType llq.QuorumType)          {}
func (nc *NoopCollector) RecoveredSigsCleaned(count int)                        {}
func (nc *NoopCollector) ConflictingRecoveredSig()                              {}
