package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mnlabs/quorum-go/model/llq"
	"github.com/mnlabs/quorum-go/module"
)

type DKGCollector struct {
	sessionsStarted  *prometheus.CounterVec
	phaseTransitions *prometheus.CounterVec
	memberFaults     *prometheus.CounterVec
	sessionsFinished *prometheus.CounterVec
}

var _ module.DKGMetrics = (*DKGCollector)(nil)

func NewDKGCollector() *DKGCollector {

	dc := &DKGCollector{

		sessionsStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceDKG,
			Name:      "sessions_started_total",
			Help:      "count of quorum formation sessions started",
		}, []string{LabelQuorumType}),

		phaseTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceDKG,
			Name:      "phase_transitions_total",
			Help:      "count of session phase transitions",
		}, []string{LabelQuorumType, LabelPhase}),

		memberFaults: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceDKG,
			Name:      "member_faults_total",
			Help:      "count of members marked bad, by fault",
		}, []string{LabelFault}),

		sessionsFinished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceDKG,
			Name:      "sessions_finished_total",
			Help:      "count of finished sessions, by result",
		}, []string{LabelQuorumType, LabelResult}),
	}

	return dc
}

func (dc *DKGCollector) SessionStarted(quorumType llq.QuorumType) {
	dc.sessionsStarted.With(prometheus.Labels{
		LabelQuorumType: quorumTypeLabel(quorumType),
	}).Inc()
}

func (dc *DKGCollector) SessionPhase(quorumType llq.QuorumType, phase string) {
	dc.phaseTransitions.With(prometheus.Labels{
		LabelQuorumType: quorumTypeLabel(quorumType),
		LabelPhase:      phase,
	}).Inc()
}

func (dc *DKGCollector) MemberFaulted(fault string) {
	dc.memberFaults.With(prometheus.Labels{LabelFault: fault}).Inc()
}

func (dc *DKGCollector) SessionFinished(quorumType llq.QuorumType, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	dc.sessionsFinished.With(prometheus.Labels{
		LabelQuorumType: quorumTypeLabel(quorumType),
		LabelResult:     result,
	}).Inc()
}

func quorumTypeLabel(quorumType llq.QuorumType) string {
	return strconv.Itoa(int(quorumType))
}
