package dkg

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnlabs/quorum-go/crypto/thresholdbls"
	"github.com/mnlabs/quorum-go/model/llq"
	"github.com/mnlabs/quorum-go/module"
	"github.com/mnlabs/quorum-go/utils/unittest"
)

// contributionSink is an in-memory ContributionSink that counts writes.
type contributionSink struct {
	mu          sync.Mutex
	vvecs       map[string][][]byte
	shares      map[string][]byte
	shareWrites map[string]int
}

func newContributionSink() *contributionSink {
	return &contributionSink{
		vvecs:       make(map[string][][]byte),
		shares:      make(map[string][]byte),
		shareWrites: make(map[string]int),
	}
}

func sinkKey(quorumHash llq.Identifier, member llq.Identifier) string {
	return quorumHash.String() + "/" + member.String()
}

func (s *contributionSink) StoreVerificationVector(quorumHash llq.Identifier, member llq.Identifier, vvec [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vvecs[sinkKey(quorumHash, member)] = vvec
	return nil
}

func (s *contributionSink) StoreSecretShare(quorumHash llq.Identifier, member llq.Identifier, share []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sinkKey(quorumHash, member)
	s.shares[key] = share
	s.shareWrites[key]++
	return nil
}

func (s *contributionSink) shareWriteCount(quorumHash llq.Identifier, member llq.Identifier) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shareWrites[sinkKey(quorumHash, member)]
}

// testCluster wires the sessions of all quorum members through a loopback
// network that delivers every broadcast to every session, the sender's own
// included.
type testCluster struct {
	t          *testing.T
	scheme     module.ThresholdScheme
	params     llq.QuorumParams
	quorumHash llq.Identifier
	nodes      []*llq.Masternode
	secrets    [][]byte
	sinks      []*contributionSink
	sessions   []*Session
}

type fanout struct {
	cluster *testCluster
}

func (f *fanout) BroadcastContribution(c *llq.Contribution) error {
	for _, s := range f.cluster.sessions {
		s.PushContribution(c.MemberID, c)
	}
	return nil
}

func (f *fanout) BroadcastComplaint(c *llq.Complaint) error {
	for _, s := range f.cluster.sessions {
		s.PushComplaint(c.MemberID, c)
	}
	return nil
}

func (f *fanout) BroadcastJustification(j *llq.Justification) error {
	for _, s := range f.cluster.sessions {
		s.PushJustification(j.MemberID, j)
	}
	return nil
}

func (f *fanout) BroadcastCommitment(c *llq.PrematureCommitment) error {
	for _, s := range f.cluster.sessions {
		s.PushCommitment(c.MemberID, c)
	}
	return nil
}

func newTestCluster(t *testing.T, faults map[int]FaultInjector) *testCluster {
	scheme := thresholdbls.NewScheme()
	params := llq.TestnetChainLocksParams()
	nodes, secrets := unittest.MasternodeFixtures(t, scheme, params.Size)

	cluster := &testCluster{
		t:          t,
		scheme:     scheme,
		params:     params,
		quorumHash: unittest.IdentifierFixture(),
		nodes:      nodes,
		secrets:    secrets,
	}
	network := &fanout{cluster: cluster}
	for i := range nodes {
		sink := newContributionSink()
		options := []SessionOption{}
		if injector, ok := faults[i]; ok {
			options = append(options, WithFaultInjector(injector))
		}
		session, err := NewSession(
			unittest.Logger(),
			params,
			cluster.quorumHash,
			nodes,
			nodes[i].ProTxHash,
			secrets[i],
			scheme,
			sink,
			network,
			options...,
		)
		require.NoError(t, err)
		cluster.sinks = append(cluster.sinks, sink)
		cluster.sessions = append(cluster.sessions, session)
	}
	return cluster
}

func (c *testCluster) each(f func(s *Session) error) {
	for i, s := range c.sessions {
		require.NoError(c.t, f(s), "session %d", i)
	}
}

// run drives all sessions through the five phases in lockstep and returns
// the final commitments produced by each session.
func (c *testCluster) run() [][]*llq.FinalCommitment {
	c.each(func(s *Session) error { return s.Contribute() })
	c.each(func(s *Session) error { return s.ProcessPendingContributions(0) })
	c.each(func(s *Session) error { return s.VerifyAndComplain() })
	c.each(func(s *Session) error { return s.ProcessPendingComplaints(0) })
	c.each(func(s *Session) error { return s.VerifyAndJustify() })
	c.each(func(s *Session) error { return s.ProcessPendingJustifications(0) })
	c.each(func(s *Session) error { return s.VerifyAndCommit() })
	c.each(func(s *Session) error { return s.ProcessPendingCommitments(0) })

	finals := make([][]*llq.FinalCommitment, 0, len(c.sessions))
	for i, s := range c.sessions {
		if s.Phase() == PhaseAbandoned {
			finals = append(finals, nil)
			continue
		}
		fcs, err := s.FinalizeCommitments()
		require.NoError(c.t, err, "session %d", i)
		finals = append(finals, fcs)
	}
	return finals
}

func TestSessionHonestRun(t *testing.T) {
	cluster := newTestCluster(t, nil)
	finals := cluster.run()

	for i, fcs := range finals {
		require.Len(t, fcs, 1, "session %d", i)
		fc := fcs[0]
		assert.Equal(t, cluster.params.Size, fc.CountValidMembers())
		assert.Equal(t, cluster.params.Size, fc.CountSigners())
		require.NoError(t, VerifyFinalCommitment(cluster.scheme, cluster.params, cluster.nodes, fc))
	}

	// All sessions agree on the same commitment.
	reference := finals[0][0].ID()
	for _, fcs := range finals[1:] {
		assert.Equal(t, reference, fcs[0].ID())
	}

	// The formed quorum can produce a threshold signature: any Threshold
	// members sign, the recovered signature verifies under the quorum key.
	fc := finals[0][0]
	msg := []byte("first signing request")
	sigShares := make(map[int][]byte)
	for _, i := range []int{0, 1, 4} {
		skShare, ok := cluster.sessions[i].SecretKeyShare()
		require.True(t, ok)
		sigShare, err := cluster.scheme.SignShare(skShare, i, msg)
		require.NoError(t, err)
		sigShares[i] = sigShare
	}
	recovered, err := cluster.scheme.RecoverSignature(cluster.params.Threshold, cluster.params.Size, sigShares, msg)
	require.NoError(t, err)
	require.NoError(t, cluster.scheme.Verify(fc.QuorumPublicKey, msg, recovered))
}

func TestSessionContributionOmit(t *testing.T) {
	const cheater = 4
	cluster := newTestCluster(t, map[int]FaultInjector{
		cheater: FaultSet{FaultContributionOmit: true},
	})
	finals := cluster.run()

	for i, fcs := range finals {
		require.Len(t, fcs, 1, "session %d", i)
		fc := fcs[0]
		assert.Equal(t, cluster.params.Size-1, fc.CountValidMembers(), "session %d", i)
		assert.False(t, fc.ValidMembers[cheater])
		assert.False(t, fc.Signers[cheater])
		require.NoError(t, VerifyFinalCommitment(cluster.scheme, cluster.params, cluster.nodes, fc))
	}

	status := cluster.sessions[0].Status()
	assert.True(t, status.Members[cheater].Bad)
	assert.Equal(t, string(FaultContributionOmit), status.Members[cheater].BadReason)
}

func TestSessionContributionLieIsJustified(t *testing.T) {
	const liar = 1
	cluster := newTestCluster(t, map[int]FaultInjector{
		liar: FaultSet{FaultContributionLie: true},
	})
	finals := cluster.run()

	// The liar disclosed valid shares in its justification, so it survives
	// with full membership.
	for i, fcs := range finals {
		require.Len(t, fcs, 1, "session %d", i)
		fc := fcs[0]
		assert.Equal(t, cluster.params.Size, fc.CountValidMembers(), "session %d", i)
		assert.True(t, fc.ValidMembers[liar])
		require.NoError(t, VerifyFinalCommitment(cluster.scheme, cluster.params, cluster.nodes, fc))
	}

	// Every other member stored the liar's share exactly once, through the
	// justification.
	liarID := cluster.nodes[liar].ProTxHash
	for i, sink := range cluster.sinks {
		if i == liar {
			continue
		}
		assert.Equal(t, 1, sink.shareWriteCount(cluster.quorumHash, liarID), "session %d", i)
	}
}

func TestSessionJustificationOmit(t *testing.T) {
	const cheater = 2
	cluster := newTestCluster(t, map[int]FaultInjector{
		cheater: FaultSet{FaultContributionLie: true, FaultJustifyOmit: true},
	})
	finals := cluster.run()

	for i, fcs := range finals {
		require.Len(t, fcs, 1, "session %d", i)
		fc := fcs[0]
		assert.Equal(t, cluster.params.Size-1, fc.CountValidMembers(), "session %d", i)
		assert.False(t, fc.ValidMembers[cheater])
		require.NoError(t, VerifyFinalCommitment(cluster.scheme, cluster.params, cluster.nodes, fc))
	}
}

func TestSessionAbandonedBelowMinimum(t *testing.T) {
	cluster := newTestCluster(t, map[int]FaultInjector{
		3: FaultSet{FaultContributionOmit: true},
		4: FaultSet{FaultContributionOmit: true},
	})
	finals := cluster.run()

	for i, s := range cluster.sessions {
		assert.Equal(t, PhaseAbandoned, s.Phase(), "session %d", i)
		assert.Nil(t, finals[i])
	}
}

func TestSessionEquivocationMarksBad(t *testing.T) {
	cluster := newTestCluster(t, nil)
	cluster.each(func(s *Session) error { return s.Contribute() })

	// Member 0 signs a second, distinct contribution.
	vvec, _, err := cluster.scheme.GenerateContribution(cluster.params.Threshold, cluster.params.Size)
	require.NoError(t, err)
	second := &llq.Contribution{
		QuorumHash: cluster.quorumHash,
		MemberID:   cluster.nodes[0].ProTxHash,
		VVec:       vvec,
		Shares:     make([][]byte, cluster.params.Size),
	}
	signHash := second.SignHash()
	second.Sig, err = cluster.scheme.Sign(cluster.secrets[0], signHash[:])
	require.NoError(t, err)

	observer := cluster.sessions[1]
	observer.PushContribution(cluster.nodes[0].ProTxHash, second)
	require.NoError(t, observer.ProcessPendingContributions(0))

	status := observer.Status()
	assert.True(t, status.Members[0].Bad)
	assert.Equal(t, string(FaultDuplicateMessage), status.Members[0].BadReason)
	assert.Equal(t, 2, status.Members[0].Contributions)
}
