package dkg

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mnlabs/quorum-go/model/llq"
	"github.com/mnlabs/quorum-go/module"
	"github.com/mnlabs/quorum-go/module/metrics"
)

// Phase enumerates the states of one quorum formation session. Transitions
// are driven externally; the session only validates their order.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseContribute
	PhaseComplain
	PhaseJustify
	PhaseCommit
	PhaseFinalize
	PhaseAbandoned
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseContribute:
		return "contribute"
	case PhaseComplain:
		return "complain"
	case PhaseJustify:
		return "justify"
	case PhaseCommit:
		return "commit"
	case PhaseFinalize:
		return "finalize"
	case PhaseAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// ContributionSink is where a session deposits verified contribution data.
type ContributionSink interface {
	StoreVerificationVector(quorumHash llq.Identifier, member llq.Identifier, vvec [][]byte) error
	StoreSecretShare(quorumHash llq.Identifier, member llq.Identifier, share []byte) error
}

// signedMessage is implemented by all four DKG message types.
type signedMessage interface {
	ID() llq.Identifier
	SignHash() llq.Identifier
	Signature() []byte
}

const defaultMaxPendingPerOrigin = 2

// Session runs one member's view of a single quorum formation. The five
// phases are driven from the outside, typically off block heights; incoming
// messages are queued per type and processed in batches with one aggregate
// signature check per batch. Cheating members are marked bad but their
// messages are retained as evidence.
type Session struct {
	log     zerolog.Logger
	params  llq.QuorumParams
	scheme  module.ThresholdScheme
	sink    ContributionSink
	network module.DKGBroadcaster

	injector FaultInjector
	metrics  module.DKGMetrics
	reporter module.MisbehaviorReporter

	quorumHash     llq.Identifier
	myProTxHash    llq.Identifier
	myIndex        int
	operatorSecret []byte

	mu          sync.Mutex
	phase       Phase
	members     []*member
	membersByID map[llq.Identifier]*member

	sentShares  [][]byte          // plaintext shares of our own contribution
	vvecs       map[int][][]byte  // contributor index -> verification vector
	myShares    map[int][]byte    // contributor index -> our verified share
	badVotes    map[int]map[int]struct{}
	accusations map[int]map[int]struct{} // accused index -> accuser indexes
	justified   map[int]struct{}
	commitments []*llq.PrematureCommitment

	validMembers []bool
	quorumVVec   [][]byte
	quorumPubKey []byte
	vvecHash     llq.Identifier
	skShare      []byte

	pendingContributions  *PendingMessages
	pendingComplaints     *PendingMessages
	pendingJustifications *PendingMessages
	pendingCommitments    *PendingMessages
}

type SessionOption func(*Session)

func WithFaultInjector(injector FaultInjector) SessionOption {
	return func(s *Session) {
		s.injector = injector
	}
}

func WithDKGMetrics(collector module.DKGMetrics) SessionOption {
	return func(s *Session) {
		s.metrics = collector
	}
}

func WithMisbehaviorReporter(reporter module.MisbehaviorReporter) SessionOption {
	return func(s *Session) {
		s.reporter = reporter
	}
}

// NewSession creates a session for the quorum based at quorumHash with the
// given member list, in deterministic quorum order. A node that is not part
// of the member list participates as an observer: it tracks the session and
// can verify commitments but never sends.
func NewSession(
	log zerolog.Logger,
	params llq.QuorumParams,
	quorumHash llq.Identifier,
	members []*llq.Masternode,
	myProTxHash llq.Identifier,
	operatorSecret []byte,
	scheme module.ThresholdScheme,
	sink ContributionSink,
	network module.DKGBroadcaster,
	options ...SessionOption,
) (*Session, error) {

	if len(members) != params.Size {
		return nil, fmt.Errorf("invalid member count: %d != %d", len(members), params.Size)
	}

	s := &Session{
		log: log.With().
			Str("component", "dkg_session").
			Hex("quorum", quorumHash[:]).
			Logger(),
		params:                params,
		scheme:                scheme,
		sink:                  sink,
		network:               network,
		injector:              NoFaults{},
		metrics:               metrics.NewNoopCollector(),
		quorumHash:            quorumHash,
		myProTxHash:           myProTxHash,
		myIndex:               -1,
		operatorSecret:        operatorSecret,
		phase:                 PhaseInit,
		membersByID:           make(map[llq.Identifier]*member),
		vvecs:                 make(map[int][][]byte),
		myShares:              make(map[int][]byte),
		badVotes:              make(map[int]map[int]struct{}),
		accusations:           make(map[int]map[int]struct{}),
		justified:             make(map[int]struct{}),
		pendingContributions:  NewPendingMessages(defaultMaxPendingPerOrigin),
		pendingComplaints:     NewPendingMessages(defaultMaxPendingPerOrigin),
		pendingJustifications: NewPendingMessages(defaultMaxPendingPerOrigin),
		pendingCommitments:    NewPendingMessages(defaultMaxPendingPerOrigin),
	}
	for i, node := range members {
		m := newMember(node, i)
		s.members = append(s.members, m)
		s.membersByID[node.ProTxHash] = m
		if node.ProTxHash == myProTxHash {
			s.myIndex = i
		}
	}
	for _, option := range options {
		option(s)
	}

	s.metrics.SessionStarted(params.Type)
	return s, nil
}

// Contribute generates our secret polynomial, persists our own verified
// contribution data and broadcasts the encrypted contribution. It moves the
// session from the init to the contribute phase.
func (s *Session) Contribute() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.transition(PhaseInit, PhaseContribute)
	if err != nil {
		return err
	}
	if s.myIndex < 0 {
		return nil
	}

	vvec, shares, err := s.scheme.GenerateContribution(s.params.Threshold, s.params.Size)
	if err != nil {
		return fmt.Errorf("could not generate contribution: %w", err)
	}
	s.sentShares = shares
	s.vvecs[s.myIndex] = vvec
	s.myShares[s.myIndex] = shares[s.myIndex]

	err = s.sink.StoreVerificationVector(s.quorumHash, s.myProTxHash, vvec)
	if err != nil {
		return fmt.Errorf("could not store own verification vector: %w", err)
	}
	err = s.sink.StoreSecretShare(s.quorumHash, s.myProTxHash, shares[s.myIndex])
	if err != nil {
		return fmt.Errorf("could not store own secret share: %w", err)
	}

	if s.injector.ShouldFault(FaultContributionOmit) {
		s.log.Warn().Msg("omitting contribution")
		return nil
	}

	lie := s.injector.ShouldFault(FaultContributionLie)
	encrypted := make([][]byte, s.params.Size)
	for i, m := range s.members {
		plain := shares[i]
		if lie && i != s.myIndex {
			plain = corruptShare(plain)
		}
		encrypted[i], err = s.scheme.Encrypt(m.node.OperatorPubKey, plain)
		if err != nil {
			return fmt.Errorf("could not encrypt share for member %d: %w", i, err)
		}
	}

	contribution := &llq.Contribution{
		QuorumHash: s.quorumHash,
		MemberID:   s.myProTxHash,
		VVec:       vvec,
		Shares:     encrypted,
	}
	signHash := contribution.SignHash()
	contribution.Sig, err = s.scheme.Sign(s.operatorSecret, signHash[:])
	if err != nil {
		return fmt.Errorf("could not sign contribution: %w", err)
	}

	s.log.Debug().Msg("broadcasting contribution")
	return s.network.BroadcastContribution(contribution)
}

// PushContribution queues a received contribution for batched processing.
func (s *Session) PushContribution(origin llq.Identifier, contribution *llq.Contribution) bool {
	return s.pendingContributions.Push(origin, contribution.ID(), contribution)
}

func (s *Session) PushComplaint(origin llq.Identifier, complaint *llq.Complaint) bool {
	return s.pendingComplaints.Push(origin, complaint.ID(), complaint)
}

func (s *Session) PushJustification(origin llq.Identifier, justification *llq.Justification) bool {
	return s.pendingJustifications.Push(origin, justification.ID(), justification)
}

func (s *Session) PushCommitment(origin llq.Identifier, commitment *llq.PrematureCommitment) bool {
	return s.pendingCommitments.Push(origin, commitment.ID(), commitment)
}

// ProcessPendingContributions drains up to max queued contributions, checks
// their operator signatures as one batch and feeds the survivors into the
// session. Invalid signatures blame the relaying peer, not the member.
func (s *Session) ProcessPendingContributions(max int) error {
	return s.processPending(s.pendingContributions, max,
		func(msg signedMessage) (*member, error) {
			return s.preVerifyContribution(msg.(*llq.Contribution))
		},
		func(origin llq.Identifier, msg signedMessage) error {
			return s.ReceiveContribution(origin, msg.(*llq.Contribution))
		},
	)
}

func (s *Session) ProcessPendingComplaints(max int) error {
	return s.processPending(s.pendingComplaints, max,
		func(msg signedMessage) (*member, error) {
			return s.preVerifyComplaint(msg.(*llq.Complaint))
		},
		func(origin llq.Identifier, msg signedMessage) error {
			return s.ReceiveComplaint(origin, msg.(*llq.Complaint))
		},
	)
}

func (s *Session) ProcessPendingJustifications(max int) error {
	return s.processPending(s.pendingJustifications, max,
		func(msg signedMessage) (*member, error) {
			return s.preVerifyJustification(msg.(*llq.Justification))
		},
		func(origin llq.Identifier, msg signedMessage) error {
			return s.ReceiveJustification(origin, msg.(*llq.Justification))
		},
	)
}

func (s *Session) ProcessPendingCommitments(max int) error {
	return s.processPending(s.pendingCommitments, max,
		func(msg signedMessage) (*member, error) {
			return s.preVerifyCommitment(msg.(*llq.PrematureCommitment))
		},
		func(origin llq.Identifier, msg signedMessage) error {
			return s.ReceiveCommitment(origin, msg.(*llq.PrematureCommitment))
		},
	)
}

func (s *Session) processPending(
	queue *PendingMessages,
	max int,
	preVerify func(msg signedMessage) (*member, error),
	receive func(origin llq.Identifier, msg signedMessage) error,
) error {

	batch := queue.PopBatch(max)
	if len(batch) == 0 {
		return nil
	}

	type candidate struct {
		origin llq.Identifier
		msg    signedMessage
	}
	candidates := make([]candidate, 0, len(batch))

	verifier := s.scheme.NewBatchVerifier()
	for _, pending := range batch {
		msg := pending.Message.(signedMessage)
		m, err := preVerify(msg)
		if err != nil {
			s.log.Debug().Err(err).Hex("origin", pending.Origin[:]).Msg("dropping invalid message")
			s.reportMisbehavior(pending.Origin, err.Error())
			continue
		}
		signHash := msg.SignHash()
		verifier.PushMessage(pending.Origin, msg.ID(), signHash, msg.Signature(), m.node.OperatorPubKey)
		candidates = append(candidates, candidate{origin: pending.Origin, msg: msg})
	}

	badSources, badMessages := verifier.Verify()
	for origin := range badSources {
		s.reportMisbehavior(origin, "invalid message signature")
	}

	for _, c := range candidates {
		if _, bad := badMessages[c.msg.ID()]; bad {
			continue
		}
		err := receive(c.origin, c.msg)
		if err != nil {
			s.log.Warn().Err(err).Msg("could not process message")
		}
	}
	return nil
}

func (s *Session) preVerifyContribution(c *llq.Contribution) (*member, error) {
	if c.QuorumHash != s.quorumHash {
		return nil, fmt.Errorf("contribution for wrong quorum")
	}
	m, ok := s.membersByID[c.MemberID]
	if !ok {
		return nil, fmt.Errorf("contribution from non-member")
	}
	if len(c.VVec) != s.params.Threshold {
		return nil, fmt.Errorf("invalid verification vector size: %d != %d", len(c.VVec), s.params.Threshold)
	}
	if len(c.Shares) != s.params.Size {
		return nil, fmt.Errorf("invalid share count: %d != %d", len(c.Shares), s.params.Size)
	}
	return m, nil
}

// ReceiveContribution validates a contribution against our own share of it.
// The verification vector is always persisted; the decrypted secret share
// only if it checks out, otherwise we note a pending complaint against the
// contributor.
func (s *Session) ReceiveContribution(origin llq.Identifier, c *llq.Contribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseAbandoned || s.phase == PhaseFinalize {
		return nil
	}
	m, err := s.preVerifyContribution(c)
	if err != nil {
		return err
	}
	dup, equivocation := recordMessage(m.contributions, c.ID())
	if dup {
		return nil
	}
	if equivocation {
		s.markBad(m, FaultDuplicateMessage)
		return nil
	}

	s.vvecs[m.index] = c.VVec
	err = s.sink.StoreVerificationVector(s.quorumHash, c.MemberID, c.VVec)
	if err != nil {
		return fmt.Errorf("could not store verification vector: %w", err)
	}

	if s.myIndex < 0 || m.index == s.myIndex {
		return nil
	}

	plain, err := s.scheme.Decrypt(s.operatorSecret, c.Shares[s.myIndex])
	if err != nil || !s.scheme.VerifyContributionShare(s.myIndex, plain, c.VVec) {
		s.log.Warn().Int("member", m.index).Msg("contribution share does not verify, will complain")
		m.weComplain = true
		return nil
	}

	s.myShares[m.index] = plain
	err = s.sink.StoreSecretShare(s.quorumHash, c.MemberID, plain)
	if err != nil {
		return fmt.Errorf("could not store secret share: %w", err)
	}
	return nil
}

// VerifyAndComplain closes the contribute phase: members without a
// contribution are marked bad, and a complaint is broadcast if we have
// anyone to accuse.
func (s *Session) VerifyAndComplain() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.transition(PhaseContribute, PhaseComplain)
	if err != nil {
		return err
	}

	for _, m := range s.members {
		if len(m.contributions) == 0 && !m.bad {
			s.markBad(m, FaultContributionOmit)
		}
	}
	if s.myIndex < 0 {
		return nil
	}

	lie := s.injector.ShouldFault(FaultComplainLie)
	badMembers := make([]bool, s.params.Size)
	complainForMembers := make([]bool, s.params.Size)
	any := false
	for _, m := range s.members {
		if m.bad {
			badMembers[m.index] = true
			any = true
		}
		if m.weComplain || (lie && m.index != s.myIndex) {
			complainForMembers[m.index] = true
			any = true
		}
	}
	if !any {
		return nil
	}

	complaint := &llq.Complaint{
		QuorumHash:         s.quorumHash,
		MemberID:           s.myProTxHash,
		BadMembers:         badMembers,
		ComplainForMembers: complainForMembers,
	}
	signHash := complaint.SignHash()
	complaint.Sig, err = s.scheme.Sign(s.operatorSecret, signHash[:])
	if err != nil {
		return fmt.Errorf("could not sign complaint: %w", err)
	}

	s.log.Debug().Msg("broadcasting complaint")
	return s.network.BroadcastComplaint(complaint)
}

func (s *Session) preVerifyComplaint(c *llq.Complaint) (*member, error) {
	if c.QuorumHash != s.quorumHash {
		return nil, fmt.Errorf("complaint for wrong quorum")
	}
	m, ok := s.membersByID[c.MemberID]
	if !ok {
		return nil, fmt.Errorf("complaint from non-member")
	}
	if len(c.BadMembers) != s.params.Size || len(c.ComplainForMembers) != s.params.Size {
		return nil, fmt.Errorf("invalid complaint bitset size")
	}
	return m, nil
}

// ReceiveComplaint records the accusations of one member. A member accused
// of lying by more than half the quorum is marked bad outright; members the
// complainer merely requests justification from are marked accordingly.
func (s *Session) ReceiveComplaint(origin llq.Identifier, c *llq.Complaint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseAbandoned || s.phase == PhaseFinalize {
		return nil
	}
	m, err := s.preVerifyComplaint(c)
	if err != nil {
		return err
	}
	dup, equivocation := recordMessage(m.complaints, c.ID())
	if dup {
		return nil
	}
	if equivocation {
		s.markBad(m, FaultDuplicateMessage)
		return nil
	}

	for i, accused := range c.BadMembers {
		if !accused {
			continue
		}
		votes, ok := s.badVotes[i]
		if !ok {
			votes = make(map[int]struct{})
			s.badVotes[i] = votes
		}
		votes[m.index] = struct{}{}
		if len(votes) > s.params.Size/2 && !s.members[i].bad {
			s.markBad(s.members[i], FaultContributionLie)
		}
	}
	for i, wantsJustification := range c.ComplainForMembers {
		if !wantsJustification {
			continue
		}
		accusers, ok := s.accusations[i]
		if !ok {
			accusers = make(map[int]struct{})
			s.accusations[i] = accusers
		}
		accusers[m.index] = struct{}{}
		s.members[i].someoneComplain = true
	}
	return nil
}

// VerifyAndJustify closes the complain phase: if anyone complained about us,
// we disclose the plaintext shares we sent them.
func (s *Session) VerifyAndJustify() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.transition(PhaseComplain, PhaseJustify)
	if err != nil {
		return err
	}
	if s.myIndex < 0 {
		return nil
	}
	accusers := s.accusations[s.myIndex]
	if len(accusers) == 0 {
		return nil
	}
	if s.injector.ShouldFault(FaultJustifyOmit) {
		s.log.Warn().Msg("omitting justification")
		return nil
	}

	lie := s.injector.ShouldFault(FaultJustifyLie)
	justification := &llq.Justification{
		QuorumHash: s.quorumHash,
		MemberID:   s.myProTxHash,
	}
	for accuser := range accusers {
		disclosed := s.sentShares[accuser]
		if lie {
			disclosed = corruptShare(disclosed)
		}
		justification.Contributions = append(justification.Contributions, llq.JustifiedShare{
			Index: uint32(accuser),
			Share: disclosed,
		})
	}
	sort.Slice(justification.Contributions, func(i, j int) bool {
		return justification.Contributions[i].Index < justification.Contributions[j].Index
	})

	signHash := justification.SignHash()
	justification.Sig, err = s.scheme.Sign(s.operatorSecret, signHash[:])
	if err != nil {
		return fmt.Errorf("could not sign justification: %w", err)
	}

	s.log.Debug().Int("shares", len(justification.Contributions)).Msg("broadcasting justification")
	return s.network.BroadcastJustification(justification)
}

func (s *Session) preVerifyJustification(j *llq.Justification) (*member, error) {
	if j.QuorumHash != s.quorumHash {
		return nil, fmt.Errorf("justification for wrong quorum")
	}
	m, ok := s.membersByID[j.MemberID]
	if !ok {
		return nil, fmt.Errorf("justification from non-member")
	}
	if len(j.Contributions) == 0 {
		return nil, fmt.Errorf("empty justification")
	}
	for _, js := range j.Contributions {
		if int(js.Index) >= s.params.Size {
			return nil, fmt.Errorf("justified share index out of range: %d", js.Index)
		}
	}
	return m, nil
}

// ReceiveJustification checks each disclosed share against the accused
// member's verification vector. A single invalid share marks the accused
// bad; a fully valid justification resolves all complaints against them.
func (s *Session) ReceiveJustification(origin llq.Identifier, j *llq.Justification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseAbandoned || s.phase == PhaseFinalize {
		return nil
	}
	m, err := s.preVerifyJustification(j)
	if err != nil {
		return err
	}
	dup, equivocation := recordMessage(m.justifications, j.ID())
	if dup {
		return nil
	}
	if equivocation {
		s.markBad(m, FaultDuplicateMessage)
		return nil
	}
	if m.bad {
		return nil
	}

	vvec, ok := s.vvecs[m.index]
	if !ok {
		// No contribution means the member is already bad or will be.
		return nil
	}

	covered := make(map[int]struct{}, len(j.Contributions))
	for _, js := range j.Contributions {
		index := int(js.Index)
		if !s.scheme.VerifyContributionShare(index, js.Share, vvec) {
			s.markBad(m, FaultJustifyLie)
			return nil
		}
		covered[index] = struct{}{}
		if index == s.myIndex {
			if _, have := s.myShares[m.index]; !have {
				s.myShares[m.index] = js.Share
				err = s.sink.StoreSecretShare(s.quorumHash, j.MemberID, js.Share)
				if err != nil {
					return fmt.Errorf("could not store justified share: %w", err)
				}
			}
		}
	}

	// The justification must answer every accuser we know of.
	for accuser := range s.accusations[m.index] {
		if _, ok := covered[accuser]; !ok {
			s.markBad(m, FaultJustifyOmit)
			return nil
		}
	}

	m.weComplain = false
	s.justified[m.index] = struct{}{}
	return nil
}

// VerifyAndCommit closes the justify phase: unresolved complaints mark their
// targets bad, and if enough members remain we derive the quorum key
// material and broadcast our premature commitment. Falling below the minimum
// member count abandons the session.
func (s *Session) VerifyAndCommit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseJustify {
		return fmt.Errorf("invalid phase transition: %s -> %s", s.phase, PhaseCommit)
	}

	for _, m := range s.members {
		if m.bad {
			continue
		}
		if m.weComplain {
			s.markBad(m, FaultJustifyOmit)
			continue
		}
		if m.someoneComplain {
			if _, ok := s.justified[m.index]; !ok {
				s.markBad(m, FaultJustifyOmit)
			}
		}
	}

	validMembers := make([]bool, s.params.Size)
	validCount := 0
	for _, m := range s.members {
		if !m.bad {
			validMembers[m.index] = true
			validCount++
		}
	}
	if validCount < s.params.MinSize {
		s.log.Warn().
			Int("valid", validCount).
			Int("min", s.params.MinSize).
			Msg("not enough valid members, abandoning session")
		s.setPhase(PhaseAbandoned)
		s.metrics.SessionFinished(s.params.Type, false)
		return nil
	}
	s.validMembers = validMembers

	vvecs := make([][][]byte, 0, validCount)
	for _, m := range s.members {
		if !validMembers[m.index] {
			continue
		}
		vvec, ok := s.vvecs[m.index]
		if !ok {
			return fmt.Errorf("missing verification vector for valid member %d", m.index)
		}
		vvecs = append(vvecs, vvec)
	}

	var err error
	s.quorumVVec, err = s.scheme.AggregateVerificationVectors(vvecs)
	if err != nil {
		return fmt.Errorf("could not aggregate verification vectors: %w", err)
	}
	s.quorumPubKey, err = s.scheme.QuorumPublicKey(s.quorumVVec)
	if err != nil {
		return fmt.Errorf("could not derive quorum public key: %w", err)
	}
	s.vvecHash = s.scheme.VectorHash(s.quorumVVec)

	s.setPhase(PhaseCommit)

	if s.myIndex < 0 || !validMembers[s.myIndex] {
		return nil
	}

	shares := make([][]byte, 0, validCount)
	for _, m := range s.members {
		if !validMembers[m.index] {
			continue
		}
		sk, ok := s.myShares[m.index]
		if !ok {
			return fmt.Errorf("missing secret share from valid member %d", m.index)
		}
		shares = append(shares, sk)
	}
	s.skShare, err = s.scheme.AggregateSecretShares(shares)
	if err != nil {
		return fmt.Errorf("could not aggregate secret shares: %w", err)
	}

	commitment := &llq.PrematureCommitment{
		QuorumHash:      s.quorumHash,
		MemberID:        s.myProTxHash,
		ValidMembers:    validMembers,
		QuorumPublicKey: s.quorumPubKey,
		VVecHash:        s.vvecHash,
	}
	if s.injector.ShouldFault(FaultCommitLie) {
		commitment.QuorumPublicKey = corruptShare(s.quorumPubKey)
	}
	commitmentHash := commitment.SignHash()
	commitment.QuorumSigShare, err = s.scheme.SignShare(s.skShare, s.myIndex, commitmentHash[:])
	if err != nil {
		return fmt.Errorf("could not sign commitment with key share: %w", err)
	}
	commitment.Sig, err = s.scheme.Sign(s.operatorSecret, commitmentHash[:])
	if err != nil {
		return fmt.Errorf("could not sign commitment: %w", err)
	}

	// Our own commitment enters the session directly.
	err = s.receiveCommitment(s.members[s.myIndex], commitment)
	if err != nil {
		return fmt.Errorf("could not record own commitment: %w", err)
	}

	if s.injector.ShouldFault(FaultCommitOmit) {
		s.log.Warn().Msg("omitting commitment")
		return nil
	}

	s.log.Debug().Msg("broadcasting premature commitment")
	return s.network.BroadcastCommitment(commitment)
}

func (s *Session) preVerifyCommitment(c *llq.PrematureCommitment) (*member, error) {
	if c.QuorumHash != s.quorumHash {
		return nil, fmt.Errorf("commitment for wrong quorum")
	}
	m, ok := s.membersByID[c.MemberID]
	if !ok {
		return nil, fmt.Errorf("commitment from non-member")
	}
	if len(c.ValidMembers) != s.params.Size {
		return nil, fmt.Errorf("invalid valid-member bitset size")
	}
	if c.CountValidMembers() < s.params.MinSize {
		return nil, fmt.Errorf("commitment below minimum member count")
	}
	if !c.ValidMembers[m.index] {
		return nil, fmt.Errorf("committer not in own valid member set")
	}
	return m, nil
}

// ReceiveCommitment accepts a premature commitment whose claim matches our
// own derivation and whose threshold signature share verifies against the
// quorum verification vector.
func (s *Session) ReceiveCommitment(origin llq.Identifier, c *llq.PrematureCommitment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseCommit {
		return nil
	}
	m, err := s.preVerifyCommitment(c)
	if err != nil {
		return err
	}
	return s.receiveCommitment(m, c)
}

func (s *Session) receiveCommitment(m *member, c *llq.PrematureCommitment) error {
	dup, equivocation := recordMessage(m.commitments, c.ID())
	if dup {
		return nil
	}
	if equivocation {
		s.markBad(m, FaultDuplicateMessage)
		return nil
	}

	if !llq.BitsEqual(c.ValidMembers, s.validMembers) ||
		!bytes.Equal(c.QuorumPublicKey, s.quorumPubKey) ||
		c.VVecHash != s.vvecHash {
		s.log.Debug().Int("member", m.index).Msg("commitment claim differs from ours, ignoring")
		return nil
	}

	commitmentHash := c.SignHash()
	err := s.scheme.VerifyShare(s.quorumVVec, m.index, commitmentHash[:], c.QuorumSigShare)
	if err != nil {
		s.markBad(m, FaultCommitLie)
		return nil
	}

	s.commitments = append(s.commitments, c)
	return nil
}

// FinalizeCommitments groups the accepted premature commitments by their
// claim and aggregates every group with enough signers into one final
// commitment. Quorum types without indexed commitments keep only the first
// group.
func (s *Session) FinalizeCommitments() ([]*llq.FinalCommitment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseAbandoned {
		return nil, nil
	}
	err := s.transition(PhaseCommit, PhaseFinalize)
	if err != nil {
		return nil, err
	}

	groups := make(map[llq.Identifier][]*llq.PrematureCommitment)
	var order []llq.Identifier
	for _, c := range s.commitments {
		signHash := c.SignHash()
		if _, ok := groups[signHash]; !ok {
			order = append(order, signHash)
		}
		groups[signHash] = append(groups[signHash], c)
	}

	var finals []*llq.FinalCommitment
	for _, signHash := range order {
		group := groups[signHash]
		if len(group) < s.params.MinSize {
			s.log.Debug().
				Int("signers", len(group)).
				Int("min", s.params.MinSize).
				Msg("skipping commitment group below minimum signer count")
			continue
		}
		final, err := s.aggregateGroup(group)
		if err != nil {
			return nil, err
		}
		finals = append(finals, final)
		if !s.params.IndexedCommitments {
			break
		}
	}

	s.metrics.SessionFinished(s.params.Type, len(finals) > 0)
	return finals, nil
}

func (s *Session) aggregateGroup(group []*llq.PrematureCommitment) (*llq.FinalCommitment, error) {
	first := group[0]
	commitmentHash := first.SignHash()

	signers := make([]bool, s.params.Size)
	memberSigs := make([][]byte, 0, len(group))
	sigShares := make(map[int][]byte, len(group))
	for _, c := range group {
		m := s.membersByID[c.MemberID]
		signers[m.index] = true
		memberSigs = append(memberSigs, c.Sig)
		sigShares[m.index] = c.QuorumSigShare
	}

	membersSig, err := s.scheme.AggregateSignatures(memberSigs)
	if err != nil {
		return nil, fmt.Errorf("could not aggregate member signatures: %w", err)
	}
	quorumSig, err := s.scheme.RecoverSignature(s.params.Threshold, s.params.Size, sigShares, commitmentHash[:])
	if err != nil {
		return nil, fmt.Errorf("could not recover quorum signature: %w", err)
	}

	return &llq.FinalCommitment{
		Version:         llq.CommitmentVersion,
		QuorumHash:      first.QuorumHash,
		Signers:         signers,
		ValidMembers:    append([]bool(nil), first.ValidMembers...),
		QuorumPublicKey: first.QuorumPublicKey,
		VVecHash:        first.VVecHash,
		QuorumSig:       quorumSig,
		MembersSig:      membersSig,
	}, nil
}

// Status is a point-in-time snapshot of the session for diagnostics.
type Status struct {
	QuorumHash      llq.Identifier
	Phase           string
	Members         []MemberStatus
	ValidMembers    []bool
	QuorumPublicKey []byte
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		QuorumHash:      s.quorumHash,
		Phase:           s.phase.String(),
		ValidMembers:    append([]bool(nil), s.validMembers...),
		QuorumPublicKey: append([]byte(nil), s.quorumPubKey...),
	}
	for _, m := range s.members {
		status.Members = append(status.Members, m.status())
	}
	return status
}

// Phase returns the session's current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// SecretKeyShare returns our aggregated quorum secret key share, available
// once the commit phase was reached as a valid member.
func (s *Session) SecretKeyShare() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.skShare == nil {
		return nil, false
	}
	return s.skShare, true
}

func (s *Session) transition(from Phase, to Phase) error {
	if s.phase != from {
		return fmt.Errorf("invalid phase transition: %s -> %s", s.phase, to)
	}
	s.setPhase(to)
	return nil
}

func (s *Session) setPhase(phase Phase) {
	s.phase = phase
	s.metrics.SessionPhase(s.params.Type, phase.String())
	s.log.Debug().Str("phase", phase.String()).Msg("session phase changed")
}

func (s *Session) markBad(m *member, fault Fault) {
	if m.bad {
		return
	}
	m.bad = true
	m.badReason = fault
	s.metrics.MemberFaulted(string(fault))
	s.log.Info().
		Int("member", m.index).
		Str("fault", string(fault)).
		Msg("marked member bad")
}

func (s *Session) reportMisbehavior(origin llq.Identifier, reason string) {
	if s.reporter == nil {
		return
	}
	s.reporter.ReportMisbehavior(origin, reason)
}

// corruptShare flips a bit so the result no longer verifies but still
// decodes where a scalar of the same length is expected.
func corruptShare(share []byte) []byte {
	corrupted := append([]byte(nil), share...)
	if len(corrupted) > 0 {
		corrupted[len(corrupted)-1] ^= 0x01
	}
	return corrupted
}
