package signer

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ef-ds/deque"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/mnlabs/quorum-go/model/llq"
	"github.com/mnlabs/quorum-go/module"
	"github.com/mnlabs/quorum-go/module/metrics"
	"github.com/mnlabs/quorum-go/storage"
)

// Config tunes the signing manager.
type Config struct {

	// MaxBatchSize caps how many pending recovered signatures one work round
	// verifies together.
	MaxBatchSize int

	// MaxPendingPerOrigin caps the per-peer pending queue.
	MaxPendingPerOrigin int

	// WorkInterval is the pause between work rounds.
	WorkInterval time.Duration

	// CleanupInterval is how often aged records are swept.
	CleanupInterval time.Duration

	// MaxRecSigAge is the retention age of recovered signatures and votes.
	MaxRecSigAge time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxBatchSize:        32,
		MaxPendingPerOrigin: 64,
		WorkInterval:        100 * time.Millisecond,
		CleanupInterval:     5 * time.Second,
		MaxRecSigAge:        7 * 24 * time.Hour,
	}
}

// ShareSink receives the signature shares this node produces. The node's
// share collector gossips them and recovers the full signature once enough
// members contributed.
type ShareSink interface {
	SubmitSigShare(quorum *llq.Quorum, id llq.Identifier, msgHash llq.Identifier, index int, sigShare []byte)
}

// Manager runs the recovered-signature pipeline: it queues signatures
// relayed by peers per origin, verifies them in signature-aggregated batches
// on a fair schedule, persists and re-relays the valid ones, and notifies
// listeners. It also decides when this node contributes its own signature
// share for a signing request.
type Manager struct {
	log      zerolog.Logger
	cfg      Config
	scheme   module.ThresholdScheme
	store    storage.RecoveredSigs
	registry module.QuorumRegistry
	contribs module.ContributionSource
	network  module.SigBroadcaster
	reporter module.MisbehaviorReporter
	metrics  module.SigningMetrics
	shares   ShareSink

	myProTxHash llq.Identifier

	mu            sync.Mutex
	pending       map[llq.Identifier]*deque.Deque // origin -> *llq.RecoveredSig
	pendingCount  int
	reconstructed *deque.Deque // locally recovered, no verification needed
	listeners     []module.RecoveredSigListener
	rng           *rand.Rand

	startOnce sync.Once
	stopOnce  sync.Once
	started   *atomic.Bool
	stopped   *atomic.Bool
	quit      chan struct{}
	done      chan struct{}
}

type Option func(*Manager)

func WithMisbehaviorReporter(reporter module.MisbehaviorReporter) Option {
	return func(m *Manager) {
		m.reporter = reporter
	}
}

func WithSigningMetrics(collector module.SigningMetrics) Option {
	return func(m *Manager) {
		m.metrics = collector
	}
}

func WithShareSink(sink ShareSink) Option {
	return func(m *Manager) {
		m.shares = sink
	}
}

// WithRandSeed makes the origin sampling order deterministic, for tests.
func WithRandSeed(seed int64) Option {
	return func(m *Manager) {
		m.rng = rand.New(rand.NewSource(seed))
	}
}

func NewManager(
	log zerolog.Logger,
	cfg Config,
	scheme module.ThresholdScheme,
	store storage.RecoveredSigs,
	registry module.QuorumRegistry,
	contribs module.ContributionSource,
	network module.SigBroadcaster,
	myProTxHash llq.Identifier,
	options ...Option,
) *Manager {

	m := &Manager{
		log:           log.With().Str("component", "signing_manager").Logger(),
		cfg:           cfg,
		scheme:        scheme,
		store:         store,
		registry:      registry,
		contribs:      contribs,
		network:       network,
		metrics:       metrics.NewNoopCollector(),
		myProTxHash:   myProTxHash,
		pending:       make(map[llq.Identifier]*deque.Deque),
		reconstructed: deque.New(),
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		started:       atomic.NewBool(false),
		stopped:       atomic.NewBool(false),
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, option := range options {
		option(m)
	}
	return m
}

// Start launches the worker loop. Idempotent.
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		m.started.Store(true)
		go m.loop()
	})
}

// Stop terminates the worker loop and waits for it to exit. Idempotent, and
// a no-op wait when the manager was never started.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.stopped.Store(true)
		close(m.quit)
		if m.started.Load() {
			<-m.done
		}
	})
}

func (m *Manager) loop() {
	defer close(m.done)

	work := time.NewTicker(m.cfg.WorkInterval)
	defer work.Stop()
	cleanup := time.NewTicker(m.cfg.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-m.quit:
			return
		case <-work.C:
			for m.processOneRound() {
			}
		case <-cleanup.C:
			err := m.Cleanup()
			if err != nil {
				m.log.Error().Err(err).Msg("could not clean up recovered signatures")
			}
		}
	}
}

// processOneRound handles one batch of pending work and reports whether a
// full batch was drained, in which case another round follows immediately.
func (m *Manager) processOneRound() bool {
	m.processReconstructed()
	batch := m.collectPending(m.cfg.MaxBatchSize)
	if len(batch) == 0 {
		return false
	}
	m.processBatch(batch)
	return len(batch) == m.cfg.MaxBatchSize
}

// RegisterListener subscribes to newly recovered signatures.
func (m *Manager) RegisterListener(listener module.RecoveredSigListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, listener)
}

// PushRecoveredSig queues a peer-relayed recovered signature for batched
// verification. It reports whether the message was accepted into the queue;
// a stopped manager accepts nothing.
func (m *Manager) PushRecoveredSig(origin llq.Identifier, recSig *llq.RecoveredSig) bool {
	if m.stopped.Load() {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	queue, ok := m.pending[origin]
	if !ok {
		queue = deque.New()
		m.pending[origin] = queue
	}
	if queue.Len() >= m.cfg.MaxPendingPerOrigin {
		return false
	}
	queue.PushBack(recSig)
	m.pendingCount++
	m.metrics.PendingSigShares(m.pendingCount)
	return true
}

// PushReconstructedRecoveredSig queues a signature this node recovered
// itself. It skips signature verification during processing.
func (m *Manager) PushReconstructedRecoveredSig(recSig *llq.RecoveredSig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconstructed.PushBack(recSig)
}

type pendingRecSig struct {
	origin llq.Identifier
	recSig *llq.RecoveredSig
}

// collectPending drains up to max pending signatures, visiting origins in
// random order and taking one message per origin per turn, so no peer can
// monopolize a batch.
func (m *Manager) collectPending(max int) []pendingRecSig {
	m.mu.Lock()
	defer m.mu.Unlock()

	origins := make([]llq.Identifier, 0, len(m.pending))
	for origin := range m.pending {
		origins = append(origins, origin)
	}
	m.rng.Shuffle(len(origins), func(i, j int) {
		origins[i], origins[j] = origins[j], origins[i]
	})

	var batch []pendingRecSig
	for len(batch) < max {
		drained := true
		for _, origin := range origins {
			queue := m.pending[origin]
			v, ok := queue.PopFront()
			if !ok {
				continue
			}
			drained = false
			m.pendingCount--
			batch = append(batch, pendingRecSig{origin: origin, recSig: v.(*llq.RecoveredSig)})
			if len(batch) == max {
				break
			}
		}
		if drained {
			break
		}
	}

	for origin, queue := range m.pending {
		if queue.Len() == 0 {
			delete(m.pending, origin)
		}
	}
	m.metrics.PendingSigShares(m.pendingCount)
	return batch
}

// processBatch verifies one batch of peer-relayed recovered signatures with
// a single aggregate check per distinct sign hash, blames origins of invalid
// ones and hands the valid ones on for persistence and relay.
func (m *Manager) processBatch(batch []pendingRecSig) {
	started := time.Now()

	type candidate struct {
		origin llq.Identifier
		recSig *llq.RecoveredSig
		quorum *llq.Quorum
	}
	var candidates []candidate

	verifier := m.scheme.NewBatchVerifier()
	for _, pending := range batch {
		recSig := pending.recSig

		has, err := m.store.Has(recSig.ID, recSig.MsgHash)
		if err != nil {
			m.log.Error().Err(err).Msg("could not check recovered signature")
			continue
		}
		if has {
			continue
		}

		quorum, err := m.registry.QuorumByHash(recSig.QuorumHash)
		if errors.Is(err, storage.ErrNotFound) {
			m.reportMisbehavior(pending.origin, "recovered signature for unknown quorum")
			continue
		}
		if err != nil {
			m.log.Error().Err(err).Msg("could not resolve quorum")
			continue
		}
		active, err := m.registry.IsActive(quorum.Params.Type, recSig.QuorumHash)
		if err != nil || !active {
			// Stale but plausible; not worth blame.
			continue
		}

		signHash := recSig.SignHash()
		verifier.PushMessage(pending.origin, recSig.Hash(), signHash, recSig.Sig, quorum.PublicKey())
		candidates = append(candidates, candidate{origin: pending.origin, recSig: recSig, quorum: quorum})
	}

	badSources, _ := verifier.Verify()
	m.metrics.BatchVerified(len(candidates), time.Since(started))

	for origin := range badSources {
		m.reportMisbehavior(origin, "invalid recovered signature")
	}
	for _, c := range candidates {
		if _, bad := badSources[c.origin]; bad {
			continue
		}
		err := m.processRecoveredSig(c.recSig, c.quorum)
		if err != nil {
			m.log.Error().Err(err).Msg("could not process recovered signature")
		}
	}
}

func (m *Manager) processReconstructed() {
	for {
		m.mu.Lock()
		v, ok := m.reconstructed.PopFront()
		m.mu.Unlock()
		if !ok {
			return
		}
		recSig := v.(*llq.RecoveredSig)
		quorum, err := m.registry.QuorumByHash(recSig.QuorumHash)
		if err != nil {
			m.log.Error().Err(err).Msg("could not resolve quorum for reconstructed signature")
			continue
		}
		err = m.processRecoveredSig(recSig, quorum)
		if err != nil {
			m.log.Error().Err(err).Msg("could not process reconstructed signature")
		}
	}
}

// processRecoveredSig persists a verified recovered signature, relays it and
// notifies listeners. A second signature for the same id with a different
// message is a conflict: it is logged and dropped, the stored one wins.
func (m *Manager) processRecoveredSig(recSig *llq.RecoveredSig, quorum *llq.Quorum) error {
	err := m.store.Store(recSig)
	if errors.Is(err, storage.ErrDataMismatch) {
		existing, lookupErr := m.store.ByID(recSig.ID)
		logger := m.log.Warn().
			Hex("id", recSig.ID[:]).
			Hex("msg_hash", recSig.MsgHash[:])
		if lookupErr == nil {
			logger = logger.Hex("existing_msg_hash", existing.MsgHash[:])
		}
		logger.Msg("conflicting recovered signature, keeping first")
		m.metrics.ConflictingRecoveredSig()
		return nil
	}
	if err != nil {
		return fmt.Errorf("could not store recovered signature: %w", err)
	}
	m.metrics.RecoveredSigStored(quorum.Params.Type)

	err = m.network.RelayRecoveredSig(recSig)
	if err != nil {
		m.log.Warn().Err(err).Msg("could not relay recovered signature")
	}

	m.mu.Lock()
	listeners := append([]module.RecoveredSigListener(nil), m.listeners...)
	m.mu.Unlock()
	for _, listener := range listeners {
		listener.HandleNewRecoveredSig(recSig)
	}
	return nil
}

// AsyncSignIfMember contributes this node's signature share for the signing
// request (id, msgHash) if a quorum selects it as a valid member. A zero
// quorumHash resolves the signing quorum deterministically from the active
// set; a non-zero one signs in that exact quorum, active or not. The node
// votes at most once per id: a further request for the same id and message
// is a no-op unless allowReSign asks for another share, and a request with a
// different message hash is always refused and logged as a conflict.
func (m *Manager) AsyncSignIfMember(quorumType llq.QuorumType, id llq.Identifier, msgHash llq.Identifier, quorumHash llq.Identifier, allowReSign bool) (bool, error) {
	var quorum *llq.Quorum
	if quorumHash.IsZero() {
		active, err := m.registry.ActiveQuorums(quorumType)
		if err != nil {
			return false, fmt.Errorf("could not list active quorums: %w", err)
		}
		quorum = SelectQuorumForSigning(active, id)
	} else {
		var err error
		quorum, err = m.registry.Quorum(quorumType, quorumHash)
		if errors.Is(err, storage.ErrNotFound) {
			quorum = nil
		} else if err != nil {
			return false, fmt.Errorf("could not resolve quorum: %w", err)
		}
	}
	if quorum == nil {
		m.log.Debug().Hex("id", id[:]).Msg("no quorum to sign in")
		return false, nil
	}
	index, isMember := quorum.MemberIndex(m.myProTxHash)
	if !isMember || !quorum.IsValidMember(m.myProTxHash) {
		return false, nil
	}

	hasVoted, err := m.store.HasVotedOnID(id)
	if err != nil {
		return false, fmt.Errorf("could not check vote: %w", err)
	}
	if hasVoted {
		previous, err := m.store.VoteForID(id)
		if err != nil {
			return false, fmt.Errorf("could not load vote: %w", err)
		}
		if previous != msgHash {
			m.log.Warn().
				Hex("id", id[:]).
				Hex("msg_hash", msgHash[:]).
				Hex("voted_msg_hash", previous[:]).
				Msg("refusing to sign conflicting message for already voted id")
			return false, nil
		}
		if !allowReSign {
			m.log.Debug().Hex("id", id[:]).Msg("already voted for this id")
			return false, nil
		}
		m.log.Debug().Hex("id", id[:]).Msg("signing again for already voted id")
	}

	hasSig, err := m.store.HasForID(id)
	if err != nil {
		return false, fmt.Errorf("could not check recovered signature: %w", err)
	}
	if hasSig {
		// The request is already served, no share needed.
		return true, nil
	}

	if !hasVoted {
		err = m.store.StoreVote(id, msgHash)
		if err != nil {
			return false, fmt.Errorf("could not store vote: %w", err)
		}
	}

	skShare, err := m.contribs.SecretKeyShare(quorum.Hash(), memberIDs(quorum), quorum.Commitment.ValidMembers)
	if err != nil {
		return false, fmt.Errorf("could not load secret key share: %w", err)
	}
	signHash := llq.BuildSignHash(quorum.Hash(), id, msgHash)
	sigShare, err := m.scheme.SignShare(skShare, index, signHash[:])
	if err != nil {
		return false, fmt.Errorf("could not sign share: %w", err)
	}

	if m.shares != nil {
		m.shares.SubmitSigShare(quorum, id, msgHash, index, sigShare)
	}
	quorumHash = quorum.Hash()
	m.log.Debug().Hex("id", id[:]).Hex("quorum", quorumHash[:]).Msg("contributed signature share")
	return true, nil
}

// IsConflicting reports whether a recovered signature for the id exists with
// a different message hash.
func (m *Manager) IsConflicting(id llq.Identifier, msgHash llq.Identifier) (bool, error) {
	hasForID, err := m.store.HasForID(id)
	if err != nil {
		return false, err
	}
	if !hasForID {
		return false, nil
	}
	has, err := m.store.Has(id, msgHash)
	if err != nil {
		return false, err
	}
	return !has, nil
}

// HasRecoveredSigForSession reports whether a signature for the exact
// session (quorum, id, msgHash) exists.
func (m *Manager) HasRecoveredSigForSession(signHash llq.Identifier) (bool, error) {
	return m.store.HasForSession(signHash)
}

// GetRecoveredSigForGetData serves a fetch-by-hash request. Signatures of
// quorums that are no longer active are withheld.
func (m *Manager) GetRecoveredSigForGetData(hash llq.Identifier) (*llq.RecoveredSig, error) {
	recSig, err := m.store.ByHash(hash)
	if err != nil {
		return nil, err
	}
	quorum, err := m.registry.QuorumByHash(recSig.QuorumHash)
	if err != nil {
		return nil, err
	}
	active, err := m.registry.IsActive(quorum.Params.Type, recSig.QuorumHash)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, storage.ErrNotFound
	}
	return recSig, nil
}

// TruncateRecoveredSig frees a consumed signature's record while keeping its
// content-hash index, so it still counts as seen.
func (m *Manager) TruncateRecoveredSig(id llq.Identifier) error {
	return m.store.Truncate(id)
}

// Cleanup sweeps aged recovered signatures and votes.
func (m *Manager) Cleanup() error {
	removed, err := m.store.CleanupOldRecoveredSigs(m.cfg.MaxRecSigAge)
	if err != nil {
		return err
	}
	if removed > 0 {
		m.metrics.RecoveredSigsCleaned(removed)
	}
	_, err = m.store.CleanupOldVotes(m.cfg.MaxRecSigAge)
	return err
}

func (m *Manager) reportMisbehavior(origin llq.Identifier, reason string) {
	if m.reporter == nil {
		return
	}
	m.reporter.ReportMisbehavior(origin, reason)
}

func memberIDs(quorum *llq.Quorum) []llq.Identifier {
	ids := make([]llq.Identifier, 0, len(quorum.Members))
	for _, member := range quorum.Members {
		ids = append(ids, member.ProTxHash)
	}
	return ids
}
