package signer

import (
	"sync"
	"testing"
	"time"

	badgerdb "github.com/dgraph-io/badger/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnlabs/quorum-go/crypto/thresholdbls"
	"github.com/mnlabs/quorum-go/model/llq"
	"github.com/mnlabs/quorum-go/module"
	"github.com/mnlabs/quorum-go/module/dkg"
	"github.com/mnlabs/quorum-go/storage"
	bstorage "github.com/mnlabs/quorum-go/storage/badger"
	"github.com/mnlabs/quorum-go/utils/unittest"
)

type stubRegistry struct {
	quorums map[llq.Identifier]*llq.Quorum
	active  map[llq.Identifier]bool
}

func (r *stubRegistry) Quorum(_ llq.QuorumType, quorumHash llq.Identifier) (*llq.Quorum, error) {
	return r.QuorumByHash(quorumHash)
}

func (r *stubRegistry) QuorumByHash(quorumHash llq.Identifier) (*llq.Quorum, error) {
	quorum, ok := r.quorums[quorumHash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return quorum, nil
}

func (r *stubRegistry) ActiveQuorums(quorumType llq.QuorumType) ([]*llq.Quorum, error) {
	var active []*llq.Quorum
	for hash, quorum := range r.quorums {
		if quorum.Params.Type == quorumType && r.active[hash] {
			active = append(active, quorum)
		}
	}
	return active, nil
}

func (r *stubRegistry) IsActive(_ llq.QuorumType, quorumHash llq.Identifier) (bool, error) {
	return r.active[quorumHash], nil
}

type stubContribs struct {
	skShare []byte
}

func (c *stubContribs) VerifiedContributions(llq.Identifier, []llq.Identifier, []bool) ([]int, [][][]byte, [][]byte, error) {
	return nil, nil, nil, storage.ErrNotFound
}

func (c *stubContribs) QuorumVerificationVector(llq.Identifier, []llq.Identifier, []bool) ([][]byte, error) {
	return nil, storage.ErrNotFound
}

func (c *stubContribs) SecretKeyShare(llq.Identifier, []llq.Identifier, []bool) ([]byte, error) {
	if c.skShare == nil {
		return nil, storage.ErrNotFound
	}
	return c.skShare, nil
}

type collectingRelay struct {
	mu      sync.Mutex
	relayed []*llq.RecoveredSig
}

func (r *collectingRelay) RelayRecoveredSig(recSig *llq.RecoveredSig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.relayed = append(r.relayed, recSig)
	return nil
}

func (r *collectingRelay) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.relayed)
}

type collectingReporter struct {
	mu      sync.Mutex
	reasons map[llq.Identifier][]string
}

func (r *collectingReporter) ReportMisbehavior(origin llq.Identifier, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reasons == nil {
		r.reasons = make(map[llq.Identifier][]string)
	}
	r.reasons[origin] = append(r.reasons[origin], reason)
}

func (r *collectingReporter) blamed(origin llq.Identifier) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reasons[origin]) > 0
}

type submittedShare struct {
	quorum   *llq.Quorum
	id       llq.Identifier
	msgHash  llq.Identifier
	index    int
	sigShare []byte
}

type collectingShareSink struct {
	mu        sync.Mutex
	submitted []submittedShare
}

func (s *collectingShareSink) SubmitSigShare(quorum *llq.Quorum, id llq.Identifier, msgHash llq.Identifier, index int, sigShare []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, submittedShare{
		quorum:   quorum,
		id:       id,
		msgHash:  msgHash,
		index:    index,
		sigShare: sigShare,
	})
}

func (s *collectingShareSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.submitted)
}

// signerHarness is a manager over real badger-backed storage, with a single
// formed quorum whose key material comes from one dealer contribution, so all
// per-member secret key shares are known to the test.
type signerHarness struct {
	scheme   module.ThresholdScheme
	params   llq.QuorumParams
	nodes    []*llq.Masternode
	vvec     [][]byte
	skShares [][]byte
	quorum   *llq.Quorum
	store    storage.RecoveredSigs
	registry *stubRegistry
	relay    *collectingRelay
	reporter *collectingReporter
	sink     *collectingShareSink
	manager  *Manager
}

// newSignerHarness builds the harness with the local node at the given member
// index; a negative index makes the local node a non-member.
func newSignerHarness(t *testing.T, db *badgerdb.DB, myIndex int) *signerHarness {
	scheme := thresholdbls.NewScheme()
	params := llq.TestnetChainLocksParams()
	nodes, _ := unittest.MasternodeFixtures(t, scheme, params.Size)

	vvec, skShares, err := scheme.GenerateContribution(params.Threshold, params.Size)
	require.NoError(t, err)
	quorumKey, err := scheme.QuorumPublicKey(vvec)
	require.NoError(t, err)

	allTrue := make([]bool, params.Size)
	for i := range allTrue {
		allTrue[i] = true
	}
	quorum := &llq.Quorum{
		Params: params,
		Commitment: &llq.FinalCommitment{
			Version:         llq.CommitmentVersion,
			QuorumHash:      unittest.IdentifierFixture(),
			Signers:         allTrue,
			ValidMembers:    allTrue,
			QuorumPublicKey: quorumKey,
			QuorumSig:       []byte{1},
			MembersSig:      []byte{1},
		},
		Members: nodes,
	}

	myProTxHash := unittest.IdentifierFixture()
	contribs := &stubContribs{}
	if myIndex >= 0 {
		myProTxHash = nodes[myIndex].ProTxHash
		contribs.skShare = skShares[myIndex]
	}

	h := &signerHarness{
		scheme:   scheme,
		params:   params,
		nodes:    nodes,
		vvec:     vvec,
		skShares: skShares,
		quorum:   quorum,
		store:    bstorage.NewRecoveredSigs(unittest.Logger(), db),
		registry: &stubRegistry{
			quorums: map[llq.Identifier]*llq.Quorum{quorum.Hash(): quorum},
			active:  map[llq.Identifier]bool{quorum.Hash(): true},
		},
		relay:    &collectingRelay{},
		reporter: &collectingReporter{},
		sink:     &collectingShareSink{},
	}
	h.manager = NewManager(
		unittest.Logger(),
		DefaultConfig(),
		scheme,
		h.store,
		h.registry,
		contribs,
		h.relay,
		myProTxHash,
		WithMisbehaviorReporter(h.reporter),
		WithShareSink(h.sink),
		WithRandSeed(42),
	)
	return h
}

// recoveredSigFor produces a recovered signature for the harness quorum that
// actually verifies: threshold members sign the request and the signature is
// recovered from their shares.
func (h *signerHarness) recoveredSigFor(t *testing.T, id llq.Identifier, msgHash llq.Identifier) *llq.RecoveredSig {
	signHash := llq.BuildSignHash(h.quorum.Hash(), id, msgHash)
	sigShares := make(map[int][]byte)
	for i := 0; i < h.params.Threshold; i++ {
		sigShare, err := h.scheme.SignShare(h.skShares[i], i, signHash[:])
		require.NoError(t, err)
		sigShares[i] = sigShare
	}
	sig, err := h.scheme.RecoverSignature(h.params.Threshold, h.params.Size, sigShares, signHash[:])
	require.NoError(t, err)
	return &llq.RecoveredSig{
		QuorumHash: h.quorum.Hash(),
		ID:         id,
		MsgHash:    msgHash,
		Sig:        sig,
	}
}

func TestAsyncSignIfMemberSignsOnce(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badgerdb.DB) {
		const myIndex = 2
		h := newSignerHarness(t, db, myIndex)
		id := unittest.IdentifierFixture()
		msgHash := unittest.IdentifierFixture()

		signed, err := h.manager.AsyncSignIfMember(h.params.Type, id, msgHash, llq.ZeroID, false)
		require.NoError(t, err)
		require.True(t, signed)
		require.Equal(t, 1, h.sink.count())

		// The submitted share verifies against the quorum verification vector.
		sub := h.sink.submitted[0]
		assert.Equal(t, myIndex, sub.index)
		assert.Equal(t, h.quorum.Hash(), sub.quorum.Hash())
		signHash := llq.BuildSignHash(h.quorum.Hash(), id, msgHash)
		require.NoError(t, h.scheme.VerifyShare(h.vvec, myIndex, signHash[:], sub.sigShare))

		voted, err := h.store.HasVotedOnID(id)
		require.NoError(t, err)
		assert.True(t, voted)

		// A second request for the same id is a no-op.
		signed, err = h.manager.AsyncSignIfMember(h.params.Type, id, msgHash, llq.ZeroID, false)
		require.NoError(t, err)
		assert.False(t, signed)
		assert.Equal(t, 1, h.sink.count())

		// A conflicting message hash for the voted id is refused.
		signed, err = h.manager.AsyncSignIfMember(h.params.Type, id, unittest.IdentifierFixture(), llq.ZeroID, false)
		require.NoError(t, err)
		assert.False(t, signed)
		assert.Equal(t, 1, h.sink.count())
	})
}

func TestAsyncSignIfMemberNonMember(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badgerdb.DB) {
		h := newSignerHarness(t, db, -1)
		id := unittest.IdentifierFixture()

		signed, err := h.manager.AsyncSignIfMember(h.params.Type, id, unittest.IdentifierFixture(), llq.ZeroID, false)
		require.NoError(t, err)
		assert.False(t, signed)
		assert.Equal(t, 0, h.sink.count())

		// Not being selected leaves no vote behind.
		voted, err := h.store.HasVotedOnID(id)
		require.NoError(t, err)
		assert.False(t, voted)
	})
}

func TestAsyncSignIfMemberSkipsRecovered(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badgerdb.DB) {
		h := newSignerHarness(t, db, 0)
		id := unittest.IdentifierFixture()
		msgHash := unittest.IdentifierFixture()
		require.NoError(t, h.store.Store(h.recoveredSigFor(t, id, msgHash)))

		// The request is already served: success without producing a share or
		// spending the vote.
		signed, err := h.manager.AsyncSignIfMember(h.params.Type, id, msgHash, llq.ZeroID, false)
		require.NoError(t, err)
		assert.True(t, signed)
		assert.Equal(t, 0, h.sink.count())

		voted, err := h.store.HasVotedOnID(id)
		require.NoError(t, err)
		assert.False(t, voted)
	})
}

func TestAsyncSignIfMemberReSign(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badgerdb.DB) {
		h := newSignerHarness(t, db, 1)
		id := unittest.IdentifierFixture()
		msgHash := unittest.IdentifierFixture()

		signed, err := h.manager.AsyncSignIfMember(h.params.Type, id, msgHash, llq.ZeroID, false)
		require.NoError(t, err)
		require.True(t, signed)
		require.Equal(t, 1, h.sink.count())

		// An explicit re-sign produces another share without a second vote.
		signed, err = h.manager.AsyncSignIfMember(h.params.Type, id, msgHash, llq.ZeroID, true)
		require.NoError(t, err)
		assert.True(t, signed)
		assert.Equal(t, 2, h.sink.count())

		voted, err := h.store.VoteForID(id)
		require.NoError(t, err)
		assert.Equal(t, msgHash, voted)

		// Re-signing never overrides the conflicting-message refusal.
		signed, err = h.manager.AsyncSignIfMember(h.params.Type, id, unittest.IdentifierFixture(), llq.ZeroID, true)
		require.NoError(t, err)
		assert.False(t, signed)
		assert.Equal(t, 2, h.sink.count())
	})
}

func TestAsyncSignIfMemberExplicitQuorum(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badgerdb.DB) {
		h := newSignerHarness(t, db, 0)
		// The quorum fell out of the active set, so deterministic selection
		// finds nothing to sign in.
		h.registry.active[h.quorum.Hash()] = false
		id := unittest.IdentifierFixture()
		msgHash := unittest.IdentifierFixture()

		signed, err := h.manager.AsyncSignIfMember(h.params.Type, id, msgHash, llq.ZeroID, false)
		require.NoError(t, err)
		assert.False(t, signed)
		assert.Equal(t, 0, h.sink.count())

		// Naming the quorum explicitly signs in it regardless.
		signed, err = h.manager.AsyncSignIfMember(h.params.Type, id, msgHash, h.quorum.Hash(), false)
		require.NoError(t, err)
		assert.True(t, signed)
		assert.Equal(t, 1, h.sink.count())

		// An unknown explicit quorum is a clean no-op.
		signed, err = h.manager.AsyncSignIfMember(h.params.Type, id, msgHash, unittest.IdentifierFixture(), false)
		require.NoError(t, err)
		assert.False(t, signed)
		assert.Equal(t, 1, h.sink.count())
	})
}

type flatChain struct{}

func (flatChain) TipHeight() (uint64, error) { return 0, nil }

func (flatChain) BlockHeight(llq.Identifier) (uint64, error) { return 0, nil }

func TestAsyncSignIfMemberExcludesInvalidContributions(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badgerdb.DB) {
		scheme := thresholdbls.NewScheme()
		params := llq.TestnetChainLocksParams()
		nodes, _ := unittest.MasternodeFixtures(t, scheme, params.Size)
		quorumHash := unittest.IdentifierFixture()

		store := bstorage.NewContributions(unittest.Logger(), bstorage.NewKVStore(db))
		contribs := dkg.NewSessionManager(unittest.Logger(), dkg.DefaultManagerConfig(), scheme, store, flatChain{}, params)

		// All five members' contributions verified and persisted, the state
		// after a complete contribution phase.
		const myIndex = 0
		vvecs := make([][][]byte, params.Size)
		for i, node := range nodes {
			vvec, dealt, err := scheme.GenerateContribution(params.Threshold, params.Size)
			require.NoError(t, err)
			vvecs[i] = vvec
			require.NoError(t, store.StoreVerificationVector(quorumHash, node.ProTxHash, vvec))
			require.NoError(t, store.StoreSecretShare(quorumHash, node.ProTxHash, dealt[myIndex]))
		}

		// The formation later excluded member 4, so the commitment's key
		// material aggregates members 0-3 only.
		valid := []bool{true, true, true, true, false}
		quorumVVec, err := scheme.AggregateVerificationVectors(vvecs[:4])
		require.NoError(t, err)
		quorumKey, err := scheme.QuorumPublicKey(quorumVVec)
		require.NoError(t, err)

		quorum := &llq.Quorum{
			Params: params,
			Commitment: &llq.FinalCommitment{
				Version:         llq.CommitmentVersion,
				QuorumHash:      quorumHash,
				Signers:         valid,
				ValidMembers:    valid,
				QuorumPublicKey: quorumKey,
				QuorumSig:       []byte{1},
				MembersSig:      []byte{1},
			},
			Members: nodes,
		}

		sink := &collectingShareSink{}
		registry := &stubRegistry{
			quorums: map[llq.Identifier]*llq.Quorum{quorumHash: quorum},
			active:  map[llq.Identifier]bool{quorumHash: true},
		}
		manager := NewManager(
			unittest.Logger(),
			DefaultConfig(),
			scheme,
			bstorage.NewRecoveredSigs(unittest.Logger(), db),
			registry,
			contribs,
			&collectingRelay{},
			nodes[myIndex].ProTxHash,
			WithShareSink(sink),
		)

		id := unittest.IdentifierFixture()
		msgHash := unittest.IdentifierFixture()
		signed, err := manager.AsyncSignIfMember(params.Type, id, msgHash, llq.ZeroID, false)
		require.NoError(t, err)
		require.True(t, signed)
		require.Equal(t, 1, sink.count())

		// The share was derived from the valid members' contributions only:
		// it verifies against the committed quorum verification vector, which
		// an aggregate polluted by member 4's contribution would not.
		signHash := llq.BuildSignHash(quorumHash, id, msgHash)
		require.NoError(t, scheme.VerifyShare(quorumVVec, myIndex, signHash[:], sink.submitted[0].sigShare))
	})
}

func TestStopWithoutStartIsNoop(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badgerdb.DB) {
		h := newSignerHarness(t, db, 0)
		stopped := make(chan struct{})
		go func() {
			h.manager.Stop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(time.Second):
			t.Fatal("stop without start did not return")
		}
		assert.False(t, h.manager.PushRecoveredSig(unittest.IdentifierFixture(), unittest.RecoveredSigFixture()))
	})
}

func TestProcessBatchStoresAndBlames(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badgerdb.DB) {
		h := newSignerHarness(t, db, 0)
		origins := unittest.IdentifierListFixture(4)

		var notified []*llq.RecoveredSig
		var mu sync.Mutex
		h.manager.RegisterListener(module.RecoveredSigListenerFunc(func(recSig *llq.RecoveredSig) {
			mu.Lock()
			defer mu.Unlock()
			notified = append(notified, recSig)
		}))

		// Two valid signatures from honest origins.
		first := h.recoveredSigFor(t, unittest.IdentifierFixture(), unittest.IdentifierFixture())
		second := h.recoveredSigFor(t, unittest.IdentifierFixture(), unittest.IdentifierFixture())
		require.True(t, h.manager.PushRecoveredSig(origins[0], first))
		require.True(t, h.manager.PushRecoveredSig(origins[1], second))

		// A corrupted signature from a misbehaving origin.
		forged := h.recoveredSigFor(t, unittest.IdentifierFixture(), unittest.IdentifierFixture())
		forged.Sig[0] ^= 0x01
		require.True(t, h.manager.PushRecoveredSig(origins[2], forged))

		// A signature claiming an unknown quorum.
		unknown := unittest.RecoveredSigFixture()
		require.True(t, h.manager.PushRecoveredSig(origins[3], unknown))

		h.manager.processOneRound()

		for _, valid := range []*llq.RecoveredSig{first, second} {
			has, err := h.store.Has(valid.ID, valid.MsgHash)
			require.NoError(t, err)
			assert.True(t, has)
		}
		has, err := h.store.HasForID(forged.ID)
		require.NoError(t, err)
		assert.False(t, has)

		assert.Equal(t, 2, h.relay.count())
		mu.Lock()
		assert.Len(t, notified, 2)
		mu.Unlock()

		assert.False(t, h.reporter.blamed(origins[0]))
		assert.False(t, h.reporter.blamed(origins[1]))
		assert.True(t, h.reporter.blamed(origins[2]))
		assert.True(t, h.reporter.blamed(origins[3]))
	})
}

func TestProcessBatchDropsInactiveQuorum(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badgerdb.DB) {
		h := newSignerHarness(t, db, 0)
		h.registry.active[h.quorum.Hash()] = false
		origin := unittest.IdentifierFixture()

		recSig := h.recoveredSigFor(t, unittest.IdentifierFixture(), unittest.IdentifierFixture())
		require.True(t, h.manager.PushRecoveredSig(origin, recSig))
		h.manager.processOneRound()

		// Stale but plausible: dropped without blame.
		has, err := h.store.HasForID(recSig.ID)
		require.NoError(t, err)
		assert.False(t, has)
		assert.False(t, h.reporter.blamed(origin))
	})
}

func TestConflictingRecoveredSigKeepsFirst(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badgerdb.DB) {
		h := newSignerHarness(t, db, 0)
		origin := unittest.IdentifierFixture()
		id := unittest.IdentifierFixture()

		first := h.recoveredSigFor(t, id, unittest.IdentifierFixture())
		require.True(t, h.manager.PushRecoveredSig(origin, first))
		h.manager.processOneRound()

		// A validly signed second signature for the same id with a different
		// message: dropped, the stored one wins.
		conflicting := h.recoveredSigFor(t, id, unittest.IdentifierFixture())
		require.True(t, h.manager.PushRecoveredSig(origin, conflicting))
		h.manager.processOneRound()

		stored, err := h.store.ByID(id)
		require.NoError(t, err)
		assert.Equal(t, first.MsgHash, stored.MsgHash)
		assert.Equal(t, 1, h.relay.count())

		conflict, err := h.manager.IsConflicting(id, conflicting.MsgHash)
		require.NoError(t, err)
		assert.True(t, conflict)
		conflict, err = h.manager.IsConflicting(id, first.MsgHash)
		require.NoError(t, err)
		assert.False(t, conflict)
	})
}

func TestReconstructedSkipsVerification(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badgerdb.DB) {
		h := newSignerHarness(t, db, 0)

		// Locally recovered signatures are trusted as-is; even one that would
		// not verify is persisted and relayed.
		recSig := unittest.RecoveredSigFixture()
		recSig.QuorumHash = h.quorum.Hash()
		h.manager.PushReconstructedRecoveredSig(recSig)
		h.manager.processOneRound()

		has, err := h.store.Has(recSig.ID, recSig.MsgHash)
		require.NoError(t, err)
		assert.True(t, has)
		assert.Equal(t, 1, h.relay.count())
	})
}

func TestGetRecoveredSigForGetDataWithholdsInactive(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badgerdb.DB) {
		h := newSignerHarness(t, db, 0)
		recSig := h.recoveredSigFor(t, unittest.IdentifierFixture(), unittest.IdentifierFixture())
		require.NoError(t, h.store.Store(recSig))

		served, err := h.manager.GetRecoveredSigForGetData(recSig.Hash())
		require.NoError(t, err)
		assert.Equal(t, recSig, served)

		h.registry.active[h.quorum.Hash()] = false
		_, err = h.manager.GetRecoveredSigForGetData(recSig.Hash())
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestPushRecoveredSigPerOriginCap(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badgerdb.DB) {
		h := newSignerHarness(t, db, 0)
		h.manager.cfg.MaxPendingPerOrigin = 2
		origin := unittest.IdentifierFixture()

		assert.True(t, h.manager.PushRecoveredSig(origin, unittest.RecoveredSigFixture()))
		assert.True(t, h.manager.PushRecoveredSig(origin, unittest.RecoveredSigFixture()))
		assert.False(t, h.manager.PushRecoveredSig(origin, unittest.RecoveredSigFixture()))

		// Other origins are unaffected.
		assert.True(t, h.manager.PushRecoveredSig(unittest.IdentifierFixture(), unittest.RecoveredSigFixture()))
	})
}

func TestStoppedManagerAcceptsNothing(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badgerdb.DB) {
		h := newSignerHarness(t, db, 0)
		h.manager.Start()
		h.manager.Stop()

		accepted := h.manager.PushRecoveredSig(unittest.IdentifierFixture(), unittest.RecoveredSigFixture())
		assert.False(t, accepted)

		// Stop is idempotent.
		h.manager.Stop()
	})
}

func TestTruncateRecoveredSigStillCountsAsSeen(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badgerdb.DB) {
		h := newSignerHarness(t, db, 0)
		recSig := h.recoveredSigFor(t, unittest.IdentifierFixture(), unittest.IdentifierFixture())
		require.NoError(t, h.store.Store(recSig))

		require.NoError(t, h.manager.TruncateRecoveredSig(recSig.ID))

		has, err := h.store.HasForHash(recSig.Hash())
		require.NoError(t, err)
		assert.True(t, has)
		_, err = h.store.ByID(recSig.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}
