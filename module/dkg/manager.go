package dkg

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/mnlabs/quorum-go/model/llq"
	"github.com/mnlabs/quorum-go/module"
	"github.com/mnlabs/quorum-go/storage"
)

// ManagerConfig tunes the session manager's background housekeeping.
type ManagerConfig struct {

	// ContributionCacheTTL is how long resolved contribution lookups stay
	// cached before they are re-read from the store.
	ContributionCacheTTL time.Duration

	// FlushInterval is how often pending contribution writes are forced down
	// to the backing store.
	FlushInterval time.Duration

	// CleanupInterval is how often stale per-quorum data is swept.
	CleanupInterval time.Duration
}

func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ContributionCacheTTL: 60 * time.Second,
		FlushInterval:        10 * time.Second,
		CleanupInterval:      5 * time.Minute,
	}
}

type cachedContributions struct {
	quorumHash llq.Identifier
	expires    time.Time
	indexes    []int
	vvecs      [][][]byte
	shares     [][]byte
}

type contributionQuery struct {
	QuorumHash   llq.Identifier
	Members      []llq.Identifier
	ValidMembers []bool
}

// contributionCacheKey derives the cache key for one resolved lookup. The
// member set is part of the key: lookups over different valid-member sets of
// the same quorum must never serve each other's results.
func contributionCacheKey(quorumHash llq.Identifier, members []llq.Identifier, validMembers []bool) llq.Identifier {
	return llq.MakeID(contributionQuery{
		QuorumHash:   quorumHash,
		Members:      members,
		ValidMembers: validMembers,
	})
}

// SessionManager owns the quorum formation sessions of a node, one per
// forming quorum, and serves their verified contribution data to the signing
// layer. It periodically flushes the contribution store and sweeps data of
// quorums that fell out of the retention window.
type SessionManager struct {
	log    zerolog.Logger
	cfg    ManagerConfig
	scheme module.ThresholdScheme
	store  storage.Contributions
	chain  module.ChainOracle
	params map[llq.QuorumType]llq.QuorumParams

	mu       sync.Mutex
	sessions map[llq.Identifier]*Session
	cache    map[llq.Identifier]*cachedContributions

	startOnce sync.Once
	stopOnce  sync.Once
	started   *atomic.Bool
	quit      chan struct{}
	done      chan struct{}
}

var _ module.ContributionSource = (*SessionManager)(nil)

func NewSessionManager(
	log zerolog.Logger,
	cfg ManagerConfig,
	scheme module.ThresholdScheme,
	store storage.Contributions,
	chain module.ChainOracle,
	params ...llq.QuorumParams,
) *SessionManager {

	byType := make(map[llq.QuorumType]llq.QuorumParams, len(params))
	for _, p := range params {
		byType[p.Type] = p
	}
	return &SessionManager{
		log:      log.With().Str("component", "dkg_manager").Logger(),
		cfg:      cfg,
		scheme:   scheme,
		store:    store,
		chain:    chain,
		params:   byType,
		sessions: make(map[llq.Identifier]*Session),
		cache:    make(map[llq.Identifier]*cachedContributions),
		started:  atomic.NewBool(false),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background housekeeping loop. Idempotent.
func (sm *SessionManager) Start() {
	sm.startOnce.Do(func() {
		sm.started.Store(true)
		go sm.loop()
	})
}

// Stop terminates the housekeeping loop, waits for it to exit and flushes
// remaining contribution writes. Idempotent, and a no-op wait when the
// manager was never started.
func (sm *SessionManager) Stop() {
	sm.stopOnce.Do(func() {
		close(sm.quit)
		if sm.started.Load() {
			<-sm.done
		}
		err := sm.store.Flush()
		if err != nil {
			sm.log.Error().Err(err).Msg("could not flush contribution store on shutdown")
		}
	})
}

func (sm *SessionManager) loop() {
	defer close(sm.done)

	flush := time.NewTicker(sm.cfg.FlushInterval)
	defer flush.Stop()
	sweep := time.NewTicker(sm.cfg.ContributionCacheTTL)
	defer sweep.Stop()
	cleanup := time.NewTicker(sm.cfg.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-sm.quit:
			return
		case <-flush.C:
			err := sm.store.Flush()
			if err != nil {
				sm.log.Error().Err(err).Msg("could not flush contribution store")
			}
		case <-sweep.C:
			sm.sweepCache()
		case <-cleanup.C:
			_, err := sm.CleanupOldContributions()
			if err != nil {
				sm.log.Error().Err(err).Msg("could not clean up old contributions")
			}
		}
	}
}

// NewSession creates and registers a session for the quorum of the given
// type based at quorumHash. The manager's contribution store receives the
// session's verified data.
func (sm *SessionManager) NewSession(
	quorumType llq.QuorumType,
	quorumHash llq.Identifier,
	members []*llq.Masternode,
	myProTxHash llq.Identifier,
	operatorSecret []byte,
	network module.DKGBroadcaster,
	options ...SessionOption,
) (*Session, error) {

	params, ok := sm.params[quorumType]
	if !ok {
		return nil, fmt.Errorf("unknown quorum type: %d", quorumType)
	}

	session, err := NewSession(sm.log, params, quorumHash, members, myProTxHash, operatorSecret, sm.scheme, sm.store, network, options...)
	if err != nil {
		return nil, err
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if _, exists := sm.sessions[quorumHash]; exists {
		return nil, fmt.Errorf("session for quorum %x already exists", quorumHash[:8])
	}
	sm.sessions[quorumHash] = session
	return session, nil
}

// Session returns the registered session for the quorum, if any.
func (sm *SessionManager) Session(quorumHash llq.Identifier) (*Session, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	session, ok := sm.sessions[quorumHash]
	return session, ok
}

// VerifiedContributions returns the verified contribution data of the
// members selected by the valid-member bitset, resolved against the full
// member list in quorum order. A selected member without a stored
// verification vector fails the whole lookup, since key material derived
// from a partial member set would not match the quorum's commitment. A
// selected member's secret share entry is nil when only the vector is known
// locally. Results are cached for the configured TTL, keyed by the member
// set as well as the quorum.
func (sm *SessionManager) VerifiedContributions(quorumHash llq.Identifier, members []llq.Identifier, validMembers []bool) ([]int, [][][]byte, [][]byte, error) {
	cacheKey := contributionCacheKey(quorumHash, members, validMembers)
	sm.mu.Lock()
	cached, ok := sm.cache[cacheKey]
	sm.mu.Unlock()
	if ok && time.Now().Before(cached.expires) {
		return cached.indexes, cached.vvecs, cached.shares, nil
	}

	var (
		indexes []int
		vvecs   [][][]byte
		shares  [][]byte
	)
	for i, proTxHash := range members {
		if validMembers != nil && (i >= len(validMembers) || !validMembers[i]) {
			continue
		}
		vvec, err := sm.store.VerificationVector(quorumHash, proTxHash)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, nil, fmt.Errorf("no verified contribution for member %x in quorum %x: %w",
				proTxHash[:8], quorumHash[:8], storage.ErrNotFound)
		}
		if err != nil {
			return nil, nil, nil, fmt.Errorf("could not load verification vector: %w", err)
		}
		share, err := sm.store.SecretShare(quorumHash, proTxHash)
		if errors.Is(err, storage.ErrNotFound) {
			share = nil
		} else if err != nil {
			return nil, nil, nil, fmt.Errorf("could not load secret share: %w", err)
		}
		indexes = append(indexes, i)
		vvecs = append(vvecs, vvec)
		shares = append(shares, share)
	}

	sm.mu.Lock()
	sm.cache[cacheKey] = &cachedContributions{
		quorumHash: quorumHash,
		expires:    time.Now().Add(sm.cfg.ContributionCacheTTL),
		indexes:    indexes,
		vvecs:      vvecs,
		shares:     shares,
	}
	sm.mu.Unlock()

	return indexes, vvecs, shares, nil
}

// QuorumVerificationVector aggregates the selected members' stored
// contribution vectors into the quorum verification vector.
func (sm *SessionManager) QuorumVerificationVector(quorumHash llq.Identifier, members []llq.Identifier, validMembers []bool) ([][]byte, error) {
	_, vvecs, _, err := sm.VerifiedContributions(quorumHash, members, validMembers)
	if err != nil {
		return nil, err
	}
	if len(vvecs) == 0 {
		return nil, storage.ErrNotFound
	}
	return sm.scheme.AggregateVerificationVectors(vvecs)
}

// SecretKeyShare aggregates the local node's stored secret shares from the
// selected members' contributions into its quorum secret key share. All
// selected members' shares must be present: a share missing any selected
// contribution would produce signature shares the quorum key rejects.
func (sm *SessionManager) SecretKeyShare(quorumHash llq.Identifier, members []llq.Identifier, validMembers []bool) ([]byte, error) {
	indexes, _, shares, err := sm.VerifiedContributions(quorumHash, members, validMembers)
	if err != nil {
		return nil, err
	}
	if len(shares) == 0 {
		return nil, storage.ErrNotFound
	}
	for i, share := range shares {
		if share == nil {
			member := members[indexes[i]]
			return nil, fmt.Errorf("no secret share from member %x in quorum %x: %w",
				member[:8], quorumHash[:8], storage.ErrNotFound)
		}
	}
	return sm.scheme.AggregateSecretShares(shares)
}

// CleanupOldContributions erases contribution data of quorums whose base
// block is unknown or deeper than the retention depth, and drops their
// sessions and cache entries. It returns the number of erased store entries.
func (sm *SessionManager) CleanupOldContributions() (int, error) {
	tip, err := sm.chain.TipHeight()
	if err != nil {
		return 0, fmt.Errorf("could not get tip height: %w", err)
	}

	maxDepth := 0
	for _, params := range sm.params {
		if params.MaxStoreDepth > maxDepth {
			maxDepth = params.MaxStoreDepth
		}
	}

	isStale := func(quorumHash llq.Identifier) bool {
		height, err := sm.chain.BlockHeight(quorumHash)
		if err != nil {
			return true
		}
		return tip > height && tip-height > uint64(maxDepth)
	}

	erased, err := sm.store.CleanupOld(isStale)
	if err != nil {
		return erased, err
	}

	sm.mu.Lock()
	for quorumHash := range sm.sessions {
		if isStale(quorumHash) {
			delete(sm.sessions, quorumHash)
		}
	}
	for key, cached := range sm.cache {
		if isStale(cached.quorumHash) {
			delete(sm.cache, key)
		}
	}
	sm.mu.Unlock()

	return erased, nil
}

func (sm *SessionManager) sweepCache() {
	now := time.Now()
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for quorumHash, cached := range sm.cache {
		if now.After(cached.expires) {
			delete(sm.cache, quorumHash)
		}
	}
}
