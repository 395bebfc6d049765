package badger

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/mnlabs/quorum-go/model/llq"
	"github.com/mnlabs/quorum-go/storage"
	"github.com/mnlabs/quorum-go/storage/badger/operation"
	"github.com/mnlabs/quorum-go/storage/writeback"
)

// defaultContributionCacheLimit bounds the pending entries of each
// write-back cache backing the contribution store.
const defaultContributionCacheLimit = 10000

type contribKey struct {
	quorum llq.Identifier
	member llq.Identifier
}

// Contributions persists verified DKG contribution data through two
// write-back caches, one for verification vectors and one for decrypted
// secret shares. Writes stay in memory until a flush; reads see pending
// writes first.
type Contributions struct {
	log    zerolog.Logger
	store  storage.KVStore
	vvecs  *writeback.Cache[contribKey, [][]byte]
	shares *writeback.Cache[contribKey, []byte]
}

var _ storage.Contributions = (*Contributions)(nil)

type ContributionsOption func(*contributionsConfig)

type contributionsConfig struct {
	cacheLimit int
}

// WithCacheLimit caps the pending entries of each backing cache.
func WithCacheLimit(limit int) ContributionsOption {
	return func(c *contributionsConfig) {
		c.cacheLimit = limit
	}
}

func NewContributions(log zerolog.Logger, store storage.KVStore, options ...ContributionsOption) *Contributions {
	cfg := contributionsConfig{
		cacheLimit: defaultContributionCacheLimit,
	}
	for _, option := range options {
		option(&cfg)
	}
	log = log.With().Str("component", "contributions").Logger()
	vvecs := writeback.NewCache(log, store, writeback.Codec[contribKey, [][]byte]{
		EncodeKey: func(key contribKey) []byte {
			return operation.VerificationVectorKey(key.quorum, key.member)
		},
		EncodeValue: func(vvec [][]byte) ([]byte, error) {
			return operation.EncodeEntity(vvec)
		},
		DecodeValue: func(data []byte) ([][]byte, error) {
			var vvec [][]byte
			err := operation.DecodeEntity(data, &vvec)
			return vvec, err
		},
	}, writeback.WithLimit(cfg.cacheLimit))
	shares := writeback.NewCache(log, store, writeback.Codec[contribKey, []byte]{
		EncodeKey: func(key contribKey) []byte {
			return operation.SecretShareKey(key.quorum, key.member)
		},
		EncodeValue: func(share []byte) ([]byte, error) {
			return operation.EncodeEntity(share)
		},
		DecodeValue: func(data []byte) ([]byte, error) {
			var share []byte
			err := operation.DecodeEntity(data, &share)
			return share, err
		},
	}, writeback.WithLimit(cfg.cacheLimit))
	return &Contributions{
		log:    log,
		store:  store,
		vvecs:  vvecs,
		shares: shares,
	}
}

func (c *Contributions) StoreVerificationVector(quorumHash llq.Identifier, member llq.Identifier, vvec [][]byte) error {
	c.vvecs.Write(contribKey{quorum: quorumHash, member: member}, vvec)
	return nil
}

func (c *Contributions) StoreSecretShare(quorumHash llq.Identifier, member llq.Identifier, share []byte) error {
	c.shares.Write(contribKey{quorum: quorumHash, member: member}, share)
	return nil
}

func (c *Contributions) VerificationVector(quorumHash llq.Identifier, member llq.Identifier) ([][]byte, error) {
	return c.vvecs.Read(contribKey{quorum: quorumHash, member: member})
}

func (c *Contributions) SecretShare(quorumHash llq.Identifier, member llq.Identifier) ([]byte, error) {
	return c.shares.Read(contribKey{quorum: quorumHash, member: member})
}

func (c *Contributions) CleanupOld(isStale func(quorumHash llq.Identifier) bool) (int, error) {
	// Pending writes must reach the store before the key scan, otherwise the
	// sweep would miss them.
	err := c.Flush()
	if err != nil {
		return 0, fmt.Errorf("could not flush before cleanup: %w", err)
	}

	erased := 0
	staleQuorums := make(map[llq.Identifier]bool)
	stale := func(quorumHash llq.Identifier) bool {
		isIt, checked := staleQuorums[quorumHash]
		if !checked {
			isIt = isStale(quorumHash)
			staleQuorums[quorumHash] = isIt
		}
		return isIt
	}

	err = c.store.Iterate(operation.VerificationVectorPrefix(), func(key []byte, _ []byte) error {
		quorumHash, member, err := operation.ParseContributionKey(key)
		if err != nil {
			return err
		}
		if stale(quorumHash) {
			c.vvecs.Erase(contribKey{quorum: quorumHash, member: member})
			erased++
		}
		return nil
	})
	if err != nil {
		return erased, fmt.Errorf("could not sweep verification vectors: %w", err)
	}

	err = c.store.Iterate(operation.SecretSharePrefix(), func(key []byte, _ []byte) error {
		quorumHash, member, err := operation.ParseContributionKey(key)
		if err != nil {
			return err
		}
		if stale(quorumHash) {
			c.shares.Erase(contribKey{quorum: quorumHash, member: member})
			erased++
		}
		return nil
	})
	if err != nil {
		return erased, fmt.Errorf("could not sweep secret shares: %w", err)
	}

	err = c.Flush()
	if err != nil {
		return erased, fmt.Errorf("could not flush erases: %w", err)
	}

	if erased > 0 {
		c.log.Debug().Int("erased", erased).Msg("erased stale contribution data")
	}
	return erased, nil
}

func (c *Contributions) Flush() error {
	var merr *multierror.Error
	merr = multierror.Append(merr, c.vvecs.Flush())
	merr = multierror.Append(merr, c.shares.Flush())
	return merr.ErrorOrNil()
}
