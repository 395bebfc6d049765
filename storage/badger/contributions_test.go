package badger

import (
	"testing"

	"github.com/dgraph-io/badger/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnlabs/quorum-go/model/llq"
	"github.com/mnlabs/quorum-go/storage"
	"github.com/mnlabs/quorum-go/utils/unittest"
)

func runWithContributions(t *testing.T, f func(*Contributions, *KVStore)) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		kvstore := NewKVStore(db)
		f(NewContributions(unittest.Logger(), kvstore), kvstore)
	})
}

func vvecFixture() [][]byte {
	return [][]byte{
		unittest.IdentifierFixture().Bytes(),
		unittest.IdentifierFixture().Bytes(),
	}
}

func TestContributionsStoreAndRead(t *testing.T) {
	runWithContributions(t, func(contribs *Contributions, _ *KVStore) {
		quorumHash := unittest.IdentifierFixture()
		member := unittest.IdentifierFixture()
		vvec := vvecFixture()
		share := unittest.IdentifierFixture().Bytes()

		require.NoError(t, contribs.StoreVerificationVector(quorumHash, member, vvec))
		require.NoError(t, contribs.StoreSecretShare(quorumHash, member, share))

		gotVVec, err := contribs.VerificationVector(quorumHash, member)
		require.NoError(t, err)
		assert.Equal(t, vvec, gotVVec)

		gotShare, err := contribs.SecretShare(quorumHash, member)
		require.NoError(t, err)
		assert.Equal(t, share, gotShare)

		_, err = contribs.VerificationVector(quorumHash, unittest.IdentifierFixture())
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestContributionsFlushPersists(t *testing.T) {
	runWithContributions(t, func(contribs *Contributions, kvstore *KVStore) {
		quorumHash := unittest.IdentifierFixture()
		member := unittest.IdentifierFixture()
		vvec := vvecFixture()

		require.NoError(t, contribs.StoreVerificationVector(quorumHash, member, vvec))
		require.NoError(t, contribs.Flush())

		// A fresh instance over the same store sees the flushed data.
		reopened := NewContributions(unittest.Logger(), kvstore)
		gotVVec, err := reopened.VerificationVector(quorumHash, member)
		require.NoError(t, err)
		assert.Equal(t, vvec, gotVVec)
	})
}

func TestContributionsCleanupOld(t *testing.T) {
	runWithContributions(t, func(contribs *Contributions, _ *KVStore) {
		staleQuorum := unittest.IdentifierFixture()
		liveQuorum := unittest.IdentifierFixture()
		member := unittest.IdentifierFixture()

		require.NoError(t, contribs.StoreVerificationVector(staleQuorum, member, vvecFixture()))
		require.NoError(t, contribs.StoreSecretShare(staleQuorum, member, []byte{1}))
		require.NoError(t, contribs.StoreVerificationVector(liveQuorum, member, vvecFixture()))

		erased, err := contribs.CleanupOld(func(quorumHash llq.Identifier) bool {
			return quorumHash == staleQuorum
		})
		require.NoError(t, err)
		assert.Equal(t, 2, erased)

		_, err = contribs.VerificationVector(staleQuorum, member)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = contribs.SecretShare(staleQuorum, member)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		_, err = contribs.VerificationVector(liveQuorum, member)
		require.NoError(t, err)
	})
}
