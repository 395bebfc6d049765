package operation

import (
	"fmt"

	"github.com/dgraph-io/badger/v2"

	"github.com/mnlabs/quorum-go/model/llq"
)

// Key builders for the recovered-signature indices. Batched writes and aging
// sweeps need the raw keys; single-key operations use the closures below.

func RecSigDataKey(id llq.Identifier) []byte {
	return makePrefix(codeRecSigData, id)
}

func RecSigPairKey(id llq.Identifier, msgHash llq.Identifier) []byte {
	return makePrefix(codeRecSigPair, id, msgHash)
}

func RecSigByHashKey(hash llq.Identifier) []byte {
	return makePrefix(codeRecSigByHash, hash)
}

func RecSigBySessionKey(signHash llq.Identifier) []byte {
	return makePrefix(codeRecSigBySession, signHash)
}

func RecSigTimeKey(writeTime uint32, id llq.Identifier) []byte {
	return makePrefix(codeRecSigTime, writeTime, id)
}

func RecSigTimePrefix() []byte {
	return makePrefix(codeRecSigTime)
}

func VoteKey(id llq.Identifier) []byte {
	return makePrefix(codeVote, id)
}

func VoteTimeKey(writeTime uint32, id llq.Identifier) []byte {
	return makePrefix(codeVoteTime, writeTime, id)
}

func VoteTimePrefix() []byte {
	return makePrefix(codeVoteTime)
}

// ParseTimeKey splits a time-bucketed key (write time, id) into its parts.
func ParseTimeKey(key []byte) (uint32, llq.Identifier, error) {
	if len(key) != 1+4+32 {
		return 0, llq.ZeroID, fmt.Errorf("invalid time key length: %d", len(key))
	}
	writeTime := uint32(key[1])<<24 | uint32(key[2])<<16 | uint32(key[3])<<8 | uint32(key[4])
	return writeTime, llq.HashToID(key[5:]), nil
}

// EncodeEntity exposes the operation-level value encoding, so that values
// written outside a transaction closure stay byte-compatible with retrieve.
func EncodeEntity(entity interface{}) ([]byte, error) {
	return json.Marshal(entity)
}

// DecodeEntity is the inverse of EncodeEntity.
func DecodeEntity(data []byte, entity interface{}) error {
	return json.Unmarshal(data, entity)
}

func UpsertRecoveredSig(recSig *llq.RecoveredSig) func(*badger.Txn) error {
	return upsert(RecSigDataKey(recSig.ID), recSig)
}

func UpsertRecoveredSigPair(id llq.Identifier, msgHash llq.Identifier, writeTime uint32) func(*badger.Txn) error {
	return upsert(RecSigPairKey(id, msgHash), writeTime)
}

func UpsertRecoveredSigHashIndex(hash llq.Identifier, id llq.Identifier) func(*badger.Txn) error {
	return upsert(RecSigByHashKey(hash), id)
}

func UpsertRecoveredSigSessionIndex(signHash llq.Identifier) func(*badger.Txn) error {
	return upsert(RecSigBySessionKey(signHash), true)
}

// UpsertRecoveredSigTimeIndex stores the record's content hash under the
// time-bucketed key, so the aging sweep can clear the hash index even for
// records that were truncated in the meantime.
func UpsertRecoveredSigTimeIndex(writeTime uint32, id llq.Identifier, hash llq.Identifier) func(*badger.Txn) error {
	return upsert(RecSigTimeKey(writeTime, id), hash)
}

func RemoveRecoveredSig(id llq.Identifier) func(*badger.Txn) error {
	return remove(RecSigDataKey(id))
}

func RemoveRecoveredSigPair(id llq.Identifier, msgHash llq.Identifier) func(*badger.Txn) error {
	return remove(RecSigPairKey(id, msgHash))
}

func RemoveRecoveredSigHashIndex(hash llq.Identifier) func(*badger.Txn) error {
	return remove(RecSigByHashKey(hash))
}

func RemoveRecoveredSigSessionIndex(signHash llq.Identifier) func(*badger.Txn) error {
	return remove(RecSigBySessionKey(signHash))
}

func RemoveRecoveredSigTimeIndex(writeTime uint32, id llq.Identifier) func(*badger.Txn) error {
	return remove(RecSigTimeKey(writeTime, id))
}

func UpsertVoteTimeIndex(writeTime uint32, id llq.Identifier) func(*badger.Txn) error {
	return upsert(VoteTimeKey(writeTime, id), true)
}

func RemoveVoteTimeIndex(writeTime uint32, id llq.Identifier) func(*badger.Txn) error {
	return remove(VoteTimeKey(writeTime, id))
}

func RetrieveRecoveredSig(id llq.Identifier, recSig *llq.RecoveredSig) func(*badger.Txn) error {
	return retrieve(RecSigDataKey(id), recSig)
}

func RetrieveRecoveredSigID(hash llq.Identifier, id *llq.Identifier) func(*badger.Txn) error {
	return retrieve(RecSigByHashKey(hash), id)
}

func RetrieveRecoveredSigTime(id llq.Identifier, msgHash llq.Identifier, writeTime *uint32) func(*badger.Txn) error {
	return retrieve(RecSigPairKey(id, msgHash), writeTime)
}

func CheckRecoveredSig(id llq.Identifier, msgHash llq.Identifier, exists *bool) func(*badger.Txn) error {
	return check(RecSigPairKey(id, msgHash), exists)
}

func CheckRecoveredSigForID(id llq.Identifier, exists *bool) func(*badger.Txn) error {
	return check(RecSigDataKey(id), exists)
}

func CheckRecoveredSigForSession(signHash llq.Identifier, exists *bool) func(*badger.Txn) error {
	return check(RecSigBySessionKey(signHash), exists)
}

func CheckRecoveredSigForHash(hash llq.Identifier, exists *bool) func(*badger.Txn) error {
	return check(RecSigByHashKey(hash), exists)
}

func UpsertVote(id llq.Identifier, msgHash llq.Identifier) func(*badger.Txn) error {
	return upsert(VoteKey(id), msgHash)
}

func RetrieveVote(id llq.Identifier, msgHash *llq.Identifier) func(*badger.Txn) error {
	return retrieve(VoteKey(id), msgHash)
}

func CheckVote(id llq.Identifier, exists *bool) func(*badger.Txn) error {
	return check(VoteKey(id), exists)
}

func RemoveVote(id llq.Identifier) func(*badger.Txn) error {
	return remove(VoteKey(id))
}

// TraverseTimeKeys iterates a time-bucketed index oldest-first, passing the
// parsed (write time, id) pairs to the handle function.
func TraverseTimeKeys(prefix []byte, handle func(writeTime uint32, id llq.Identifier) error) func(*badger.Txn) error {
	return traverseKeys(prefix, func(key []byte) error {
		writeTime, id, err := ParseTimeKey(key)
		if err != nil {
			return err
		}
		return handle(writeTime, id)
	})
}

// TraverseRecSigTimeIndex iterates the recovered-signature time index
// oldest-first, including the content hash stored as the entry value.
func TraverseRecSigTimeIndex(handle func(writeTime uint32, id llq.Identifier, hash llq.Identifier) error) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = RecSigTimePrefix()
		it := tx.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			writeTime, id, err := ParseTimeKey(item.Key())
			if err != nil {
				return err
			}
			var hash llq.Identifier
			err = item.Value(func(val []byte) error {
				return json.Unmarshal(val, &hash)
			})
			if err != nil {
				return fmt.Errorf("could not decode time index entry: %w", err)
			}
			err = handle(writeTime, id, hash)
			if err != nil {
				return err
			}
		}
		return nil
	}
}
