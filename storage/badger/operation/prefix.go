package operation

import (
	"encoding/binary"
	"fmt"

	"github.com/mnlabs/quorum-go/model/llq"
)

const (
	// verified DKG contribution data, keyed by (quorum, member)
	codeVerificationVector = 0x10
	codeSecretShare        = 0x11

	// recovered signatures and their lookup indices
	codeRecSigData      = 0x20 // id -> record
	codeRecSigPair      = 0x21 // (id, msgHash) -> write time
	codeRecSigByHash    = 0x22 // content hash -> id
	codeRecSigBySession = 0x23 // sign hash -> marker
	codeRecSigTime      = 0x24 // (write time, id) -> marker, aging sweeps only

	// local vote records
	codeVote     = 0x30 // id -> msgHash
	codeVoteTime = 0x31 // (write time, id) -> marker
)

// makePrefix builds a composite key of the form (record-type-tag, keys...).
// Numeric key parts are encoded big-endian so that lexicographic key order
// matches numeric order, which the time-bucketed aging sweeps rely on.
func makePrefix(code byte, keys ...interface{}) []byte {
	prefix := make([]byte, 1, 1+len(keys)*32)
	prefix[0] = code
	for _, key := range keys {
		switch k := key.(type) {
		case llq.Identifier:
			prefix = append(prefix, k[:]...)
		case uint32:
			var b [4]byte
			binary.BigEndian.PutUint32(b[:], k)
			prefix = append(prefix, b[:]...)
		case uint64:
			var b [8]byte
			binary.BigEndian.PutUint64(b[:], k)
			prefix = append(prefix, b[:]...)
		default:
			panic(fmt.Sprintf("unsupported key part type (%T)", key))
		}
	}
	return prefix
}
