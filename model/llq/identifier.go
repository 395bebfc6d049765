package llq

import (
	"encoding/hex"
	"fmt"

	"github.com/vmihailenco/msgpack/v4"
	"golang.org/x/crypto/sha3"
)

// Identifier represents a 32-byte unique identifier for an entity: a quorum
// base block, a masternode registration, a signing request id or the content
// hash of a protocol message.
type Identifier [32]byte

// ZeroID is the lowest value in the 32-byte ID space.
var ZeroID = Identifier{}

func (id Identifier) String() string {
	return hex.EncodeToString(id[:])
}

func (id Identifier) IsZero() bool {
	return id == ZeroID
}

// Bytes returns the identifier as a freshly allocated byte slice.
func (id Identifier) Bytes() []byte {
	return id[:]
}

func (id Identifier) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *Identifier) UnmarshalText(text []byte) error {
	var err error
	*id, err = HexStringToIdentifier(string(text))
	return err
}

// HashToID converts a raw hash to an Identifier. Inputs shorter than 32 bytes
// are left-padded with zeroes, longer inputs are truncated.
func HashToID(hash []byte) Identifier {
	var id Identifier
	if len(hash) > len(id) {
		hash = hash[:len(id)]
	}
	copy(id[32-len(hash):], hash)
	return id
}

// HexStringToIdentifier decodes a 64-character hex string into an Identifier.
func HexStringToIdentifier(s string) (Identifier, error) {
	var id Identifier
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("could not decode identifier hex: %w", err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("invalid identifier length: %d", len(b))
	}
	copy(id[:], b)
	return id, nil
}

// MakeID hashes the msgpack encoding of the given value into an Identifier.
// It is used to derive the content hash of protocol messages; conflicting
// messages from the same member therefore always map to distinct IDs.
func MakeID(v interface{}) Identifier {
	data, err := msgpack.Marshal(v)
	if err != nil {
		// all hashed entities are value types without cycles or channels, so
		// an encoding failure is a programming error
		panic(fmt.Sprintf("could not encode entity for hashing: %v", err))
	}
	return HashToID(hashBytes(data))
}

func hashBytes(data ...[]byte) []byte {
	h := sha3.New256()
	for _, d := range data {
		_, _ = h.Write(d)
	}
	return h.Sum(nil)
}
