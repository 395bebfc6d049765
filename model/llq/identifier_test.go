package llq_test

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnlabs/quorum-go/model/llq"
)

func identifierFixture() llq.Identifier {
	var id llq.Identifier
	_, _ = rand.Read(id[:])
	return id
}

func TestIdentifierHexRoundtrip(t *testing.T) {
	id := identifierFixture()
	decoded, err := llq.HexStringToIdentifier(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, decoded)

	_, err = llq.HexStringToIdentifier("not hex")
	assert.Error(t, err)
	_, err = llq.HexStringToIdentifier("abcdef")
	assert.Error(t, err)
}

func TestHashToIDPadding(t *testing.T) {
	short := llq.HashToID([]byte{0xaa, 0xbb})
	assert.Equal(t, byte(0xaa), short[30])
	assert.Equal(t, byte(0xbb), short[31])
	assert.True(t, llq.HashToID(nil).IsZero())
}

func TestMakeIDDeterministic(t *testing.T) {
	type payload struct {
		A llq.Identifier
		B []byte
	}
	p := payload{A: identifierFixture(), B: []byte("content")}

	assert.Equal(t, llq.MakeID(p), llq.MakeID(p))
	assert.NotEqual(t, llq.MakeID(p), llq.MakeID(payload{A: p.A, B: []byte("other")}))
}

func TestBuildSignHashDistinct(t *testing.T) {
	quorumHash := identifierFixture()
	id := identifierFixture()
	msgHash := identifierFixture()

	signHash := llq.BuildSignHash(quorumHash, id, msgHash)
	assert.Equal(t, signHash, llq.BuildSignHash(quorumHash, id, msgHash))
	assert.NotEqual(t, signHash, llq.BuildSignHash(quorumHash, id, identifierFixture()))
	assert.NotEqual(t, signHash, llq.BuildSignHash(identifierFixture(), id, msgHash))
}

func TestBitsetHelpers(t *testing.T) {
	assert.Equal(t, 2, llq.CountTrue([]bool{true, false, true}))
	assert.Equal(t, 0, llq.CountTrue(nil))

	assert.True(t, llq.BitsEqual([]bool{true, false}, []bool{true, false}))
	assert.False(t, llq.BitsEqual([]bool{true, false}, []bool{false, true}))
	assert.False(t, llq.BitsEqual([]bool{true}, []bool{true, false}))
}
