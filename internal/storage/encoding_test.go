package storage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddingRoundTrip(t *testing.T) {
	vectors := [][]float32{
		{1.234, -5.678, 0.0, 999.999, -0.001},
		{1.0},
		{},
	}
	for _, vec := range vectors {
		blob := SerializeEmbedding(vec)
		require.Len(t, blob, len(vec)*4)

		got, err := DeserializeEmbedding(blob)
		require.NoError(t, err)
		assert.Equal(t, vec, got)
	}
}

func TestEmbeddingRoundTrip_384Dimensions(t *testing.T) {
	vec := make([]float32, 384)
	for i := range vec {
		vec[i] = float32(i) * 0.125
	}

	got, err := DeserializeEmbedding(SerializeEmbedding(vec))
	require.NoError(t, err)
	assert.Equal(t, vec, got)
}

func TestEmbeddingRoundTrip_SpecialValues(t *testing.T) {
	vec := []float32{
		float32(math.Inf(1)),
		float32(math.Inf(-1)),
		0.0,
		float32(math.Copysign(0, -1)),
		1.23e-38,
	}
	got, err := DeserializeEmbedding(SerializeEmbedding(vec))
	require.NoError(t, err)
	assert.Equal(t, vec, got)

	// NaN compares unequal to itself, so it gets its own bit-level check.
	nanBlob := SerializeEmbedding([]float32{float32(math.NaN())})
	decoded, err := DeserializeEmbedding(nanBlob)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.True(t, math.IsNaN(float64(decoded[0])))
}

func TestSerializeEmbedding_LittleEndianLayout(t *testing.T) {
	// 1.0 in IEEE 754 single precision is 0x3F800000; little-endian on the
	// wire that is 00 00 80 3F.
	blob := SerializeEmbedding([]float32{1.0})
	assert.Equal(t, []byte{0x00, 0x00, 0x80, 0x3F}, blob)
}

func TestDeserializeEmbedding_RejectsTruncatedBlob(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 7} {
		_, err := DeserializeEmbedding(make([]byte, n))
		assert.Error(t, err, "length %d must be rejected", n)
	}
}
