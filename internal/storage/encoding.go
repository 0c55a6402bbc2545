package storage

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Embedding vectors are stored in BLOB columns as fixed-width
// little-endian IEEE 754 float32 words, 4 bytes per dimension. The same
// byte layout is what the vec0 virtual table expects, so a stored
// embedding can be handed to the similarity index without re-encoding.

// SerializeEmbedding encodes a float32 vector into its BLOB form.
func SerializeEmbedding(vec []float32) []byte {
	out := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

// DeserializeEmbedding decodes a BLOB produced by SerializeEmbedding. A
// length that is not a multiple of 4 means the blob was truncated or
// written by something else entirely, and is rejected rather than
// silently mis-decoded.
func DeserializeEmbedding(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("storage: embedding blob length %d is not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}
