// Package testutil provides shared testing utilities for the kbengine
// project: a deterministic embedder and a PostgreSQL test container.
package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"strings"
)

// EmbedderDims is the vector width produced by Embedder.
const EmbedderDims = 8

// Embedder is a deterministic in-process embedding provider. Vectors are
// derived from token hashes, so identical texts always embed identically
// and texts sharing words land near each other — close enough to exercise
// similarity ranking without a network call.
//
// Err, when set, fails every Embed call; use it to drive fallback paths.
type Embedder struct {
	Err error

	// Calls counts Embed invocations, letting tests assert batching.
	Calls int
}

// Embed returns one EmbedderDims-wide unit-scaled vector per input text.
func (e *Embedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.Calls++
	if e.Err != nil {
		return nil, e.Err
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = embedText(text)
	}
	return vectors, nil
}

func embedText(text string) []float32 {
	vec := make([]float32, EmbedderDims)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		sum := sha256.Sum256([]byte(token))
		for d := 0; d < EmbedderDims; d++ {
			bits := binary.BigEndian.Uint32(sum[d*4 : d*4+4])
			// Map to [-1, 1) so unrelated tokens cancel rather than accumulate.
			vec[d] += float32(int32(bits)) / (1 << 31)
		}
	}
	return vec
}
