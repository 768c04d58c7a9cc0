package inference

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"
)

// Sampler composition constants, applied in order: repetition penalty,
// top-k, top-p, min-p, then temperature. These must not drift from the
// values a real backend is expected to honor, even though
// placeholderBackend ignores them.
const (
	repetitionPenalty     = 1.1
	repetitionPenaltyLast = 64
	topK                  = 40
	topP                  = 0.95
	minP                  = 0.05
)

// SamplerParams bundles the fixed sampler composition passed to
// Backend.Generate alongside the per-request max_tokens/temperature.
type SamplerParams struct {
	RepetitionPenalty     float64
	RepetitionPenaltyLast int
	TopK                  int
	TopP                  float64
	MinP                  float64
}

func defaultSamplerParams() SamplerParams {
	return SamplerParams{
		RepetitionPenalty:     repetitionPenalty,
		RepetitionPenaltyLast: repetitionPenaltyLast,
		TopK:                  topK,
		TopP:                  topP,
		MinP:                  minP,
	}
}

// Backend is the narrow contract the actor uses to reach the
// underlying native inference library. The gateway ships only the
// deterministic placeholder backend below; a real deployment wires in
// a cgo binding to the native model runtime (llama.cpp or equivalent)
// behind this same interface, which is where repetition penalty,
// top-k, top-p, and min-p would reach the real sampler.
type Backend interface {
	Generate(prompt string, maxTokens int, temperature float64, threads int, sampler SamplerParams) (string, error)
}

// placeholderBackend stands in for the native inference library. It
// produces a deterministic, prompt-derived response so the "loaded"
// state has observable, reproducible behavior without a real model
// binding compiled in.
type placeholderBackend struct {
	modelName string
}

func newPlaceholderBackend(modelName string) *placeholderBackend {
	return &placeholderBackend{modelName: modelName}
}

func (b *placeholderBackend) Generate(prompt string, maxTokens int, temperature float64, threads int, sampler SamplerParams) (string, error) {
	seed := deterministicSeed(prompt, temperature)
	words := len(strings.Fields(prompt))
	return fmt.Sprintf(
		"[%s] Processed %d-word prompt with %d threads at temperature %.2f (seed %d).",
		b.modelName, words, threads, temperature, seed,
	), nil
}

func deterministicSeed(prompt string, temperature float64) uint64 {
	h := sha256.New()
	h.Write([]byte(prompt))
	var tBits [8]byte
	binary.LittleEndian.PutUint64(tBits[:], uint64(temperature*1000))
	h.Write(tBits[:])
	sum := h.Sum(nil)
	return binary.LittleEndian.Uint64(sum[:8])
}
