// Package token estimates the model-input token cost of context content.
package token

import (
	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Estimator reports the approximate token cost of a piece of text.
type Estimator interface {
	Estimate(text string) int
}

// NewEstimator returns a tiktoken-backed estimator when the encoding is
// available, falling back to the byte heuristic otherwise. The fallback
// matters for air-gapped deployments where the BPE asset cannot be fetched.
func NewEstimator() Estimator {
	enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
	if err != nil {
		return Heuristic{}
	}
	return &bpeEstimator{enc: enc}
}

type bpeEstimator struct {
	enc *tiktoken.Tiktoken
}

func (e *bpeEstimator) Estimate(text string) int {
	return len(e.enc.Encode(text, nil, nil))
}

// Heuristic approximates token cost as one token per four bytes, the usual
// rule of thumb for English prose. Deterministic and dependency-free, so
// tests use it directly.
type Heuristic struct{}

func (Heuristic) Estimate(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
