package model

import (
	"math"

	errs "github.com/Brownie44l1/clip-api/internal/errors"
)

// Normalize returns raw scaled to unit L2 norm. The norm is accumulated in
// float64. A vector of the wrong width, with a non-finite component, or with
// zero norm is an inference failure; no NaN or Inf is ever returned.
func Normalize(raw []float32, dim int) ([]float32, error) {
	if len(raw) != dim {
		return nil, errs.Newf(errs.KindInference, "encoder returned %d values, expected %d", len(raw), dim)
	}

	for i, v := range raw {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, errs.Newf(errs.KindInference, "encoder output has non-finite value at index %d", i)
		}
	}

	norm := L2Norm(raw)
	if norm == 0 || math.IsInf(norm, 0) {
		return nil, errs.Newf(errs.KindInference, "encoder output has degenerate norm %v", norm)
	}

	out := make([]float32, len(raw))
	for i, v := range raw {
		out[i] = float32(float64(v) / norm)
	}
	return out, nil
}

// L2Norm returns the Euclidean norm of v.
func L2Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
