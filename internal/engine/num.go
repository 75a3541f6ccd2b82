package engine

import "math"

// round2 rounds to cents. Monetary intermediates are rounded at the point
// of computation, not just at output, so traces and outputs agree.
func round2(n float64) float64 {
	return math.Round(n*100) / 100
}

// sanitize clamps v into [min, max], substituting def for nil/NaN/Inf.
// Malformed numeric input is a data-quality gap, not an error.
func sanitize(v *float64, def, min, max float64) float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return def
	}
	return math.Max(min, math.Min(max, *v))
}

// nonNegative returns v clamped to >= 0, with nil/NaN/Inf treated as 0.
func nonNegative(v *float64) float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0
	}
	return math.Max(0, *v)
}

// clampInt clamps v into [min, max] and rounds to the nearest integer.
func clampInt(v, min, max float64) int {
	if math.IsNaN(v) {
		return int(min)
	}
	return int(math.Round(math.Max(min, math.Min(max, v))))
}

// finite returns the dereferenced value when it is a usable number.
func finite(v *float64) (float64, bool) {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0, false
	}
	return *v, true
}

// minNonNil returns the smallest of the non-nil candidates, or nil.
func minNonNil(values ...*float64) *float64 {
	var out *float64
	for _, v := range values {
		f, ok := finite(v)
		if !ok {
			continue
		}
		if out == nil || f < *out {
			val := f
			out = &val
		}
	}
	return out
}

func ptr(f float64) *float64 { return &f }
