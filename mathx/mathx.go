// Package mathx provides small numeric helpers shared by the panel,
// calibration, and control packages.
package mathx

import "math"

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
func Round(x, unit float64) float64 {
	return float64(int64(x/unit+0.5)) * unit
}

// Clamp restricts x to the range [low, high]
func Clamp(x, low, high float64) float64 {
	if x < low {
		return low
	}
	if x > high {
		return high
	}
	return x
}

// L2Norm returns the euclidean norm of v
func L2Norm(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s)
}

// FiniteMinMax scans v and returns the min and max over the finite samples
// only, along with the number of finite samples seen.  NaN and Inf are
// skipped; if no sample is finite, min and max are both zero.
func FiniteMinMax(v []float64) (min, max float64, n int) {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			continue
		}
		if n == 0 {
			min, max = x, x
		} else {
			if x < min {
				min = x
			}
			if x > max {
				max = x
			}
		}
		n++
	}
	return min, max, n
}
