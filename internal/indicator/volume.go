package indicator

import "math"

// MeanStd returns the arithmetic mean and the sample standard deviation
// (n-1 denominator) of vals. With fewer than two values std is 0.
func MeanStd(vals []float64) (mean, std float64) {
	n := len(vals)
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean = sum / float64(n)
	if n < 2 {
		return mean, 0
	}
	var ss float64
	for _, v := range vals {
		d := v - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(n-1))
}

// IsSpike reports volume > mean + k*std. A zero (or non-finite) std never
// spikes.
func IsSpike(volume, mean, std, k float64) bool {
	if std <= 0 || math.IsNaN(std) || math.IsInf(std, 0) {
		return false
	}
	return volume > mean+k*std
}
