package window

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// TrimFraction is the share of samples dropped from each end by rank before
// computing the trimmed mean.
const TrimFraction = 0.1

// Statistics summarises the relative spine angle over one window.
type Statistics struct {
	Mean        float64 `json:"mean"`
	Median      float64 `json:"median"`
	Std         float64 `json:"std"`
	P25         float64 `json:"p25"`
	P75         float64 `json:"p75"`
	TrimmedMean float64 `json:"trimmed_mean"`
	Count       int     `json:"count"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
}

// ComputeWeighted returns quality-weighted statistics over values. Weights
// that sum to zero are treated as uniform. values and weights are not
// modified.
func ComputeWeighted(values, weights []float64) Statistics {
	n := len(values)
	if n == 0 {
		return Statistics{}
	}

	x, w := sortedPairs(values, normaliseWeights(weights, n))
	variance := stat.PopVariance(x, w)
	if variance < 0 || math.IsNaN(variance) {
		variance = 0
	}

	return Statistics{
		Mean:        stat.Mean(x, w),
		Median:      stat.Quantile(0.5, stat.Empirical, x, w),
		Std:         math.Sqrt(variance),
		P25:         stat.Quantile(0.25, stat.Empirical, x, w),
		P75:         stat.Quantile(0.75, stat.Empirical, x, w),
		TrimmedMean: trimmedMean(x, w),
		Count:       n,
		Min:         x[0],
		Max:         x[n-1],
	}
}

// WeightedMedian returns the weighted empirical median of values.
func WeightedMedian(values, weights []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	x, w := sortedPairs(values, normaliseWeights(weights, len(values)))
	return stat.Quantile(0.5, stat.Empirical, x, w)
}

// trimmedMean drops floor(n*TrimFraction) samples from each end of the
// value-sorted slice and returns the weighted mean of the remainder.
func trimmedMean(sortedX, w []float64) float64 {
	n := len(sortedX)
	k := int(math.Floor(float64(n) * TrimFraction))
	if n-2*k <= 0 {
		k = 0
	}
	mid, mw := sortedX[k:n-k], w[k:n-k]
	if floats.Sum(mw) == 0 {
		return stat.Mean(mid, nil)
	}
	return stat.Mean(mid, mw)
}

func normaliseWeights(weights []float64, n int) []float64 {
	w := make([]float64, n)
	if len(weights) == n {
		copy(w, weights)
		for i, v := range w {
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				w[i] = 0
			}
		}
		if floats.Sum(w) > 0 {
			return w
		}
	}
	for i := range w {
		w[i] = 1
	}
	return w
}

// sortedPairs returns copies of x and w ordered by ascending x.
func sortedPairs(values, weights []float64) ([]float64, []float64) {
	x := make([]float64, len(values))
	copy(x, values)
	idx := make([]int, len(x))
	floats.Argsort(x, idx)
	w := make([]float64, len(x))
	for i, j := range idx {
		w[i] = weights[j]
	}
	return x, w
}

func weightedMean(values, weights []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return stat.Mean(values, normaliseWeights(weights, len(values)))
}
