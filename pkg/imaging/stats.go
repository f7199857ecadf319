/*
Kappa-sigma estimation extracted from HocusFocus plugin by George Hilios.
Original Copyright © 2021 George Hilios <ghilios+NINA@googlemail.com>
Licensed under Mozilla Public License 2.0.
Ported to Go.
*/

package imaging

import (
	"math"
	"sort"
)

// KappaSigmaResult holds noise estimation results.
type KappaSigmaResult struct {
	Sigma          float64
	BackgroundMean float64
	NumIterations  int
}

// KappaSigmaNoiseEstimate iteratively clips pixels further than
// clippingMultiplier sigma from the mean until sigma changes by less than
// allowedError. It is used to derive a background rms for images that do not
// carry one in their header.
func KappaSigmaNoiseEstimate(data []float64, clippingMultiplier, allowedError float64, maxIterations int) KappaSigmaResult {
	lastSigma := 1.0
	lastBackgroundMean := 1.0
	numIterations := 0
	lo, hi := math.Inf(-1), math.Inf(1)

	for numIterations < maxIterations {
		meanVal, sigmaVal := meanStdDevInRange(data, lo, hi)

		numIterations++
		if numIterations > 1 && math.Abs(sigmaVal-lastSigma) <= allowedError {
			lastSigma = sigmaVal
			lastBackgroundMean = meanVal
			break
		}
		lo = meanVal - clippingMultiplier*sigmaVal
		hi = meanVal + clippingMultiplier*sigmaVal
		lastSigma = sigmaVal
		lastBackgroundMean = meanVal
	}

	return KappaSigmaResult{
		Sigma:          lastSigma,
		BackgroundMean: lastBackgroundMean,
		NumIterations:  numIterations,
	}
}

func meanStdDevInRange(data []float64, lo, hi float64) (float64, float64) {
	var sum float64
	var count int
	for _, v := range data {
		if v >= lo && v <= hi {
			sum += v
			count++
		}
	}
	if count == 0 {
		return 0, 0
	}
	mean := sum / float64(count)

	var sse float64
	for _, v := range data {
		if v >= lo && v <= hi {
			d := v - mean
			sse += d * d
		}
	}
	return mean, math.Sqrt(sse / float64(count))
}

// MedianMAD returns the median and the normal-consistent median absolute
// deviation of values.
func MedianMAD(values []float64) (float64, float64) {
	if len(values) == 0 {
		return math.NaN(), math.NaN()
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	median := medianSorted(sorted)

	deviations := make([]float64, len(sorted))
	for i := range sorted {
		deviations[i] = math.Abs(sorted[i] - median)
	}
	sort.Float64s(deviations)
	return median, 1.4826 * medianSorted(deviations)
}

func medianSorted(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2.0
	}
	return sorted[n/2]
}
