package pointsource

import (
	"math"

	"lensim/pkg/imaging"
)

// PixelRound maps a real pixel coordinate to the integer pixel used for
// amplitude estimation: floor(v - 0.49999 + 0.5). Unlike math.Round this is a
// floor with a 1e-5 tolerance, so 3.6 maps to 3 and 2.5 to 2. Do not replace
// it with standard rounding.
func PixelRound(v float64) int {
	return int(math.Floor(v - 0.49999 + 0.5))
}

const (
	estimateHalfWidth = 2
	// estimateGuard is the minimum distance to every edge for an estimate.
	estimateGuard = estimateHalfWidth + 1
)

// EstimateAmplitude estimates the flux of a point source at pixel (x, y) as
// the ratio of the 5x5 data sum around it (clipped at zero) to the central
// 5x5 sum of the kernel. Positions closer than three pixels to an edge
// return 0.
func EstimateAmplitude(data imaging.Mat, x, y float64, kernel imaging.Mat) float64 {
	if data.Empty() || kernel.Empty() {
		return 0
	}
	xInt, yInt := PixelRound(x), PixelRound(y)
	if xInt < estimateGuard || xInt > data.Cols()-estimateGuard ||
		yInt < estimateGuard || yInt > data.Rows()-estimateGuard {
		return 0
	}
	dataSum := data.WindowSum(yInt-estimateHalfWidth, yInt+estimateHalfWidth, xInt-estimateHalfWidth, xInt+estimateHalfWidth)
	dataSum = max(dataSum, 0)

	centre := int((float64(kernel.Rows()) - 0.5) / 2)
	kernelSum := kernel.WindowSum(centre-estimateHalfWidth, centre+estimateHalfWidth, centre-estimateHalfWidth, centre+estimateHalfWidth)
	if kernelSum <= 0 {
		return 0
	}
	return dataSum / kernelSum
}
