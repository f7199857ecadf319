package pointsource

import "lensim/pkg/imaging"

// Placement decides how per-source unit images become basis rows.
type Placement interface {
	// NumBasis is the number of linear parameters for numSources sources.
	NumBasis(numSources int) int
	// Basis combines unit-amplitude images into basis images. Every returned
	// image is owned by the caller.
	Basis(units []imaging.Mat, amps []float64, rows, cols int) []imaging.Mat
	// Amplitudes maps solved coefficients back to per-source amplitudes.
	Amplitudes(coeffs, amps []float64) []float64
}

// FreeAmplitude fits every source with its own amplitude.
type FreeAmplitude struct{}

func (FreeAmplitude) NumBasis(numSources int) int { return numSources }

func (FreeAmplitude) Basis(units []imaging.Mat, _ []float64, _, _ int) []imaging.Mat {
	return units
}

func (FreeAmplitude) Amplitudes(coeffs, _ []float64) []float64 {
	return append([]float64(nil), coeffs...)
}

// FixedMagnification superposes all sources, each weighted by its amplitude,
// into one shared basis image scaled by a single coefficient.
type FixedMagnification struct{}

func (FixedMagnification) NumBasis(int) int { return 1 }

func (FixedMagnification) Basis(units []imaging.Mat, amps []float64, rows, cols int) []imaging.Mat {
	shared := imaging.NewMat(rows, cols)
	out := shared.Data()
	for i, u := range units {
		a := amps[i]
		for k, v := range u.Data() {
			out[k] += a * v
		}
	}
	return []imaging.Mat{shared}
}

func (FixedMagnification) Amplitudes(coeffs, amps []float64) []float64 {
	out := make([]float64, len(amps))
	if len(coeffs) == 0 {
		return out
	}
	for i, a := range amps {
		out[i] = coeffs[0] * a
	}
	return out
}

type disabled struct{}

func (disabled) NumBasis(int) int { return 0 }

func (disabled) Basis([]imaging.Mat, []float64, int, int) []imaging.Mat { return nil }

func (disabled) Amplitudes([]float64, []float64) []float64 { return nil }
