// Package pointsource places unresolved point sources on a pixel grid. It
// builds their basis rows for the linear amplitude solve, renders them at
// given amplitudes and grows the error map that accounts for the PSF
// uncertainty scaled by each source's flux.
package pointsource

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingPositions is returned when a set has no position lists at all.
	ErrMissingPositions = errors.New("pointsource: missing ra/dec positions")

	// ErrPositionCount is returned when the ra and dec lists differ in length.
	ErrPositionCount = errors.New("pointsource: ra and dec lists differ in length")

	// ErrAmplitudeCount is returned when an amplitude list does not match the positions.
	ErrAmplitudeCount = errors.New("pointsource: amplitude count does not match positions")

	// ErrMissingAmplitudes is returned when rendering without any amplitudes.
	ErrMissingAmplitudes = errors.New("pointsource: missing amplitudes")
)

// Params is one set of image-plane point sources. A nil RA or Dec list means
// the positions were never supplied; empty lists describe a set with no
// sources. Amp is optional.
type Params struct {
	RA  []float64
	Dec []float64
	Amp []float64
}

func (p Params) Validate() error {
	if p.RA == nil || p.Dec == nil {
		return ErrMissingPositions
	}
	if len(p.RA) != len(p.Dec) {
		return fmt.Errorf("%w: %d ra, %d dec", ErrPositionCount, len(p.RA), len(p.Dec))
	}
	if p.Amp != nil && len(p.Amp) != len(p.RA) {
		return fmt.Errorf("%w: %d amplitudes for %d positions", ErrAmplitudeCount, len(p.Amp), len(p.RA))
	}
	return nil
}

// Len is the number of sources in the set.
func (p Params) Len() int { return len(p.RA) }

// Options are fixed when an Engine is built.
type Options struct {
	Disabled bool
	// FixedMagnification shares one amplitude between all images of the set,
	// keeping their relative fluxes at the supplied amplitudes.
	FixedMagnification bool
	// FixErrorMap grows the error map from the supplied amplitudes instead of
	// estimating them from the data.
	FixErrorMap bool
}

// amplitudesOrOnes returns amps, or a slice of ones when amps is nil.
func amplitudesOrOnes(amps []float64, n int) ([]float64, error) {
	if amps == nil {
		out := make([]float64, n)
		for i := range out {
			out[i] = 1
		}
		return out, nil
	}
	if len(amps) != n {
		return nil, fmt.Errorf("%w: %d amplitudes for %d positions", ErrAmplitudeCount, len(amps), n)
	}
	return amps, nil
}
