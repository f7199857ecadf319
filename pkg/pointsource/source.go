package pointsource

import (
	"fmt"
	"math"

	"lensim/pkg/lens"
)

// Source describes one point-source set either by its image positions or by
// a source-plane position that is mapped through the lens.
type Source struct {
	// Images holds explicit image positions. Used unless SourcePosition is set.
	Images Params

	SourcePosition bool
	SourceRA       float64
	SourceDec      float64
	// SourceAmp is the intrinsic flux. Image amplitudes are SourceAmp * |mu|.
	SourceAmp float64
}

// Resolve returns the image-plane positions and amplitudes of the set.
func (s Source) Resolve(m lens.Params, solver *lens.Solver) (Params, error) {
	if !s.SourcePosition {
		if err := s.Images.Validate(); err != nil {
			return Params{}, err
		}
		return s.Images, nil
	}
	if solver == nil {
		return Params{}, fmt.Errorf("pointsource: source-plane position needs a lens equation solver")
	}
	xs, ys := solver.ImagePositions(m, s.SourceRA, s.SourceDec)
	amps := make([]float64, len(xs))
	for i := range xs {
		amps[i] = s.SourceAmp * math.Abs(m.Magnification(xs[i], ys[i]))
	}
	if xs == nil {
		xs, ys = []float64{}, []float64{}
	}
	return Params{RA: xs, Dec: ys, Amp: amps}, nil
}

// FermatPotential evaluates the Fermat potential at each image. Explicit
// images use the source position they ray-trace to.
func (s Source) FermatPotential(m lens.Params, solver *lens.Solver) ([]float64, error) {
	p, err := s.Resolve(m, solver)
	if err != nil {
		return nil, err
	}
	out := make([]float64, p.Len())
	for i := range p.RA {
		betaX, betaY := s.SourceRA, s.SourceDec
		if !s.SourcePosition {
			betaX, betaY = m.RayShoot(p.RA[i], p.Dec[i])
		}
		out[i] = m.FermatPotential(p.RA[i], p.Dec[i], betaX, betaY)
	}
	return out, nil
}
