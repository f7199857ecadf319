// Package imsim models the image of a single band: it assembles the linear
// response of extended light and point sources, solves for their amplitudes
// and evaluates the likelihood of the band's data.
package imsim

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"lensim/pkg/imaging"
	"lensim/pkg/lens"
	"lensim/pkg/light"
	"lensim/pkg/pointsource"
	"lensim/pkg/psf"
)

// ErrPointSourceSets is returned when the number of point-source sets does
// not match the sets the model was built for.
var ErrPointSourceSets = errors.New("imsim: point-source set count mismatch")

// Params are the nonlinear parameters of one evaluation. Light amplitudes
// are ignored by the linear solve and used as-is by Image.
type Params struct {
	Lens         lens.Params
	Source       light.Params
	LensLight    light.Params
	PointSources []pointsource.Source
}

// Options configure a Model.
type Options struct {
	// PointSources holds one entry per point-source set.
	PointSources []pointsource.Options
	// PointSourceErrorMap adds the point-source error map to the noise.
	PointSourceErrorMap bool
	Solver              *lens.Solver
	Logger              *zap.Logger
}

// Model binds one band's data and PSF.
type Model struct {
	data                *imaging.Dataset
	psf                 *psf.PSF
	engines             []*pointsource.Engine
	pointSourceErrorMap bool
	solver              *lens.Solver
	logger              *zap.Logger
}

func New(data *imaging.Dataset, p *psf.PSF, opts Options) (*Model, error) {
	if data == nil || p == nil {
		return nil, errors.New("imsim: model needs data and a psf")
	}
	m := &Model{
		data:                data,
		psf:                 p,
		pointSourceErrorMap: opts.PointSourceErrorMap,
		solver:              opts.Solver,
		logger:              opts.Logger,
	}
	if m.solver == nil {
		m.solver = lens.NewSolver(lens.DefaultSolverOptions())
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	image := data.Image()
	for i, o := range opts.PointSources {
		e, err := pointsource.NewEngine(data.Grid(), image, o)
		if err != nil {
			return nil, fmt.Errorf("imsim: point-source set %d: %w", i, err)
		}
		m.engines = append(m.engines, e)
	}
	return m, nil
}

func (m *Model) Data() *imaging.Dataset { return m.data }
func (m *Model) PSF() *psf.PSF          { return m.psf }

// NumDataEvaluate is the number of pixels entering the likelihood.
func (m *Model) NumDataEvaluate() int { return m.data.NumDataEvaluate() }

// NumParamLinear is the number of amplitudes solved for with params.
func (m *Model) NumParamLinear(params Params) (int, error) {
	sets, err := m.resolve(params)
	if err != nil {
		return 0, err
	}
	n := len(params.Source) + len(params.LensLight)
	for i, e := range m.engines {
		n += e.BasisCount(sets[i])
	}
	return n, nil
}

// resolve maps every point-source set to image positions.
func (m *Model) resolve(params Params) ([]pointsource.Params, error) {
	if len(params.PointSources) != len(m.engines) {
		return nil, fmt.Errorf("%w: got %d, model has %d", ErrPointSourceSets, len(params.PointSources), len(m.engines))
	}
	out := make([]pointsource.Params, len(params.PointSources))
	for i, s := range params.PointSources {
		p, err := s.Resolve(params.Lens, m.solver)
		if err != nil {
			return nil, fmt.Errorf("imsim: point-source set %d: %w", i, err)
		}
		out[i] = p
	}
	return out, nil
}

// convolveRow blurs a flattened image with the PSF.
func (m *Model) convolveRow(row []float64) ([]float64, error) {
	grid := m.data.Grid()
	img, err := grid.Array2Image(row)
	if err != nil {
		return nil, err
	}
	blurred, err := m.psf.Convolve(img)
	if err != nil {
		return nil, err
	}
	return grid.Image2Array(blurred)
}

// sourceRows evaluates the source light on the ray-traced grid.
func (m *Model) sourceRows(params Params) ([][]float64, error) {
	if len(params.Source) == 0 {
		return nil, nil
	}
	x, y := m.data.Grid().Coordinates()
	bx, by := params.Lens.RayShootAll(x, y)
	return m.convolveAll(params.Source.Basis(bx, by))
}

func (m *Model) lensLightRows(params Params) ([][]float64, error) {
	if len(params.LensLight) == 0 {
		return nil, nil
	}
	x, y := m.data.Grid().Coordinates()
	return m.convolveAll(params.LensLight.Basis(x, y))
}

func (m *Model) convolveAll(rows [][]float64) ([][]float64, error) {
	for i, row := range rows {
		blurred, err := m.convolveRow(row)
		if err != nil {
			return nil, err
		}
		rows[i] = blurred
	}
	return rows, nil
}
