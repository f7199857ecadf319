// Package multiband fits several imaging bands jointly. Each band has its
// own data, PSF and selection of the shared light components; the lens and
// point sources are common to all bands.
package multiband

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"lensim/pkg/imaging"
	"lensim/pkg/imsim"
	"lensim/pkg/lens"
	"lensim/pkg/pointsource"
	"lensim/pkg/psf"
)

// ErrNoBands is returned when an orchestrator is built without bands.
var ErrNoBands = errors.New("multiband: no bands")

// Selection lists the indices of the global source and lens-light lists
// active in a band. A nil list selects every component.
type Selection struct {
	SourceIndices    []int
	LensLightIndices []int
}

// Band is one data set with its PSF.
type Band struct {
	Name      string
	Data      *imaging.Dataset
	PSF       *psf.PSF
	Selection Selection
}

// Orchestrator evaluates all bands for a shared set of parameters.
type Orchestrator struct {
	bands       []Band
	models      []*imsim.Model
	solver      *lens.Solver
	logger      *zap.Logger
	parallelism int
	errorMap    bool
}

type Option func(*Orchestrator)

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithParallelism evaluates up to n bands concurrently. n <= 1 is sequential.
func WithParallelism(n int) Option {
	return func(o *Orchestrator) { o.parallelism = n }
}

func WithSolverOptions(opts lens.SolverOptions) Option {
	return func(o *Orchestrator) { o.solver = lens.NewSolver(opts) }
}

// WithPointSourceErrorMap adds the point-source error map to every band's noise.
func WithPointSourceErrorMap(on bool) Option {
	return func(o *Orchestrator) { o.errorMap = on }
}

// New builds one image model per band. pointSources holds the options of
// each point-source set and is shared by all bands.
func New(bands []Band, pointSources []pointsource.Options, opts ...Option) (*Orchestrator, error) {
	if len(bands) == 0 {
		return nil, ErrNoBands
	}
	o := &Orchestrator{
		bands:       bands,
		solver:      lens.NewSolver(lens.DefaultSolverOptions()),
		logger:      zap.NewNop(),
		parallelism: 1,
	}
	for _, opt := range opts {
		opt(o)
	}
	for i, b := range bands {
		m, err := imsim.New(b.Data, b.PSF, imsim.Options{
			PointSources:        pointSources,
			PointSourceErrorMap: o.errorMap,
			Solver:              o.solver,
			Logger:              o.logger.With(zap.Int("band", i), zap.String("band_name", b.Name)),
		})
		if err != nil {
			return nil, fmt.Errorf("multiband: band %d: %w", i, err)
		}
		o.models = append(o.models, m)
	}
	return o, nil
}

// Models exposes the per-band image models.
func (o *Orchestrator) Models() []*imsim.Model { return o.models }

// Result collects the per-band solves in band order.
type Result struct {
	ModelImages  []imaging.Mat
	ErrorMaps    []imaging.Mat
	Covariances  []*mat.SymDense
	LinearParams [][]float64
	Bands        []*imsim.Result
}

// ImageLinearSolve solves every band with its selected components.
func (o *Orchestrator) ImageLinearSolve(params imsim.Params, wantInverse bool) (*Result, error) {
	results, err := o.solveAll(params, wantInverse)
	if err != nil {
		return nil, err
	}
	out := &Result{Bands: results}
	for _, r := range results {
		out.ModelImages = append(out.ModelImages, r.Model)
		out.ErrorMaps = append(out.ErrorMaps, r.ErrorMap)
		out.Covariances = append(out.Covariances, r.Covariance)
		out.LinearParams = append(out.LinearParams, r.LinearParams)
	}
	return out, nil
}

// Likelihood sums the band log-likelihoods. With sourceMarginalization each
// band adds 1/2 log det of its amplitude covariance.
func (o *Orchestrator) Likelihood(params imsim.Params, sourceMarginalization bool) (float64, error) {
	results, err := o.solveAll(params, sourceMarginalization)
	if err != nil {
		return 0, err
	}
	logL := 0.0
	for _, r := range results {
		logL -= r.Chi2 / 2
		if sourceMarginalization {
			logL += r.MarginalizationConstant
		}
	}
	o.logger.Debug("likelihood", zap.Float64("logL", logL), zap.Bool("marginalized", sourceMarginalization))
	return logL, nil
}

// ImagePositions returns the world coordinates of the images of every
// point-source set.
func (o *Orchestrator) ImagePositions(pointSources []pointsource.Source, m lens.Params) (ra, dec [][]float64, err error) {
	for i, s := range pointSources {
		p, err := s.Resolve(m, o.solver)
		if err != nil {
			return nil, nil, fmt.Errorf("multiband: point-source set %d: %w", i, err)
		}
		ra = append(ra, p.RA)
		dec = append(dec, p.Dec)
	}
	return ra, dec, nil
}

// FermatPotential evaluates the Fermat potential at the images of every set.
func (o *Orchestrator) FermatPotential(m lens.Params, pointSources []pointsource.Source) ([][]float64, error) {
	out := make([][]float64, 0, len(pointSources))
	for i, s := range pointSources {
		phi, err := s.FermatPotential(m, o.solver)
		if err != nil {
			return nil, fmt.Errorf("multiband: point-source set %d: %w", i, err)
		}
		out = append(out, phi)
	}
	return out, nil
}

// NumDataEvaluate sums the evaluated pixels of all bands.
func (o *Orchestrator) NumDataEvaluate() int {
	n := 0
	for _, m := range o.models {
		n += m.NumDataEvaluate()
	}
	return n
}

// BandParams restricts params to the components selected for band i.
func (o *Orchestrator) BandParams(i int, params imsim.Params) (imsim.Params, error) {
	sel := o.bands[i].Selection
	out := params
	var err error
	if out.Source, err = params.Source.Select(sel.SourceIndices); err != nil {
		return imsim.Params{}, fmt.Errorf("multiband: band %d source: %w", i, err)
	}
	if out.LensLight, err = params.LensLight.Select(sel.LensLightIndices); err != nil {
		return imsim.Params{}, fmt.Errorf("multiband: band %d lens light: %w", i, err)
	}
	return out, nil
}

func (o *Orchestrator) solveAll(params imsim.Params, wantInverse bool) ([]*imsim.Result, error) {
	results := make([]*imsim.Result, len(o.models))
	solve := func(i int) error {
		p, err := o.BandParams(i, params)
		if err != nil {
			return err
		}
		r, err := o.models[i].ImageLinearSolve(p, wantInverse)
		if err != nil {
			return fmt.Errorf("multiband: band %d: %w", i, err)
		}
		results[i] = r
		return nil
	}

	if o.parallelism <= 1 {
		for i := range o.models {
			if err := solve(i); err != nil {
				return nil, err
			}
		}
		return results, nil
	}

	var g errgroup.Group
	g.SetLimit(o.parallelism)
	for i := range o.models {
		g.Go(func() error { return solve(i) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Images simulates the noiseless image of every band at the amplitudes in params.
func (o *Orchestrator) Images(params imsim.Params) ([]imaging.Mat, error) {
	out := make([]imaging.Mat, len(o.models))
	for i, m := range o.models {
		p, err := o.BandParams(i, params)
		if err != nil {
			return nil, err
		}
		if out[i], err = m.Image(p); err != nil {
			return nil, fmt.Errorf("multiband: band %d: %w", i, err)
		}
	}
	return out, nil
}
