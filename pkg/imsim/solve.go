package imsim

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"lensim/pkg/imaging"
	"lensim/pkg/linear"
	"lensim/pkg/pointsource"
)

// Response is the full linear response of one band.
type Response struct {
	*linear.Response
	// ErrorMap is the point-source contribution to the pixel variance.
	ErrorMap []float64

	numSource    int
	numLensLight int
	pointSources []pointsource.Params
	fixedAmps    [][]float64
}

// Result is the outcome of a linear solve on one band.
type Result struct {
	Model    imaging.Mat
	ErrorMap imaging.Mat
	// Covariance is set when the inverse was requested.
	Covariance   *mat.SymDense
	LinearParams []float64
	// Params carries the solved amplitudes. Point sources are returned as
	// explicit image positions.
	Params Params
	Chi2   float64
	// MarginalizationConstant is 1/2 log det of the amplitude covariance.
	MarginalizationConstant float64
}

// LinearResponse stacks the source light, lens light and point-source rows,
// in that order.
func (m *Model) LinearResponse(params Params) (*Response, error) {
	sets, err := m.resolve(params)
	if err != nil {
		return nil, err
	}
	grid := m.data.Grid()
	out := &Response{
		Response:     linear.NewResponse(grid.NumPixels()),
		ErrorMap:     make([]float64, grid.NumPixels()),
		numSource:    len(params.Source),
		numLensLight: len(params.LensLight),
		pointSources: sets,
		fixedAmps:    make([][]float64, len(sets)),
	}

	rows, err := m.sourceRows(params)
	if err != nil {
		return nil, fmt.Errorf("imsim: source light: %w", err)
	}
	if err := out.Append(rows...); err != nil {
		return nil, err
	}
	rows, err = m.lensLightRows(params)
	if err != nil {
		return nil, fmt.Errorf("imsim: lens light: %w", err)
	}
	if err := out.Append(rows...); err != nil {
		return nil, err
	}

	for i, e := range m.engines {
		if _, ok := e.Placement().(pointsource.FixedMagnification); ok {
			out.fixedAmps[i] = sets[i].Amp
		}
		resp, errMap, err := e.BuildResponse(m.psf, sets[i], out.fixedAmps[i], m.pointSourceErrorMap)
		if err != nil {
			return nil, fmt.Errorf("imsim: point-source set %d: %w", i, err)
		}
		if err := out.Append(resp.Rows...); err != nil {
			return nil, err
		}
		for k, v := range errMap {
			out.ErrorMap[k] += v
		}
	}
	return out, nil
}

// ImageLinearSolve solves for all amplitudes. Pixels are weighted by the
// inverse of the data variance plus the point-source error map; masked
// pixels carry no weight.
func (m *Model) ImageLinearSolve(params Params, wantInverse bool) (*Result, error) {
	resp, err := m.LinearResponse(params)
	if err != nil {
		return nil, err
	}
	variance := m.variance(resp.ErrorMap)
	mask := m.data.Mask()
	weights := make([]float64, len(variance))
	for i, v := range variance {
		if mask[i] > 0 {
			weights[i] = mask[i] / v
		}
	}

	sol, err := linear.Solve(resp.Response, m.data.Data(), weights, wantInverse)
	if err != nil {
		return nil, fmt.Errorf("imsim: %w", err)
	}

	res := &Result{
		Covariance:              sol.Covariance,
		LinearParams:            sol.Params,
		MarginalizationConstant: sol.MarginalizationConstant(),
	}
	res.Chi2 = chi2(m.data.Data(), sol.Model, variance, mask)
	grid := m.data.Grid()
	if res.Model, err = grid.Array2Image(sol.Model); err != nil {
		return nil, err
	}
	if res.ErrorMap, err = grid.Array2Image(resp.ErrorMap); err != nil {
		return nil, err
	}
	if res.Params, err = m.bindAmplitudes(params, resp, sol.Params); err != nil {
		return nil, err
	}

	m.logger.Debug("linear solve",
		zap.Int("num_basis", resp.NumBasis()),
		zap.Int("num_data", m.NumDataEvaluate()),
		zap.Float64("chi2", res.Chi2))
	return res, nil
}

// Likelihood is -chi2/2 of the best linear fit. With sourceMarginalization
// the amplitudes are integrated out, adding 1/2 log det of their covariance.
func (m *Model) Likelihood(params Params, sourceMarginalization bool) (float64, error) {
	res, err := m.ImageLinearSolve(params, sourceMarginalization)
	if err != nil {
		return 0, err
	}
	logL := -res.Chi2 / 2
	if sourceMarginalization {
		logL += res.MarginalizationConstant
	}
	return logL, nil
}

// ReducedChi2 is chi2 per evaluated pixel.
func (m *Model) ReducedChi2(res *Result) float64 {
	n := m.NumDataEvaluate()
	if n == 0 {
		return 0
	}
	return res.Chi2 / float64(n)
}

// Residuals returns (data - model) / sigma, zero on masked pixels.
func (m *Model) Residuals(res *Result) (imaging.Mat, error) {
	grid := m.data.Grid()
	errMap, err := grid.Image2Array(res.ErrorMap)
	if err != nil {
		return imaging.Mat{}, err
	}
	model, err := grid.Image2Array(res.Model)
	if err != nil {
		return imaging.Mat{}, err
	}
	variance := m.variance(errMap)
	mask := m.data.Mask()
	out := make([]float64, len(model))
	for i, d := range m.data.Data() {
		if mask[i] > 0 {
			out[i] = (d - model[i]) / math.Sqrt(variance[i])
		}
	}
	return grid.Array2Image(out)
}

// Image simulates the noiseless band image at the amplitudes in params.
func (m *Model) Image(params Params) (imaging.Mat, error) {
	sets, err := m.resolve(params)
	if err != nil {
		return imaging.Mat{}, err
	}
	grid := m.data.Grid()
	total := make([]float64, grid.NumPixels())

	x, y := grid.Coordinates()
	extended := params.LensLight.Surface(x, y)
	if len(params.Source) > 0 {
		bx, by := params.Lens.RayShootAll(x, y)
		for i, v := range params.Source.Surface(bx, by) {
			extended[i] += v
		}
	}
	blurred, err := m.convolveRow(extended)
	if err != nil {
		return imaging.Mat{}, err
	}
	for i, v := range blurred {
		total[i] += v
	}

	for i, e := range m.engines {
		flat, _, err := e.Render(m.psf, sets[i], nil, false)
		if err != nil {
			return imaging.Mat{}, fmt.Errorf("imsim: point-source set %d: %w", i, err)
		}
		for k, v := range flat {
			total[k] += v
		}
	}
	return grid.Array2Image(total)
}

func (m *Model) variance(errorMap []float64) []float64 {
	out := append([]float64(nil), m.data.CovarianceData()...)
	for i, v := range errorMap {
		out[i] += v
	}
	return out
}

func (m *Model) bindAmplitudes(params Params, resp *Response, coeffs []float64) (Params, error) {
	out := params
	var err error
	next := coeffs
	if out.Source, err = params.Source.WithAmplitudes(next[:resp.numSource]); err != nil {
		return Params{}, err
	}
	next = next[resp.numSource:]
	if out.LensLight, err = params.LensLight.WithAmplitudes(next[:resp.numLensLight]); err != nil {
		return Params{}, err
	}
	next = next[resp.numLensLight:]

	out.PointSources = make([]pointsource.Source, len(m.engines))
	for i, e := range m.engines {
		set := resp.pointSources[i]
		n := e.BasisCount(set)
		amps, err := e.Amplitudes(set, next[:n], resp.fixedAmps[i])
		if err != nil {
			return Params{}, err
		}
		next = next[n:]
		out.PointSources[i] = pointsource.Source{Images: pointsource.Params{RA: set.RA, Dec: set.Dec, Amp: amps}}
	}
	return out, nil
}

func chi2(data, model, variance, mask []float64) float64 {
	s := 0.0
	for i, d := range data {
		if mask[i] <= 0 {
			continue
		}
		r := d - model[i]
		s += mask[i] * r * r / variance[i]
	}
	return s
}
