package pointsource

import (
	"errors"
	"fmt"

	"lensim/pkg/imaging"
	"lensim/pkg/linear"
	"lensim/pkg/psf"
)

// PixelGrid converts world positions to pixels and images to the flattened
// layout of the linear solver.
type PixelGrid interface {
	MapCoordToPixel(ra, dec float64) (x, y float64)
	Image2Array(img imaging.Mat) ([]float64, error)
	Array2Image(a []float64) (imaging.Mat, error)
	Shape() (nx, ny int)
}

// Kernel supplies the point-source kernel and its error map.
type Kernel interface {
	Kernel() imaging.Mat
	ErrorMap() (imaging.Mat, error)
}

// Engine builds point-source basis images for one band.
type Engine struct {
	grid        PixelGrid
	data        imaging.Mat
	placement   Placement
	fixErrorMap bool
}

// NewEngine binds an engine to a grid and the band's data image, which is
// only read to estimate amplitudes for the error map. data may be empty.
func NewEngine(grid PixelGrid, data imaging.Mat, opts Options) (*Engine, error) {
	if grid == nil {
		return nil, errors.New("pointsource: engine needs a pixel grid")
	}
	nx, ny := grid.Shape()
	if !data.Empty() && (data.Rows() != ny || data.Cols() != nx) {
		return nil, fmt.Errorf("%w: data %dx%d on %dx%d grid", imaging.ErrShapeMismatch, data.Cols(), data.Rows(), nx, ny)
	}
	var placement Placement = FreeAmplitude{}
	switch {
	case opts.Disabled:
		placement = disabled{}
	case opts.FixedMagnification:
		placement = FixedMagnification{}
	}
	return &Engine{grid: grid, data: data, placement: placement, fixErrorMap: opts.FixErrorMap}, nil
}

// Placement returns the strategy chosen at construction.
func (e *Engine) Placement() Placement { return e.placement }

// BasisCount is the number of linear parameters the set contributes.
func (e *Engine) BasisCount(p Params) int {
	return e.placement.NumBasis(p.Len())
}

// Amplitudes converts solved coefficients into per-source amplitudes. amps
// are the fixed amplitudes the response was built with, nil meaning ones.
func (e *Engine) Amplitudes(p Params, coeffs, amps []float64) ([]float64, error) {
	if len(coeffs) != e.BasisCount(p) {
		return nil, fmt.Errorf("%w: %d coefficients for %d basis functions", ErrAmplitudeCount, len(coeffs), e.BasisCount(p))
	}
	amps, err := amplitudesOrOnes(amps, p.Len())
	if err != nil {
		return nil, err
	}
	return e.placement.Amplitudes(coeffs, amps), nil
}

// BuildResponse returns the basis rows of the set and, when wantErrorMap is
// set, the flattened error map of its sources. fixedAmps weight each source
// in the shared image of a fixed-magnification set and default to 1. The
// error map is all zero when not requested.
func (e *Engine) BuildResponse(k Kernel, p Params, fixedAmps []float64, wantErrorMap bool) (*linear.Response, []float64, error) {
	nx, ny := e.grid.Shape()
	resp := linear.NewResponse(nx * ny)
	if _, ok := e.placement.(disabled); ok {
		return resp, make([]float64, nx*ny), nil
	}
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}
	amps, err := amplitudesOrOnes(fixedAmps, p.Len())
	if err != nil {
		return nil, nil, err
	}
	xs, ys := e.pixelPositions(p)

	units, err := e.unitImages(k.Kernel(), xs, ys)
	if err != nil {
		return nil, nil, err
	}
	for _, img := range e.placement.Basis(units, amps, ny, nx) {
		row, err := e.grid.Image2Array(img)
		if err != nil {
			return nil, nil, err
		}
		if err := resp.Append(row); err != nil {
			return nil, nil, err
		}
	}

	errorMap, err := e.errorMap(k, p, xs, ys, fixedAmps, wantErrorMap)
	if err != nil {
		return nil, nil, err
	}
	return resp, errorMap, nil
}

// Render returns the flattened sum of all sources at the given amplitudes,
// or at p.Amp when amps is nil.
func (e *Engine) Render(k Kernel, p Params, amps []float64, wantErrorMap bool) ([]float64, []float64, error) {
	images, err := e.RenderList(k, p, amps)
	if err != nil {
		return nil, nil, err
	}
	nx, ny := e.grid.Shape()
	total := imaging.NewMat(ny, nx)
	for _, img := range images {
		if err := total.AddInPlace(img); err != nil {
			return nil, nil, err
		}
	}
	flat, err := e.grid.Image2Array(total)
	if err != nil {
		return nil, nil, err
	}
	if amps == nil {
		amps = p.Amp
	}
	xs, ys := e.pixelPositions(p)
	errorMap, err := e.errorMap(k, p, xs, ys, amps, wantErrorMap)
	if err != nil {
		return nil, nil, err
	}
	return flat, errorMap, nil
}

// RenderList returns one image per source, each scaled by its amplitude.
func (e *Engine) RenderList(k Kernel, p Params, amps []float64) ([]imaging.Mat, error) {
	if _, ok := e.placement.(disabled); ok {
		return nil, nil
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if amps == nil {
		amps = p.Amp
	}
	if amps == nil {
		return nil, ErrMissingAmplitudes
	}
	if len(amps) != p.Len() {
		return nil, fmt.Errorf("%w: %d amplitudes for %d positions", ErrAmplitudeCount, len(amps), p.Len())
	}
	xs, ys := e.pixelPositions(p)
	units, err := e.unitImages(k.Kernel(), xs, ys)
	if err != nil {
		return nil, err
	}
	for i, u := range units {
		data := u.Data()
		for j := range data {
			data[j] *= amps[i]
		}
	}
	return units, nil
}

func (e *Engine) pixelPositions(p Params) (xs, ys []float64) {
	xs = make([]float64, p.Len())
	ys = make([]float64, p.Len())
	for i := range p.RA {
		xs[i], ys[i] = e.grid.MapCoordToPixel(p.RA[i], p.Dec[i])
	}
	return xs, ys
}

// unitImages injects the kernel at unit amplitude into a fresh image per source.
func (e *Engine) unitImages(kernel imaging.Mat, xs, ys []float64) ([]imaging.Mat, error) {
	nx, ny := e.grid.Shape()
	out := make([]imaging.Mat, len(xs))
	for i := range xs {
		img := imaging.NewMat(ny, nx)
		if err := imaging.AddKernel(img, xs[i], ys[i], kernel); err != nil {
			return nil, fmt.Errorf("pointsource: source %d: %w", i, err)
		}
		out[i] = img
	}
	return out, nil
}

// errorMap grows a fresh flattened error map with one contribution per source.
func (e *Engine) errorMap(k Kernel, p Params, xs, ys, amps []float64, want bool) ([]float64, error) {
	nx, ny := e.grid.Shape()
	if !want {
		return make([]float64, nx*ny), nil
	}
	kernelErr, err := k.ErrorMap()
	if errors.Is(err, psf.ErrNoErrorMap) {
		return make([]float64, nx*ny), nil
	}
	if err != nil {
		return nil, err
	}
	kernel := k.Kernel()
	if !kernelErr.SameShape(kernel) {
		return nil, fmt.Errorf("%w: kernel error map %dx%d for %dx%d kernel",
			imaging.ErrShapeMismatch, kernelErr.Cols(), kernelErr.Rows(), kernel.Cols(), kernel.Rows())
	}

	img := imaging.NewMat(ny, nx)
	for i := range xs {
		var amp float64
		if e.fixErrorMap {
			amp = 1
			if amps != nil {
				amp = amps[i]
			} else if p.Amp != nil {
				amp = p.Amp[i]
			}
		} else {
			amp = EstimateAmplitude(e.data, xs[i], ys[i], kernel)
		}
		if err := growErrorMap(img, xs[i], ys[i], kernel, kernelErr, amp); err != nil {
			return nil, fmt.Errorf("pointsource: source %d: %w", i, err)
		}
	}
	return e.grid.Image2Array(img)
}

// growErrorMap adds kernelErr * (kernel*amp)^2 centred at (x, y).
func growErrorMap(img imaging.Mat, x, y float64, kernel, kernelErr imaging.Mat, amp float64) error {
	if amp == 0 {
		return nil
	}
	contrib := imaging.NewMat(kernel.Rows(), kernel.Cols())
	out := contrib.Data()
	errs := kernelErr.Data()
	for i, v := range kernel.Data() {
		s := v * amp
		out[i] = errs[i] * s * s
	}
	return imaging.AddKernel(img, x, y, contrib)
}
