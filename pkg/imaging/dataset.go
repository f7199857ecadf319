package imaging

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Dataset is one band's imaging data together with its noise model.
// It is read-only once constructed.
type Dataset struct {
	grid          *Grid
	data          []float64
	mask          []float64
	exposureTime  float64
	backgroundRMS float64
	covariance    []float64
}

// NewDataset binds pixel data to a grid. A nil data slice is an empty
// (all-zero) image, used for simulation; a nil mask evaluates every pixel.
func NewDataset(grid *Grid, data []float64, exposureTime, backgroundRMS float64, mask []float64) (*Dataset, error) {
	if grid == nil {
		return nil, fmt.Errorf("imaging: dataset needs a grid")
	}
	if exposureTime <= 0 {
		return nil, fmt.Errorf("imaging: exposure time must be positive, got %f", exposureTime)
	}
	if backgroundRMS <= 0 {
		return nil, fmt.Errorf("imaging: background rms must be positive, got %f", backgroundRMS)
	}
	n := grid.NumPixels()
	if data == nil {
		data = make([]float64, n)
	}
	if len(data) != n {
		return nil, fmt.Errorf("%w: %d data values on a %d pixel grid", ErrShapeMismatch, len(data), n)
	}
	if mask == nil {
		mask = make([]float64, n)
		for i := range mask {
			mask[i] = 1
		}
	}
	if len(mask) != n {
		return nil, fmt.Errorf("%w: %d mask values on a %d pixel grid", ErrShapeMismatch, len(mask), n)
	}

	d := &Dataset{
		grid:          grid,
		data:          append([]float64(nil), data...),
		mask:          append([]float64(nil), mask...),
		exposureTime:  exposureTime,
		backgroundRMS: backgroundRMS,
	}
	d.covariance = d.Covariance(d.data)
	return d, nil
}

// WithData returns a copy of d carrying new pixel values.
func (d *Dataset) WithData(data []float64) (*Dataset, error) {
	return NewDataset(d.grid, data, d.exposureTime, d.backgroundRMS, d.mask)
}

func (d *Dataset) Grid() *Grid            { return d.grid }
func (d *Dataset) Data() []float64        { return d.data }
func (d *Dataset) Mask() []float64        { return d.mask }
func (d *Dataset) ExposureTime() float64  { return d.exposureTime }
func (d *Dataset) BackgroundRMS() float64 { return d.backgroundRMS }

// CovarianceData is the per-pixel data variance bkg^2 + |d|/t_exp.
func (d *Dataset) CovarianceData() []float64 { return d.covariance }

// Covariance evaluates the noise model for an arbitrary image.
func (d *Dataset) Covariance(img []float64) []float64 {
	out := make([]float64, len(img))
	bkg2 := d.backgroundRMS * d.backgroundRMS
	for i, v := range img {
		out[i] = bkg2 + math.Abs(v)/d.exposureTime
	}
	return out
}

// Image returns a copy of the data as a 2-D image.
func (d *Dataset) Image() Mat {
	img := d.grid.NewImage()
	copy(img.data, d.data)
	return img
}

// NumDataEvaluate counts the pixels that enter the likelihood.
func (d *Dataset) NumDataEvaluate() int {
	n := 0
	for _, m := range d.mask {
		if m > 0 {
			n++
		}
	}
	return n
}

// AddNoise draws Gaussian background noise and Gaussian-approximated Poisson
// noise on top of a noiseless model image.
func (d *Dataset) AddNoise(model []float64, rng *rand.Rand) []float64 {
	out := make([]float64, len(model))
	for i, v := range model {
		poisson := 0.0
		if v > 0 {
			poisson = math.Sqrt(v/d.exposureTime) * rng.NormFloat64()
		}
		out[i] = v + d.backgroundRMS*rng.NormFloat64() + poisson
	}
	return out
}
