// Package psf provides the point-spread-function kernel used to place point
// sources and blur extended light, together with the per-pixel kernel error
// map that scales point-source model uncertainty.
package psf

import (
	"errors"
	"fmt"
	"math"

	"lensim/pkg/imaging"
)

var (
	// ErrKernelShape is returned for kernels that are not odd and square.
	ErrKernelShape = errors.New("psf: kernel must be square with an odd number of pixels")

	// ErrNoErrorMap is returned when a kernel error map is required but was never set.
	ErrNoErrorMap = errors.New("psf: no kernel error map")
)

var sigmaToFWHM = 2.0 * math.Sqrt(2.0*math.Log(2.0))

// PSF is an immutable sampled kernel plus an optional equal-size error map.
type PSF struct {
	kernel   imaging.Mat
	errorMap imaging.Mat
}

// New validates and copies kernel and errorMap. errorMap may be empty.
func New(kernel, errorMap imaging.Mat) (*PSF, error) {
	if kernel.Empty() || kernel.Rows() != kernel.Cols() || kernel.Rows()%2 == 0 {
		return nil, fmt.Errorf("%w: got %dx%d", ErrKernelShape, kernel.Cols(), kernel.Rows())
	}
	p := &PSF{kernel: kernel.Clone()}
	if errorMap.Empty() {
		return p, nil
	}
	if !errorMap.SameShape(kernel) {
		return nil, fmt.Errorf("%w: error map %dx%d for %dx%d kernel",
			imaging.ErrShapeMismatch, errorMap.Cols(), errorMap.Rows(), kernel.Cols(), kernel.Rows())
	}
	for _, v := range errorMap.Data() {
		if v < 0 || math.IsNaN(v) {
			return nil, fmt.Errorf("psf: kernel error map must be non-negative, got %f", v)
		}
	}
	p.errorMap = errorMap.Clone()
	return p, nil
}

// NewGaussian builds a unit-sum circular Gaussian kernel of kernelSize pixels
// for a seeing of fwhm arcsec sampled at deltaPix arcsec per pixel.
func NewGaussian(fwhm, deltaPix float64, kernelSize int) (*PSF, error) {
	if fwhm <= 0 || deltaPix <= 0 {
		return nil, fmt.Errorf("psf: fwhm and pixel size must be positive, got %f and %f", fwhm, deltaPix)
	}
	if kernelSize < 1 || kernelSize%2 == 0 {
		return nil, fmt.Errorf("%w: size %d", ErrKernelShape, kernelSize)
	}
	sigma := fwhm / deltaPix / sigmaToFWHM
	g := gaussianKernel1D(kernelSize, sigma)

	kernel := imaging.NewMat(kernelSize, kernelSize)
	for r := 0; r < kernelSize; r++ {
		for c := 0; c < kernelSize; c++ {
			kernel.Set(r, c, g[r]*g[c])
		}
	}
	return &PSF{kernel: kernel}, nil
}

func gaussianKernel1D(size int, sigma float64) []float64 {
	data := make([]float64, size)
	half := size / 2
	sum := 0.0
	for i := 0; i < size; i++ {
		x := float64(i - half)
		data[i] = math.Exp(-x * x / (2 * sigma * sigma))
		sum += data[i]
	}
	for i := range data {
		data[i] /= sum
	}
	return data
}

// WithRelativeError returns a copy whose error map is the constant v.
func (p *PSF) WithRelativeError(v float64) (*PSF, error) {
	m := imaging.NewMat(p.kernel.Rows(), p.kernel.Cols())
	for i := range m.Data() {
		m.Data()[i] = v
	}
	return New(p.kernel, m)
}

// Kernel returns the kernel. Callers must not modify it.
func (p *PSF) Kernel() imaging.Mat { return p.kernel }

// ErrorMap returns the kernel error map or ErrNoErrorMap.
func (p *PSF) ErrorMap() (imaging.Mat, error) {
	if p.errorMap.Empty() {
		return imaging.Mat{}, ErrNoErrorMap
	}
	return p.errorMap, nil
}

func (p *PSF) Size() int { return p.kernel.Rows() }

// Convolve blurs img with the kernel.
func (p *PSF) Convolve(img imaging.Mat) (imaging.Mat, error) {
	return imaging.Convolve(img, p.kernel)
}
