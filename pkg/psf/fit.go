/*
Extracted from HocusFocus plugin by George Hilios.
Original Copyright © 2021 George Hilios <ghilios+NINA@googlemail.com>
Licensed under Mozilla Public License 2.0.
Ported to Go.
*/

package psf

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/optimize"

	"lensim/pkg/imaging"
)

// ErrPoorFit is returned when a star stamp is not described by a Gaussian.
var ErrPoorFit = errors.New("psf: gaussian fit below goodness threshold")

// GaussianFit is an elliptical Gaussian plus constant background fitted to a
// star stamp. Positions and widths are in pixels, SigmaX >= SigmaY.
type GaussianFit struct {
	Amplitude  float64
	Background float64
	X, Y       float64
	SigmaX     float64
	SigmaY     float64
	Theta      float64
	RSquared   float64
}

func (f GaussianFit) FWHMx() float64 { return f.SigmaX * sigmaToFWHM }
func (f GaussianFit) FWHMy() float64 { return f.SigmaY * sigmaToFWHM }

// FWHM is the geometric mean of both axes.
func (f GaussianFit) FWHM() float64 { return math.Sqrt(f.FWHMx() * f.FWHMy()) }

// Eccentricity is sqrt(1 - (SigmaY/SigmaX)^2).
func (f GaussianFit) Eccentricity() float64 {
	r := f.SigmaY / f.SigmaX
	return math.Sqrt(1 - r*r)
}

// FitGaussian fits a stamp centred on a single star.
func FitGaussian(stamp imaging.Mat) (*GaussianFit, error) {
	if stamp.Rows() < 3 || stamp.Cols() < 3 {
		return nil, fmt.Errorf("%w: stamp %dx%d", imaging.ErrEmpty, stamp.Cols(), stamp.Rows())
	}
	inputs := make([][2]float64, 0, stamp.Rows()*stamp.Cols())
	outputs := make([]float64, 0, cap(inputs))
	for r := 0; r < stamp.Rows(); r++ {
		for c := 0; c < stamp.Cols(); c++ {
			inputs = append(inputs, [2]float64{float64(c), float64(r)})
			outputs = append(outputs, stamp.At(r, c))
		}
	}

	x0 := initialGuess(stamp)
	problem := optimize.Problem{
		Func: func(p []float64) float64 {
			s := 0.0
			for i, in := range inputs {
				d := gaussianValue(p, in) - outputs[i]
				s += d * d
			}
			return s
		},
		Grad: func(grad, p []float64) {
			for j := range grad {
				grad[j] = 0
			}
			g := make([]float64, len(p))
			for i, in := range inputs {
				d := gaussianValue(p, in) - outputs[i]
				gaussianGradient(p, in, g)
				for j := range grad {
					grad[j] += 2 * d * g[j]
				}
			}
		},
	}
	result, err := optimize.Minimize(problem, x0, nil, &optimize.BFGS{})
	if result == nil {
		return nil, fmt.Errorf("psf: gaussian fit: %w", err)
	}
	p := result.X

	sigX, sigY := math.Abs(p[4]), math.Abs(p[5])
	if math.IsNaN(sigX) || math.IsNaN(sigY) || sigX == 0 || sigY == 0 {
		return nil, fmt.Errorf("%w: degenerate width", ErrPoorFit)
	}
	theta := euclidianModulus(p[6], math.Pi)
	if theta > math.Pi/2 {
		theta -= math.Pi
	}
	if sigY > sigX {
		if theta < 0 {
			theta += math.Pi / 2
		} else {
			theta -= math.Pi / 2
		}
		sigX, sigY = sigY, sigX
	}

	return &GaussianFit{
		Amplitude:  p[0],
		Background: p[1],
		X:          p[2],
		Y:          p[3],
		SigmaX:     sigX,
		SigmaY:     sigY,
		Theta:      theta,
		RSquared:   computeRSquared(inputs, outputs, p),
	}, nil
}

// FromStar builds a circular Gaussian kernel with the FWHM measured on a
// star stamp sampled at deltaPix arcsec per pixel.
func FromStar(stamp imaging.Mat, deltaPix float64, kernelSize int, minRSquared float64) (*PSF, *GaussianFit, error) {
	fit, err := FitGaussian(stamp)
	if err != nil {
		return nil, nil, err
	}
	if !(fit.RSquared >= minRSquared) {
		return nil, fit, fmt.Errorf("%w: r^2 %.3f < %.3f", ErrPoorFit, fit.RSquared, minRSquared)
	}
	p, err := NewGaussian(fit.FWHM()*deltaPix, deltaPix, kernelSize)
	if err != nil {
		return nil, fit, err
	}
	return p, fit, nil
}

// initialGuess takes the background from the stamp border and the centre
// and widths from the moments above it.
func initialGuess(stamp imaging.Mat) []float64 {
	rows, cols := stamp.Rows(), stamp.Cols()
	var border []float64
	for c := 0; c < cols; c++ {
		border = append(border, stamp.At(0, c), stamp.At(rows-1, c))
	}
	for r := 1; r < rows-1; r++ {
		border = append(border, stamp.At(r, 0), stamp.At(r, cols-1))
	}
	sort.Float64s(border)
	bg := border[len(border)/2]

	var sum, sx, sy float64
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			w := math.Max(stamp.At(r, c)-bg, 0)
			sum += w
			sx += w * float64(c)
			sy += w * float64(r)
		}
	}
	cx, cy := float64(cols-1)/2, float64(rows-1)/2
	sigX, sigY := float64(cols)/6, float64(rows)/6
	if sum > 0 {
		cx, cy = sx/sum, sy/sum
		var vx, vy float64
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				w := math.Max(stamp.At(r, c)-bg, 0)
				vx += w * (float64(c) - cx) * (float64(c) - cx)
				vy += w * (float64(r) - cy) * (float64(r) - cy)
			}
		}
		sigX, sigY = math.Max(math.Sqrt(vx/sum), 0.5), math.Max(math.Sqrt(vy/sum), 0.5)
	}
	return []float64{stamp.Max() - bg, bg, cx, cy, sigX, sigY, 0.1}
}

func euclidianModulus(x, y float64) float64 {
	return math.Mod(math.Mod(x, y)+y, y)
}

func gaussianValue(p []float64, in [2]float64) float64 {
	a, b := p[0], p[1]
	x0, y0 := p[2], p[3]
	u, v, t := p[4], p[5], p[6]

	cosT, sinT := math.Cos(t), math.Sin(t)
	X := (in[0]-x0)*cosT + (in[1]-y0)*sinT
	Y := -(in[0]-x0)*sinT + (in[1]-y0)*cosT
	e := X*X/(2*u*u) + Y*Y/(2*v*v)
	return b + a*math.Exp(-e)
}

func gaussianGradient(p []float64, in [2]float64, grad []float64) {
	a := p[0]
	x0, y0 := p[2], p[3]
	u, v, t := p[4], p[5], p[6]

	cosT, sinT := math.Cos(t), math.Sin(t)
	X := (in[0]-x0)*cosT + (in[1]-y0)*sinT
	Y := -(in[0]-x0)*sinT + (in[1]-y0)*cosT
	u2, v2 := u*u, v*v
	eE := math.Exp(-(X*X/(2*u2) + Y*Y/(2*v2)))

	grad[0] = eE
	grad[1] = 1
	grad[2] = a * (cosT*X/u2 - sinT*Y/v2) * eE
	grad[3] = a * (sinT*X/u2 + cosT*Y/v2) * eE
	grad[4] = a * X * X / (u2 * u) * eE
	grad[5] = a * Y * Y / (v2 * v) * eE
	grad[6] = a * X * Y * (1/v2 - 1/u2) * eE
}

func computeRSquared(inputs [][2]float64, outputs, p []float64) float64 {
	yBar := 0.0
	for _, o := range outputs {
		yBar += o
	}
	yBar /= float64(len(outputs))

	tss, rss := 0.0, 0.0
	for i := range inputs {
		res := gaussianValue(p, inputs[i]) - outputs[i]
		disp := outputs[i] - yBar
		rss += res * res
		tss += disp * disp
	}
	if tss > 0 {
		return 1 - rss/tss
	}
	return 0
}
