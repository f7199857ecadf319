// Package light holds the linear surface-brightness profiles used for the
// lensed source and the lens galaxy. Every profile is linear in its
// amplitude, so a fit only needs the unit-amplitude basis.
package light

import "math"

// Profile is a surface-brightness profile with a linear amplitude.
type Profile interface {
	// UnitValue evaluates the profile at (x, y) for unit amplitude.
	UnitValue(x, y float64) float64
	Amplitude() float64
	WithAmplitude(amp float64) Profile
}

// Gaussian is a circular Gaussian whose amplitude is its total flux.
type Gaussian struct {
	Amp     float64
	Sigma   float64
	CenterX float64
	CenterY float64
}

func (g Gaussian) UnitValue(x, y float64) float64 {
	dx, dy := x-g.CenterX, y-g.CenterY
	s2 := g.Sigma * g.Sigma
	return math.Exp(-(dx*dx+dy*dy)/(2*s2)) / (2 * math.Pi * s2)
}

func (g Gaussian) Amplitude() float64 { return g.Amp }

func (g Gaussian) WithAmplitude(amp float64) Profile {
	g.Amp = amp
	return g
}

// sersicSmoothing keeps the Sersic cusp finite at the centre.
const sersicSmoothing = 1e-5

// Sersic is a Sersic profile normalised to Amp at the half-light radius
// RSersic. E1 and E2 are ellipticity components; both zero is spherical.
type Sersic struct {
	Amp     float64
	RSersic float64
	NSersic float64
	CenterX float64
	CenterY float64
	E1      float64
	E2      float64
}

func (s Sersic) UnitValue(x, y float64) float64 {
	dx, dy := x-s.CenterX, y-s.CenterY
	r := math.Hypot(dx, dy)
	if s.E1 != 0 || s.E2 != 0 {
		phi, q := EllipticityToPhiQ(s.E1, s.E2)
		cosPhi, sinPhi := math.Cos(phi), math.Sin(phi)
		xt := cosPhi*dx + sinPhi*dy
		yt := -sinPhi*dx + cosPhi*dy
		r = math.Sqrt(q*xt*xt + yt*yt/q)
	}
	r = math.Max(r, sersicSmoothing)
	bn := 1.9992*s.NSersic - 0.3271
	return math.Exp(-bn * (math.Pow(r/s.RSersic, 1/s.NSersic) - 1))
}

func (s Sersic) Amplitude() float64 { return s.Amp }

func (s Sersic) WithAmplitude(amp float64) Profile {
	s.Amp = amp
	return s
}

// EllipticityToPhiQ converts ellipticity components to position angle and axis ratio.
func EllipticityToPhiQ(e1, e2 float64) (phi, q float64) {
	phi = math.Atan2(e2, e1) / 2
	c := math.Min(math.Hypot(e1, e2), 0.9999)
	q = (1 - c) / (1 + c)
	return phi, q
}

// PhiQToEllipticity is the inverse of EllipticityToPhiQ.
func PhiQToEllipticity(phi, q float64) (e1, e2 float64) {
	e := (1 - q) / (1 + q)
	return e * math.Cos(2*phi), e * math.Sin(2*phi)
}
