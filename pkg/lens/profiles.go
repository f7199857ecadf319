// Package lens is the deflection engine: single-plane mass profiles, ray
// shooting, magnification, the Fermat potential and a lens-equation solver.
package lens

import "math"

// Profile is one component of a single-plane mass model.
type Profile interface {
	// Potential is the projected lensing potential psi(x, y).
	Potential(x, y float64) float64
	// Deflection is the gradient of the potential.
	Deflection(x, y float64) (ax, ay float64)
	// Hessian returns the second derivatives of the potential.
	Hessian(x, y float64) (fxx, fxy, fyy float64)
}

// SIS is a singular isothermal sphere.
type SIS struct {
	ThetaE  float64
	CenterX float64
	CenterY float64
}

func (p SIS) Potential(x, y float64) float64 {
	return p.ThetaE * math.Hypot(x-p.CenterX, y-p.CenterY)
}

func (p SIS) Deflection(x, y float64) (float64, float64) {
	dx, dy := x-p.CenterX, y-p.CenterY
	r := math.Hypot(dx, dy)
	if r == 0 {
		return 0, 0
	}
	return p.ThetaE * dx / r, p.ThetaE * dy / r
}

func (p SIS) Hessian(x, y float64) (float64, float64, float64) {
	dx, dy := x-p.CenterX, y-p.CenterY
	r := math.Hypot(dx, dy)
	if r == 0 {
		return 0, 0, 0
	}
	r3 := r * r * r
	return p.ThetaE * dy * dy / r3, -p.ThetaE * dx * dy / r3, p.ThetaE * dx * dx / r3
}

// PointMass is a point lens with Einstein radius ThetaE.
type PointMass struct {
	ThetaE  float64
	CenterX float64
	CenterY float64
}

func (p PointMass) Potential(x, y float64) float64 {
	r := math.Hypot(x-p.CenterX, y-p.CenterY)
	if r == 0 {
		return math.Inf(-1)
	}
	return p.ThetaE * p.ThetaE * math.Log(r)
}

func (p PointMass) Deflection(x, y float64) (float64, float64) {
	dx, dy := x-p.CenterX, y-p.CenterY
	r2 := dx*dx + dy*dy
	if r2 == 0 {
		return 0, 0
	}
	t2 := p.ThetaE * p.ThetaE
	return t2 * dx / r2, t2 * dy / r2
}

func (p PointMass) Hessian(x, y float64) (float64, float64, float64) {
	dx, dy := x-p.CenterX, y-p.CenterY
	r2 := dx*dx + dy*dy
	if r2 == 0 {
		return 0, 0, 0
	}
	c := p.ThetaE * p.ThetaE / (r2 * r2)
	return c * (dy*dy - dx*dx), -2 * c * dx * dy, c * (dx*dx - dy*dy)
}

// Shear is an external shear with components Gamma1, Gamma2.
type Shear struct {
	Gamma1 float64
	Gamma2 float64
}

func (p Shear) Potential(x, y float64) float64 {
	return 0.5*p.Gamma1*(x*x-y*y) + p.Gamma2*x*y
}

func (p Shear) Deflection(x, y float64) (float64, float64) {
	return p.Gamma1*x + p.Gamma2*y, -p.Gamma1*y + p.Gamma2*x
}

func (p Shear) Hessian(float64, float64) (float64, float64, float64) {
	return p.Gamma1, p.Gamma2, -p.Gamma1
}
