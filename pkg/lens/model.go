package lens

import "math"

// Params is a mass model: the superposition of its profiles.
type Params []Profile

func (m Params) Potential(x, y float64) float64 {
	psi := 0.0
	for _, p := range m {
		psi += p.Potential(x, y)
	}
	return psi
}

func (m Params) Deflection(x, y float64) (ax, ay float64) {
	for _, p := range m {
		dx, dy := p.Deflection(x, y)
		ax += dx
		ay += dy
	}
	return ax, ay
}

func (m Params) Hessian(x, y float64) (fxx, fxy, fyy float64) {
	for _, p := range m {
		a, b, c := p.Hessian(x, y)
		fxx += a
		fxy += b
		fyy += c
	}
	return fxx, fxy, fyy
}

// RayShoot maps an image-plane position to the source plane.
func (m Params) RayShoot(x, y float64) (betaX, betaY float64) {
	ax, ay := m.Deflection(x, y)
	return x - ax, y - ay
}

// RayShootAll maps every (x[i], y[i]) to the source plane.
func (m Params) RayShootAll(x, y []float64) (betaX, betaY []float64) {
	betaX = make([]float64, len(x))
	betaY = make([]float64, len(x))
	for i := range x {
		betaX[i], betaY[i] = m.RayShoot(x[i], y[i])
	}
	return betaX, betaY
}

// Magnification is the signed magnification 1/det(A) at (x, y).
func (m Params) Magnification(x, y float64) float64 {
	fxx, fxy, fyy := m.Hessian(x, y)
	det := (1-fxx)*(1-fyy) - fxy*fxy
	if det == 0 {
		return math.Inf(1)
	}
	return 1 / det
}

// FermatPotential is the arrival-time surface 1/2 |theta - beta|^2 - psi(theta).
func (m Params) FermatPotential(x, y, betaX, betaY float64) float64 {
	dx, dy := x-betaX, y-betaY
	return 0.5*(dx*dx+dy*dy) - m.Potential(x, y)
}
