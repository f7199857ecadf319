package lens

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSISImagePositions(t *testing.T) {
	m := Params{SIS{ThetaE: 1}}
	solver := NewSolver(SolverOptions{})

	xs, ys := solver.ImagePositions(m, 0.1, 0)
	require.Len(t, xs, 2)
	// arrival order: the image outside the Einstein ring comes first
	assert.InDelta(t, 1.1, xs[0], 1e-8)
	assert.InDelta(t, -0.9, xs[1], 1e-8)
	assert.InDelta(t, 0, ys[0], 1e-8)
	assert.InDelta(t, 0, ys[1], 1e-8)

	assert.InDelta(t, -0.6, m.FermatPotential(xs[0], ys[0], 0.1, 0), 1e-8)
	assert.InDelta(t, -0.4, m.FermatPotential(xs[1], ys[1], 0.1, 0), 1e-8)
}

func TestPointMassImagePositions(t *testing.T) {
	m := Params{PointMass{ThetaE: 0.8, CenterX: 0.1, CenterY: -0.2}}
	beta := 0.3
	xs, ys := NewSolver(SolverOptions{}).ImagePositions(m, 0.1, -0.2+beta)
	require.Len(t, xs, 2)

	root := math.Sqrt(beta*beta + 4*0.8*0.8)
	want := []float64{(beta + root) / 2, (beta - root) / 2}
	for i := range xs {
		assert.InDelta(t, 0.1, xs[i], 1e-8)
		assert.InDelta(t, want[i], ys[i]+0.2, 1e-8)
	}
}

func TestShearedSISProducesConsistentImages(t *testing.T) {
	m := Params{SIS{ThetaE: 1}, Shear{Gamma1: 0.05, Gamma2: 0.02}}
	bx, by := 0.02, 0.01
	xs, ys := NewSolver(SolverOptions{}).ImagePositions(m, bx, by)
	require.GreaterOrEqual(t, len(xs), 2)
	for i := range xs {
		sx, sy := m.RayShoot(xs[i], ys[i])
		assert.InDelta(t, bx, sx, 1e-9)
		assert.InDelta(t, by, sy, 1e-9)
	}
}

func TestMagnification(t *testing.T) {
	m := Params{SIS{ThetaE: 1}}
	// mu = r / (r - thetaE) for an SIS
	assert.InDelta(t, 1.1/0.1, m.Magnification(1.1, 0), 1e-9)
	assert.InDelta(t, 0.9/(0.9-1), m.Magnification(-0.9, 0), 1e-9)

	shear := Params{Shear{Gamma1: 0.1}}
	assert.InDelta(t, 1/(0.9*1.1), shear.Magnification(0.3, 0.4), 1e-12)
}

func TestDeflectionMatchesPotentialGradient(t *testing.T) {
	profiles := []Profile{
		SIS{ThetaE: 1.2, CenterX: 0.1},
		PointMass{ThetaE: 0.7, CenterY: -0.3},
		Shear{Gamma1: 0.03, Gamma2: -0.04},
	}
	const h = 1e-6
	for _, p := range profiles {
		x, y := 0.7, 0.4
		ax, ay := p.Deflection(x, y)
		gx := (p.Potential(x+h, y) - p.Potential(x-h, y)) / (2 * h)
		gy := (p.Potential(x, y+h) - p.Potential(x, y-h)) / (2 * h)
		assert.InDelta(t, gx, ax, 1e-6, "%T", p)
		assert.InDelta(t, gy, ay, 1e-6, "%T", p)

		fxx, fxy, fyy := p.Hessian(x, y)
		ax1, ay1 := p.Deflection(x+h, y)
		ax0, ay0 := p.Deflection(x-h, y)
		_, ayUp := p.Deflection(x, y+h)
		_, ayDown := p.Deflection(x, y-h)
		assert.InDelta(t, (ax1-ax0)/(2*h), fxx, 1e-5, "%T", p)
		assert.InDelta(t, (ay1-ay0)/(2*h), fxy, 1e-5, "%T", p)
		assert.InDelta(t, (ayUp-ayDown)/(2*h), fyy, 1e-5, "%T", p)
	}
}
