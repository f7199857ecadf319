package lens

import (
	"math"
	"sort"
)

// SolverOptions configures the image-position search.
type SolverOptions struct {
	// SearchWindow is the side length of the square searched, in arcsec.
	SearchWindow float64
	// NumGrid is the number of grid points per side of the coarse search.
	NumGrid int
	// Precision is the accepted source-plane mismatch of a solution.
	Precision float64
	// MinDistance merges solutions closer than this.
	MinDistance   float64
	MaxIterations int
	CenterX       float64
	CenterY       float64
}

// DefaultSolverOptions returns the settings used by the CLI.
func DefaultSolverOptions() SolverOptions {
	return SolverOptions{
		SearchWindow:  5,
		NumGrid:       100,
		Precision:     1e-10,
		MinDistance:   0.01,
		MaxIterations: 50,
	}
}

// Solver finds the image-plane positions of a source-plane point.
type Solver struct {
	opts SolverOptions
}

// NewSolver fills zero-valued options with defaults.
func NewSolver(opts SolverOptions) *Solver {
	def := DefaultSolverOptions()
	if opts.SearchWindow <= 0 {
		opts.SearchWindow = def.SearchWindow
	}
	if opts.NumGrid < 3 {
		opts.NumGrid = def.NumGrid
	}
	if opts.Precision <= 0 {
		opts.Precision = def.Precision
	}
	if opts.MinDistance <= 0 {
		opts.MinDistance = def.MinDistance
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = def.MaxIterations
	}
	return &Solver{opts: opts}
}

// ImagePositions solves the lens equation for the source at (betaX, betaY).
// Local minima of the source-plane mismatch on a coarse grid are refined with
// Newton steps on the lens Jacobian; images are returned in order of arrival
// time (ascending Fermat potential).
func (s *Solver) ImagePositions(m Params, betaX, betaY float64) (xs, ys []float64) {
	n := s.opts.NumGrid
	step := s.opts.SearchWindow / float64(n)
	x0 := s.opts.CenterX - s.opts.SearchWindow/2 + step/2
	y0 := s.opts.CenterY - s.opts.SearchWindow/2 + step/2

	dist := make([]float64, n*n)
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			bx, by := m.RayShoot(x0+float64(i)*step, y0+float64(j)*step)
			dist[j*n+i] = math.Hypot(bx-betaX, by-betaY)
		}
	}

	type image struct{ x, y, t float64 }
	var found []image
	for j := 1; j < n-1; j++ {
		for i := 1; i < n-1; i++ {
			if !isLocalMin(dist, n, i, j) {
				continue
			}
			x, y, ok := s.refine(m, x0+float64(i)*step, y0+float64(j)*step, betaX, betaY)
			if !ok {
				continue
			}
			duplicate := false
			for _, f := range found {
				if math.Hypot(f.x-x, f.y-y) < s.opts.MinDistance {
					duplicate = true
					break
				}
			}
			if !duplicate {
				found = append(found, image{x: x, y: y, t: m.FermatPotential(x, y, betaX, betaY)})
			}
		}
	}

	sort.SliceStable(found, func(a, b int) bool { return found[a].t < found[b].t })
	xs = make([]float64, len(found))
	ys = make([]float64, len(found))
	for i, f := range found {
		xs[i], ys[i] = f.x, f.y
	}
	return xs, ys
}

func isLocalMin(dist []float64, n, i, j int) bool {
	d := dist[j*n+i]
	for dj := -1; dj <= 1; dj++ {
		for di := -1; di <= 1; di++ {
			if (di != 0 || dj != 0) && dist[(j+dj)*n+i+di] < d {
				return false
			}
		}
	}
	return true
}

func (s *Solver) refine(m Params, x, y, betaX, betaY float64) (float64, float64, bool) {
	mismatch := func(x, y float64) (float64, float64, float64) {
		bx, by := m.RayShoot(x, y)
		rx, ry := bx-betaX, by-betaY
		return rx, ry, math.Hypot(rx, ry)
	}

	rx, ry, r := mismatch(x, y)
	for iter := 0; iter < s.opts.MaxIterations && r > s.opts.Precision; iter++ {
		fxx, fxy, fyy := m.Hessian(x, y)
		a11, a12, a22 := 1-fxx, -fxy, 1-fyy
		det := a11*a22 - a12*a12
		if det == 0 || math.IsNaN(det) {
			return 0, 0, false
		}
		dx := (a22*rx - a12*ry) / det
		dy := (-a12*rx + a11*ry) / det

		// Damped step: halve until the mismatch decreases.
		scale := 1.0
		improved := false
		for k := 0; k < 10; k++ {
			nx, ny := x-scale*dx, y-scale*dy
			nrx, nry, nr := mismatch(nx, ny)
			if nr < r {
				x, y, rx, ry, r = nx, ny, nrx, nry, nr
				improved = true
				break
			}
			scale /= 2
		}
		if !improved {
			break
		}
	}
	return x, y, r <= s.opts.Precision
}
