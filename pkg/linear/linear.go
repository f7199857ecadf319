// Package linear holds the response matrix shared by all linear model
// components and the weighted least-squares solve for their amplitudes.
package linear

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrSingular is returned when the normal matrix cannot be factorised,
	// for instance because a basis function has no support on the data.
	ErrSingular = errors.New("linear: singular normal matrix")

	// ErrRowLength is returned when a basis row does not span the pixel array.
	ErrRowLength = errors.New("linear: basis row length mismatch")
)

// Response is a NumBasis x NumPixels matrix. Row i is the flattened image of
// basis function i at unit amplitude. Zero rows is a valid, empty matrix.
type Response struct {
	Rows      [][]float64
	NumPixels int
}

func NewResponse(numPixels int) *Response {
	return &Response{NumPixels: numPixels}
}

// Append adds basis rows, checking their length.
func (r *Response) Append(rows ...[]float64) error {
	for _, row := range rows {
		if len(row) != r.NumPixels {
			return fmt.Errorf("%w: got %d, want %d", ErrRowLength, len(row), r.NumPixels)
		}
		r.Rows = append(r.Rows, row)
	}
	return nil
}

func (r *Response) NumBasis() int { return len(r.Rows) }

// Model returns sum_i params[i] * Rows[i].
func (r *Response) Model(params []float64) ([]float64, error) {
	if len(params) != len(r.Rows) {
		return nil, fmt.Errorf("linear: %d parameters for %d basis functions", len(params), len(r.Rows))
	}
	out := make([]float64, r.NumPixels)
	for i, row := range r.Rows {
		p := params[i]
		if p == 0 {
			continue
		}
		for k, v := range row {
			out[k] += p * v
		}
	}
	return out, nil
}

// Solution is the outcome of a weighted linear solve.
type Solution struct {
	Params []float64
	Model  []float64
	// Covariance is the inverse normal matrix, set only when requested.
	// Rows and columns of unsupported basis functions are zero.
	Covariance *mat.SymDense
	// Unsupported lists basis functions with no weight on the data. Their
	// parameters are fixed at zero.
	Unsupported []int
	logDetM     float64
}

// MarginalizationConstant is 1/2 log det of the parameter covariance, the
// Gaussian term that integrates the linear amplitudes out of the likelihood.
// Unsupported basis functions do not contribute.
func (s *Solution) MarginalizationConstant() float64 {
	return -0.5 * s.logDetM
}

// Solve minimises sum_k weights[k] (data[k] - (A^T p)[k])^2 over p through
// the normal equations M p = b with M = A W A^T and b = A W d.
//
// A basis row with zero weighted norm, such as a point source whose
// footprint misses the unmasked pixels, cannot be constrained. It is left
// out of the system and its parameter is zero. ErrSingular is reserved for
// supported rows that are linearly dependent.
func Solve(resp *Response, data, weights []float64, wantCovariance bool) (*Solution, error) {
	if len(data) != resp.NumPixels || len(weights) != resp.NumPixels {
		return nil, fmt.Errorf("%w: %d data, %d weights for %d pixels", ErrRowLength, len(data), len(weights), resp.NumPixels)
	}
	n := resp.NumBasis()
	sol := &Solution{Params: make([]float64, n), Model: make([]float64, resp.NumPixels)}
	if n == 0 {
		return sol, nil
	}

	weighted := make([][]float64, n)
	var active []int
	for i, row := range resp.Rows {
		w := make([]float64, resp.NumPixels)
		norm := 0.0
		for k, v := range row {
			w[k] = v * weights[k]
			norm += w[k] * v
		}
		weighted[i] = w
		if norm > 0 {
			active = append(active, i)
		} else {
			sol.Unsupported = append(sol.Unsupported, i)
		}
	}
	if wantCovariance {
		sol.Covariance = mat.NewSymDense(n, nil)
	}
	na := len(active)
	if na == 0 {
		return sol, nil
	}

	normal := mat.NewSymDense(na, nil)
	rhs := mat.NewVecDense(na, nil)
	for a, i := range active {
		wI := weighted[i]
		b := 0.0
		for k, w := range wI {
			b += w * data[k]
		}
		rhs.SetVec(a, b)
		for c := a; c < na; c++ {
			rowJ := resp.Rows[active[c]]
			s := 0.0
			for k, w := range wI {
				s += w * rowJ[k]
			}
			normal.SetSym(a, c, s)
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(normal); !ok {
		return nil, ErrSingular
	}
	x := mat.NewVecDense(na, nil)
	if err := chol.SolveVecTo(x, rhs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	for a, i := range active {
		sol.Params[i] = x.AtVec(a)
	}
	model, err := resp.Model(sol.Params)
	if err != nil {
		return nil, err
	}
	sol.Model = model
	sol.logDetM = chol.LogDet()

	if wantCovariance {
		inv := mat.NewSymDense(na, nil)
		if err := chol.InverseTo(inv); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSingular, err)
		}
		for a, i := range active {
			for c := a; c < na; c++ {
				sol.Covariance.SetSym(i, active[c], inv.At(a, c))
			}
		}
	}
	return sol, nil
}
