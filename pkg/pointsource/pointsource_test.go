package pointsource

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lensim/pkg/imaging"
	"lensim/pkg/lens"
	"lensim/pkg/psf"
)

const (
	numPix   = 100
	deltaPix = 0.05
)

func testGrid(t *testing.T) *imaging.Grid {
	t.Helper()
	g, err := imaging.NewCenteredGrid(numPix, deltaPix)
	require.NoError(t, err)
	return g
}

func testPSF(t *testing.T) *psf.PSF {
	t.Helper()
	p, err := psf.NewGaussian(0.5, deltaPix, 31)
	require.NoError(t, err)
	p, err = p.WithRelativeError(0.1)
	require.NoError(t, err)
	return p
}

// atPixels converts pixel positions to a Params set on g.
func atPixels(g *imaging.Grid, xs, ys []float64) Params {
	p := Params{RA: make([]float64, len(xs)), Dec: make([]float64, len(xs))}
	for i := range xs {
		p.RA[i], p.Dec[i] = g.MapPixelToCoord(xs[i], ys[i])
	}
	return p
}

func TestBasisCount(t *testing.T) {
	g := testGrid(t)
	cases := []struct {
		name string
		opts Options
		n    int
		want int
	}{
		{"disabled", Options{Disabled: true}, 3, 0},
		{"free none", Options{}, 0, 0},
		{"free three", Options{}, 3, 3},
		{"fixed none", Options{FixedMagnification: true}, 0, 1},
		{"fixed four", Options{FixedMagnification: true}, 4, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, err := NewEngine(g, imaging.Mat{}, tc.opts)
			require.NoError(t, err)
			xs := make([]float64, tc.n)
			ys := make([]float64, tc.n)
			for i := range xs {
				xs[i], ys[i] = 20+float64(10*i), 40
			}
			p := atPixels(g, xs, ys)
			assert.Equal(t, tc.want, e.BasisCount(p))

			resp, errMap, err := e.BuildResponse(testPSF(t), p, nil, false)
			require.NoError(t, err)
			assert.Equal(t, tc.want, resp.NumBasis())
			assert.Len(t, errMap, numPix*numPix)
		})
	}
}

func TestUnitRowsSumToRender(t *testing.T) {
	g := testGrid(t)
	k := testPSF(t)
	e, err := NewEngine(g, imaging.Mat{}, Options{})
	require.NoError(t, err)
	p := atPixels(g, []float64{30.3, 61.7, 50.5}, []float64{44.1, 70.9, 20.5})

	resp, _, err := e.BuildResponse(k, p, nil, false)
	require.NoError(t, err)
	require.Equal(t, 3, resp.NumBasis())
	sum := make([]float64, numPix*numPix)
	for _, row := range resp.Rows {
		for i, v := range row {
			sum[i] += v
		}
	}

	rendered, errMap, err := e.Render(k, p, []float64{1, 1, 1}, false)
	require.NoError(t, err)
	if diff := cmp.Diff(sum, rendered, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("render mismatch (-rows +render):\n%s", diff)
	}
	for _, v := range errMap {
		require.Equal(t, 0.0, v)
	}

	list, err := e.RenderList(k, p, []float64{2, 3, 4})
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, img := range list {
		flat, err := g.Image2Array(img)
		require.NoError(t, err)
		for j := range flat {
			require.InDelta(t, []float64{2, 3, 4}[i]*resp.Rows[i][j], flat[j], 1e-12)
		}
	}
}

func TestFixedMagnificationSharesOneRow(t *testing.T) {
	g := testGrid(t)
	k := testPSF(t)
	free, err := NewEngine(g, imaging.Mat{}, Options{})
	require.NoError(t, err)
	fixed, err := NewEngine(g, imaging.Mat{}, Options{FixedMagnification: true})
	require.NoError(t, err)
	assert.IsType(t, FixedMagnification{}, fixed.Placement())
	assert.IsType(t, FreeAmplitude{}, free.Placement())

	p := atPixels(g, []float64{40, 60}, []float64{50, 50})
	amps := []float64{2, 0.5}

	units, _, err := free.BuildResponse(k, p, nil, false)
	require.NoError(t, err)
	shared, _, err := fixed.BuildResponse(k, p, amps, false)
	require.NoError(t, err)
	require.Equal(t, 1, shared.NumBasis())
	for i := range shared.Rows[0] {
		want := amps[0]*units.Rows[0][i] + amps[1]*units.Rows[1][i]
		require.InDelta(t, want, shared.Rows[0][i], 1e-12)
	}

	got, err := fixed.Amplitudes(p, []float64{3}, amps)
	require.NoError(t, err)
	assert.Equal(t, []float64{6, 1.5}, got)

	got, err = free.Amplitudes(p, []float64{3, 4}, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4}, got)

	_, err = free.Amplitudes(p, []float64{3}, nil)
	assert.ErrorIs(t, err, ErrAmplitudeCount)
}

func TestPixelRound(t *testing.T) {
	cases := map[float64]int{
		4.0:  4,
		3.6:  3,
		2.5:  2,
		2.49: 2,
		0.2:  0,
		-0.5: -1,
	}
	for in, want := range cases {
		assert.Equal(t, want, PixelRound(in), "PixelRound(%v)", in)
	}
}

func TestEstimateAmplitude(t *testing.T) {
	k := testPSF(t).Kernel()
	const flux = 250.0
	data := imaging.NewMat(numPix, numPix)
	require.NoError(t, imaging.AddKernelAt(data, 50, 50, k.Scaled(flux)))

	assert.InDelta(t, flux, EstimateAmplitude(data, 50, 50, k), 1e-9)
	assert.InDelta(t, flux, EstimateAmplitude(data, 50.4, 50.7, k), 1e-9)

	for _, pos := range [][2]float64{{2, 50}, {2.9, 50}, {50, 0}, {98, 50}, {50, 99.5}, {-4, -4}} {
		assert.Equal(t, 0.0, EstimateAmplitude(data, pos[0], pos[1], k), "position %v", pos)
	}
	// three pixels from the edge is still estimated
	edge := imaging.NewMat(numPix, numPix)
	require.NoError(t, imaging.AddKernelAt(edge, 3, 97, k.Scaled(flux)))
	assert.Greater(t, EstimateAmplitude(edge, 3, 97, k), 0.0)

	negative := imaging.NewMat(numPix, numPix)
	require.NoError(t, imaging.AddKernelAt(negative, 50, 50, k.Scaled(-flux)))
	assert.Equal(t, 0.0, EstimateAmplitude(negative, 50, 50, k))
}

func TestErrorMapGrowth(t *testing.T) {
	g := testGrid(t)
	k := testPSF(t)
	kernel := k.Kernel()
	const flux = 100.0
	data := imaging.NewMat(numPix, numPix)
	require.NoError(t, imaging.AddKernelAt(data, 50, 50, kernel.Scaled(flux)))

	e, err := NewEngine(g, data, Options{})
	require.NoError(t, err)
	p := atPixels(g, []float64{50, 1}, []float64{50, 50})

	resp, errMap, err := e.BuildResponse(k, p, nil, true)
	require.NoError(t, err)
	require.Equal(t, 2, resp.NumBasis())
	// the edge source keeps its basis row
	assert.Greater(t, resp.Rows[1][50*numPix+1], 0.0)

	for _, v := range errMap {
		require.GreaterOrEqual(t, v, 0.0)
	}
	kc := kernel.At(15, 15)
	assert.InEpsilon(t, 0.1*(kc*flux)*(kc*flux), errMap[50*numPix+50], 1e-9)
	// the edge source adds nothing
	assert.Equal(t, 0.0, errMap[50*numPix+2])

	_, zero, err := e.BuildResponse(k, p, nil, false)
	require.NoError(t, err)
	for _, v := range zero {
		require.Equal(t, 0.0, v)
	}
}

func TestFixedErrorMapUsesAmplitudes(t *testing.T) {
	g := testGrid(t)
	k := testPSF(t)
	e, err := NewEngine(g, imaging.Mat{}, Options{FixErrorMap: true})
	require.NoError(t, err)
	p := atPixels(g, []float64{50}, []float64{50})
	p.Amp = []float64{7}

	_, errMap, err := e.Render(k, p, nil, true)
	require.NoError(t, err)
	kc := k.Kernel().At(15, 15)
	assert.InEpsilon(t, 0.1*(kc*7)*(kc*7), errMap[50*numPix+50], 1e-9)

	noErr, err := psf.NewGaussian(0.5, deltaPix, 31)
	require.NoError(t, err)
	_, errMap, err = e.Render(noErr, p, nil, true)
	require.NoError(t, err)
	assert.Equal(t, 0.0, errMap[50*numPix+50])
}

func TestEndToEndSinglePointSource(t *testing.T) {
	g := testGrid(t)
	k, err := psf.NewGaussian(0.5, deltaPix, 31)
	require.NoError(t, err)
	kernelPeak := k.Kernel().Max()
	e, err := NewEngine(g, imaging.Mat{}, Options{})
	require.NoError(t, err)

	p := atPixels(g, []float64{50.2}, []float64{49.8})
	resp, _, err := e.BuildResponse(k, p, nil, false)
	require.NoError(t, err)
	require.Equal(t, 1, resp.NumBasis())
	row := resp.Rows[0]
	require.Len(t, row, 10000)

	peak, at := 0.0, -1
	for i, v := range row {
		if v > peak {
			peak, at = v, i
		}
	}
	assert.Equal(t, 50*numPix+50, at)
	assert.LessOrEqual(t, peak, kernelPeak)
	assert.Greater(t, peak, 0.95*kernelPeak)

	var sum float64
	for _, v := range row {
		sum += v
	}
	assert.InDelta(t, 1, sum, 1e-2)

	flat, _, err := e.Render(k, p, []float64{5}, false)
	require.NoError(t, err)
	for i := range row {
		require.InDelta(t, 5*row[i], flat[i], 1e-12)
	}

	// on an integer pixel the row peak is the kernel peak
	centred := atPixels(g, []float64{50}, []float64{50})
	resp, _, err = e.BuildResponse(k, centred, nil, false)
	require.NoError(t, err)
	assert.InDelta(t, kernelPeak, resp.Rows[0][50*numPix+50], 1e-12)
}

func TestValidation(t *testing.T) {
	g := testGrid(t)
	k := testPSF(t)
	e, err := NewEngine(g, imaging.Mat{}, Options{})
	require.NoError(t, err)

	_, _, err = e.BuildResponse(k, Params{}, nil, false)
	assert.ErrorIs(t, err, ErrMissingPositions)

	_, _, err = e.BuildResponse(k, Params{RA: []float64{0, 1}, Dec: []float64{0}}, nil, false)
	assert.ErrorIs(t, err, ErrPositionCount)

	_, _, err = e.BuildResponse(k, Params{RA: []float64{0}, Dec: []float64{0}}, []float64{1, 2}, false)
	assert.ErrorIs(t, err, ErrAmplitudeCount)

	_, _, err = e.Render(k, Params{RA: []float64{0}, Dec: []float64{0}}, nil, false)
	assert.ErrorIs(t, err, ErrMissingAmplitudes)

	_, err = NewEngine(g, imaging.NewMat(10, 10), Options{})
	assert.ErrorIs(t, err, imaging.ErrShapeMismatch)

	_, _, err = e.BuildResponse(k, Params{RA: []float64{math.NaN()}, Dec: []float64{0}}, nil, false)
	assert.ErrorIs(t, err, imaging.ErrNonFinite)
}

func TestSourceResolve(t *testing.T) {
	m := lens.Params{lens.SIS{ThetaE: 1}}
	solver := lens.NewSolver(lens.SolverOptions{})

	s := Source{SourcePosition: true, SourceRA: 0.1, SourceAmp: 2}
	p, err := s.Resolve(m, solver)
	require.NoError(t, err)
	require.Equal(t, 2, p.Len())
	assert.InDelta(t, 1.1, p.RA[0], 1e-8)
	assert.InDelta(t, -0.9, p.RA[1], 1e-8)
	assert.InDelta(t, 2*11, p.Amp[0], 1e-6)
	assert.InDelta(t, 2*9, p.Amp[1], 1e-6)

	fermat, err := s.FermatPotential(m, solver)
	require.NoError(t, err)
	assert.InDelta(t, -0.6, fermat[0], 1e-8)
	assert.InDelta(t, -0.4, fermat[1], 1e-8)

	explicit := Source{Images: Params{RA: []float64{1.1, -0.9}, Dec: []float64{0, 0}}}
	fermat, err = explicit.FermatPotential(m, nil)
	require.NoError(t, err)
	assert.InDelta(t, -0.6, fermat[0], 1e-12)
	assert.InDelta(t, -0.4, fermat[1], 1e-12)

	_, err = Source{}.Resolve(m, solver)
	assert.ErrorIs(t, err, ErrMissingPositions)
}
