package imsim

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lensim/pkg/imaging"
	"lensim/pkg/lens"
	"lensim/pkg/light"
	"lensim/pkg/pointsource"
	"lensim/pkg/psf"
)

func truthParams() Params {
	return Params{
		Lens:      lens.Params{lens.SIS{ThetaE: 1}, lens.Shear{Gamma1: 0.02, Gamma2: -0.01}},
		Source:    light.Params{light.Sersic{Amp: 5, RSersic: 0.2, NSersic: 1, CenterX: 0.15, CenterY: 0.1}},
		LensLight: light.Params{light.Sersic{Amp: 2, RSersic: 0.5, NSersic: 2, E1: 0.1}},
		PointSources: []pointsource.Source{
			{SourcePosition: true, SourceRA: 0.15, SourceDec: 0.1, SourceAmp: 10},
		},
	}
}

// simulate returns a model bound to the image of truthParams, with noise
// when rng is not nil.
func simulate(t *testing.T, rng *rand.Rand, mask []float64, opts Options) *Model {
	t.Helper()
	grid, err := imaging.NewCenteredGrid(100, 0.05)
	require.NoError(t, err)
	kernel, err := psf.NewGaussian(0.1, 0.05, 11)
	require.NoError(t, err)
	empty, err := imaging.NewDataset(grid, nil, 100, 0.05, mask)
	require.NoError(t, err)

	sim, err := New(empty, kernel, opts)
	require.NoError(t, err)
	img, err := sim.Image(truthParams())
	require.NoError(t, err)
	flat, err := grid.Image2Array(img)
	require.NoError(t, err)
	if rng != nil {
		flat = empty.AddNoise(flat, rng)
	}

	data, err := empty.WithData(flat)
	require.NoError(t, err)
	m, err := New(data, kernel, opts)
	require.NoError(t, err)
	return m
}

func fixedMagnification() Options {
	return Options{PointSources: []pointsource.Options{{FixedMagnification: true}}}
}

func TestNoiselessSolveRecoversAmplitudes(t *testing.T) {
	m := simulate(t, nil, nil, fixedMagnification())
	truth := truthParams()

	n, err := m.NumParamLinear(truth)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	res, err := m.ImageLinearSolve(truth, true)
	require.NoError(t, err)
	require.Len(t, res.LinearParams, 3)
	assert.InEpsilon(t, 5, res.LinearParams[0], 1e-6)
	assert.InEpsilon(t, 2, res.LinearParams[1], 1e-6)
	assert.InEpsilon(t, 1, res.LinearParams[2], 1e-6)
	assert.Less(t, res.Chi2, 1e-6)

	require.NotNil(t, res.Covariance)
	assert.Equal(t, 3, res.Covariance.SymmetricDim())

	assert.InEpsilon(t, 5, res.Params.Source[0].Amplitude(), 1e-6)
	resolved, err := truth.PointSources[0].Resolve(truth.Lens, lens.NewSolver(lens.DefaultSolverOptions()))
	require.NoError(t, err)
	got := res.Params.PointSources[0].Images
	require.Equal(t, resolved.Len(), got.Len())
	for i := range got.Amp {
		assert.InEpsilon(t, resolved.Amp[i], got.Amp[i], 1e-6)
	}
}

func TestFreeAmplitudesMatchFixedRatios(t *testing.T) {
	m := simulate(t, nil, nil, Options{PointSources: []pointsource.Options{{}}})
	truth := truthParams()
	res, err := m.ImageLinearSolve(truth, false)
	require.NoError(t, err)
	assert.Nil(t, res.Covariance)

	resolved, err := truth.PointSources[0].Resolve(truth.Lens, lens.NewSolver(lens.DefaultSolverOptions()))
	require.NoError(t, err)
	require.Len(t, res.LinearParams, 2+resolved.Len())
	for i, amp := range resolved.Amp {
		assert.InEpsilon(t, amp, res.LinearParams[2+i], 1e-6)
	}
}

func TestNoisyFitHasUnitReducedChi2(t *testing.T) {
	m := simulate(t, rand.New(rand.NewPCG(7, 11)), nil, fixedMagnification())
	res, err := m.ImageLinearSolve(truthParams(), false)
	require.NoError(t, err)

	red := m.ReducedChi2(res)
	assert.InDelta(t, 1, red, 0.1)

	resid, err := m.Residuals(res)
	require.NoError(t, err)
	var sum2 float64
	for _, v := range resid.Data() {
		sum2 += v * v
	}
	assert.InDelta(t, res.Chi2, sum2, 1e-6*res.Chi2)

	logL, err := m.Likelihood(truthParams(), false)
	require.NoError(t, err)
	assert.InDelta(t, -res.Chi2/2, logL, 1e-9)

	marg, err := m.Likelihood(truthParams(), true)
	require.NoError(t, err)
	assert.InDelta(t, logL+res.MarginalizationConstant, marg, 1e-9)
	assert.Less(t, math.Abs(marg-logL), 0.01*math.Abs(logL))
}

func TestPointSourceErrorMapLowersChi2(t *testing.T) {
	truth := truthParams()
	plain := simulate(t, rand.New(rand.NewPCG(3, 5)), nil, fixedMagnification())

	opts := fixedMagnification()
	opts.PointSourceErrorMap = true
	kernel, err := plain.PSF().WithRelativeError(0.1)
	require.NoError(t, err)
	withErr, err := New(plain.Data(), kernel, opts)
	require.NoError(t, err)

	a, err := plain.ImageLinearSolve(truth, false)
	require.NoError(t, err)
	b, err := withErr.ImageLinearSolve(truth, false)
	require.NoError(t, err)

	assert.Equal(t, 0.0, a.ErrorMap.Sum())
	assert.Greater(t, b.ErrorMap.Sum(), 0.0)
	assert.Less(t, b.Chi2, a.Chi2)
}

func TestMaskedPixels(t *testing.T) {
	mask := make([]float64, 100*100)
	for i := 0; i < len(mask)/2; i++ {
		mask[i] = 1
	}
	m := simulate(t, rand.New(rand.NewPCG(1, 2)), mask, fixedMagnification())
	assert.Equal(t, 5000, m.NumDataEvaluate())

	res, err := m.ImageLinearSolve(truthParams(), false)
	require.NoError(t, err)
	resid, err := m.Residuals(res)
	require.NoError(t, err)
	for i := len(mask) / 2; i < len(mask); i++ {
		require.Equal(t, 0.0, resid.Data()[i])
	}
}

func TestPointSourceSetMismatch(t *testing.T) {
	m := simulate(t, nil, nil, fixedMagnification())
	p := truthParams()
	p.PointSources = nil
	_, err := m.ImageLinearSolve(p, false)
	assert.ErrorIs(t, err, ErrPointSourceSets)
}

func TestOffImagePointSourceIsNotFatal(t *testing.T) {
	base := simulate(t, nil, nil, fixedMagnification())
	opts := Options{PointSources: []pointsource.Options{{FixedMagnification: true}, {}}}
	m, err := New(base.Data(), base.PSF(), opts)
	require.NoError(t, err)

	p := truthParams()
	// the second image lies 10 arcsec outside the 5 arcsec field
	p.PointSources = append(p.PointSources, pointsource.Source{
		Images: pointsource.Params{RA: []float64{1.1, 10}, Dec: []float64{0, 0}},
	})

	res, err := m.ImageLinearSolve(p, true)
	require.NoError(t, err)
	require.Len(t, res.LinearParams, 5)
	assert.Equal(t, 0.0, res.LinearParams[4])
	assert.InEpsilon(t, 5, res.LinearParams[0], 1e-6)
	assert.Less(t, res.Chi2, 1e-6)
	assert.Equal(t, []float64{res.LinearParams[3], 0}, res.Params.PointSources[1].Images.Amp)

	_, err = m.Likelihood(p, true)
	require.NoError(t, err)
}

func TestFixedMagnificationSetWithoutImages(t *testing.T) {
	base := simulate(t, nil, nil, fixedMagnification())
	opts := Options{PointSources: []pointsource.Options{{FixedMagnification: true}, {FixedMagnification: true}}}
	m, err := New(base.Data(), base.PSF(), opts)
	require.NoError(t, err)

	p := truthParams()
	p.PointSources = append(p.PointSources, pointsource.Source{
		Images: pointsource.Params{RA: []float64{}, Dec: []float64{}},
	})

	n, err := m.NumParamLinear(p)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	res, err := m.ImageLinearSolve(p, false)
	require.NoError(t, err)
	require.Len(t, res.LinearParams, 4)
	assert.Equal(t, 0.0, res.LinearParams[3])
	assert.Empty(t, res.Params.PointSources[1].Images.Amp)

	for _, marg := range []bool{false, true} {
		got, err := m.Likelihood(p, marg)
		require.NoError(t, err)
		want, err := base.Likelihood(truthParams(), marg)
		require.NoError(t, err)
		assert.InDelta(t, want, got, 1e-6*math.Max(1, math.Abs(want)))
	}
}
