package imaging

import (
	"bytes"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGridRoundTrip(t *testing.T) {
	grid, err := NewCenteredGrid(100, 0.05)
	require.NoError(t, err)

	t.Run("array2image inverts image2array", func(t *testing.T) {
		img := grid.NewImage()
		for i := range img.Data() {
			img.Data()[i] = float64(i) * 0.5
		}
		flat, err := grid.Image2Array(img)
		require.NoError(t, err)
		back, err := grid.Array2Image(flat)
		require.NoError(t, err)
		if diff := cmp.Diff(img.Data(), back.Data()); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("coordinates map back to pixels", func(t *testing.T) {
		x, y := grid.MapCoordToPixel(0, 0)
		assert.InDelta(t, 49.5, x, 1e-12)
		assert.InDelta(t, 49.5, y, 1e-12)

		ra, dec := grid.MapPixelToCoord(50.2, 49.8)
		x, y = grid.MapCoordToPixel(ra, dec)
		assert.InDelta(t, 50.2, x, 1e-12)
		assert.InDelta(t, 49.8, y, 1e-12)
		assert.InDelta(t, 0.05, grid.PixelWidth(), 1e-15)
	})

	t.Run("ra increases to the left", func(t *testing.T) {
		ra0, _ := grid.MapPixelToCoord(0, 0)
		ra1, _ := grid.MapPixelToCoord(1, 0)
		assert.Greater(t, ra0, ra1)
	})

	t.Run("shape mismatches are reported", func(t *testing.T) {
		_, err := grid.Array2Image(make([]float64, 99))
		assert.ErrorIs(t, err, ErrShapeMismatch)
		_, err = grid.Image2Array(NewMat(10, 10))
		assert.ErrorIs(t, err, ErrShapeMismatch)
	})
}

func TestNewGridRejectsSingularTransform(t *testing.T) {
	_, err := NewGrid(10, 10, 0, 0, [2][2]float64{{1, 2}, {2, 4}})
	assert.Error(t, err)
	_, err = NewGrid(0, 10, 0, 0, [2][2]float64{{1, 0}, {0, 1}})
	assert.ErrorIs(t, err, ErrEmpty)
}

func asymmetricKernel() Mat {
	k, _ := NewMatFromRows([][]float64{
		{0, 1, 0},
		{2, 5, 3},
		{0, 4, 0},
	})
	return k
}

func TestAddKernel(t *testing.T) {
	t.Run("integer position copies the kernel", func(t *testing.T) {
		img := NewMat(9, 9)
		require.NoError(t, AddKernel(img, 4, 4, asymmetricKernel()))
		assert.Equal(t, 5.0, img.At(4, 4))
		assert.Equal(t, 3.0, img.At(4, 5))
		assert.Equal(t, 4.0, img.At(5, 4))
		assert.Equal(t, 15.0, img.Sum())
	})

	t.Run("footprint is clipped at the border", func(t *testing.T) {
		img := NewMat(9, 9)
		require.NoError(t, AddKernel(img, 0, 0, asymmetricKernel()))
		assert.Equal(t, 5.0+3.0+4.0, img.Sum())
	})

	t.Run("sub-pixel shift interpolates linearly", func(t *testing.T) {
		k := NewMat(3, 3)
		k.Set(1, 1, 1)
		img := NewMat(9, 9)
		require.NoError(t, AddKernel(img, 4.25, 4, k))
		assert.InDelta(t, 0.75, img.At(4, 4), 1e-12)
		assert.InDelta(t, 0.25, img.At(4, 5), 1e-12)
		assert.InDelta(t, 1.0, img.Sum(), 1e-12)
	})

	t.Run("far away positions are a no-op", func(t *testing.T) {
		img := NewMat(9, 9)
		require.NoError(t, AddKernel(img, 1e12, -1e12, asymmetricKernel()))
		assert.Equal(t, 0.0, img.Sum())
	})

	t.Run("invalid input", func(t *testing.T) {
		img := NewMat(9, 9)
		assert.ErrorIs(t, AddKernel(img, math.NaN(), 0, asymmetricKernel()), ErrNonFinite)
		assert.ErrorIs(t, AddKernel(img, 4, 4, NewMat(2, 2)), ErrEvenKernel)
	})
}

func TestConvolve(t *testing.T) {
	img := NewMat(11, 11)
	img.Set(5, 5, 1)
	out, err := Convolve(img, asymmetricKernel())
	require.NoError(t, err)
	k := asymmetricKernel()
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			assert.InDelta(t, k.At(1+dy, 1+dx), out.At(5+dy, 5+dx), 1e-12, "offset (%d,%d)", dx, dy)
		}
	}
	assert.InDelta(t, k.Sum(), out.Sum(), 1e-12)

	_, err = Convolve(img, NewMat(4, 3))
	assert.ErrorIs(t, err, ErrEvenKernel)
}

func TestFitsRoundTrip(t *testing.T) {
	img := NewMat(4, 6)
	for i := range img.Data() {
		img.Data()[i] = float64(i) - 3.25
	}
	var buf bytes.Buffer
	require.NoError(t, EncodeFits(&buf, img, map[string]float64{"EXPTIME": 100, "bkgrms": 0.05}))
	assert.Zero(t, buf.Len()%fitsBlockSize)

	f, err := ReadFitsFromBytes(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 6, f.Width)
	assert.Equal(t, 4, f.Height)
	assert.Equal(t, img.Data(), f.Pixels)

	exp, ok := f.Metadata.ExposureTime()
	require.True(t, ok)
	assert.Equal(t, 100.0, exp)
	bkg, ok := f.Metadata.BackgroundRMS()
	require.True(t, ok)
	assert.Equal(t, 0.05, bkg)
}

func TestKappaSigmaNoiseEstimate(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	data := make([]float64, 20000)
	for i := range data {
		data[i] = 0.05 * rng.NormFloat64()
	}
	// a handful of bright pixels must be clipped away
	for i := 0; i < 20; i++ {
		data[i*100] = 50
	}
	res := KappaSigmaNoiseEstimate(data, 3, 1e-6, 10)
	assert.InDelta(t, 0.05, res.Sigma, 0.005)
	assert.InDelta(t, 0.0, res.BackgroundMean, 0.005)
}

func TestMedianMAD(t *testing.T) {
	median, mad := MedianMAD([]float64{1, 2, 3, 4, 100})
	assert.Equal(t, 3.0, median)
	assert.InDelta(t, 1.4826, mad, 1e-12)
}

func TestDatasetNoiseModel(t *testing.T) {
	grid, err := NewCenteredGrid(10, 0.1)
	require.NoError(t, err)
	data := make([]float64, 100)
	data[0] = 4
	d, err := NewDataset(grid, data, 100, 0.1, nil)
	require.NoError(t, err)
	assert.Equal(t, 100, d.NumDataEvaluate())
	assert.InDelta(t, 0.01+0.04, d.CovarianceData()[0], 1e-15)
	assert.InDelta(t, 0.01, d.CovarianceData()[1], 1e-15)

	mask := make([]float64, 100)
	mask[3], mask[7] = 1, 1
	masked, err := NewDataset(grid, data, 100, 0.1, mask)
	require.NoError(t, err)
	assert.Equal(t, 2, masked.NumDataEvaluate())

	_, err = NewDataset(grid, make([]float64, 3), 100, 0.1, nil)
	assert.ErrorIs(t, err, ErrShapeMismatch)
	_, err = NewDataset(grid, nil, 0, 0.1, nil)
	assert.Error(t, err)
}

func TestDatasetImageIsACopy(t *testing.T) {
	grid, err := NewGrid(4, 3, 0, 0, [2][2]float64{{1, 0}, {0, 1}})
	require.NoError(t, err)
	data := make([]float64, 12)
	data[1*4+2] = 7
	d, err := NewDataset(grid, data, 1, 1, nil)
	require.NoError(t, err)

	img := d.Image()
	assert.Equal(t, 3, img.Rows())
	assert.Equal(t, 4, img.Cols())
	assert.Equal(t, 7.0, img.At(1, 2))

	img.Set(1, 2, 0)
	assert.Equal(t, 7.0, d.Data()[1*4+2])
}
