package render

import (
	"bytes"
	"image/color"
	"image/jpeg"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lensim/pkg/imaging"
)

func gradient(n int) imaging.Mat {
	m := imaging.NewMat(n, n)
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			m.Set(r, c, float64(r+c))
		}
	}
	return m
}

func TestPanelsJPEG(t *testing.T) {
	panels := []Panel{
		{Title: "data", Image: gradient(20)},
		{Title: "model", Image: gradient(20)},
		{Title: "residual", Image: gradient(20).Scaled(-0.1), Residual: true},
	}
	opts := Options{PanelSize: 100, Markers: []Marker{{X: 10, Y: 10}}, Summary: []string{"chi2 = 1.00"}}

	data, err := PanelsJPEG(panels, opts)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 3*100+2*panelGap, img.Bounds().Dx())
	assert.Equal(t, titleHeight+100+lineHeight+6, img.Bounds().Dy())

	path := filepath.Join(t.TempDir(), "panels.jpg")
	require.NoError(t, WritePanels(panels, opts, path))
}

func TestRenderErrors(t *testing.T) {
	_, err := PanelsJPEG(nil, Options{})
	assert.ErrorIs(t, err, ErrNoPanels)

	_, err = PanelsJPEG([]Panel{{Title: "empty"}}, Options{})
	assert.ErrorIs(t, err, imaging.ErrEmpty)
}

func TestColourScales(t *testing.T) {
	assertNearColor(t, color.RGBA{255, 255, 255, 255}, residualColor(0, 5))
	assertNearColor(t, color.RGBA{255, 0, 0, 255}, residualColor(7, 5))
	assertNearColor(t, color.RGBA{0, 0, 255, 255}, residualColor(-5, 5))
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, residualColor(math.NaN(), 5))

	// halfway stays on the red side and lighter than the end point
	mid := residualColor(2.5, 5)
	assert.Greater(t, int(mid.R), int(mid.B))
	assert.Greater(t, int(mid.G), 10)

	assert.Equal(t, color.RGBA{0, 0, 0, 255}, grayColor(-1, 0, 4))
	assert.Equal(t, color.RGBA{127, 127, 127, 255}, grayColor(1, 0, 4))
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, grayColor(9, 0, 4))
}

func assertNearColor(t *testing.T, want, got color.RGBA) {
	t.Helper()
	assert.InDelta(t, want.R, got.R, 1)
	assert.InDelta(t, want.G, got.G, 1)
	assert.InDelta(t, want.B, got.B, 1)
	assert.Equal(t, want.A, got.A)
}
