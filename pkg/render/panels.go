// Package render draws diagnostic JPEG panels of a fit: data, model and
// normalised residuals side by side, with point-source images marked.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"lensim/pkg/imaging"
)

// ErrNoPanels is returned when there is nothing to draw.
var ErrNoPanels = errors.New("render: no panels")

const (
	defaultPanelSize     = 300
	defaultResidualLimit = 5.0
	titleHeight          = 20
	lineHeight           = 18
	panelGap             = 4
)

// Panel is one image to draw.
type Panel struct {
	Title string
	Image imaging.Mat
	// Residual panels use a diverging scale clipped at +-Limit.
	Residual bool
	Limit    float64
}

// Marker is a position in pixel coordinates of the panel images.
type Marker struct {
	X, Y float64
}

type Options struct {
	PanelSize int
	Markers   []Marker
	Summary   []string
}

// WritePanels renders panels to a JPEG file.
func WritePanels(panels []Panel, opts Options, outputPath string) error {
	img, err := renderPanels(panels, opts)
	if err != nil {
		return err
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create panel file: %w", err)
	}
	defer f.Close()
	return jpeg.Encode(f, img, &jpeg.Options{Quality: 90})
}

// PanelsJPEG renders panels and returns the JPEG bytes.
func PanelsJPEG(panels []Panel, opts Options) ([]byte, error) {
	img, err := renderPanels(panels, opts)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderPanels(panels []Panel, opts Options) (*image.RGBA, error) {
	if len(panels) == 0 {
		return nil, ErrNoPanels
	}
	size := opts.PanelSize
	if size <= 0 {
		size = defaultPanelSize
	}
	width := len(panels)*size + (len(panels)-1)*panelGap
	height := titleHeight + size + len(opts.Summary)*lineHeight + 6

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{0, 0, 0, 255})
		}
	}

	face := basicfont.Face7x13
	textColor := color.RGBA{255, 255, 255, 255}
	markerColor := color.RGBA{80, 255, 80, 220}
	for i, p := range panels {
		if p.Image.Empty() {
			return nil, fmt.Errorf("%w: panel %q", imaging.ErrEmpty, p.Title)
		}
		x0 := i * (size + panelGap)
		drawCenteredText(img, face, p.Title, x0+size/2, titleHeight-5, textColor)
		drawPanel(img, p, x0, titleHeight, size)

		scaleX := float64(size) / float64(p.Image.Cols())
		scaleY := float64(size) / float64(p.Image.Rows())
		for _, m := range opts.Markers {
			cx := x0 + int((m.X+0.5)*scaleX)
			// row 0 is drawn at the bottom
			cy := titleHeight + size - 1 - int((m.Y+0.5)*scaleY)
			drawCircle(img, cx, cy, max(3, size/40), markerColor)
		}
	}

	summaryColor := color.RGBA{220, 220, 220, 255}
	for i, line := range opts.Summary {
		drawText(img, face, line, 10, titleHeight+size+(i+1)*lineHeight, summaryColor)
	}
	return img, nil
}

// drawPanel resamples p.Image to a size x size square with nearest-neighbour
// lookup. Image row 0 is at the bottom so that north is up.
func drawPanel(img *image.RGBA, p Panel, x0, y0, size int) {
	src := p.Image
	var lo, hi float64
	if p.Residual {
		hi = p.Limit
		if hi <= 0 {
			hi = defaultResidualLimit
		}
	} else {
		lo, hi = stretchRange(src.Data())
	}

	for py := 0; py < size; py++ {
		row := (size - 1 - py) * src.Rows() / size
		for px := 0; px < size; px++ {
			col := px * src.Cols() / size
			v := src.At(row, col)
			var c color.RGBA
			if p.Residual {
				c = residualColor(v, hi)
			} else {
				c = grayColor(v, lo, hi)
			}
			img.Set(x0+px, y0+py, c)
		}
	}
}

// stretchRange puts the black point at the median and the white point at the maximum.
func stretchRange(values []float64) (lo, hi float64) {
	lo, _ = imaging.MedianMAD(values)
	hi = lo
	for _, v := range values {
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// grayColor maps v to gray with a square-root stretch between lo and hi.
func grayColor(v, lo, hi float64) color.RGBA {
	if hi <= lo || math.IsNaN(v) {
		return color.RGBA{0, 0, 0, 255}
	}
	t := math.Sqrt(math.Min(math.Max((v-lo)/(hi-lo), 0), 1))
	g := uint8(t * 255)
	return color.RGBA{g, g, g, 255}
}

var (
	residualZero     = colorful.Color{R: 1, G: 1, B: 1}
	residualPositive = colorful.Color{R: 1, G: 0, B: 0}
	residualNegative = colorful.Color{R: 0, G: 0, B: 1}
)

// residualColor maps v in [-limit, limit] from blue through white to red,
// blending in Lab space.
func residualColor(v, limit float64) color.RGBA {
	if math.IsNaN(v) {
		return color.RGBA{0, 0, 0, 255}
	}
	t := math.Min(math.Abs(v)/limit, 1)
	end := residualPositive
	if v < 0 {
		end = residualNegative
	}
	r, g, b := residualZero.BlendLab(end, t).Clamped().RGB255()
	return color.RGBA{r, g, b, 255}
}

func drawText(img *image.RGBA, face font.Face, s string, x, y int, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func drawCenteredText(img *image.RGBA, face font.Face, s string, cx, cy int, c color.RGBA) {
	advance := font.MeasureString(face, s)
	drawText(img, face, s, cx-advance.Round()/2, cy, c)
}

// drawCircle draws a circle outline using the midpoint algorithm.
func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	x := radius
	y := 0
	err := 0

	for x >= y {
		img.Set(cx+x, cy+y, c)
		img.Set(cx+y, cy+x, c)
		img.Set(cx-y, cy+x, c)
		img.Set(cx-x, cy+y, c)
		img.Set(cx-x, cy-y, c)
		img.Set(cx-y, cy-x, c)
		img.Set(cx+y, cy-x, c)
		img.Set(cx+x, cy-y, c)

		y++
		err += 1 + 2*y
		if 2*(err-x)+1 > 0 {
			x--
			err += 1 - 2*x
		}
	}
}
