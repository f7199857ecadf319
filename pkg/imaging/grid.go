package imaging

import (
	"fmt"
	"math"
)

// Grid maps between world coordinates (ra, dec in arcsec relative to a
// reference point) and pixel coordinates through a linear transform, and
// converts images between their 2-D and flattened layouts.
type Grid struct {
	nx, ny    int
	raAtXY0   float64
	decAtXY0  float64
	pix2coord [2][2]float64
	coord2pix [2][2]float64
	ra, dec   []float64
}

// NewGrid builds a grid of nx by ny pixels. pix2coord maps a pixel offset
// (dx, dy) to (dra, ddec); (raAtXY0, decAtXY0) is the world position of pixel (0, 0).
func NewGrid(nx, ny int, raAtXY0, decAtXY0 float64, pix2coord [2][2]float64) (*Grid, error) {
	if nx <= 0 || ny <= 0 {
		return nil, fmt.Errorf("%w: grid %dx%d", ErrEmpty, nx, ny)
	}
	det := pix2coord[0][0]*pix2coord[1][1] - pix2coord[0][1]*pix2coord[1][0]
	if det == 0 || math.IsNaN(det) {
		return nil, fmt.Errorf("imaging: singular pixel transform %v", pix2coord)
	}
	g := &Grid{
		nx:        nx,
		ny:        ny,
		raAtXY0:   raAtXY0,
		decAtXY0:  decAtXY0,
		pix2coord: pix2coord,
		coord2pix: [2][2]float64{
			{pix2coord[1][1] / det, -pix2coord[0][1] / det},
			{-pix2coord[1][0] / det, pix2coord[0][0] / det},
		},
	}
	g.ra = make([]float64, nx*ny)
	g.dec = make([]float64, nx*ny)
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			g.ra[y*nx+x], g.dec[y*nx+x] = g.MapPixelToCoord(float64(x), float64(y))
		}
	}
	return g, nil
}

// NewCenteredGrid builds a square grid with ra increasing to the left and the
// world origin at the grid centre.
func NewCenteredGrid(numPix int, deltaPix float64) (*Grid, error) {
	if deltaPix <= 0 {
		return nil, fmt.Errorf("imaging: pixel size must be positive, got %f", deltaPix)
	}
	half := float64(numPix-1) / 2 * deltaPix
	return NewGrid(numPix, numPix, half, -half, [2][2]float64{{-deltaPix, 0}, {0, deltaPix}})
}

func (g *Grid) Shape() (nx, ny int) { return g.nx, g.ny }
func (g *Grid) NumPixels() int      { return g.nx * g.ny }

// PixelWidth is the side length of one pixel in world units.
func (g *Grid) PixelWidth() float64 {
	det := g.pix2coord[0][0]*g.pix2coord[1][1] - g.pix2coord[0][1]*g.pix2coord[1][0]
	return math.Sqrt(math.Abs(det))
}

func (g *Grid) MapCoordToPixel(ra, dec float64) (x, y float64) {
	dra := ra - g.raAtXY0
	ddec := dec - g.decAtXY0
	x = g.coord2pix[0][0]*dra + g.coord2pix[0][1]*ddec
	y = g.coord2pix[1][0]*dra + g.coord2pix[1][1]*ddec
	return x, y
}

func (g *Grid) MapPixelToCoord(x, y float64) (ra, dec float64) {
	ra = g.raAtXY0 + g.pix2coord[0][0]*x + g.pix2coord[0][1]*y
	dec = g.decAtXY0 + g.pix2coord[1][0]*x + g.pix2coord[1][1]*y
	return ra, dec
}

// Coordinates returns the world coordinates of every pixel in flattened
// order. The slices are shared; callers must not modify them.
func (g *Grid) Coordinates() (ra, dec []float64) { return g.ra, g.dec }

// NewImage allocates a zero image with the grid's shape.
func (g *Grid) NewImage() Mat { return NewMat(g.ny, g.nx) }

// Image2Array flattens img into a new slice.
func (g *Grid) Image2Array(img Mat) ([]float64, error) {
	if img.rows != g.ny || img.cols != g.nx {
		return nil, fmt.Errorf("%w: image %dx%d on %dx%d grid", ErrShapeMismatch, img.cols, img.rows, g.nx, g.ny)
	}
	out := make([]float64, len(img.data))
	copy(out, img.data)
	return out, nil
}

// Array2Image reshapes a flattened array into a new 2-D image.
func (g *Grid) Array2Image(a []float64) (Mat, error) {
	if len(a) != g.nx*g.ny {
		return Mat{}, fmt.Errorf("%w: %d values on %dx%d grid", ErrShapeMismatch, len(a), g.nx, g.ny)
	}
	out := g.NewImage()
	copy(out.data, a)
	return out, nil
}
