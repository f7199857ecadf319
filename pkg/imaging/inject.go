package imaging

import (
	"fmt"
	"math"
)

const subPixelTolerance = 1e-9

// AddKernel adds kernel into img centred on the real-valued pixel position
// (x, y). The kernel is shifted by the sub-pixel remainder with bilinear
// interpolation and added at the nearest integer pixel, clipped to the image.
func AddKernel(img Mat, x, y float64, kernel Mat) error {
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return fmt.Errorf("%w: (%f, %f)", ErrNonFinite, x, y)
	}
	xInt, yInt := math.Round(x), math.Round(y)
	reach := float64(max(img.rows, img.cols) + max(kernel.rows, kernel.cols))
	if math.Abs(xInt) > reach || math.Abs(yInt) > reach {
		// Footprint cannot overlap the image.
		return checkOdd(kernel)
	}
	dx, dy := x-xInt, y-yInt
	// Round-off from the world to pixel transform is not a shift.
	if math.Abs(dx) < subPixelTolerance {
		dx = 0
	}
	if math.Abs(dy) < subPixelTolerance {
		dy = 0
	}
	shifted := ShiftKernel(kernel, dx, dy)
	return AddKernelAt(img, int(xInt), int(yInt), shifted)
}

// ShiftKernel moves kernel by (dx, dy) pixels with first-order interpolation.
// Samples falling outside the kernel extent are zero.
func ShiftKernel(kernel Mat, dx, dy float64) Mat {
	if dx == 0 && dy == 0 {
		return kernel.Clone()
	}
	out := NewMat(kernel.rows, kernel.cols)
	for r := 0; r < kernel.rows; r++ {
		for c := 0; c < kernel.cols; c++ {
			out.data[r*kernel.cols+c] = BilinearSample(kernel, float64(r)-dy, float64(c)-dx)
		}
	}
	return out
}

// AddKernelAt adds kernel centred on the integer pixel (x, y).
func AddKernelAt(img Mat, x, y int, kernel Mat) error {
	if err := checkOdd(kernel); err != nil {
		return err
	}
	halfX := (kernel.cols - 1) / 2
	halfY := (kernel.rows - 1) / 2

	minX, maxX := max(0, x-halfX), min(img.cols, x+halfX+1)
	minY, maxY := max(0, y-halfY), min(img.rows, y+halfY+1)
	for iy := minY; iy < maxY; iy++ {
		ky := iy - y + halfY
		imgOff := iy * img.cols
		kOff := ky * kernel.cols
		for ix := minX; ix < maxX; ix++ {
			img.data[imgOff+ix] += kernel.data[kOff+ix-x+halfX]
		}
	}
	return nil
}

// BilinearSample interpolates img at the real-valued (y, x). Points outside
// [0, rows-1] x [0, cols-1] return 0.
func BilinearSample(img Mat, y, x float64) float64 {
	if y < 0 || x < 0 || y > float64(img.rows-1) || x > float64(img.cols-1) {
		return 0
	}
	y0 := int(math.Floor(y))
	y1 := min(y0+1, img.rows-1)
	x0 := int(math.Floor(x))
	x1 := min(x0+1, img.cols-1)
	yRatio := y - float64(y0)
	xRatio := x - float64(x0)

	width := img.cols
	p00 := img.data[y0*width+x0]
	p01 := img.data[y0*width+x1]
	p10 := img.data[y1*width+x0]
	p11 := img.data[y1*width+x1]
	interpolatedX0 := p00 + xRatio*(p01-p00)
	interpolatedX1 := p10 + xRatio*(p11-p10)
	return interpolatedX0 + yRatio*(interpolatedX1-interpolatedX0)
}

func checkOdd(kernel Mat) error {
	if kernel.Empty() {
		return ErrEmpty
	}
	if kernel.rows%2 == 0 || kernel.cols%2 == 0 {
		return fmt.Errorf("%w: %dx%d", ErrEvenKernel, kernel.rows, kernel.cols)
	}
	return nil
}
