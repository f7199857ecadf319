package imaging

import "fmt"

// Convolve convolves img with an odd-sized kernel. Pixels outside the image
// are treated as zero, and the output has the shape of img.
func Convolve(img, kernel Mat) (Mat, error) {
	if img.Empty() || kernel.Empty() {
		return Mat{}, ErrEmpty
	}
	if kernel.rows%2 == 0 || kernel.cols%2 == 0 {
		return Mat{}, fmt.Errorf("%w: %dx%d", ErrEvenKernel, kernel.rows, kernel.cols)
	}
	return filter2D(img, flipped(kernel)), nil
}

// flipped rotates k by 180 degrees; filter2D correlates, Convolve convolves.
func flipped(k Mat) Mat {
	out := NewMat(k.rows, k.cols)
	n := len(k.data)
	for i, v := range k.data {
		out.data[n-1-i] = v
	}
	return out
}
