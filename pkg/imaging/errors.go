package imaging

import "errors"

var (
	// ErrShapeMismatch is returned when two arrays that must share a shape do not.
	ErrShapeMismatch = errors.New("imaging: shape mismatch")

	// ErrEvenKernel is returned when a kernel without a centre pixel is injected or convolved.
	ErrEvenKernel = errors.New("imaging: kernel needs odd numbers of pixels")

	// ErrEmpty is returned for zero-sized grids and images.
	ErrEmpty = errors.New("imaging: empty image")
)

// ErrNonFinite is returned when a pixel position is NaN or infinite.
var ErrNonFinite = errors.New("imaging: non-finite pixel position")
