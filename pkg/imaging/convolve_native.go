//go:build !purego && !js

package imaging

import (
	"image"

	"gocv.io/x/gocv"
)

// filter2D correlates src with kernel through OpenCV, zero padded.
func filter2D(src, kernel Mat) Mat {
	s := toCVMat(src)
	defer s.Close()
	k := toCVMat(kernel)
	defer k.Close()
	dst := gocv.NewMat()
	defer dst.Close()

	gocv.Filter2D(s, &dst, gocv.MatTypeCV64F, k, image.Pt(-1, -1), 0, gocv.BorderConstant)

	out := NewMat(src.rows, src.cols)
	data, err := dst.DataPtrFloat64()
	if err != nil {
		return filter2DPure(src, kernel)
	}
	copy(out.data, data)
	return out
}

func toCVMat(m Mat) gocv.Mat {
	cv := gocv.NewMatWithSize(m.rows, m.cols, gocv.MatTypeCV64F)
	data, err := cv.DataPtrFloat64()
	if err == nil {
		copy(data, m.data)
	}
	return cv
}
