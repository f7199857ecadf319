package imaging

// filter2DPure correlates src with kernel, zero padded. It backs the purego
// and js builds and is the fallback when OpenCV cannot expose its buffer.
func filter2DPure(src, kernel Mat) Mat {
	rows, cols := src.rows, src.cols
	kRows, kCols := kernel.rows, kernel.cols
	kyHalf, kxHalf := kRows/2, kCols/2
	out := NewMat(rows, cols)

	for r := 0; r < rows; r++ {
		dstOff := r * cols
		for ky := 0; ky < kRows; ky++ {
			sr := r + ky - kyHalf
			if sr < 0 || sr >= rows {
				continue
			}
			srcOff := sr * cols
			kOff := ky * kCols
			for kx := 0; kx < kCols; kx++ {
				w := kernel.data[kOff+kx]
				if w == 0 {
					continue
				}
				// Interior columns where c+kx-kxHalf stays in range
				cStart := max(0, kxHalf-kx)
				cEnd := min(cols, cols+kxHalf-kx)
				shift := kx - kxHalf
				for c := cStart; c < cEnd; c++ {
					out.data[dstOff+c] += src.data[srcOff+c+shift] * w
				}
			}
		}
	}
	return out
}
