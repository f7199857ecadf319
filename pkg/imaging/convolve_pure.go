//go:build purego || js

package imaging

func filter2D(src, kernel Mat) Mat { return filter2DPure(src, kernel) }
