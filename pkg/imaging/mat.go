package imaging

import "fmt"

// Mat is a dense row-major 2-D float64 image. Rows run along y and columns
// along x, so pixel (x, y) lives at Data()[y*Cols()+x].
type Mat struct {
	data []float64
	rows int
	cols int
}

func NewMat(rows, cols int) Mat {
	return Mat{data: make([]float64, rows*cols), rows: rows, cols: cols}
}

// NewMatFromData wraps data without copying.
func NewMatFromData(rows, cols int, data []float64) (Mat, error) {
	if len(data) != rows*cols {
		return Mat{}, fmt.Errorf("%w: %d values for %dx%d image", ErrShapeMismatch, len(data), rows, cols)
	}
	return Mat{data: data, rows: rows, cols: cols}, nil
}

// NewMatFromRows copies a [][]float64 with equal-length rows.
func NewMatFromRows(rows [][]float64) (Mat, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return Mat{}, ErrEmpty
	}
	m := NewMat(len(rows), len(rows[0]))
	for r, row := range rows {
		if len(row) != m.cols {
			return Mat{}, fmt.Errorf("%w: row %d has %d values, want %d", ErrShapeMismatch, r, len(row), m.cols)
		}
		copy(m.data[r*m.cols:], row)
	}
	return m, nil
}

func (m Mat) Rows() int   { return m.rows }
func (m Mat) Cols() int   { return m.cols }
func (m Mat) Empty() bool { return m.data == nil || m.rows == 0 || m.cols == 0 }

// Data returns the backing slice.
func (m Mat) Data() []float64 { return m.data }

func (m Mat) At(row, col int) float64     { return m.data[row*m.cols+col] }
func (m Mat) Set(row, col int, v float64) { m.data[row*m.cols+col] = v }

func (m Mat) SameShape(o Mat) bool { return m.rows == o.rows && m.cols == o.cols }

func (m Mat) Clone() Mat {
	out := NewMat(m.rows, m.cols)
	copy(out.data, m.data)
	return out
}

// Scaled returns a copy of m multiplied by f.
func (m Mat) Scaled(f float64) Mat {
	out := NewMat(m.rows, m.cols)
	for i, v := range m.data {
		out.data[i] = v * f
	}
	return out
}

// AddInPlace adds o to m element-wise.
func (m Mat) AddInPlace(o Mat) error {
	if !m.SameShape(o) {
		return fmt.Errorf("%w: %dx%d + %dx%d", ErrShapeMismatch, m.rows, m.cols, o.rows, o.cols)
	}
	for i, v := range o.data {
		m.data[i] += v
	}
	return nil
}

func (m Mat) Sum() float64 {
	s := 0.0
	for _, v := range m.data {
		s += v
	}
	return s
}

func (m Mat) Max() float64 {
	if len(m.data) == 0 {
		return 0
	}
	mx := m.data[0]
	for _, v := range m.data[1:] {
		if v > mx {
			mx = v
		}
	}
	return mx
}

// WindowSum sums the inclusive window [row0, row1] x [col0, col1], clipped to the image.
func (m Mat) WindowSum(row0, row1, col0, col1 int) float64 {
	row0, col0 = max(row0, 0), max(col0, 0)
	row1, col1 = min(row1, m.rows-1), min(col1, m.cols-1)
	s := 0.0
	for r := row0; r <= row1; r++ {
		off := r * m.cols
		for c := col0; c <= col1; c++ {
			s += m.data[off+c]
		}
	}
	return s
}
